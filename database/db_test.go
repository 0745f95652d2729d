package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CrowderSoup/kanban-sync/board"
	"github.com/CrowderSoup/kanban-sync/planner"
)

func newService(t *testing.T) *DataService {
	t.Helper()
	db, err := InitDB(filepath.Join(t.TempDir(), "kanban.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewDataService(db)
}

func titles(l board.List) []string {
	out := make([]string, len(l.Cards))
	for i, c := range l.Cards {
		out[i] = c.Title
	}
	return out
}

func TestUsersAreUpsertedByEmail(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	u, err := s.UpsertUser(ctx, " Alice@Example.com ", "")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.Equal(t, "alice", u.Name)

	again, err := s.UpsertUser(ctx, "alice@example.com", "Alice")
	require.NoError(t, err)
	assert.Equal(t, u.ID, again.ID)
	assert.Equal(t, "Alice", again.Name)

	got, err := s.User(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Name)

	_, err = s.User(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewBoardIsSeededAndMembershipChecked(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	alice, err := s.UpsertUser(ctx, "alice@example.com", "Alice")
	require.NoError(t, err)
	bob, err := s.UpsertUser(ctx, "bob@example.com", "Bob")
	require.NoError(t, err)

	b, err := s.CreateBoard(ctx, alice.ID, "Roadmap")
	require.NoError(t, err)
	require.Len(t, b.Lists, 3)
	assert.Equal(t, "To-Do", b.Lists[0].Title)
	assert.Equal(t, "Done", b.Lists[2].Title)
	assert.Equal(t, 2, b.Lists[2].Position)

	role, err := s.Role(ctx, b.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, RoleOwner, role)

	_, err = s.Role(ctx, b.ID, bob.ID)
	assert.ErrorIs(t, err, ErrNotMember)
	_, err = s.Role(ctx, "nope", bob.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.AddMember(ctx, b.ID, bob.ID, RoleMember))
	require.NoError(t, s.AddMember(ctx, b.ID, bob.ID, RoleMember))
	boards, err := s.Boards(ctx, bob.ID)
	require.NoError(t, err)
	require.Len(t, boards, 1)
	assert.Equal(t, "Roadmap", boards[0].Title)
	assert.Equal(t, RoleMember, boards[0].Role)
}

func TestCardPositionsStayDense(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	u, err := s.UpsertUser(ctx, "alice@example.com", "Alice")
	require.NoError(t, err)
	b, err := s.CreateBoard(ctx, u.ID, "Demo")
	require.NoError(t, err)
	todo, doing := b.Lists[0].ID, b.Lists[1].ID

	var ids []string
	for _, title := range []string{"c1", "c2", "c3"} {
		c, err := s.CreateCard(ctx, todo, board.Card{Title: title, Position: 99})
		require.NoError(t, err)
		ids = append(ids, c.ID)
	}
	c4, err := s.CreateCard(ctx, doing, board.Card{Title: "c4"})
	require.NoError(t, err)

	// c2 -> Doing[0]
	from, err := s.MoveCard(ctx, ids[1], doing, 0)
	require.NoError(t, err)
	assert.Equal(t, todo, from)

	b, err = s.Board(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c3"}, titles(b.Lists[0]))
	assert.Equal(t, []string{"c2", "c4"}, titles(b.Lists[1]))
	for _, l := range b.Lists {
		for i, c := range l.Cards {
			assert.Equal(t, i, c.Position, "card %s", c.Title)
		}
	}

	// back to its old place
	_, err = s.MoveCard(ctx, ids[1], todo, 1)
	require.NoError(t, err)
	require.NoError(t, s.DeleteCard(ctx, ids[0]))
	b, err = s.Board(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"c2", "c3"}, titles(b.Lists[0]))
	assert.Equal(t, 1, b.Lists[0].Cards[1].Position)

	boardID, listID, err := s.CardBoard(ctx, c4.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, boardID)
	assert.Equal(t, doing, listID)
}

func TestCardFieldsRoundTrip(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	u, err := s.UpsertUser(ctx, "alice@example.com", "Alice")
	require.NoError(t, err)
	b, err := s.CreateBoard(ctx, u.ID, "Demo")
	require.NoError(t, err)

	due := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c, err := s.CreateCard(ctx, b.Lists[0].ID, board.Card{
		Title:      "ship",
		Labels:     []board.Label{{Name: "urgent", Color: "red"}},
		DueDate:    board.DueWindow{End: &due},
		Checklists: []board.Checklist{{Title: "steps", Items: []board.Item{{Text: "a"}, {Text: "b", Checked: true}}}},
	})
	require.NoError(t, err)
	require.Len(t, c.Checklists, 1)
	assert.NotEmpty(t, c.Checklists[0].ID)
	assert.NotEmpty(t, c.Checklists[0].Items[0].ID)
	done, total := c.Progress()
	assert.Equal(t, 1, done)
	assert.Equal(t, 2, total)
	require.NotNil(t, c.DueDate.End)
	assert.True(t, due.Equal(*c.DueDate.End))
	assert.Nil(t, c.DueDate.Start)

	desc := "details"
	updated, err := s.UpdateCard(ctx, c.ID, board.CardPatch{Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, "details", updated.Description)
	assert.Equal(t, "ship", updated.Title)
	assert.Equal(t, c.Labels, updated.Labels)
}

func TestListInsertDeleteAndReorder(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	u, err := s.UpsertUser(ctx, "alice@example.com", "Alice")
	require.NoError(t, err)
	b, err := s.CreateBoard(ctx, u.ID, "Demo")
	require.NoError(t, err)

	l, err := s.CreateList(ctx, b.ID, "Backlog", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, l.Position)

	title := "Ideas"
	renamed, boardID, err := s.UpdateList(ctx, l.ID, board.ListPatch{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, b.ID, boardID)
	assert.Equal(t, "Ideas", renamed.Title)

	b, err = s.Board(ctx, b.ID)
	require.NoError(t, err)
	ids := b.ListIDs()
	require.Len(t, ids, 4)

	// Ideas moves to the end
	payload := planner.ListReorderPayload{Lists: []planner.ListPosition{
		{ID: ids[1], Position: 0}, {ID: ids[2], Position: 1}, {ID: ids[3], Position: 2}, {ID: ids[0], Position: 3},
	}}
	require.NoError(t, s.ReorderLists(ctx, b.ID, payload.Lists))
	b, err = s.Board(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, append(ids[1:4:4], ids[0]), b.ListIDs())

	_, err = s.CreateCard(ctx, ids[1], board.Card{Title: "gone with the list"})
	require.NoError(t, err)
	got, err := s.DeleteList(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, b.ID, got)
	b, err = s.Board(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, b.Lists, 3)
	for i, l := range b.Lists {
		assert.Equal(t, i, l.Position)
	}
}

func TestInvitations(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	alice, err := s.UpsertUser(ctx, "alice@example.com", "Alice")
	require.NoError(t, err)
	bob, err := s.UpsertUser(ctx, "bob@example.com", "Bob")
	require.NoError(t, err)
	b, err := s.CreateBoard(ctx, alice.ID, "Shared")
	require.NoError(t, err)

	inv, err := s.CreateInvitation(ctx, b.ID, "Bob@example.com", alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "Shared", inv.BoardTitle)
	assert.Equal(t, "Alice", inv.InvitedBy)
	assert.Equal(t, "bob@example.com", inv.Email)
	assert.False(t, inv.Accepted)

	accepted, err := s.AcceptInvitation(ctx, inv.Token, bob.ID)
	require.NoError(t, err)
	assert.True(t, accepted.Accepted)
	role, err := s.Role(ctx, b.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, RoleMember, role)

	late, err := s.CreateInvitation(ctx, b.ID, "carol@example.com", alice.ID)
	require.NoError(t, err)
	s.now = func() time.Time { return time.Now().Add(InvitationTTL + time.Hour) }
	_, err = s.AcceptInvitation(ctx, late.Token, bob.ID)
	assert.ErrorIs(t, err, ErrExpired)

	_, err = s.Invitation(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
