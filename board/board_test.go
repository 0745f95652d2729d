package board

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cards(ids ...string) []Card {
	out := make([]Card, len(ids))
	for i, id := range ids {
		out[i] = Card{ID: id, Title: id, Position: i}
	}
	return out
}

func sample() Board {
	return Board{
		ID:    "b1",
		Title: "Demo",
		Lists: []List{
			{ID: "todo", Title: "To-Do", Position: 0, Cards: cards("c1", "c2", "c3")},
			{ID: "doing", Title: "Doing", Position: 1, Cards: cards("c4")},
		},
	}
}

func TestInsertAtClampsIndex(t *testing.T) {
	base := cards("a", "b")

	assert.Equal(t, []string{"x", "a", "b"}, ids(InsertAt(base, Card{ID: "x"}, -4)))
	assert.Equal(t, []string{"a", "b", "x"}, ids(InsertAt(base, Card{ID: "x"}, 99)))
	assert.Equal(t, []string{"a", "x", "b"}, ids(InsertAt(base, Card{ID: "x"}, 1)))
	assert.Equal(t, []string{"a", "b"}, ids(base), "input must stay untouched")
}

func TestRemoveByIDAbsentIsNoop(t *testing.T) {
	base := cards("a", "b")
	assert.Equal(t, []string{"a", "b"}, ids(RemoveByID(base, "zzz")))
	assert.Equal(t, []string{"b"}, ids(RemoveByID(base, "a")))
	assert.Equal(t, []string{"a", "b"}, ids(base))
}

func TestMoveByIDReturnsElement(t *testing.T) {
	base := cards("a", "b", "c")
	out, moved, ok := MoveByID(base, "a", 2)
	require.True(t, ok)
	assert.Equal(t, "a", moved.ID)
	assert.Equal(t, []string{"b", "c", "a"}, ids(out))

	_, _, ok = MoveByID(base, "nope", 0)
	assert.False(t, ok)
}

func TestUpdateByIDDoesNotAliasInput(t *testing.T) {
	base := cards("a", "b")
	out := UpdateByID(base, "b", func(c Card) Card {
		c.Title = "changed"
		return c
	})
	assert.Equal(t, "changed", out[1].Title)
	assert.Equal(t, "b", base[1].Title)
}

func TestMoveCardAcrossLists(t *testing.T) {
	b := sample()
	next, ok := b.MoveCard("c2", "doing", 0)
	require.True(t, ok)

	assert.Equal(t, []string{"c1", "c3"}, next.CardIDs("todo"))
	assert.Equal(t, []string{"c2", "c4"}, next.CardIDs("doing"))
	assert.Equal(t, []string{"c1", "c2", "c3"}, b.CardIDs("todo"), "previous snapshot must survive")
	require.NoError(t, next.Validate())

	doing, _ := next.List("doing")
	assert.Equal(t, 0, doing.Cards[0].Position)
	assert.Equal(t, 1, doing.Cards[1].Position)
}

func TestMoveCardRoundTripRestoresOrder(t *testing.T) {
	b := sample()
	there, ok := b.MoveCard("c3", "doing", 0)
	require.True(t, ok)
	back, ok := there.MoveCard("c3", "todo", 2)
	require.True(t, ok)

	assert.Equal(t, b.CardIDs("todo"), back.CardIDs("todo"))
	assert.Equal(t, b.CardIDs("doing"), back.CardIDs("doing"))
}

func TestMoveCardUnknownTargets(t *testing.T) {
	b := sample()
	_, ok := b.MoveCard("missing", "doing", 0)
	assert.False(t, ok)
	_, ok = b.MoveCard("c1", "missing", 0)
	assert.False(t, ok)
}

func TestRekeyCard(t *testing.T) {
	b := sample()
	next := b.RekeyCard("c4", "srv-4")
	assert.Equal(t, []string{"srv-4"}, next.CardIDs("doing"))

	// target already present: the temp copy is dropped instead of duplicated
	b, _ = b.AddCard("doing", Card{ID: "srv-9"}, 0)
	b, _ = b.AddCard("doing", Card{ID: "tmp-9"}, 99)
	dedup := b.RekeyCard("tmp-9", "srv-9")
	assert.Equal(t, []string{"srv-9", "c4"}, dedup.CardIDs("doing"))
	require.NoError(t, dedup.Validate())
}

func TestMergeCardIsAdditive(t *testing.T) {
	b := sample()
	next := b.MergeCard("c1", Card{ID: "c1", Description: "from server"})
	c, _, idx, ok := next.Card("c1")
	require.True(t, ok)
	assert.Equal(t, "c1", c.Title)
	assert.Equal(t, "from server", c.Description)
	assert.Equal(t, 0, idx)
}

func TestValidateRejectsDuplicates(t *testing.T) {
	b := sample()
	b.Lists[1].Cards = append(b.Lists[1].Cards, Card{ID: "c1"})
	assert.ErrorIs(t, b.Validate(), ErrDuplicateID)

	b = sample()
	b.Lists = append(b.Lists, List{ID: "todo"})
	assert.ErrorIs(t, b.Validate(), ErrDuplicateID)

	b = sample()
	b.Lists[0].Cards[0].ID = ""
	assert.ErrorIs(t, b.Validate(), ErrEmptyID)
}

func TestNormalizeSortsByPosition(t *testing.T) {
	b := Board{ID: "b", Lists: []List{
		{ID: "second", Position: 5, Cards: []Card{{ID: "y", Position: 3}, {ID: "x", Position: 1}}},
		{ID: "first", Position: 2},
	}}
	n := b.Normalize()
	assert.Equal(t, []string{"first", "second"}, n.ListIDs())
	assert.Equal(t, []string{"x", "y"}, n.CardIDs("second"))
	assert.Equal(t, 1, n.Lists[1].Position)
}

func TestCardPatchApply(t *testing.T) {
	title := "renamed"
	labels := []Label{{Name: "bug", Color: "#ff0000"}}
	c := CardPatch{Title: &title, Labels: &labels}.Apply(Card{ID: "c", Title: "old", Description: "keep"})
	assert.Equal(t, "renamed", c.Title)
	assert.Equal(t, "keep", c.Description)
	assert.Equal(t, labels, c.Labels)
	assert.True(t, CardPatch{}.IsEmpty())
}

func TestUnmarshalLegacyShapes(t *testing.T) {
	payload := `{
		"_id": "b9",
		"title": "Legacy",
		"lists": [{
			"_id": "l1",
			"title": "To-Do",
			"cards": [{"_id": "c1", "title": "old card", "checklist": {"total": 3, "completed": 2}}]
		}]
	}`
	var b Board
	require.NoError(t, json.Unmarshal([]byte(payload), &b))
	assert.Equal(t, "b9", b.ID)
	require.Len(t, b.Lists, 1)
	assert.Equal(t, "l1", b.Lists[0].ID)
	c := b.Lists[0].Cards[0]
	assert.Equal(t, "c1", c.ID)
	require.Len(t, c.Checklists, 1)
	done, total := c.Progress()
	assert.Equal(t, 2, done)
	assert.Equal(t, 3, total)
}

func TestUnmarshalLegacyChecklistBounds(t *testing.T) {
	for _, total := range []string{"2000000", "9000000000000000000"} {
		var c Card
		err := json.Unmarshal([]byte(`{"_id":"c1","checklist":{"total":`+total+`,"completed":1}}`), &c)
		assert.Error(t, err, total)
	}

	var c Card
	require.NoError(t, json.Unmarshal([]byte(`{"_id":"c1","checklist":{"total":2,"completed":7}}`), &c))
	done, total := c.Progress()
	assert.Equal(t, 2, done)
	assert.Equal(t, 2, total)

	c = Card{}
	require.NoError(t, json.Unmarshal([]byte(`{"_id":"c1","checklist":{"total":2,"completed":-3}}`), &c))
	done, _ = c.Progress()
	assert.Equal(t, 0, done)
}

func TestUnmarshalNestedChecklistsWins(t *testing.T) {
	payload := `{"id":"c1","checklist":{"total":9,"completed":9},"checklists":[{"id":"k","title":"Todo","items":[{"id":"i","text":"a","checked":true}]}]}`
	var c Card
	require.NoError(t, json.Unmarshal([]byte(payload), &c))
	require.Len(t, c.Checklists, 1)
	assert.Equal(t, "k", c.Checklists[0].ID)
}

func ids[T Entity](items []T) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.EntityID()
	}
	return out
}
