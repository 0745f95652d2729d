package state

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CrowderSoup/kanban-sync/board"
)

func loaded(t *testing.T) *Store {
	t.Helper()
	s := NewStore(nil)
	require.NoError(t, s.Load(board.Board{ID: "b1", Lists: []board.List{
		{ID: "l1", Cards: []board.Card{{ID: "c1"}, {ID: "c2"}}},
		{ID: "l2", Position: 1},
	}}))
	return s
}

func TestMutateReturnsPreviousSnapshot(t *testing.T) {
	s := loaded(t)
	prev, err := s.Apply("b1", func(b board.Board) (board.Board, error) {
		return b.RemoveCard("c1"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, prev.Board.CardIDs("l1"))

	cur, open := s.Snapshot()
	require.True(t, open)
	assert.Equal(t, []string{"c2"}, cur.CardIDs("l1"))

	require.NoError(t, s.Restore(prev))
	cur, _ = s.Snapshot()
	assert.Equal(t, prev.Board, cur)
}

func TestRestoreRefusesCheckpointFromEarlierLoad(t *testing.T) {
	s := loaded(t)
	prev, err := s.Apply("b1", func(b board.Board) (board.Board, error) {
		return b.RemoveCard("c1"), nil
	})
	require.NoError(t, err)

	// same board fetched again, e.g. a refresh
	fresh := board.Board{ID: "b1", Lists: []board.List{{ID: "l1", Cards: []board.Card{{ID: "c9"}}}}}
	require.NoError(t, s.Load(fresh))

	assert.ErrorIs(t, s.Restore(prev), ErrStaleBoard)
	cur, _ := s.Snapshot()
	assert.Equal(t, []string{"c9"}, cur.CardIDs("l1"))
}

func TestMutateRefusesInvalidTree(t *testing.T) {
	s := loaded(t)
	before := s.Version()
	_, err := s.Mutate("b1", func(b board.Board) (board.Board, error) {
		next, _ := b.AddCard("l2", board.Card{ID: "c1"}, 0)
		return next, nil
	})
	assert.ErrorIs(t, err, ErrInvalidTree)
	assert.Equal(t, before, s.Version())
	cur, _ := s.Snapshot()
	assert.Empty(t, cur.CardIDs("l2"))
}

func TestMutatePropagatesFnError(t *testing.T) {
	s := loaded(t)
	boom := errors.New("boom")
	_, err := s.Mutate("b1", func(b board.Board) (board.Board, error) { return b, boom })
	assert.ErrorIs(t, err, boom)
}

func TestWritesAfterCloseAreStale(t *testing.T) {
	s := loaded(t)
	prev, err := s.Apply("b1", func(b board.Board) (board.Board, error) { return b, nil })
	require.NoError(t, err)
	s.Close()
	assert.Equal(t, "", s.BoardID())

	_, err = s.Mutate("b1", func(b board.Board) (board.Board, error) { return b, nil })
	assert.ErrorIs(t, err, ErrStaleBoard)
	assert.ErrorIs(t, s.Restore(prev), ErrStaleBoard)

	require.NoError(t, s.Load(board.Board{ID: "b2"}))
	_, err = s.Mutate("b1", func(b board.Board) (board.Board, error) { return b, nil })
	assert.ErrorIs(t, err, ErrStaleBoard)
}

func TestSubscribersSeeCommitsInOrder(t *testing.T) {
	s := loaded(t)
	var seen [][]string
	cancel := s.Subscribe(func(b board.Board) {
		seen = append(seen, b.CardIDs("l1"))
		cur, _ := s.Snapshot()
		assert.Equal(t, b.CardIDs("l1"), cur.CardIDs("l1"))
	})
	_, err := s.Mutate("b1", func(b board.Board) (board.Board, error) { return b.RemoveCard("c1"), nil })
	require.NoError(t, err)
	_, err = s.Mutate("b1", func(b board.Board) (board.Board, error) { return b.RemoveCard("c2"), nil })
	require.NoError(t, err)
	cancel()
	_, err = s.Mutate("b1", func(b board.Board) (board.Board, error) { return b.RemoveList("l2"), nil })
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"c2"}, {}}, seen)
}

func TestOriginsExpire(t *testing.T) {
	o := NewOrigins(time.Minute)
	now := time.Unix(1000, 0)
	o.now = func() time.Time { return now }

	o.Register("m1", "tmp-1")
	tmp, ok := o.Lookup("m1")
	require.True(t, ok)
	assert.Equal(t, "tmp-1", tmp)

	now = now.Add(2 * time.Minute)
	_, ok = o.Lookup("m1")
	assert.False(t, ok)

	o.Register("m2", "")
	assert.Equal(t, 1, o.Len(), "expired entries are pruned on register")
	_, ok = o.Lookup("")
	assert.False(t, ok)
}

func TestOriginsAliases(t *testing.T) {
	o := NewOrigins(0)
	o.Alias("tmp-1", "srv-1")
	o.Alias("tmp-2", "")

	assert.Equal(t, "srv-1", o.Canonical("tmp-1"))
	assert.Equal(t, "tmp-2", o.Canonical("tmp-2"))
	assert.Equal(t, "tmp-1", o.Root("srv-1"))
	assert.Equal(t, "other", o.Root("other"))

	sid, ok := o.Resolved("tmp-1")
	assert.True(t, ok)
	assert.Equal(t, "srv-1", sid)

	o.Reset()
	_, ok = o.Resolved("tmp-1")
	assert.False(t, ok)
}
