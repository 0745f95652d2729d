package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CrowderSoup/kanban-sync/board"
	"github.com/CrowderSoup/kanban-sync/events"
	"github.com/CrowderSoup/kanban-sync/notify"
	"github.com/CrowderSoup/kanban-sync/planner"
	"github.com/CrowderSoup/kanban-sync/state"
)

type call struct {
	method string
	id     string
	body   any
	origin string
}

// fakeAPI records every persistence call. When gate is set each call blocks
// until it can receive from it; hook may fail a call.
type fakeAPI struct {
	mu     sync.Mutex
	calls  []call
	gate   chan struct{}
	hook   func(call) error
	nextID int
}

func (f *fakeAPI) record(ctx context.Context, method, id string, body any) error {
	c := call{method: method, id: id, body: body, origin: events.OriginFrom(ctx)}
	f.mu.Lock()
	f.calls = append(f.calls, c)
	gate, hook := f.gate, f.hook
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if hook != nil {
		return hook(c)
	}
	return nil
}

func (f *fakeAPI) serverID(prefix string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeAPI) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func (f *fakeAPI) CreateList(ctx context.Context, boardID string, l board.List) (board.List, error) {
	if err := f.record(ctx, "CreateList", boardID, l); err != nil {
		return board.List{}, err
	}
	l.ID = f.serverID("list")
	return l, nil
}

func (f *fakeAPI) UpdateList(ctx context.Context, id string, p board.ListPatch) (board.List, error) {
	if err := f.record(ctx, "UpdateList", id, p); err != nil {
		return board.List{}, err
	}
	return p.Apply(board.List{ID: id}), nil
}

func (f *fakeAPI) DeleteList(ctx context.Context, id string) error {
	return f.record(ctx, "DeleteList", id, nil)
}

func (f *fakeAPI) ReorderLists(ctx context.Context, boardID string, p planner.ListReorderPayload) error {
	return f.record(ctx, "ReorderLists", boardID, p)
}

func (f *fakeAPI) CreateCard(ctx context.Context, listID string, c board.Card) (board.Card, error) {
	if err := f.record(ctx, "CreateCard", listID, c); err != nil {
		return board.Card{}, err
	}
	c.ID = f.serverID("card")
	return c, nil
}

func (f *fakeAPI) UpdateCard(ctx context.Context, id string, p board.CardPatch) (board.Card, error) {
	if err := f.record(ctx, "UpdateCard", id, p); err != nil {
		return board.Card{}, err
	}
	return p.Apply(board.Card{ID: id}), nil
}

func (f *fakeAPI) DeleteCard(ctx context.Context, id string) error {
	return f.record(ctx, "DeleteCard", id, nil)
}

func (f *fakeAPI) MoveCard(ctx context.Context, p planner.CardMovePayload) error {
	return f.record(ctx, "MoveCard", p.EntityID, p)
}

func (f *fakeAPI) UpdateBoard(ctx context.Context, id string, p board.BoardPatch) (board.Board, error) {
	if err := f.record(ctx, "UpdateBoard", id, p); err != nil {
		return board.Board{}, err
	}
	return p.Apply(board.Board{ID: id}), nil
}

var errNetwork = errors.New("connection reset")

type harness struct {
	store   *state.Store
	api     *fakeAPI
	toasts  *notify.Toasts
	origins *state.Origins
	engine  *Engine
}

func demoBoard() board.Board {
	mk := func(ids ...string) []board.Card {
		out := make([]board.Card, len(ids))
		for i, id := range ids {
			out[i] = board.Card{ID: id, Title: "card " + id, Position: i}
		}
		return out
	}
	return board.Board{ID: "b1", Title: "Demo", Lists: []board.List{
		{ID: "To-Do", Title: "To-Do", Cards: mk("c1", "c2", "c3")},
		{ID: "Doing", Title: "Doing", Position: 1, Cards: mk("c4")},
		{ID: "Done", Title: "Done", Position: 2},
	}}
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		store:   state.NewStore(nil),
		api:     &fakeAPI{},
		toasts:  notify.NewToasts(time.Minute),
		origins: state.NewOrigins(0),
	}
	require.NoError(t, h.store.Load(demoBoard()))
	opts = append([]Option{WithNotifier(h.toasts), WithOrigins(h.origins)}, opts...)
	h.engine = New(h.store, h.api, opts...)
	t.Cleanup(h.engine.Close)
	return h
}

func (h *harness) snapshot(t *testing.T) board.Board {
	t.Helper()
	b, ok := h.store.Snapshot()
	require.True(t, ok)
	return b
}

func wait(t *testing.T, op *Op) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := op.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded)
	return err
}

func strp(s string) *string { return &s }

func TestFailedUpdateRestoresPreviousSnapshot(t *testing.T) {
	h := newHarness(t)
	h.api.hook = func(call) error { return errNetwork }
	before := h.snapshot(t)

	op := h.engine.UpdateCard("c2", board.CardPatch{Title: strp("renamed")})
	c, _, _, _ := h.snapshot(t).Card("c2")
	assert.Equal(t, "renamed", c.Title, "applied before the server answers")

	assert.ErrorIs(t, wait(t, op), errNetwork)
	assert.Equal(t, before, h.snapshot(t))
	assert.Equal(t, before, op.Previous())

	toasts := h.toasts.Active()
	require.Len(t, toasts, 1)
	assert.Equal(t, notify.Error, toasts[0].Kind)
	assert.Equal(t, "Failed to update card", toasts[0].Message)
}

func TestAddCardRekeysTempID(t *testing.T) {
	h := newHarness(t)
	op := h.engine.AddCard("Doing", board.Card{Title: "write tests"}, -1)
	require.True(t, IsTemp(op.ID()))
	assert.Equal(t, []string{"c4", op.ID()}, h.snapshot(t).CardIDs("Doing"))

	require.NoError(t, wait(t, op))
	assert.Equal(t, []string{"c4", "card-1"}, h.snapshot(t).CardIDs("Doing"))
	assert.Equal(t, "card-1", h.origins.Canonical(op.ID()))

	calls := h.api.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "Doing", calls[0].id)
	assert.Equal(t, 1, calls[0].body.(board.Card).Position)
	assert.Empty(t, calls[0].body.(board.Card).ID)

	tmp, ok := h.origins.Lookup(calls[0].origin)
	assert.True(t, ok, "origin id is sent and registered")
	assert.Equal(t, op.ID(), tmp)
}

func TestNoOpMoveMakesNoNetworkCall(t *testing.T) {
	h := newHarness(t)
	version := h.store.Version()
	op := h.engine.MoveCard(planner.Gesture{
		EntityID: "c2", SourceContainerID: "To-Do", SourceIndex: 1,
		DestContainerID: "To-Do", DestIndex: 1,
	})
	require.NoError(t, wait(t, op))
	h.engine.Wait()
	assert.Empty(t, h.api.Calls())
	assert.Equal(t, version, h.store.Version())
}

func TestMoveCardSendsPlannedPayload(t *testing.T) {
	h := newHarness(t)
	op := h.engine.MoveCard(planner.Gesture{
		EntityID: "c2", SourceContainerID: "To-Do", SourceIndex: 1,
		DestContainerID: "Doing", DestIndex: 0,
	})
	b := h.snapshot(t)
	assert.Equal(t, []string{"c1", "c3"}, b.CardIDs("To-Do"))
	assert.Equal(t, []string{"c2", "c4"}, b.CardIDs("Doing"))

	require.NoError(t, wait(t, op))
	calls := h.api.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, planner.CardMovePayload{EntityID: "c2", DestinationContainerID: "Doing", Position: 0}, calls[0].body)
}

func TestInvalidMutationsAreRejectedBeforeDispatch(t *testing.T) {
	h := newHarness(t)
	before := h.snapshot(t)

	for _, op := range []*Op{
		h.engine.AddCard("To-Do", board.Card{Title: "  "}, 0),
		h.engine.AddList("", 0),
		h.engine.UpdateCard("nope", board.CardPatch{Title: strp("x")}),
		h.engine.UpdateList("To-Do", board.ListPatch{Title: strp("")}),
		h.engine.DeleteList("nope"),
		h.engine.AddCard("nope", board.Card{Title: "x"}, 0),
		h.engine.MoveCard(planner.Gesture{EntityID: "c1", SourceContainerID: "To-Do", DestContainerID: "nope"}),
	} {
		assert.ErrorIs(t, wait(t, op), ErrInvalid)
	}
	h.engine.Wait()
	assert.Empty(t, h.api.Calls())
	assert.Equal(t, before, h.snapshot(t))
	assert.Empty(t, h.toasts.Active())
}

func TestFailureAbortsQueuedFollowers(t *testing.T) {
	h := newHarness(t)
	h.api.gate = make(chan struct{})
	h.api.hook = func(c call) error {
		if p, ok := c.body.(board.CardPatch); ok && *p.Title == "first" {
			return errNetwork
		}
		return nil
	}
	first := h.engine.UpdateCard("c1", board.CardPatch{Title: strp("first")})
	second := h.engine.UpdateCard("c1", board.CardPatch{Title: strp("second")})
	other := h.engine.UpdateCard("c4", board.CardPatch{Title: strp("other")})
	c, _, _, _ := h.snapshot(t).Card("c1")
	assert.Equal(t, "second", c.Title)

	// first and other are in flight; second waits behind first.
	h.api.gate <- struct{}{}
	h.api.gate <- struct{}{}

	assert.ErrorIs(t, wait(t, first), errNetwork)
	assert.ErrorIs(t, wait(t, second), ErrAborted)
	require.NoError(t, wait(t, other))
	h.engine.Wait()

	for _, c := range h.api.Calls() {
		assert.NotEqual(t, "second", *c.body.(board.CardPatch).Title)
	}
	after := h.snapshot(t)
	c1, _, _, _ := after.Card("c1")
	assert.Equal(t, "card c1", c1.Title)
}

func TestFollowerResolvesTempIDs(t *testing.T) {
	h := newHarness(t)
	h.api.gate = make(chan struct{})

	list := h.engine.AddList("Backlog", -1)
	card := h.engine.AddCard(list.ID(), board.Card{Title: "triage"}, 0)
	rename := h.engine.UpdateCard(card.ID(), board.CardPatch{Title: strp("triage inbox")})
	move := h.engine.MoveCard(planner.Gesture{
		EntityID: card.ID(), SourceContainerID: list.ID(), SourceIndex: 0,
		DestContainerID: "Done", DestIndex: 0,
	})
	close(h.api.gate)

	for _, op := range []*Op{list, card, rename, move} {
		require.NoError(t, wait(t, op))
	}
	h.engine.Wait()

	byMethod := map[string]call{}
	for _, c := range h.api.Calls() {
		byMethod[c.method] = c
	}
	assert.Equal(t, 3, byMethod["CreateList"].body.(board.List).Position, "appended list is sent with its index")
	assert.Equal(t, "list-1", byMethod["CreateCard"].id)
	assert.Equal(t, "card-2", byMethod["UpdateCard"].id)
	assert.Equal(t, planner.CardMovePayload{EntityID: "card-2", DestinationContainerID: "Done"}, byMethod["MoveCard"].body)

	b := h.snapshot(t)
	assert.Equal(t, []string{"To-Do", "Doing", "Done", "list-1"}, b.ListIDs())
	assert.Equal(t, []string{"card-2"}, b.CardIDs("Done"))
	c, _, _, _ := b.Card("card-2")
	assert.Equal(t, "triage inbox", c.Title)
	require.NoError(t, b.Validate())
}

func TestFailedCreateAbortsDependents(t *testing.T) {
	h := newHarness(t)
	h.api.gate = make(chan struct{})
	h.api.hook = func(c call) error {
		if c.method == "CreateList" {
			return errNetwork
		}
		return nil
	}
	before := h.snapshot(t)

	list := h.engine.AddList("Backlog", -1)
	card := h.engine.AddCard(list.ID(), board.Card{Title: "triage"}, 0)
	close(h.api.gate)

	assert.ErrorIs(t, wait(t, list), errNetwork)
	assert.ErrorIs(t, wait(t, card), ErrAborted)
	h.engine.Wait()

	for _, c := range h.api.Calls() {
		assert.NotEqual(t, "CreateCard", c.method)
	}
	assert.Equal(t, before.ListIDs(), h.snapshot(t).ListIDs())
}

func TestLateResponseAfterLeaveIsDiscarded(t *testing.T) {
	h := newHarness(t)
	h.api.gate = make(chan struct{})
	h.api.hook = func(c call) error {
		if c.method == "DeleteCard" {
			return errNetwork
		}
		return nil
	}

	add := h.engine.AddCard("To-Do", board.Card{Title: "late"}, 0)
	del := h.engine.DeleteCard("c3")
	h.store.Close()
	close(h.api.gate)

	require.NoError(t, wait(t, add))
	assert.ErrorIs(t, wait(t, del), errNetwork)

	_, open := h.store.Snapshot()
	assert.False(t, open)
	assert.Empty(t, h.toasts.Active(), "no revert toast for a board that is gone")

	require.NoError(t, h.store.Load(board.Board{ID: "b2"}))
	op := h.engine.AddCard("To-Do", board.Card{Title: "x"}, 0)
	assert.ErrorIs(t, wait(t, op), ErrInvalid)
}

func TestFailureAfterReloadDoesNotRestoreOldSnapshot(t *testing.T) {
	h := newHarness(t)
	h.api.gate = make(chan struct{})
	h.api.hook = func(call) error { return errNetwork }

	op := h.engine.UpdateCard("c2", board.CardPatch{Title: strp("renamed")})
	fresh := demoBoard()
	fresh.Title = "Refetched"
	require.NoError(t, h.store.Load(fresh))
	close(h.api.gate)

	assert.ErrorIs(t, wait(t, op), errNetwork)
	assert.Equal(t, fresh, h.snapshot(t))
	assert.Empty(t, h.toasts.Active())
}

func TestCloseSavesPendingDescriptions(t *testing.T) {
	h := newHarness(t, WithDebounce(time.Hour))
	h.api.gate = make(chan struct{})
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(h.api.gate)
	}()

	op := h.engine.DebouncedDescription("c1", "new text")
	h.engine.Close()

	require.NoError(t, wait(t, op))
	c, _, _, _ := h.snapshot(t).Card("c1")
	assert.Equal(t, "new text", c.Description)
	assert.Empty(t, h.toasts.Active())
	calls := h.api.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "new text", *calls[0].body.(board.CardPatch).Description)
}

func TestResponseAfterPushEventDoesNotDuplicate(t *testing.T) {
	h := newHarness(t)
	h.api.gate = make(chan struct{})

	op := h.engine.AddCard("To-Do", board.Card{Title: "raced"}, -1)
	// the card-created event for this origin rekeyed the card first
	_, err := h.store.Mutate("b1", func(b board.Board) (board.Board, error) {
		return b.RekeyCard(op.ID(), "card-1"), nil
	})
	require.NoError(t, err)
	close(h.api.gate)

	require.NoError(t, wait(t, op))
	assert.Equal(t, []string{"c1", "c2", "c3", "card-1"}, h.snapshot(t).CardIDs("To-Do"))
}

func TestReorderListSendsRanks(t *testing.T) {
	h := newHarness(t)
	op := h.engine.ReorderList(planner.Gesture{
		EntityID: "Done", SourceContainerID: "b1", SourceIndex: 2,
		DestContainerID: "b1", DestIndex: 0,
	})
	assert.Equal(t, []string{"Done", "To-Do", "Doing"}, h.snapshot(t).ListIDs())
	require.NoError(t, wait(t, op))

	calls := h.api.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "b1", calls[0].id)
	assert.Equal(t, planner.ListReorderPayload{Lists: []planner.ListPosition{
		{ID: "Done", Position: 0}, {ID: "To-Do", Position: 1}, {ID: "Doing", Position: 2},
	}}, calls[0].body)
}

func TestUndoDeleteListRecreatesCards(t *testing.T) {
	h := newHarness(t)
	del := h.engine.DeleteList("To-Do")
	require.NoError(t, wait(t, del))
	deleted, ok := del.Previous().List("To-Do")
	require.True(t, ok)
	assert.Equal(t, []string{"Doing", "Done"}, h.snapshot(t).ListIDs())

	undo := h.engine.UndoDeleteList(deleted, 0)
	require.NoError(t, wait(t, undo))
	h.engine.Wait()

	b := h.snapshot(t)
	require.Len(t, b.Lists, 3)
	restored := b.Lists[0]
	assert.Equal(t, "To-Do", restored.Title)
	assert.False(t, IsTemp(restored.ID))
	titles := make([]string, len(restored.Cards))
	for i, c := range restored.Cards {
		titles[i] = c.Title
		assert.False(t, IsTemp(c.ID))
	}
	assert.Equal(t, []string{"card c1", "card c2", "card c3"}, titles)
}

func TestDebouncedDescriptionSavesLastValue(t *testing.T) {
	h := newHarness(t, WithDebounce(20*time.Millisecond))

	var op *Op
	for _, text := range []string{"d", "dr", "draft"} {
		op = h.engine.DebouncedDescription("c1", text)
	}
	c, _, _, _ := h.snapshot(t).Card("c1")
	assert.Equal(t, "draft", c.Description)

	require.NoError(t, wait(t, op))
	calls := h.api.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "draft", *calls[0].body.(board.CardPatch).Description)
}

func TestDebouncedDescriptionFailureRevertsBurst(t *testing.T) {
	h := newHarness(t, WithDebounce(time.Hour))
	h.api.hook = func(call) error { return errNetwork }

	h.engine.DebouncedDescription("c1", "a")
	op := h.engine.DebouncedDescription("c1", "ab")
	h.engine.FlushDescriptions()

	assert.ErrorIs(t, wait(t, op), errNetwork)
	c, _, _, _ := h.snapshot(t).Card("c1")
	assert.Empty(t, c.Description)
}

func TestUpdateBoardMergesServerFields(t *testing.T) {
	h := newHarness(t)
	op := h.engine.UpdateBoard(board.BoardPatch{Background: strp("#0079bf")})
	require.NoError(t, wait(t, op))
	b := h.snapshot(t)
	assert.Equal(t, "#0079bf", b.Background)
	assert.Equal(t, "Demo", b.Title)
}
