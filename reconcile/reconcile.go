// Package reconcile folds remote push events into the open board.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/CrowderSoup/kanban-sync/board"
	"github.com/CrowderSoup/kanban-sync/events"
	"github.com/CrowderSoup/kanban-sync/notify"
	"github.com/CrowderSoup/kanban-sync/state"
)

// errNoop marks an event that left the board untouched.
var errNoop = errors.New("no-op")

// Drift is a remote change the reconciler saw but did not apply.
type Drift struct {
	Event events.Event
	At    time.Time
}

type handler struct {
	apply  func(r *Reconciler, b board.Board, ev events.Event) (board.Board, error)
	toast  notify.Kind
	action string
}

var dispatch = map[events.Type]handler{
	events.CardCreated:  {applyCardCreated, notify.Success, "created a new card"},
	events.CardUpdated:  {applyCardUpdated, notify.Info, "updated a card"},
	events.CardDeleted:  {applyCardDeleted, notify.Warning, "deleted a card"},
	events.CardMoved:    {applyCardMoved, notify.Info, "moved a card"},
	events.ListCreated:  {applyListCreated, notify.Success, "created a new list"},
	events.ListUpdated:  {applyListUpdated, notify.Info, "updated a list"},
	events.ListDeleted:  {applyListDeleted, notify.Warning, "deleted a list"},
	events.BoardUpdated: {applyBoardUpdated, notify.Info, "updated the board"},
}

type Reconciler struct {
	store    *state.Store
	origins  *state.Origins
	notifier notify.Notifier
	log      log.FieldLogger
	self     string
	now      func() time.Time

	mu    sync.Mutex
	drift []Drift
	users map[string]events.Actor
}

type Option func(*Reconciler)

func WithLogger(l log.FieldLogger) Option { return func(r *Reconciler) { r.log = l } }

func WithNotifier(n notify.Notifier) Option { return func(r *Reconciler) { r.notifier = n } }

// WithSelf sets the signed-in user; their own actions raise no toasts.
func WithSelf(userID string) Option { return func(r *Reconciler) { r.self = userID } }

func New(store *state.Store, origins *state.Origins, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:    store,
		origins:  origins,
		notifier: notify.Discard{},
		log:      log.StandardLogger(),
		now:      time.Now,
		users:    make(map[string]events.Actor),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.origins == nil {
		r.origins = state.NewOrigins(0)
	}
	return r
}

// Run applies events in arrival order until ch closes or ctx is done.
func (r *Reconciler) Run(ctx context.Context, ch <-chan events.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if err := r.Apply(ev); err != nil {
				r.log.WithError(err).WithField("type", ev.Type).Warn("dropping malformed event")
			}
		}
	}
}

// Apply folds one event into the board. Events for another board and events
// that find nothing to change are ignored; only malformed payloads error.
func (r *Reconciler) Apply(ev events.Event) error {
	logger := r.log.WithFields(log.Fields{
		"type":   ev.Type,
		"board":  ev.BoardID,
		"origin": ev.OriginID,
	})
	open := r.store.BoardID()
	if open == "" || ev.BoardID != open {
		logger.Debug("ignoring event for another board")
		return nil
	}

	switch ev.Type {
	case events.UserJoined, events.UserLeft:
		r.presence(ev)
		return nil
	case events.Presence:
		r.SetActiveUsers(ev.Users)
		return nil
	}

	h, ok := dispatch[ev.Type]
	if !ok {
		logger.Debug("ignoring unknown event type")
		return nil
	}
	_, err := r.store.Mutate(open, func(b board.Board) (board.Board, error) {
		return h.apply(r, b, ev)
	})
	switch {
	case errors.Is(err, errNoop):
		logger.Debug("event changed nothing")
		if ev.Type != events.CardMoved {
			return nil
		}
	case errors.Is(err, state.ErrStaleBoard):
		logger.Debug("board closed while applying event")
		return nil
	case err != nil:
		return err
	}
	r.announce(ev, h)
	return nil
}

// ownEvent reports an echo of a mutation this client already applied.
func (r *Reconciler) ownEvent(ev events.Event) bool {
	_, ok := r.origins.Lookup(ev.OriginID)
	return ok
}

func (r *Reconciler) announce(ev events.Event, h handler) {
	if h.action == "" || r.ownEvent(ev) || (r.self != "" && ev.Actor.UserID == r.self) {
		return
	}
	r.notifier.Notify(h.toast, fmt.Sprintf("%s %s", actorName(ev.Actor), h.action))
}

func actorName(a events.Actor) string {
	if a.Name != "" {
		return a.Name
	}
	return "Someone"
}

func (r *Reconciler) presence(ev events.Event) {
	if ev.Actor.UserID == "" {
		return
	}
	r.mu.Lock()
	_, known := r.users[ev.Actor.UserID]
	if ev.Type == events.UserJoined {
		r.users[ev.Actor.UserID] = ev.Actor
	} else {
		delete(r.users, ev.Actor.UserID)
	}
	r.mu.Unlock()

	if ev.Actor.UserID == r.self {
		return
	}
	switch {
	case ev.Type == events.UserJoined && !known:
		r.notifier.Notify(notify.Info, actorName(ev.Actor)+" joined the board")
	case ev.Type == events.UserLeft && known:
		r.notifier.Notify(notify.Info, actorName(ev.Actor)+" left the board")
	}
}

// ActiveUsers returns the users currently viewing the board, by name.
func (r *Reconciler) ActiveUsers() []events.Actor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Actor, 0, len(r.users))
	for _, a := range r.users {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// SetActiveUsers replaces the presence set, e.g. from a roster sent on join.
func (r *Reconciler) SetActiveUsers(users []events.Actor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = make(map[string]events.Actor, len(users))
	for _, a := range users {
		r.users[a.UserID] = a
	}
}

// Drift returns the remote changes recorded but not applied since the last
// reset.
func (r *Reconciler) Drift() []Drift {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Drift(nil), r.drift...)
}

// Drifted reports whether the board needs a full refresh to match the server.
func (r *Reconciler) Drifted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.drift) > 0
}

// Reset clears drift and presence, after a refresh or when switching boards.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drift = nil
	r.users = make(map[string]events.Actor)
}

func (r *Reconciler) recordDrift(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drift = append(r.drift, Drift{Event: ev, At: r.now()})
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return errNoop
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

func insertIndex(pos *int) int {
	if pos == nil {
		return -1
	}
	return *pos
}

func applyCardCreated(r *Reconciler, b board.Board, ev events.Event) (board.Board, error) {
	var c board.Card
	if err := decode(ev.Entity, &c); err != nil {
		return b, err
	}
	if c.ID == "" {
		c.ID = ev.CardID
	}
	if c.ID == "" || b.Has(c.ID) {
		return b, errNoop
	}
	// Our own create: rekey the optimistic card, or stay out of the way if
	// it was removed locally in the meantime.
	if tmp, ok := r.origins.Lookup(ev.OriginID); ok {
		if _, _, _, pending := b.Card(tmp); tmp != "" && pending {
			r.origins.Alias(tmp, c.ID)
			return b.RekeyCard(tmp, c.ID).MergeCard(c.ID, c), nil
		}
		return b, errNoop
	}
	listID := ev.ListID
	if listID == "" {
		return b, errNoop
	}
	idx := insertIndex(ev.Position)
	if idx < 0 {
		l, _ := b.List(listID)
		idx = len(l.Cards)
	}
	next, ok := b.AddCard(listID, c, idx)
	if !ok {
		return b, errNoop
	}
	return next, nil
}

func applyCardUpdated(r *Reconciler, b board.Board, ev events.Event) (board.Board, error) {
	if r.ownEvent(ev) {
		return b, errNoop
	}
	id := ev.CardID
	if _, _, _, ok := b.Card(id); !ok {
		return b, errNoop
	}
	var p board.CardPatch
	if err := decode(ev.UpdatedFields, &p); err != nil {
		return b, err
	}
	if p.IsEmpty() {
		return b, errNoop
	}
	return b.UpdateCard(id, p), nil
}

func applyCardDeleted(r *Reconciler, b board.Board, ev events.Event) (board.Board, error) {
	if _, _, _, ok := b.Card(ev.CardID); !ok {
		return b, errNoop
	}
	return b.RemoveCard(ev.CardID), nil
}

// applyCardMoved records the move instead of replaying it; the next full
// refresh brings positions back in line.
func applyCardMoved(r *Reconciler, b board.Board, ev events.Event) (board.Board, error) {
	if r.ownEvent(ev) {
		return b, errNoop
	}
	r.recordDrift(ev)
	return b, errNoop
}

func applyListCreated(r *Reconciler, b board.Board, ev events.Event) (board.Board, error) {
	var l board.List
	if err := decode(ev.Entity, &l); err != nil {
		return b, err
	}
	if l.ID == "" {
		l.ID = ev.ListID
	}
	if l.ID == "" || b.Has(l.ID) {
		return b, errNoop
	}
	if tmp, ok := r.origins.Lookup(ev.OriginID); ok {
		if _, pending := b.List(tmp); tmp != "" && pending {
			r.origins.Alias(tmp, l.ID)
			return b.RekeyList(tmp, l.ID).MergeList(l.ID, l), nil
		}
		return b, errNoop
	}
	idx := insertIndex(ev.Position)
	if idx < 0 {
		idx = len(b.Lists)
	}
	// a new list from another client cannot carry cards this board already has
	for _, c := range l.Cards {
		if b.Has(c.ID) {
			return b, errNoop
		}
	}
	return b.AddList(l, idx), nil
}

func applyListUpdated(r *Reconciler, b board.Board, ev events.Event) (board.Board, error) {
	if r.ownEvent(ev) {
		return b, errNoop
	}
	if _, ok := b.List(ev.ListID); !ok {
		return b, errNoop
	}
	var p board.ListPatch
	if err := decode(ev.UpdatedFields, &p); err != nil {
		return b, err
	}
	if p.IsEmpty() {
		return b, errNoop
	}
	return b.UpdateList(ev.ListID, p), nil
}

func applyListDeleted(r *Reconciler, b board.Board, ev events.Event) (board.Board, error) {
	if _, ok := b.List(ev.ListID); !ok {
		return b, errNoop
	}
	return b.RemoveList(ev.ListID), nil
}

func applyBoardUpdated(r *Reconciler, b board.Board, ev events.Event) (board.Board, error) {
	if r.ownEvent(ev) {
		return b, errNoop
	}
	var p board.BoardPatch
	if err := decode(ev.UpdatedFields, &p); err != nil {
		return b, err
	}
	if p.IsEmpty() {
		return b, errNoop
	}
	return b.Update(p), nil
}
