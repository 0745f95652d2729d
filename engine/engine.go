// Package engine applies board mutations optimistically. Each change is
// committed to the store at once, persisted in the background, then either
// merged with the server's canonical data or reverted.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/CrowderSoup/kanban-sync/board"
	"github.com/CrowderSoup/kanban-sync/events"
	"github.com/CrowderSoup/kanban-sync/notify"
	"github.com/CrowderSoup/kanban-sync/planner"
	"github.com/CrowderSoup/kanban-sync/state"
)

var (
	// ErrInvalid rejects a mutation before anything is applied or sent.
	ErrInvalid = errors.New("invalid mutation")
	// ErrAborted is the result of a queued mutation whose predecessor on the
	// same target failed.
	ErrAborted = errors.New("aborted after an earlier change failed")
)

// TempPrefix marks ids minted locally for entities the server has not
// acknowledged yet.
const TempPrefix = "tmp-"

func IsTemp(id string) bool { return strings.HasPrefix(id, TempPrefix) }

// Persister is the persistence API the engine writes through.
type Persister interface {
	CreateList(ctx context.Context, boardID string, l board.List) (board.List, error)
	UpdateList(ctx context.Context, id string, p board.ListPatch) (board.List, error)
	DeleteList(ctx context.Context, id string) error
	ReorderLists(ctx context.Context, boardID string, p planner.ListReorderPayload) error
	CreateCard(ctx context.Context, listID string, c board.Card) (board.Card, error)
	UpdateCard(ctx context.Context, id string, p board.CardPatch) (board.Card, error)
	DeleteCard(ctx context.Context, id string) error
	MoveCard(ctx context.Context, p planner.CardMovePayload) error
	UpdateBoard(ctx context.Context, id string, p board.BoardPatch) (board.Board, error)
}

type Kind string

const (
	KindAddList      Kind = "add-list"
	KindUpdateList   Kind = "update-list"
	KindDeleteList   Kind = "delete-list"
	KindReorderLists Kind = "reorder-lists"
	KindAddCard      Kind = "add-card"
	KindUpdateCard   Kind = "update-card"
	KindDeleteCard   Kind = "delete-card"
	KindMoveCard     Kind = "move-card"
	KindUpdateBoard  Kind = "update-board"
)

// mergeFunc folds a server response into the board. fields is false while
// newer local edits to the same target are still queued; creates then only
// rekey.
type mergeFunc func(b board.Board, fields bool) board.Board

// mutation describes one optimistic change. apply runs under the store lock;
// persist runs on the target's lane and returns the merge to fold in.
type mutation struct {
	kind    Kind
	target  string
	tempID  string
	apply   func(board.Board) (board.Board, error)
	persist func(ctx context.Context) (mergeFunc, error)
	failMsg string
	// base replaces the checkpoint taken at apply time as revert target.
	base *state.Checkpoint

	boardID string
	origin  string
	prev    state.Checkpoint
	op      *Op
}

type lane struct {
	queue []*mutation
}

type Engine struct {
	store    *state.Store
	api      Persister
	origins  *state.Origins
	notifier notify.Notifier
	log      log.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	lanes   map[string]*lane
	pending map[string]*Op

	descriptions *debouncer
}

type Option func(*Engine)

func WithLogger(l log.FieldLogger) Option { return func(e *Engine) { e.log = l } }

func WithNotifier(n notify.Notifier) Option { return func(e *Engine) { e.notifier = n } }

// WithOrigins shares the origin registry with the reconciler.
func WithOrigins(o *state.Origins) Option { return func(e *Engine) { e.origins = o } }

func New(store *state.Store, api Persister, opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		store:    store,
		api:      api,
		notifier: notify.Discard{},
		log:      log.StandardLogger(),
		ctx:      ctx,
		cancel:   cancel,
		lanes:    make(map[string]*lane),
		pending:  make(map[string]*Op),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.origins == nil {
		e.origins = state.NewOrigins(0)
	}
	if e.descriptions == nil {
		e.descriptions = newDebouncer(e, DefaultDebounce)
	}
	return e
}

// Close flushes pending description edits and waits for every lane to drain,
// including the saves the flush queued. Only then is the persistence context
// cancelled.
func (e *Engine) Close() {
	e.descriptions.flush()
	e.wg.Wait()
	e.cancel()
}

// Wait blocks until every queued mutation has finished.
func (e *Engine) Wait() { e.wg.Wait() }

func newTempID() string { return TempPrefix + uuid.NewString() }

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// submit applies m locally and queues its persistence on the target's lane.
// Applying and queueing happen under e.mu so a concurrent failure on the same
// lane either sees this mutation as a follower or ran its revert before it.
func (e *Engine) submit(m *mutation) *Op {
	op := newOp(m.target)
	if m.tempID != "" {
		op.id = m.tempID
	}
	m.op = op

	e.mu.Lock()
	boardID := e.store.BoardID()
	if boardID == "" {
		e.mu.Unlock()
		op.finish(state.ErrStaleBoard)
		return op
	}
	prev, err := e.store.Apply(boardID, m.apply)
	if err != nil {
		e.mu.Unlock()
		if !errors.Is(err, state.ErrStaleBoard) && !errors.Is(err, ErrInvalid) {
			err = fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		op.finish(err)
		return op
	}
	if m.base != nil {
		prev = *m.base
	}
	m.boardID, m.prev, op.prev = boardID, prev, prev.Board
	m.origin = uuid.NewString()
	e.origins.Register(m.origin, m.tempID)
	if m.tempID != "" {
		e.pending[m.tempID] = op
	}
	e.enqueueLocked(m)
	e.mu.Unlock()

	e.log.WithFields(log.Fields{
		"kind":   m.kind,
		"target": m.target,
		"origin": m.origin,
	}).Debug("applied optimistic mutation")
	return op
}

func (e *Engine) enqueueLocked(m *mutation) {
	key := e.origins.Root(m.target)
	if l, ok := e.lanes[key]; ok {
		l.queue = append(l.queue, m)
		return
	}
	l := &lane{queue: []*mutation{m}}
	e.lanes[key] = l
	e.wg.Add(1)
	go e.drain(key, l)
}

// hasFollowersLocked reports whether more mutations wait behind the head of
// the lane for target.
func (e *Engine) hasFollowersLocked(target string) bool {
	l, ok := e.lanes[e.origins.Root(target)]
	return ok && len(l.queue) > 1
}

func (e *Engine) drain(key string, l *lane) {
	defer e.wg.Done()
	for {
		e.mu.Lock()
		if len(l.queue) == 0 {
			delete(e.lanes, key)
			e.mu.Unlock()
			return
		}
		m := l.queue[0]
		e.mu.Unlock()

		merge, err := m.persist(events.WithOrigin(e.ctx, m.origin))

		e.mu.Lock()
		var aborted []*mutation
		if err == nil {
			e.settleLocked(m, merge)
			l.queue = l.queue[1:]
		} else {
			aborted = e.revertLocked(m, l, err)
		}
		if m.tempID != "" {
			delete(e.pending, m.tempID)
		}
		e.mu.Unlock()

		m.op.finish(err)
		for _, f := range aborted {
			e.origins.Forget(f.origin)
			if f.tempID != "" {
				e.mu.Lock()
				delete(e.pending, f.tempID)
				e.mu.Unlock()
			}
			f.op.finish(fmt.Errorf("%s %s: %w", f.kind, f.target, ErrAborted))
		}
	}
}

func (e *Engine) settleLocked(m *mutation, merge mergeFunc) {
	if merge == nil {
		return
	}
	fields := !e.hasFollowersLocked(m.target)
	if _, err := e.store.Mutate(m.boardID, func(b board.Board) (board.Board, error) {
		return merge(b, fields), nil
	}); err != nil {
		e.log.WithError(err).WithFields(log.Fields{
			"kind":   m.kind,
			"target": m.target,
		}).Debug("discarding server response")
	}
}

// revertLocked restores the snapshot taken before m and takes every follower
// off the lane, since their optimistic state was built on the reverted one.
// A mutation aborted because something it depends on failed is not restored:
// that failure already reverted to an earlier snapshot.
func (e *Engine) revertLocked(m *mutation, l *lane, cause error) []*mutation {
	aborted := append([]*mutation(nil), l.queue[1:]...)
	l.queue = nil
	e.origins.Forget(m.origin)

	fields := log.Fields{"kind": m.kind, "target": m.target, "origin": m.origin}
	if errors.Is(cause, ErrAborted) {
		e.log.WithFields(fields).Debug("dependency failed, dropping mutation")
		return aborted
	}
	if err := e.store.Restore(m.prev); err != nil {
		e.log.WithFields(fields).Debug("board reloaded or closed before failure, nothing to revert")
		return aborted
	}
	e.log.WithFields(fields).WithField("aborted", len(aborted)).Warn("mutation failed, reverted")
	e.notifier.Notify(notify.Error, m.failMsg)
	return aborted
}

// resolve maps a possibly temporary id to the server id, waiting for the
// pending create if the server has not answered yet.
func (e *Engine) resolve(ctx context.Context, id string) (string, error) {
	if !IsTemp(id) {
		return id, nil
	}
	if sid, ok := e.origins.Resolved(id); ok {
		return sid, nil
	}
	e.mu.Lock()
	create := e.pending[id]
	e.mu.Unlock()
	if create != nil {
		if err := create.Wait(ctx); err != nil {
			return "", fmt.Errorf("create of %s failed: %w", id, ErrAborted)
		}
	}
	if sid, ok := e.origins.Resolved(id); ok {
		return sid, nil
	}
	return "", fmt.Errorf("%s was never persisted: %w", id, ErrAborted)
}
