// Package session ties one open board to the optimistic engine, the push
// channel and the reconciler.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/CrowderSoup/kanban-sync/api"
	"github.com/CrowderSoup/kanban-sync/board"
	"github.com/CrowderSoup/kanban-sync/engine"
	"github.com/CrowderSoup/kanban-sync/events"
	"github.com/CrowderSoup/kanban-sync/notify"
	"github.com/CrowderSoup/kanban-sync/reconcile"
	"github.com/CrowderSoup/kanban-sync/state"
)

var (
	ErrAccessDenied  = errors.New("you do not have access to this board")
	ErrBoardNotFound = errors.New("board not found")
	ErrNotOpen       = errors.New("no board is open")
)

// Backend is the REST surface a session needs.
type Backend interface {
	engine.Persister
	Board(ctx context.Context, id string) (board.Board, error)
	JoinBoard(ctx context.Context, id string) error
}

// Channel is the push subscription surface.
type Channel interface {
	Join(boardID string) <-chan events.Event
	Leave(boardID string)
}

type Session struct {
	api     Backend
	push    Channel
	log     log.FieldLogger
	self    string
	extra   notify.Notifier
	toasts  *notify.Toasts
	store   *state.Store
	origins *state.Origins
	engine  *engine.Engine
	rec     *reconcile.Reconciler

	mu      sync.Mutex
	boardID string
	cancel  context.CancelFunc
	done    chan struct{}
}

type Option func(*Session)

func WithLogger(l log.FieldLogger) Option { return func(s *Session) { s.log = l } }

// WithSelf names the signed-in user so their own actions are not announced.
func WithSelf(userID string) Option { return func(s *Session) { s.self = userID } }

// WithNotifier adds a notifier alongside the session's toast list.
func WithNotifier(n notify.Notifier) Option { return func(s *Session) { s.extra = n } }

func New(backend Backend, push Channel, opts ...Option) *Session {
	s := &Session{
		api:     backend,
		push:    push,
		log:     log.StandardLogger(),
		toasts:  notify.NewToasts(notify.DefaultTTL),
		origins: state.NewOrigins(state.DefaultOriginTTL),
	}
	for _, opt := range opts {
		opt(s)
	}

	sinks := notify.Multi{s.toasts, notify.LogSink{Log: s.log}}
	if s.extra != nil {
		sinks = append(sinks, s.extra)
	}
	s.store = state.NewStore(s.log)
	s.engine = engine.New(s.store, backend,
		engine.WithLogger(s.log),
		engine.WithNotifier(sinks),
		engine.WithOrigins(s.origins),
	)
	s.rec = reconcile.New(s.store, s.origins,
		reconcile.WithLogger(s.log),
		reconcile.WithNotifier(sinks),
		reconcile.WithSelf(s.self),
	)
	return s
}

func (s *Session) Engine() *engine.Engine            { return s.engine }
func (s *Session) Store() *state.Store               { return s.store }
func (s *Session) Reconciler() *reconcile.Reconciler { return s.rec }
func (s *Session) Toasts() *notify.Toasts            { return s.toasts }

func (s *Session) BoardID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boardID
}

// Open fetches a board, subscribes to its events and starts applying them.
// A 403 triggers one join attempt; a 404 is terminal.
func (s *Session) Open(ctx context.Context, boardID string) (board.Board, error) {
	if s.BoardID() != "" {
		s.Leave()
	}
	logger := s.log.WithField("board", boardID)

	// subscribe first so events published while the board loads are buffered
	ch := s.push.Join(boardID)

	b, err := s.fetch(ctx, boardID)
	if err != nil {
		s.push.Leave(boardID)
		return board.Board{}, err
	}
	if err := s.store.Load(b); err != nil {
		s.push.Leave(boardID)
		return board.Board{}, fmt.Errorf("failed to load board: %w", err)
	}
	s.rec.Reset()

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.mu.Lock()
	s.boardID = boardID
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		if err := s.rec.Run(runCtx, ch); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Warn("reconciler stopped")
		}
	}()

	logger.WithField("lists", len(b.Lists)).Info("board opened")
	snap, _ := s.store.Snapshot()
	return snap, nil
}

func (s *Session) fetch(ctx context.Context, boardID string) (board.Board, error) {
	b, err := s.api.Board(ctx, boardID)
	switch {
	case err == nil:
		return b, nil
	case errors.Is(err, api.ErrNotFound):
		return board.Board{}, fmt.Errorf("%w: %s", ErrBoardNotFound, boardID)
	case !errors.Is(err, api.ErrForbidden):
		return board.Board{}, fmt.Errorf("failed to fetch board: %w", err)
	}

	s.log.WithField("board", boardID).Info("not a member, joining board")
	if err := s.api.JoinBoard(ctx, boardID); err != nil {
		return board.Board{}, fmt.Errorf("%w: %v", ErrAccessDenied, err)
	}
	b, err = s.api.Board(ctx, boardID)
	if err != nil {
		return board.Board{}, fmt.Errorf("%w: %v", ErrAccessDenied, err)
	}
	return b, nil
}

// Refresh rebuilds the board from the server and clears recorded drift.
func (s *Session) Refresh(ctx context.Context) (board.Board, error) {
	id := s.BoardID()
	if id == "" {
		return board.Board{}, ErrNotOpen
	}
	b, err := s.fetch(ctx, id)
	if err != nil {
		return board.Board{}, err
	}
	if err := s.store.Load(b); err != nil {
		return board.Board{}, fmt.Errorf("failed to load board: %w", err)
	}
	users := s.rec.ActiveUsers()
	s.rec.Reset()
	s.rec.SetActiveUsers(users)
	snap, _ := s.store.Snapshot()
	return snap, nil
}

// Leave saves pending description edits, unsubscribes and closes the board.
// Persistence responses still in flight are discarded when they land.
func (s *Session) Leave() {
	s.mu.Lock()
	id, cancel, done := s.boardID, s.cancel, s.done
	s.boardID, s.cancel, s.done = "", nil, nil
	s.mu.Unlock()
	if id == "" {
		return
	}

	s.engine.FlushDescriptions()
	s.push.Leave(id)
	cancel()
	<-done
	s.store.Close()
	s.origins.Reset()
	s.log.WithField("board", id).Info("board closed")
}

// Close leaves the open board and waits for queued mutations to settle.
func (s *Session) Close() {
	s.Leave()
	s.engine.Close()
}

func (s *Session) ActiveUsers() []events.Actor { return s.rec.ActiveUsers() }

// Drifted reports whether remote moves were seen that the board could not
// reflect; a Refresh clears it.
func (s *Session) Drifted() bool { return s.rec.Drifted() }
