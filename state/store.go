// Package state owns the open board snapshot. Every writer, whether the
// optimistic engine or the remote reconciler, goes through Store.Mutate or
// Store.Restore, so there is exactly one serialized mutation path.
package state

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/CrowderSoup/kanban-sync/board"
)

var (
	// ErrStaleBoard is returned when a write targets a board that is no
	// longer the open one, e.g. a response arriving after board-leave.
	ErrStaleBoard  = errors.New("board is not open")
	ErrInvalidTree = errors.New("invalid board tree")
)

// Store holds the open board. Subscribers are called after each commit, in
// commit order, with the new snapshot. They may read the store but must not
// write to it.
type Store struct {
	mu       sync.Mutex
	notifyMu sync.Mutex
	board    board.Board
	open     bool
	version  uint64
	gen      uint64
	subs     map[int]func(board.Board)
	nextSub  int
	log      log.FieldLogger
}

func NewStore(logger log.FieldLogger) *Store {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Store{subs: make(map[int]func(board.Board)), log: logger}
}

// Load replaces the snapshot wholesale, e.g. on initial fetch or refresh.
func (s *Store) Load(b board.Board) error {
	b = b.Normalize()
	if err := b.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTree, err)
	}
	s.mu.Lock()
	s.open = true
	s.gen++
	s.commitLocked(b)
	return nil
}

// Close forgets the open board. Later writes for it fail with ErrStaleBoard.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	s.board = board.Board{}
	s.version++
	s.gen++
}

func (s *Store) Snapshot() (board.Board, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board, s.open
}

// BoardID returns the id of the open board, or "" when none is open.
func (s *Store) BoardID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return ""
	}
	return s.board.ID
}

func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Checkpoint is a snapshot tied to the load it was taken from. A checkpoint
// taken before a Load or Close can no longer be restored.
type Checkpoint struct {
	Board board.Board
	gen   uint64
}

// Mutate applies fn to the current snapshot of boardID and commits the
// result if it is a valid tree. It returns the snapshot fn was applied to.
func (s *Store) Mutate(boardID string, fn func(board.Board) (board.Board, error)) (board.Board, error) {
	cp, err := s.Apply(boardID, fn)
	return cp.Board, err
}

// Apply is Mutate returning a checkpoint the caller can Restore later.
func (s *Store) Apply(boardID string, fn func(board.Board) (board.Board, error)) (Checkpoint, error) {
	s.mu.Lock()
	if !s.open || s.board.ID != boardID {
		s.mu.Unlock()
		return Checkpoint{}, ErrStaleBoard
	}
	prev := Checkpoint{Board: s.board, gen: s.gen}
	next, err := fn(prev.Board)
	if err != nil {
		s.mu.Unlock()
		return prev, err
	}
	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		s.log.WithError(err).WithField("board", boardID).Warn("refusing to commit invalid board")
		return prev, fmt.Errorf("%w: %v", ErrInvalidTree, err)
	}
	s.commitLocked(next)
	return prev, nil
}

// Restore puts a checkpoint back in place. It fails with ErrStaleBoard once
// the board has been reloaded or closed since the checkpoint was taken.
func (s *Store) Restore(cp Checkpoint) error {
	s.mu.Lock()
	if !s.open || cp.gen != s.gen || s.board.ID != cp.Board.ID {
		s.mu.Unlock()
		return ErrStaleBoard
	}
	s.commitLocked(cp.Board)
	return nil
}

// Subscribe registers fn for every committed snapshot and returns a function
// that removes it.
func (s *Store) Subscribe(fn func(board.Board)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// commitLocked must be called with mu held and releases it. notifyMu is taken
// before mu is released so subscribers observe commits in order.
func (s *Store) commitLocked(next board.Board) {
	s.board = next
	s.version++
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(board.Board), len(ids))
	for i, id := range ids {
		fns[i] = s.subs[id]
	}
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()
	for _, fn := range fns {
		fn(next)
	}
}
