package engine

import (
	"context"
	"sync"

	"github.com/CrowderSoup/kanban-sync/board"
)

// Op is the handle of one submitted mutation. The local change is already
// visible when the Op is returned; Wait blocks until the server has
// acknowledged or the change was reverted.
type Op struct {
	id   string
	prev board.Board
	done chan struct{}
	once sync.Once
	err  error
}

func newOp(id string) *Op {
	return &Op{id: id, done: make(chan struct{})}
}

func finished(id string, err error) *Op {
	op := newOp(id)
	op.finish(err)
	return op
}

func (o *Op) finish(err error) {
	o.once.Do(func() {
		o.err = err
		close(o.done)
	})
}

// ID is the local id of the mutated entity. For creates this is the temp id
// until the entity is rekeyed.
func (o *Op) ID() string { return o.id }

// Previous is the board as it was just before the change was applied.
func (o *Op) Previous() board.Board { return o.prev }

func (o *Op) Done() <-chan struct{} { return o.done }

// Err returns the outcome once Done is closed, nil before that.
func (o *Op) Err() error {
	select {
	case <-o.done:
		return o.err
	default:
		return nil
	}
}

func (o *Op) Wait(ctx context.Context) error {
	select {
	case <-o.done:
		return o.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
