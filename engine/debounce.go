package engine

import (
	"sync"
	"time"

	"github.com/CrowderSoup/kanban-sync/board"
	"github.com/CrowderSoup/kanban-sync/state"
)

// DefaultDebounce is how long description edits settle before they are saved.
const DefaultDebounce = 600 * time.Millisecond

// WithDebounce sets the description debounce delay.
func WithDebounce(d time.Duration) Option {
	return func(e *Engine) { e.descriptions = newDebouncer(e, d) }
}

type pendingText struct {
	prev  state.Checkpoint
	text  string
	timer *time.Timer
	op    *Op
}

type debouncer struct {
	e     *Engine
	delay time.Duration

	mu      sync.Mutex
	pending map[string]*pendingText
}

func newDebouncer(e *Engine, delay time.Duration) *debouncer {
	return &debouncer{e: e, delay: delay, pending: make(map[string]*pendingText)}
}

// DebouncedDescription shows text as the card's description at once and
// saves only the last value written within the debounce window. The
// returned Op finishes when that save does.
func (e *Engine) DebouncedDescription(cardID, text string) *Op {
	cardID = e.origins.Canonical(cardID)
	boardID := e.store.BoardID()
	prev, err := e.store.Apply(boardID, func(b board.Board) (board.Board, error) {
		if _, _, _, ok := b.Card(cardID); !ok {
			return b, invalid("unknown card %s", cardID)
		}
		return b.UpdateCard(cardID, board.CardPatch{Description: &text}), nil
	})
	if err != nil {
		return finished(cardID, err)
	}
	return e.descriptions.schedule(cardID, text, prev)
}

// FlushDescriptions saves every pending description edit now.
func (e *Engine) FlushDescriptions() { e.descriptions.flush() }

// schedule keeps the snapshot from before the first edit of a burst so a
// failed save reverts the whole burst.
func (d *debouncer) schedule(cardID, text string, prev state.Checkpoint) *Op {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pending[cardID]
	if !ok {
		p = &pendingText{prev: prev, op: newOp(cardID)}
		d.pending[cardID] = p
	} else {
		p.timer.Stop()
	}
	p.text = text
	p.timer = time.AfterFunc(d.delay, func() { d.fire(cardID, p) })
	return p.op
}

func (d *debouncer) fire(cardID string, p *pendingText) {
	d.mu.Lock()
	if d.pending[cardID] != p {
		d.mu.Unlock()
		return
	}
	delete(d.pending, cardID)
	text := p.text
	d.mu.Unlock()

	m := d.e.updateCard(cardID, board.CardPatch{Description: &text}, "Failed to save description")
	m.base = &p.prev
	op := d.e.submit(m)
	go func() {
		<-op.Done()
		p.op.prev = op.prev
		p.op.finish(op.Err())
	}()
}

func (d *debouncer) flush() {
	d.mu.Lock()
	due := make(map[string]*pendingText, len(d.pending))
	for id, p := range d.pending {
		p.timer.Stop()
		due[id] = p
	}
	d.mu.Unlock()
	for id, p := range due {
		d.fire(id, p)
	}
}
