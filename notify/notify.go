// Package notify carries short user-facing notifications ("toasts") from the
// sync core to whatever renders them.
package notify

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

type Kind string

const (
	Success Kind = "success"
	Info    Kind = "info"
	Warning Kind = "warning"
	Error   Kind = "error"
)

// DefaultTTL is how long a toast stays visible.
const DefaultTTL = 5 * time.Second

type Toast struct {
	ID      int
	Kind    Kind
	Message string
	At      time.Time
}

type Notifier interface {
	Notify(kind Kind, message string)
}

// Toasts collects notifications for a view and expires them after ttl.
type Toasts struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	nextID int
	items  []Toast
}

func NewToasts(ttl time.Duration) *Toasts {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Toasts{ttl: ttl, now: time.Now}
}

func (t *Toasts) Notify(kind Kind, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	t.items = append(t.items, Toast{ID: t.nextID, Kind: kind, Message: message, At: t.now()})
}

// Active returns the toasts that have not expired, oldest first.
func (t *Toasts) Active() []Toast {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	kept := t.items[:0]
	for _, it := range t.items {
		if now.Sub(it.At) < t.ttl {
			kept = append(kept, it)
		}
	}
	t.items = kept
	return append([]Toast(nil), kept...)
}

// Dismiss removes a toast before it expires.
func (t *Toasts) Dismiss(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, it := range t.items {
		if it.ID == id {
			t.items = append(t.items[:i], t.items[i+1:]...)
			return
		}
	}
}

// LogSink writes notifications to a logger.
type LogSink struct {
	Log log.FieldLogger
}

func (s LogSink) Notify(kind Kind, message string) {
	logger := s.Log
	if logger == nil {
		logger = log.StandardLogger()
	}
	entry := logger.WithField("toast", string(kind))
	switch kind {
	case Error:
		entry.Error(message)
	case Warning:
		entry.Warn(message)
	default:
		entry.Info(message)
	}
}

// Multi fans a notification out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(kind Kind, message string) {
	for _, n := range m {
		n.Notify(kind, message)
	}
}

// Discard drops every notification.
type Discard struct{}

func (Discard) Notify(Kind, string) {}
