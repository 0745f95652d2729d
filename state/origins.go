package state

import (
	"sync"
	"time"
)

const DefaultOriginTTL = 2 * time.Minute

type origin struct {
	tempID string
	at     time.Time
}

// Origins remembers the mutation ids this client sent, and for creates the
// temp id the entity carries locally until the server id is known. Entries
// expire after ttl since the matching push event may never arrive.
//
// It also keeps the temp id to server id aliases learned so far, whichever of
// the persistence response or the push event delivered them first.
type Origins struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	m       map[string]origin
	aliases map[string]string
	roots   map[string]string
}

func NewOrigins(ttl time.Duration) *Origins {
	if ttl <= 0 {
		ttl = DefaultOriginTTL
	}
	return &Origins{
		ttl:     ttl,
		now:     time.Now,
		m:       make(map[string]origin),
		aliases: make(map[string]string),
		roots:   make(map[string]string),
	}
}

// Register records a mutation id. tempID is empty for anything but creates.
func (o *Origins) Register(id, tempID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := o.now()
	for k, v := range o.m {
		if now.Sub(v.at) > o.ttl {
			delete(o.m, k)
		}
	}
	o.m[id] = origin{tempID: tempID, at: now}
}

// Lookup reports whether id was sent by this client and returns its temp id.
func (o *Origins) Lookup(id string) (string, bool) {
	if id == "" {
		return "", false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	v, ok := o.m[id]
	if !ok || o.now().Sub(v.at) > o.ttl {
		return "", false
	}
	return v.tempID, true
}

func (o *Origins) Forget(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.m, id)
}

func (o *Origins) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.m)
}

// Alias records that the entity created locally as tempID is serverID.
func (o *Origins) Alias(tempID, serverID string) {
	if tempID == "" || serverID == "" || tempID == serverID {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.aliases[tempID] = serverID
	o.roots[serverID] = tempID
}

// Canonical returns the server id for a known temp id and id otherwise.
func (o *Origins) Canonical(id string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if sid, ok := o.aliases[id]; ok {
		return sid
	}
	return id
}

// Resolved reports whether tempID already has a server id.
func (o *Origins) Resolved(tempID string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	sid, ok := o.aliases[tempID]
	return sid, ok
}

// Root returns the id an entity was first known by: the temp id for an
// aliased server id, id otherwise.
func (o *Origins) Root(id string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if tmp, ok := o.roots[id]; ok {
		return tmp
	}
	return id
}

// Reset drops everything, e.g. when the open board changes.
func (o *Origins) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.m = make(map[string]origin)
	o.aliases = make(map[string]string)
	o.roots = make(map[string]string)
}
