package events

import (
	"sync"

	"github.com/google/uuid"

	"github.com/trustmesh/gateway/internal/metrics"
)

// Registry is the arena of live subscribers, keyed by handle id. It is
// the only mutable structure shared between the feed loop and the
// connection handlers. The lock covers pointer and metadata updates
// only, never subscriber I/O, so a slow subscriber cannot stall
// registration or broadcast.
type Registry struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]*Subscriber
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{subs: make(map[uuid.UUID]*Subscriber)}
}

// add registers a subscriber and returns its handle.
func (r *Registry) add(sub *Subscriber) uuid.UUID {
	r.mu.Lock()
	r.subs[sub.ID] = sub
	n := len(r.subs)
	r.mu.Unlock()

	metrics.SubscribersConnected.Set(float64(n))
	return sub.ID
}

// remove drops a subscriber from the arena. The caller is responsible
// for disconnecting it; removal only ends its participation in future
// broadcasts.
func (r *Registry) remove(id uuid.UUID) {
	r.mu.Lock()
	delete(r.subs, id)
	n := len(r.subs)
	r.mu.Unlock()

	metrics.SubscribersConnected.Set(float64(n))
}

// get returns the subscriber for a handle, if still registered.
func (r *Registry) get(id uuid.UUID) (*Subscriber, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subs[id]
	return sub, ok
}

// snapshot returns a consistent point-in-time view of the live set.
// Broadcast iterates the snapshot, so a subscriber deregistered after
// the snapshot may still be offered the in-flight commit and one
// registered after it joins at the next commit. That is the logical
// join point.
func (r *Registry) snapshot() []*Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Subscriber, 0, len(r.subs))
	for _, sub := range r.subs {
		out = append(out, sub)
	}
	return out
}

// Len returns the number of registered subscribers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}
