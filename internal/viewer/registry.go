package viewer

import (
	"errors"
	"sync"
	"time"
)

var ErrUnknownViewer = errors.New("viewer not found")

// Registry holds open cascades so client-side load signals can be routed back
// to the cascade that produced the target.
type Registry struct {
	mu       sync.RWMutex
	cascades map[string]entry
}

type entry struct {
	cascade *Cascade
	owner   string
}

func NewRegistry() *Registry {
	return &Registry{cascades: map[string]entry{}}
}

func (r *Registry) Put(owner string, c *Cascade) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cascades[c.ID] = entry{cascade: c, owner: owner}
}

// Get returns the cascade if it belongs to owner.
func (r *Registry) Get(owner, id string) (*Cascade, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.cascades[id]
	if !ok || e.owner != owner {
		return nil, ErrUnknownViewer
	}
	return e.cascade, nil
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cascades, id)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cascades)
}

// Sweep cancels and drops cascades older than maxAge, returning how many went.
func (r *Registry) Sweep(now time.Time, maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, e := range r.cascades {
		if now.Sub(e.cascade.createdAt) > maxAge {
			e.cascade.Cancel()
			delete(r.cascades, id)
			n++
		}
	}
	return n
}
