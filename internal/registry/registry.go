// Package registry tracks in-flight requests so they can be cancelled by id
// from outside the goroutine running them.
package registry

import (
	"context"
	"sync"
)

// Registry maps logical request ids to their cancellation functions. All
// methods are safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func New() *Registry {
	return &Registry{
		cancels: make(map[string]context.CancelFunc),
	}
}

// Add registers a request. A second Add under the same id cancels the
// previous entry first, so an id can never point at a stale request.
func (r *Registry) Add(id string, cancel context.CancelFunc) {
	r.mu.Lock()
	prev := r.cancels[id]
	r.cancels[id] = cancel
	r.mu.Unlock()

	if prev != nil {
		prev()
	}
}

// Cancel aborts the request with the given id. It reports whether the id was
// active; cancelling twice or cancelling an unknown id is a no-op.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[id]
	delete(r.cancels, id)
	r.mu.Unlock()

	if ok {
		cancel()
	}
	return ok
}

// Remove drops the entry without cancelling; called when a request completes.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.cancels, id)
	r.mu.Unlock()
}

// Active returns the number of in-flight requests.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cancels)
}
