package supervisor

import (
	"context"
	"sort"
	"sync"
	"time"
)

// entry tracks one active run
type entry struct {
	runID   string
	testID  string
	ownerID string
	started time.Time
	cancel  context.CancelCauseFunc
}

// Registry holds the active runs. Remove is idempotent, so racing stop,
// timeout and completion paths remove an entry exactly once.
type Registry struct {
	mu   sync.Mutex
	runs map[string]*entry
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*entry)}
}

func (r *Registry) add(e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[e.runID] = e
}

func (r *Registry) get(runID string) (*entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.runs[runID]
	return e, ok
}

// take removes and returns the entry, if still present
func (r *Registry) take(runID string) (*entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.runs[runID]
	if ok {
		delete(r.runs, runID)
	}
	return e, ok
}

// Remove deletes runID and reports whether this call removed it.
func (r *Registry) Remove(runID string) bool {
	_, ok := r.take(runID)
	return ok
}

// Has reports whether runID is active
func (r *Registry) Has(runID string) bool {
	_, ok := r.get(runID)
	return ok
}

// IDs returns the active run IDs, oldest first
func (r *Registry) IDs() []string {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.runs))
	for _, e := range r.runs {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].started.Before(entries[j].started)
	})
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.runID
	}
	return ids
}

// Len returns the number of active runs
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}
