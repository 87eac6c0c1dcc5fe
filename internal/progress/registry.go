package progress

import (
	"sync"
	"time"
)

// Registry maps job handles to their trackers
type Registry struct {
	mirror MirrorFunc

	mu       sync.RWMutex
	trackers map[string]*Tracker
}

// NewRegistry creates an empty registry. mirror may be nil.
func NewRegistry(mirror MirrorFunc) *Registry {
	return &Registry{
		mirror:   mirror,
		trackers: make(map[string]*Tracker),
	}
}

// Open registers a new tracker for jobID, replacing any previous one
func (r *Registry) Open(jobID string) *Tracker {
	t := NewTracker(jobID, r.mirror)

	r.mu.Lock()
	r.trackers[jobID] = t
	r.mu.Unlock()

	return t
}

// Lookup returns the tracker for jobID
func (r *Registry) Lookup(jobID string) (*Tracker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.trackers[jobID]
	return t, ok
}

// Len returns the number of registered trackers
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.trackers)
}

// Prune drops terminal trackers last updated more than retention ago
func (r *Registry) Prune(retention time.Duration, now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	pruned := 0
	for id, t := range r.trackers {
		snap := t.Snapshot()
		if snap.Terminal && now.Sub(snap.UpdatedAt) > retention {
			delete(r.trackers, id)
			pruned++
		}
	}
	return pruned
}
