// Package progress keeps one progress cell per job, polled by handle.
package progress

import (
	"sync"
	"time"
)

// Phase bands of the 0-100 range. Encoding dominates wall-clock time but is
// reported in the last quarter, after ingestion and normalization.
const (
	IngestStart    = 0.0
	OrderStart     = 10.0
	NormalizeStart = 15.0
	EncodeStart    = 75.0
	EncodeEnd      = 99.0
	Done           = 100.0
)

// Scale maps a fraction of a phase onto its band
func Scale(start, end, fraction float64) float64 {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	return start + (end-start)*fraction
}

// Snapshot is a point-in-time view of a tracker
type Snapshot struct {
	Percent   float64   `json:"progress"`
	Message   string    `json:"message"`
	Terminal  bool      `json:"terminal"`
	Failed    bool      `json:"failed"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MirrorFunc receives every update, e.g. to copy it into a shared store
type MirrorFunc func(jobID string, snap Snapshot)

// Tracker is a single job's progress cell. Percent never decreases while the job
// runs; Fail is the only way back to zero.
type Tracker struct {
	jobID  string
	mirror MirrorFunc
	now    func() time.Time

	mu   sync.Mutex
	snap Snapshot
}

// NewTracker creates a tracker at 0%
func NewTracker(jobID string, mirror MirrorFunc) *Tracker {
	t := &Tracker{jobID: jobID, mirror: mirror, now: time.Now}
	t.snap.UpdatedAt = t.now()
	return t
}

// JobID returns the job the tracker belongs to
func (t *Tracker) JobID() string {
	return t.jobID
}

// Set records progress. Values are clamped to [0,100]; a value below the current
// percent only updates the message. Updates after a terminal state are ignored.
func (t *Tracker) Set(percent float64, message string) {
	t.update(func(s *Snapshot) bool {
		if s.Terminal {
			return false
		}
		percent = clamp(percent)
		if percent > s.Percent {
			s.Percent = percent
		}
		s.Message = message
		return true
	})
}

// Get returns the current percent and message
func (t *Tracker) Get() (float64, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap.Percent, t.snap.Message
}

// Snapshot returns the full current state
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

// Reset returns a running job to 0%, used when a job starts
func (t *Tracker) Reset(message string) {
	t.update(func(s *Snapshot) bool {
		*s = Snapshot{Message: message}
		return true
	})
}

// Complete marks the job done at 100%
func (t *Tracker) Complete(message string) {
	t.update(func(s *Snapshot) bool {
		if s.Terminal {
			return false
		}
		s.Percent = Done
		s.Message = message
		s.Terminal = true
		return true
	})
}

// Fail drops the job back to 0% with the error message, which tells pollers the
// job failed rather than finished
func (t *Tracker) Fail(message string) {
	t.update(func(s *Snapshot) bool {
		if s.Terminal {
			return false
		}
		s.Percent = 0
		s.Message = message
		s.Terminal = true
		s.Failed = true
		return true
	})
}

func (t *Tracker) update(fn func(s *Snapshot) bool) {
	t.mu.Lock()
	if !fn(&t.snap) {
		t.mu.Unlock()
		return
	}
	t.snap.UpdatedAt = t.now()
	snap := t.snap
	t.mu.Unlock()

	if t.mirror != nil {
		t.mirror(t.jobID, snap)
	}
}

func clamp(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > Done {
		return Done
	}
	return p
}
