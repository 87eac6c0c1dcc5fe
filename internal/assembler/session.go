package assembler

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/therealutkarshpriyadarshi/framereel/internal/progress"
	"github.com/therealutkarshpriyadarshi/framereel/internal/workspace"
	"github.com/therealutkarshpriyadarshi/framereel/pkg/models"
)

// State is a job's position in the chunk lifecycle
type State int

// States, in lifecycle order
const (
	StateCollecting State = iota
	StateReady
	StateEncoding
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCollecting:
		return models.JobStatusCollecting
	case StateReady:
		return models.JobStatusReady
	case StateEncoding:
		return models.JobStatusEncoding
	case StateDone:
		return models.JobStatusCompleted
	case StateFailed:
		return models.JobStatusFailed
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ChunkMachine tracks which frames of a declared total have arrived and decides,
// exactly once, when the job is ready to encode. Transitions require the owning
// session's lock; State and Received may be read without it.
type ChunkMachine struct {
	state    atomic.Int32
	received atomic.Int64
	total    int
}

// NewChunkMachine creates a machine expecting total frames
func NewChunkMachine(total int) *ChunkMachine {
	m := &ChunkMachine{total: total}
	m.setState(StateCollecting)
	return m
}

// State returns the current state
func (m *ChunkMachine) State() State {
	return State(m.state.Load())
}

func (m *ChunkMachine) setState(s State) {
	m.state.Store(int32(s))
}

// Received returns the number of frames submitted so far
func (m *ChunkMachine) Received() int {
	return int(m.received.Load())
}

// Total returns the declared frame total
func (m *ChunkMachine) Total() int {
	return m.total
}

// Check validates a chunk of n frames starting at start without changing state
func (m *ChunkMachine) Check(start, n int) error {
	if state := m.State(); state != StateCollecting {
		return fmt.Errorf("%w (state %s)", ErrNotCollecting, state)
	}
	if n <= 0 {
		return ErrNoFiles
	}
	received := m.Received()
	if start != received {
		return fmt.Errorf("%w: chunk starts at %d, expected %d", ErrChunkOutOfOrder, start, received)
	}
	if received+n > m.total {
		return fmt.Errorf("%w: %d frames would exceed total of %d", ErrChunkOverflow, received+n, m.total)
	}
	return nil
}

// Commit records a checked chunk. It reports true on the call that completes the
// declared total, moving the machine to ready.
func (m *ChunkMachine) Commit(n int) bool {
	if m.State() != StateCollecting {
		return false
	}
	if int(m.received.Add(int64(n))) >= m.total {
		m.setState(StateReady)
		return true
	}
	return false
}

// Begin moves a ready job to encoding
func (m *ChunkMachine) Begin() error {
	if state := m.State(); state != StateReady {
		return fmt.Errorf("cannot start encoding from state %s", state)
	}
	m.setState(StateEncoding)
	return nil
}

// Finish moves an encoding job to done
func (m *ChunkMachine) Finish() error {
	if state := m.State(); state != StateEncoding {
		return fmt.Errorf("cannot finish from state %s", state)
	}
	m.setState(StateDone)
	return nil
}

// Fail moves the job to failed from any non-terminal state
func (m *ChunkMachine) Fail() {
	if m.State() != StateDone {
		m.setState(StateFailed)
	}
}

// session is the live state of one job between its creation and release
type session struct {
	mu sync.Mutex

	job          models.Job
	numericOrder bool
	machine      *ChunkMachine
	ws           *workspace.Workspace
	tracker      *progress.Tracker
	frames       []models.Frame
	lastActivity time.Time
}

// busySnapshot is the view of a job whose lock is held by a running submission.
// It reads only what is fixed at creation plus the lock-free machine and tracker.
func (s *session) busySnapshot() models.Job {
	job := models.Job{
		ID:           s.job.ID,
		Format:       s.job.Format,
		FrameRate:    s.job.FrameRate,
		TotalFrames:  s.job.TotalFrames,
		NumericOrder: s.job.NumericOrder,
		CreatedAt:    s.job.CreatedAt,
		Status:       s.machine.State().String(),
		Received:     s.machine.Received(),
	}
	job.Progress, job.Message = s.tracker.Get()
	return job
}

func (s *session) snapshot() models.Job {
	job := s.job
	job.Status = s.machine.State().String()
	job.Received = s.machine.Received()
	job.Progress, job.Message = s.tracker.Get()
	return job
}
