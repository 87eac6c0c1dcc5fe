package assembler

import (
	"time"

	"github.com/therealutkarshpriyadarshi/framereel/pkg/models"
)

// EventType names something that happened to a job
type EventType string

// Event types
const (
	EventJobCreated     EventType = "job_created"
	EventChunkAccepted  EventType = "chunk_accepted"
	EventFrameRejected  EventType = "frame_rejected"
	EventFrameSkipped   EventType = "frame_skipped"
	EventPhaseStarted   EventType = "phase_started"
	EventPhaseFinished  EventType = "phase_finished"
	EventJobCompleted   EventType = "job_completed"
	EventJobFailed      EventType = "job_failed"
	EventCleanupFailed  EventType = "cleanup_failed"
	EventSweepCompleted EventType = "sweep_completed"
)

// Pipeline phases
const (
	PhaseIngest    = "ingest"
	PhaseOrder     = "order"
	PhaseNormalize = "normalize"
	PhaseEncode    = "encode"
	PhaseDeliver   = "deliver"
)

// Event is a structured record of pipeline activity. Which fields are set depends
// on Type.
type Event struct {
	Type     EventType
	JobID    string
	Format   models.OutputFormat
	Phase    string
	Frames   int
	Bytes    int64
	File     string
	Reason   string
	Duration time.Duration
	Err      *Error
	Time     time.Time
}

// Observer receives pipeline events. Implementations must be safe for concurrent use.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Event)

// Observe calls f(e)
func (f ObserverFunc) Observe(e Event) {
	f(e)
}

// Observers fans events out to every non-nil observer in order
func Observers(observers ...Observer) Observer {
	var list []Observer
	for _, o := range observers {
		if o != nil {
			list = append(list, o)
		}
	}
	return ObserverFunc(func(e Event) {
		for _, o := range list {
			o.Observe(e)
		}
	})
}

type nopObserver struct{}

func (nopObserver) Observe(Event) {}
