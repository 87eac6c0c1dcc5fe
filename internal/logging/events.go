package logging

import (
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/therealutkarshpriyadarshi/framereel/internal/assembler"
)

// JobObserver writes assembler events as structured log lines. Per-frame and
// phase-boundary events go to debug; failures go to warn or error.
func JobObserver(l *Logger) assembler.Observer {
	return assembler.ObserverFunc(func(e assembler.Event) {
		evt := eventLevel(l.logger, e)
		if evt == nil {
			return
		}

		evt = evt.Str("event", string(e.Type))
		if e.JobID != "" {
			evt = evt.Str("job_id", e.JobID)
		}
		if e.Format != "" {
			evt = evt.Str("format", string(e.Format))
		}
		if e.Phase != "" {
			evt = evt.Str("phase", e.Phase)
		}
		if e.Frames > 0 {
			evt = evt.Int("frames", e.Frames)
		}
		if e.Bytes > 0 {
			evt = evt.Int64("size_bytes", e.Bytes).Str("size", humanize.Bytes(uint64(e.Bytes)))
		}
		if e.File != "" {
			evt = evt.Str("file", e.File)
		}
		if e.Reason != "" {
			evt = evt.Str("reason", e.Reason)
		}
		if e.Duration > 0 {
			evt = evt.Dur("duration_ms", e.Duration)
		}
		if e.Err != nil {
			evt = evt.Str("error_kind", string(e.Err.Kind)).Err(e.Err)
		}

		evt.Msg(eventMessage(e.Type))
	})
}

func eventLevel(logger zerolog.Logger, e assembler.Event) *zerolog.Event {
	switch e.Type {
	case assembler.EventJobFailed:
		if e.Err != nil && e.Err.Kind == assembler.KindInputRejected {
			return logger.Warn()
		}
		return logger.Error()
	case assembler.EventCleanupFailed:
		return logger.Error()
	case assembler.EventFrameRejected, assembler.EventFrameSkipped:
		return logger.Warn()
	case assembler.EventPhaseStarted, assembler.EventPhaseFinished, assembler.EventChunkAccepted:
		return logger.Debug()
	default:
		return logger.Info()
	}
}

func eventMessage(t assembler.EventType) string {
	switch t {
	case assembler.EventJobCreated:
		return "Job created"
	case assembler.EventChunkAccepted:
		return "Chunk accepted"
	case assembler.EventFrameRejected:
		return "Frame rejected"
	case assembler.EventFrameSkipped:
		return "Frame skipped"
	case assembler.EventPhaseStarted:
		return "Phase started"
	case assembler.EventPhaseFinished:
		return "Phase finished"
	case assembler.EventJobCompleted:
		return "Job completed"
	case assembler.EventJobFailed:
		return "Job failed"
	case assembler.EventCleanupFailed:
		return "Workspace cleanup failed"
	case assembler.EventSweepCompleted:
		return "Sweep completed"
	default:
		return "Job event"
	}
}
