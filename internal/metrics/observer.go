package metrics

import (
	"github.com/therealutkarshpriyadarshi/framereel/internal/assembler"
)

// Observer records assembler events as Prometheus metrics
func Observer() assembler.Observer {
	return assembler.ObserverFunc(func(e assembler.Event) {
		switch e.Type {
		case assembler.EventJobCreated:
			RecordJobCreated(string(e.Format))
		case assembler.EventJobCompleted:
			RecordJobCompleted(string(e.Format), e.Duration.Seconds(), e.Frames, e.Bytes)
		case assembler.EventJobFailed:
			kind := "unknown"
			if e.Err != nil {
				kind = string(e.Err.Kind)
			}
			RecordJobFailed(kind)
		case assembler.EventFrameRejected:
			RecordFrameRejected("extension")
		case assembler.EventFrameSkipped:
			RecordFrameRejected("no_order_key")
		case assembler.EventPhaseFinished:
			if e.Phase == assembler.PhaseIngest {
				RecordChunk(e.Frames, e.Bytes)
				return
			}
			RecordPhase(e.Phase, e.Duration.Seconds())
		case assembler.EventCleanupFailed:
			CleanupFailuresTotal.Inc()
		case assembler.EventSweepCompleted:
			SweptTotal.Add(float64(e.Frames))
		}
	})
}
