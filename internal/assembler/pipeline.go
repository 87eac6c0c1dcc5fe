package assembler

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/therealutkarshpriyadarshi/framereel/internal/encoder"
	"github.com/therealutkarshpriyadarshi/framereel/internal/ingest"
	"github.com/therealutkarshpriyadarshi/framereel/internal/ordering"
	"github.com/therealutkarshpriyadarshi/framereel/internal/progress"
	"github.com/therealutkarshpriyadarshi/framereel/internal/tracing"
	"github.com/therealutkarshpriyadarshi/framereel/pkg/models"
)

// ingestChunk validates a chunk against the job's state machine and persists its
// accepted frames. It does not commit the chunk.
func (s *Service) ingestChunk(ctx context.Context, sess *session, chunk Chunk) error {
	span, ctx := tracing.StartJobSpan(ctx, PhaseIngest, sess.job.ID)
	defer tracing.FinishSpan(span)

	if err := sess.machine.Check(chunk.Start, len(chunk.Files)); err != nil {
		return rejected(PhaseIngest, err)
	}

	accepted, skipped := ingest.Filter(chunk.Files, s.cfg.AllowedExtensions)
	for _, b := range skipped {
		s.emit(Event{
			Type:   EventFrameRejected,
			JobID:  sess.job.ID,
			Phase:  PhaseIngest,
			File:   b.Name,
			Reason: "extension not allowed",
		})
	}
	if len(accepted) == 0 {
		return rejected(PhaseIngest, ingest.ErrNoValidFrames)
	}

	frames, err := ingest.Persist(ctx, sess.ws, accepted, chunk.Start)
	if err != nil {
		return err
	}

	sess.frames = append(sess.frames, frames...)
	sess.job.Accepted = len(sess.frames)

	var size int64
	for _, f := range frames {
		size += f.Size
	}
	tracing.SetTag(span, "frames", len(frames))

	received := sess.machine.Received() + len(chunk.Files)
	sess.tracker.Set(
		progress.Scale(progress.IngestStart, progress.OrderStart, float64(received)/float64(sess.machine.Total())),
		fmt.Sprintf("received %d of %d frames (%s)", received, sess.machine.Total(), humanize.Bytes(uint64(size))),
	)

	s.emit(Event{
		Type:   EventPhaseFinished,
		JobID:  sess.job.ID,
		Format: sess.job.Format,
		Phase:  PhaseIngest,
		Frames: len(frames),
		Bytes:  size,
	})

	return nil
}

// process runs ordering, normalization, encoding and delivery under the job
// deadline, then releases the workspace. Callers hold sess.mu and hand any
// returned error to fail.
func (s *Service) process(parent context.Context, sess *session, deliver DeliverFunc) (*models.Output, *Error) {
	if err := sess.machine.Begin(); err != nil {
		return nil, &Error{Kind: KindWorkspaceError, Op: PhaseOrder, Err: err}
	}

	ctx := parent
	if s.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, s.cfg.JobTimeout)
		defer cancel()
	}

	span, ctx := tracing.StartJobSpan(ctx, "process", sess.job.ID)
	defer tracing.FinishSpan(span)
	tracing.SetTag(span, "format", string(sess.job.Format))

	started := s.now()
	sess.job.StartedAt = &started

	ordered, err := s.order(ctx, sess)
	if err != nil {
		tracing.LogError(span, err)
		return nil, classify(parent, PhaseOrder, err)
	}

	normalized, err := s.normalize(ctx, sess, ordered)
	if err != nil {
		tracing.LogError(span, err)
		return nil, classify(parent, PhaseNormalize, err)
	}

	out, err := s.encode(ctx, sess, normalized)
	if err != nil {
		tracing.LogError(span, err)
		return nil, classify(parent, PhaseEncode, err)
	}

	if deliver != nil {
		done := s.phase(sess, PhaseDeliver)
		if err := deliver(out); err != nil {
			tracing.LogError(span, err)
			kind := KindDeliveryFailed
			if parent.Err() != nil {
				kind = KindCanceled
			}
			return nil, &Error{Kind: kind, Op: PhaseDeliver, Err: err}
		}
		done(out.Frames)
	}

	if err := sess.machine.Finish(); err != nil {
		return nil, &Error{Kind: KindWorkspaceError, Op: PhaseDeliver, Err: err}
	}
	completed := s.now()
	sess.job.CompletedAt = &completed
	sess.tracker.Complete("video ready")

	s.release(sess)

	s.emit(Event{
		Type:     EventJobCompleted,
		JobID:    sess.job.ID,
		Format:   sess.job.Format,
		Frames:   out.Frames,
		Bytes:    out.Size,
		Duration: completed.Sub(sess.job.CreatedAt),
	})

	return out, nil
}

func (s *Service) order(ctx context.Context, sess *session) ([]models.Frame, error) {
	done := s.phase(sess, PhaseOrder)
	sess.tracker.Set(progress.OrderStart, "ordering frames")

	var ordered []models.Frame
	if sess.numericOrder {
		var skipped []ordering.Skipped
		var err error
		ordered, skipped, err = ordering.ByNumericKey(sess.frames)
		for _, sk := range skipped {
			s.emit(Event{
				Type:   EventFrameSkipped,
				JobID:  sess.job.ID,
				Phase:  PhaseOrder,
				File:   sk.Frame.Name,
				Reason: sk.Reason,
			})
		}
		if err != nil {
			return nil, err
		}
	} else {
		ordered = ordering.Lexical(sess.frames)
	}

	done(len(ordered))
	return ordered, ctx.Err()
}

func (s *Service) normalize(ctx context.Context, sess *session, frames []models.Frame) ([]models.Frame, error) {
	span, ctx := tracing.StartJobSpan(ctx, PhaseNormalize, sess.job.ID)
	defer tracing.FinishSpan(span)

	done := s.phase(sess, PhaseNormalize)
	sess.tracker.Set(progress.NormalizeStart, "normalizing frames")

	out, err := s.normalizer.Run(ctx, frames, sess.ws.FramesPath(), func(n, total int) {
		sess.tracker.Set(
			progress.Scale(progress.NormalizeStart, progress.EncodeStart, float64(n)/float64(total)),
			fmt.Sprintf("normalized %d of %d frames", n, total),
		)
	})
	if err != nil {
		return nil, err
	}

	done(len(out))
	return out, nil
}

func (s *Service) encode(ctx context.Context, sess *session, frames []models.Frame) (*models.Output, error) {
	span, ctx := tracing.StartJobSpan(ctx, PhaseEncode, sess.job.ID)
	defer tracing.FinishSpan(span)

	done := s.phase(sess, PhaseEncode)
	sess.tracker.Set(progress.EncodeStart, "encoding video")

	total := len(frames)
	req := encoder.EncodeRequest{
		FramesDir:   sess.ws.FramesPath(),
		Pattern:     ordering.FramePattern,
		FrameRate:   sess.job.FrameRate,
		TotalFrames: total,
		Format:      sess.job.Format,
		OutputPath:  sess.ws.OutputPath(sess.job.Format.Extension()),
	}

	err := s.encoder.Encode(ctx, req, func(encoded int) {
		sess.tracker.Set(
			progress.Scale(progress.EncodeStart, progress.EncodeEnd, float64(encoded)/float64(total)),
			fmt.Sprintf("encoded %d of %d frames", encoded, total),
		)
	})
	if err != nil {
		tracing.LogError(span, err)
		return nil, err
	}

	// ffmpeg can exit 0 having written a truncated file
	if err := encoder.VerifyOutput(req.OutputPath); err != nil {
		return nil, err
	}
	info, err := os.Stat(req.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", encoder.ErrEmptyOutput, err)
	}

	done(total)

	return &models.Output{
		JobID:        sess.job.ID,
		Path:         req.OutputPath,
		Format:       sess.job.Format,
		ContentType:  sess.job.Format.ContentType(),
		DownloadName: sess.job.Format.DownloadName(),
		Size:         info.Size(),
		Frames:       total,
	}, nil
}

// phase emits phase_started and returns a func emitting phase_finished
func (s *Service) phase(sess *session, name string) func(frames int) {
	start := s.now()
	s.emit(Event{Type: EventPhaseStarted, JobID: sess.job.ID, Format: sess.job.Format, Phase: name})

	return func(frames int) {
		s.emit(Event{
			Type:     EventPhaseFinished,
			JobID:    sess.job.ID,
			Format:   sess.job.Format,
			Phase:    name,
			Frames:   frames,
			Duration: s.now().Sub(start),
		})
	}
}
