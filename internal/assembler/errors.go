package assembler

import (
	"context"
	"errors"
	"fmt"

	"github.com/therealutkarshpriyadarshi/framereel/internal/encoder"
	"github.com/therealutkarshpriyadarshi/framereel/internal/ingest"
	"github.com/therealutkarshpriyadarshi/framereel/internal/normalize"
	"github.com/therealutkarshpriyadarshi/framereel/internal/ordering"
	"github.com/therealutkarshpriyadarshi/framereel/internal/workspace"
)

// Kind categorizes a job failure for the caller
type Kind string

// Error kinds
const (
	KindInputRejected       Kind = "input_rejected"
	KindFrameDecodeFailed   Kind = "frame_decode_failed"
	KindEncodeProcessFailed Kind = "encode_process_failed"
	KindWorkspaceError      Kind = "workspace_error"
	KindTimeout             Kind = "timeout"
	KindCanceled            Kind = "canceled"
	KindDeliveryFailed      Kind = "delivery_failed"
)

var (
	// ErrJobNotFound is returned for unknown or already finished job handles
	ErrJobNotFound = errors.New("job not found")
	// ErrNoFiles is returned when a submission carries no files at all
	ErrNoFiles = errors.New("no files provided")
	// ErrNotCollecting is returned when frames arrive for a job that stopped accepting them
	ErrNotCollecting = errors.New("job is not accepting frames")
	// ErrChunkOutOfOrder is returned when a chunk does not continue where the last one ended
	ErrChunkOutOfOrder = errors.New("chunk does not continue the previous chunk")
	// ErrChunkOverflow is returned when a chunk runs past the declared total
	ErrChunkOverflow = errors.New("chunk exceeds declared frame total")
	// ErrSessionExpired is returned when a chunked job waited too long for its next chunk
	ErrSessionExpired = errors.New("job expired waiting for remaining chunks")
)

// Error is a categorized job failure
type Error struct {
	Kind  Kind
	Op    string
	JobID string
	Err   error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err, or "" when err is not a job failure
func KindOf(err error) Kind {
	var jobErr *Error
	if errors.As(err, &jobErr) {
		return jobErr.Kind
	}
	return ""
}

func rejected(op string, err error) *Error {
	return &Error{Kind: KindInputRejected, Op: op, Err: err}
}

// classify wraps a phase error into a categorized Error. Context errors are
// resolved against the caller's context so a job deadline reads as a timeout and
// a caller going away reads as a cancellation.
func classify(parent context.Context, op string, err error) *Error {
	var jobErr *Error
	if errors.As(err, &jobErr) {
		return jobErr
	}

	kind := KindWorkspaceError
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		kind = KindTimeout
		if parent.Err() != nil {
			kind = KindCanceled
		}
	case errors.Is(err, ingest.ErrNoValidFrames),
		errors.Is(err, ordering.ErrNoOrderKey),
		errors.Is(err, workspace.ErrTooManyFrames),
		errors.Is(err, workspace.ErrPayloadTooLarge):
		kind = KindInputRejected
	case errors.Is(err, normalize.ErrDecode):
		kind = KindFrameDecodeFailed
	case errors.Is(err, encoder.ErrProcessFailed), errors.Is(err, encoder.ErrEmptyOutput):
		kind = KindEncodeProcessFailed
	}

	return &Error{Kind: kind, Op: op, Err: err}
}
