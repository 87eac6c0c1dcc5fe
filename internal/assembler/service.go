// Package assembler runs the frame-to-video pipeline: ingestion, ordering,
// normalization and encoding, with per-job progress and guaranteed cleanup.
package assembler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/framereel/internal/config"
	"github.com/therealutkarshpriyadarshi/framereel/internal/encoder"
	"github.com/therealutkarshpriyadarshi/framereel/internal/ingest"
	"github.com/therealutkarshpriyadarshi/framereel/internal/normalize"
	"github.com/therealutkarshpriyadarshi/framereel/internal/progress"
	"github.com/therealutkarshpriyadarshi/framereel/internal/workspace"
	"github.com/therealutkarshpriyadarshi/framereel/pkg/models"
)

// Encoder turns a canonical frame sequence into a video file
type Encoder interface {
	Encode(ctx context.Context, req encoder.EncodeRequest, onFrames encoder.FramesFunc) error
}

// DeliverFunc receives the finished video while its file still exists. The
// workspace is released as soon as it returns.
type DeliverFunc func(out *models.Output) error

// Status is the outcome of a successful submission
type Status string

// Submission outcomes
const (
	StatusAwaitingChunks Status = "chunk_uploaded"
	StatusCompleted      Status = "completed"
)

// Result describes a successful submission
type Result struct {
	Status Status
	Job    models.Job
	Output *models.Output
}

// CreateRequest opens a job
type CreateRequest struct {
	Format      string
	TotalFrames int
	// NumericOrder selects digit-key ordering; nil uses the configured default
	NumericOrder *bool
}

// Chunk is one submission of frames to a job
type Chunk struct {
	// Start is the zero-based index of the first file among all files of the job
	Start int
	Files []ingest.Blob
}

// ConvertRequest is a single-shot job: every frame in one call
type ConvertRequest struct {
	Format       string
	NumericOrder *bool
	Files        []ingest.Blob
}

// Service orchestrates assembly jobs
type Service struct {
	cfg        config.AssemblerConfig
	workspaces *workspace.Manager
	normalizer *normalize.Normalizer
	encoder    Encoder
	registry   *progress.Registry
	observer   Observer
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

// NewService creates a new assembler service
func NewService(
	cfg config.AssemblerConfig,
	workspaces *workspace.Manager,
	enc Encoder,
	registry *progress.Registry,
	observer Observer,
) *Service {
	if observer == nil {
		observer = nopObserver{}
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = models.DefaultFrameRate
	}

	return &Service{
		cfg:        cfg,
		workspaces: workspaces,
		normalizer: normalize.New(normalize.Options{MaxDimension: cfg.MaxDimension, Workers: cfg.NormalizeWorkers}),
		encoder:    enc,
		registry:   registry,
		observer:   observer,
		now:        time.Now,
		sessions:   make(map[string]*session),
	}
}

// Create opens a job and its workspace. Frames are submitted with Submit.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Job, error) {
	format, err := models.ParseOutputFormat(req.Format)
	if err != nil {
		return nil, rejected("create job", err)
	}
	if req.TotalFrames <= 0 {
		return nil, rejected("create job", ErrNoFiles)
	}
	if limit := s.workspaces.Limits().MaxFrames; limit > 0 && req.TotalFrames > limit {
		return nil, rejected("create job", fmt.Errorf("%w: %d frames exceeds limit of %d",
			workspace.ErrTooManyFrames, req.TotalFrames, limit))
	}

	// Bound disk usage before taking more
	s.sweepStale()

	ws, err := s.workspaces.Acquire()
	if err != nil {
		return nil, &Error{Kind: KindWorkspaceError, Op: "create job", Err: err}
	}

	numeric := s.cfg.NumericOrder
	if req.NumericOrder != nil {
		numeric = *req.NumericOrder
	}

	now := s.now()
	sess := &session{
		job: models.Job{
			ID:           uuid.New().String(),
			Format:       format,
			FrameRate:    s.cfg.FrameRate,
			TotalFrames:  req.TotalFrames,
			NumericOrder: numeric,
			CreatedAt:    now,
		},
		numericOrder: numeric,
		machine:      NewChunkMachine(req.TotalFrames),
		ws:           ws,
		lastActivity: now,
	}
	sess.tracker = s.registry.Open(sess.job.ID)
	sess.tracker.Reset("waiting for frames")

	s.mu.Lock()
	s.sessions[sess.job.ID] = sess
	s.mu.Unlock()

	s.emit(Event{Type: EventJobCreated, JobID: sess.job.ID, Format: format, Frames: req.TotalFrames})

	job := sess.snapshot()
	return &job, nil
}

// Submit adds a chunk of frames to a job. Until the declared total has arrived it
// returns StatusAwaitingChunks; the completing call runs the rest of the pipeline,
// hands the video to deliver and returns StatusCompleted. Any error fails the job
// and releases its workspace.
func (s *Service) Submit(ctx context.Context, jobID string, chunk Chunk, deliver DeliverFunc) (*Result, error) {
	sess, ok := s.session(jobID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	// Failed or finished while this call waited for the lock
	if sess.machine.State() == StateFailed || sess.machine.State() == StateDone {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	sess.lastActivity = s.now()

	if err := s.ingestChunk(ctx, sess, chunk); err != nil {
		return nil, s.fail(ctx, sess, classify(ctx, PhaseIngest, err))
	}

	if !sess.machine.Commit(len(chunk.Files)) {
		s.emit(Event{
			Type:   EventChunkAccepted,
			JobID:  jobID,
			Format: sess.job.Format,
			Frames: sess.machine.Received(),
		})
		return &Result{Status: StatusAwaitingChunks, Job: sess.snapshot()}, nil
	}

	out, err := s.process(ctx, sess, deliver)
	if err != nil {
		return nil, s.fail(ctx, sess, err)
	}

	return &Result{Status: StatusCompleted, Job: sess.snapshot(), Output: out}, nil
}

// Convert runs a single-shot job
func (s *Service) Convert(ctx context.Context, req ConvertRequest, deliver DeliverFunc) (*Result, error) {
	job, err := s.Create(ctx, CreateRequest{
		Format:       req.Format,
		TotalFrames:  len(req.Files),
		NumericOrder: req.NumericOrder,
	})
	if err != nil {
		return nil, err
	}

	return s.Submit(ctx, job.ID, Chunk{Start: 0, Files: req.Files}, deliver)
}

// Progress returns the progress of a job by handle
func (s *Service) Progress(jobID string) (progress.Snapshot, bool) {
	t, ok := s.registry.Lookup(jobID)
	if !ok {
		return progress.Snapshot{}, false
	}
	return t.Snapshot(), true
}

// Job returns a live job by handle. While a submission holds the job it reports
// the machine's current state, so a chunk being ingested still reads as collecting.
// Finished jobs are only visible through Progress.
func (s *Service) Job(jobID string) (models.Job, bool) {
	sess, ok := s.session(jobID)
	if !ok {
		return models.Job{}, false
	}
	if !sess.mu.TryLock() {
		return sess.busySnapshot(), true
	}
	defer sess.mu.Unlock()
	return sess.snapshot(), true
}

// Active returns the number of live jobs
func (s *Service) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep expires chunked jobs idle longer than the session TTL, prunes finished
// progress cells and removes stale workspace roots
func (s *Service) Sweep(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	candidates := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		candidates = append(candidates, sess)
	}
	s.mu.Unlock()

	expired := 0
	for _, sess := range candidates {
		if !sess.mu.TryLock() {
			continue
		}
		if sess.machine.State() == StateCollecting && s.cfg.SessionTTL > 0 && now.Sub(sess.lastActivity) > s.cfg.SessionTTL {
			s.fail(ctx, sess, &Error{Kind: KindTimeout, Op: PhaseIngest, Err: ErrSessionExpired})
			expired++
		}
		sess.mu.Unlock()
	}

	pruned := 0
	if s.cfg.ProgressRetention > 0 {
		pruned = s.registry.Prune(s.cfg.ProgressRetention, now)
	}
	removed := s.sweepStale()

	s.emit(Event{Type: EventSweepCompleted, Frames: expired + pruned + removed, Reason: fmt.Sprintf(
		"expired %d jobs, pruned %d progress cells, removed %d stale entries", expired, pruned, removed)})
}

func (s *Service) sweepStale() int {
	if s.cfg.StaleAge <= 0 {
		return 0
	}
	removed, err := s.workspaces.SweepStale(s.cfg.StaleAge, s.now())
	if err != nil {
		s.emit(Event{Type: EventCleanupFailed, Err: &Error{Kind: KindWorkspaceError, Op: "sweep", Err: err}})
	}
	return len(removed)
}

func (s *Service) session(jobID string) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[jobID]
	return sess, ok
}

// fail is the single job-level error handler: it resets progress with the error
// message, releases the workspace and forgets the session. Callers hold sess.mu.
func (s *Service) fail(ctx context.Context, sess *session, jobErr *Error) error {
	jobErr.JobID = sess.job.ID

	sess.machine.Fail()
	sess.job.ErrorKind = string(jobErr.Kind)
	completed := s.now()
	sess.job.CompletedAt = &completed
	sess.tracker.Fail(jobErr.Error())

	s.release(sess)

	s.emit(Event{
		Type:     EventJobFailed,
		JobID:    sess.job.ID,
		Format:   sess.job.Format,
		Frames:   len(sess.frames),
		Duration: completed.Sub(sess.job.CreatedAt),
		Err:      jobErr,
	})

	return jobErr
}

func (s *Service) release(sess *session) {
	if err := s.workspaces.Release(sess.ws); err != nil {
		s.emit(Event{
			Type:  EventCleanupFailed,
			JobID: sess.job.ID,
			Err:   &Error{Kind: KindWorkspaceError, Op: "release", JobID: sess.job.ID, Err: err},
		})
	}

	s.mu.Lock()
	delete(s.sessions, sess.job.ID)
	s.mu.Unlock()
}

func (s *Service) emit(e Event) {
	if e.Time.IsZero() {
		e.Time = s.now()
	}
	s.observer.Observe(e)
}
