package metrics

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/therealutkarshpriyadarshi/framereel/internal/assembler"
	"github.com/therealutkarshpriyadarshi/framereel/internal/logging"
	"github.com/therealutkarshpriyadarshi/framereel/pkg/models"
)

func TestRecordHTTPRequest(t *testing.T) {
	// Reset metrics
	HTTPRequestsTotal.Reset()
	HTTPRequestDuration.Reset()

	RecordHTTPRequest("POST", "/api/v1/convert", "200", 0.123)

	// Verify counter incremented
	counter := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("POST", "/api/v1/convert", "200"))
	if counter != 1.0 {
		t.Errorf("Expected counter to be 1.0, got %f", counter)
	}
}

func TestRecordJobCreated(t *testing.T) {
	JobsCreatedTotal.Reset()
	JobsInProgress.Set(0)

	RecordJobCreated("mp4")
	RecordJobCreated("mov")
	RecordJobCreated("mp4")

	mp4 := testutil.ToFloat64(JobsCreatedTotal.WithLabelValues("mp4"))
	if mp4 != 2.0 {
		t.Errorf("Expected mp4 counter to be 2.0, got %f", mp4)
	}

	inProgress := testutil.ToFloat64(JobsInProgress)
	if inProgress != 3.0 {
		t.Errorf("Expected jobs in progress to be 3.0, got %f", inProgress)
	}
}

func TestRecordJobOutcomes(t *testing.T) {
	JobsCompletedTotal.Reset()
	JobsInProgress.Set(2)

	RecordJobCompleted("mp4", 1.5, 30, 1<<20)
	RecordJobFailed("timeout")

	completed := testutil.ToFloat64(JobsCompletedTotal.WithLabelValues("completed", ""))
	if completed != 1.0 {
		t.Errorf("Expected completed counter to be 1.0, got %f", completed)
	}

	failed := testutil.ToFloat64(JobsCompletedTotal.WithLabelValues("failed", "timeout"))
	if failed != 1.0 {
		t.Errorf("Expected failed counter to be 1.0, got %f", failed)
	}

	inProgress := testutil.ToFloat64(JobsInProgress)
	if inProgress != 0.0 {
		t.Errorf("Expected jobs in progress to be 0.0, got %f", inProgress)
	}
}

func TestObserver(t *testing.T) {
	JobsCreatedTotal.Reset()
	JobsCompletedTotal.Reset()
	FramesRejectedTotal.Reset()
	PhaseDuration.Reset()
	JobsInProgress.Set(0)

	obs := Observer()
	received := testutil.ToFloat64(FramesReceivedTotal)

	obs.Observe(assembler.Event{Type: assembler.EventJobCreated, Format: models.FormatMOV})
	obs.Observe(assembler.Event{Type: assembler.EventFrameRejected, File: "a.jpg"})
	obs.Observe(assembler.Event{Type: assembler.EventFrameSkipped, File: "cover.png"})
	obs.Observe(assembler.Event{Type: assembler.EventPhaseFinished, Phase: assembler.PhaseIngest, Frames: 4, Bytes: 4096})
	obs.Observe(assembler.Event{Type: assembler.EventPhaseFinished, Phase: assembler.PhaseEncode, Duration: time.Second})
	obs.Observe(assembler.Event{
		Type: assembler.EventJobFailed,
		Err:  &assembler.Error{Kind: assembler.KindFrameDecodeFailed, Err: errors.New("bad frame")},
	})

	if got := testutil.ToFloat64(JobsCreatedTotal.WithLabelValues("mov")); got != 1.0 {
		t.Errorf("Expected mov jobs to be 1.0, got %f", got)
	}
	if got := testutil.ToFloat64(FramesRejectedTotal.WithLabelValues("extension")); got != 1.0 {
		t.Errorf("Expected rejected frames to be 1.0, got %f", got)
	}
	if got := testutil.ToFloat64(FramesRejectedTotal.WithLabelValues("no_order_key")); got != 1.0 {
		t.Errorf("Expected skipped frames to be 1.0, got %f", got)
	}
	if got := testutil.ToFloat64(FramesReceivedTotal) - received; got != 4.0 {
		t.Errorf("Expected 4 received frames, got %f", got)
	}
	if got := testutil.CollectAndCount(PhaseDuration); got != 1 {
		t.Errorf("Expected one phase series, got %d", got)
	}
	if got := testutil.ToFloat64(JobsCompletedTotal.WithLabelValues("failed", "frame_decode_failed")); got != 1.0 {
		t.Errorf("Expected failed decode jobs to be 1.0, got %f", got)
	}
	if got := testutil.ToFloat64(JobsInProgress); got != 0.0 {
		t.Errorf("Expected jobs in progress to be 0.0, got %f", got)
	}
}

func TestRecordCacheError(t *testing.T) {
	CacheErrorsTotal.Reset()

	RecordCacheError("progress")
	RecordCacheError("progress")

	if got := testutil.ToFloat64(CacheErrorsTotal.WithLabelValues("progress")); got != 2.0 {
		t.Errorf("Expected cache errors to be 2.0, got %f", got)
	}
}

func TestHandler(t *testing.T) {
	RecordJobCreated("mp4")

	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "framereel_jobs_created_total") {
		t.Error("Expected framereel metrics in output")
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestServerLogsThroughLogger(t *testing.T) {
	var out syncBuffer
	s := NewServer(0, logging.New(zerolog.New(&out)))

	done := make(chan error, 1)
	go func() { done <- s.Start() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	logs := out.String()
	if !strings.Contains(logs, "Starting metrics server") || !strings.Contains(logs, "Shutting down metrics server") {
		t.Errorf("Expected lifecycle logs, got %q", logs)
	}
	if !strings.Contains(logs, `"component":"metrics"`) {
		t.Errorf("Expected component field, got %q", logs)
	}
}

func BenchmarkRecordHTTPRequest(b *testing.B) {
	for i := 0; i < b.N; i++ {
		RecordHTTPRequest("GET", "/api/v1/jobs/:id/progress", "200", 0.123)
	}
}
