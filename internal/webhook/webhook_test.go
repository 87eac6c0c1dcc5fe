package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/framereel/internal/assembler"
	"github.com/therealutkarshpriyadarshi/framereel/internal/logging"
	"github.com/therealutkarshpriyadarshi/framereel/pkg/models"
)

func noSleep(ctx context.Context, d time.Duration) error {
	return nil
}

func TestNotifierSignsPayload(t *testing.T) {
	var (
		mu        sync.Mutex
		body      []byte
		signature string
		event     string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		body, _ = io.ReadAll(r.Body)
		signature = r.Header.Get("X-Webhook-Signature")
		event = r.Header.Get("X-Webhook-Event")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewNotifier(Config{URL: server.URL, Secret: "s3cret"})
	n.Observer().Observe(assembler.Event{
		Type:     assembler.EventJobCompleted,
		JobID:    "job-1",
		Format:   models.FormatMP4,
		Frames:   90,
		Bytes:    2048,
		Duration: 1500 * time.Millisecond,
		Time:     time.Now(),
	})
	n.Wait()

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, EventJobCompleted, event)
	assert.Equal(t, Sign(body, "s3cret"), signature)

	var p Payload
	require.NoError(t, json.Unmarshal(body, &p))
	assert.Equal(t, "job-1", p.JobID)
	assert.Equal(t, "mp4", p.Format)
	assert.Equal(t, 90, p.Frames)
	assert.Equal(t, int64(1500), p.DurationMs)
	assert.NotEmpty(t, p.DeliveryID)
}

func TestNotifierFailurePayload(t *testing.T) {
	received := make(chan Payload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p Payload
		_ = json.NewDecoder(r.Body).Decode(&p)
		received <- p
	}))
	defer server.Close()

	n := NewNotifier(Config{URL: server.URL})
	n.Observer().Observe(assembler.Event{
		Type:  assembler.EventJobFailed,
		JobID: "job-2",
		Err:   &assembler.Error{Kind: assembler.KindTimeout, Op: "encode", Err: context.DeadlineExceeded},
	})
	n.Wait()

	p := <-received
	assert.Equal(t, EventJobFailed, p.Event)
	assert.Equal(t, "timeout", p.ErrorKind)
	assert.Equal(t, "encode: context deadline exceeded", p.Error)
}

func TestNotifierIgnoresOtherEvents(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	n := NewNotifier(Config{URL: server.URL})
	obs := n.Observer()
	obs.Observe(assembler.Event{Type: assembler.EventJobCreated, JobID: "job-3"})
	obs.Observe(assembler.Event{Type: assembler.EventPhaseFinished, JobID: "job-3"})
	n.Wait()

	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestNotifierRetries(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	n := NewNotifier(Config{URL: server.URL, MaxAttempts: 3, Backoff: time.Second})
	n.sleep = noSleep

	require.NoError(t, n.Send(context.Background(), Payload{Event: EventJobCompleted, JobID: "job-4"}))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestNotifierGivesUp(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	n := NewNotifier(Config{URL: server.URL, MaxAttempts: 2})
	n.sleep = noSleep

	err := n.Send(context.Background(), Payload{Event: EventJobFailed, JobID: "job-5"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gave up after 2 attempts")
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestNotifierLogsFailedDelivery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	var buf bytes.Buffer
	n := NewNotifier(Config{
		URL:         server.URL,
		MaxAttempts: 1,
		Logger:      logging.New(zerolog.New(&buf)),
	})

	n.Observer().Observe(assembler.Event{Type: assembler.EventJobCompleted, JobID: "job-7", Format: models.FormatMP4})
	n.Wait()

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "error", line["level"])
	assert.Equal(t, "webhook", line["component"])
	assert.Equal(t, "job-7", line["job_id"])
	assert.Equal(t, EventJobCompleted, line["event"])
	assert.Equal(t, "Webhook delivery failed", line["message"])
}

func TestNotifierStopsOnCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n := NewNotifier(Config{URL: server.URL, MaxAttempts: 3, Backoff: time.Hour})
	err := n.Send(ctx, Payload{Event: EventJobFailed, JobID: "job-6"})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestSign(t *testing.T) {
	sig := Sign([]byte(`{"event":"job.completed"}`), "key")
	assert.Regexp(t, `^sha256=[0-9a-f]{64}$`, sig)
	assert.NotEqual(t, sig, Sign([]byte(`{"event":"job.completed"}`), "other"))
}
