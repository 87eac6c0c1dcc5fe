package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/framereel/internal/assembler"
	"github.com/therealutkarshpriyadarshi/framereel/pkg/models"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name: "JSON format to stdout",
			config: Config{
				Level:  "info",
				Format: "json",
				Output: "stdout",
			},
			wantErr: false,
		},
		{
			name: "Console format to stderr",
			config: Config{
				Level:  "debug",
				Format: "console",
				Output: "stderr",
			},
			wantErr: false,
		},
		{
			name: "Invalid log level defaults to info",
			config: Config{
				Level:  "invalid",
				Format: "json",
				Output: "stdout",
			},
			wantErr: false,
		},
		{
			name: "File in missing directory",
			config: Config{
				Level:  "info",
				Format: "json",
				Output: filepath.Join("/nonexistent", "dir", "app.log"),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewLogger() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && logger == nil {
				t.Error("Expected non-nil logger")
			}
		})
	}
}

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(zerolog.New(&buf))

	logger.WithJobID("job-456").WithRequestID("req-123").WithField("key", "value").Info("hello")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "job-456", line["job_id"])
	assert.Equal(t, "req-123", line["request_id"])
	assert.Equal(t, "value", line["key"])
	assert.Equal(t, "hello", line["message"])
}

func TestLogHTTPRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := New(zerolog.New(&buf))

	logger.LogHTTPRequest("POST", "/api/v1/convert", "192.168.1.1", 200, 100*time.Millisecond)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "POST", line["method"])
	assert.Equal(t, float64(200), line["status_code"])
}

func TestJobObserver(t *testing.T) {
	var buf bytes.Buffer
	obs := JobObserver(New(zerolog.New(&buf).Level(zerolog.InfoLevel)))

	obs.Observe(assembler.Event{
		Type:     assembler.EventJobCompleted,
		JobID:    "job-1",
		Format:   models.FormatMP4,
		Frames:   120,
		Bytes:    3 * 1000 * 1000,
		Duration: 2 * time.Second,
	})

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "job_completed", line["event"])
	assert.Equal(t, "job-1", line["job_id"])
	assert.Equal(t, "mp4", line["format"])
	assert.Equal(t, float64(120), line["frames"])
	assert.Equal(t, "3.0 MB", line["size"])
	assert.Equal(t, "Job completed", line["message"])
}

func TestJobObserverLevels(t *testing.T) {
	var buf bytes.Buffer
	obs := JobObserver(New(zerolog.New(&buf).Level(zerolog.InfoLevel)))

	// Debug events are filtered at info level
	obs.Observe(assembler.Event{Type: assembler.EventPhaseStarted, JobID: "job-1", Phase: assembler.PhaseEncode})
	assert.Empty(t, buf.String())

	obs.Observe(assembler.Event{
		Type:  assembler.EventJobFailed,
		JobID: "job-1",
		Err:   &assembler.Error{Kind: assembler.KindEncodeProcessFailed, Op: "encode", Err: errors.New("exit status 1")},
	})

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "error", line["level"])
	assert.Equal(t, "encode_process_failed", line["error_kind"])
	assert.Equal(t, "encode: exit status 1", line["error"])

	buf.Reset()
	obs.Observe(assembler.Event{
		Type:  assembler.EventJobFailed,
		JobID: "job-2",
		Err:   &assembler.Error{Kind: assembler.KindInputRejected, Op: "ingest", Err: errors.New("no valid frames")},
	})
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warn", line["level"])
}

func TestLogHTTPRequestLevels(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{200, "info"},
		{202, "info"},
		{413, "warn"},
		{499, "warn"},
		{500, "error"},
		{504, "error"},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		New(zerolog.New(&buf)).LogHTTPRequest("POST", "/api/v1/convert", "10.0.0.1", tt.status, time.Millisecond)

		var line map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, tt.level, line["level"], "status %d", tt.status)
	}
}

func TestWarnWithErr(t *testing.T) {
	var buf bytes.Buffer
	New(zerolog.New(&buf)).WithJobID("job-9").WarnWithErr("Tracing disabled", errors.New("no agent"))

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "no agent", line["error"])
	assert.Equal(t, "job-9", line["job_id"])
}

func TestNop(t *testing.T) {
	// Must not panic or write anywhere
	Nop().WithJobID("job-1").ErrorWithErr("ignored", errors.New("boom"))
}

func BenchmarkJobObserver(b *testing.B) {
	var buf bytes.Buffer
	obs := JobObserver(New(zerolog.New(&buf)))
	e := assembler.Event{Type: assembler.EventPhaseFinished, JobID: "job-1", Phase: assembler.PhaseNormalize, Frames: 10}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Reset()
		obs.Observe(e)
	}
}
