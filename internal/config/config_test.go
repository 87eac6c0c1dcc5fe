package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	tmpfile, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}
	return tmpfile.Name()
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  host: "127.0.0.1"

assembler:
  workspaceRoot: "/var/tmp/frames"
  maxFrames: 300
  maxDimension: 1920
  allowedExtensions: [".png", ".jpg"]
  jobTimeout: "2m"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "/var/tmp/frames", cfg.Assembler.WorkspaceRoot)
	assert.Equal(t, 300, cfg.Assembler.MaxFrames)
	assert.Equal(t, 1920, cfg.Assembler.MaxDimension)
	assert.Equal(t, []string{".png", ".jpg"}, cfg.Assembler.AllowedExtensions)
	assert.Equal(t, 2*time.Minute, cfg.Assembler.JobTimeout)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 8081\n"))
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.Assembler.FrameRate)
	assert.Equal(t, "ffmpeg", cfg.Assembler.FFmpegPath)
	assert.Equal(t, int64(512<<20), cfg.Assembler.MaxUploadBytes)
	assert.Equal(t, []string{".png"}, cfg.Assembler.AllowedExtensions)
	assert.True(t, cfg.Assembler.NumericOrder)
	assert.Equal(t, 1, cfg.Assembler.NormalizeWorkers)
	assert.Equal(t, 10*time.Minute, cfg.Assembler.JobTimeout)
	assert.Empty(t, cfg.Redis.Host)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 0, cfg.Server.MetricsPort)
	assert.Equal(t, 10*time.Minute, cfg.RateLimit.IdleTTL)
	assert.Empty(t, cfg.Webhook.URL)
	assert.Equal(t, 3, cfg.Webhook.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Webhook.Backoff)
	assert.Equal(t, "@every 5m", cfg.Janitor.Schedule)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("FRAMEREEL_ASSEMBLER_FFMPEGPATH", "/opt/ffmpeg/bin/ffmpeg")

	cfg, err := Load(writeConfig(t, "assembler:\n  ffmpegPath: ffmpeg\n"))
	require.NoError(t, err)
	assert.Equal(t, "/opt/ffmpeg/bin/ffmpeg", cfg.Assembler.FFmpegPath)
}

func TestLoadInvalid(t *testing.T) {
	_, err := Load(writeConfig(t, "assembler:\n  maxFrames: 0\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "assembler:\n  frameRate: -1\n"))
	assert.Error(t, err)
}

func TestLoadNonExistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Error("Expected error when loading nonexistent file")
	}
}
