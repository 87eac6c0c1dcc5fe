package models

import (
	"fmt"
	"strings"
	"time"
)

// Job represents one frame-to-video assembly request
type Job struct {
	ID           string       `json:"id"`
	Format       OutputFormat `json:"format"`
	FrameRate    int          `json:"frame_rate"`
	TotalFrames  int          `json:"total_frames"`
	Received     int          `json:"received"`
	Accepted     int          `json:"accepted"`
	NumericOrder bool         `json:"numeric_order"`
	Status       string       `json:"status"`
	Progress     float64      `json:"progress"`
	Message      string       `json:"message,omitempty"`
	ErrorKind    string       `json:"error_kind,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
}

// Terminal reports whether the job can no longer change state
func (j *Job) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// Remaining returns how many frames the job still expects
func (j *Job) Remaining() int {
	if j.Received >= j.TotalFrames {
		return 0
	}
	return j.TotalFrames - j.Received
}

// JobStatus constants
const (
	JobStatusCollecting = "collecting"
	JobStatusReady      = "ready"
	JobStatusEncoding   = "encoding"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// DefaultFrameRate is the fixed output frame rate
const DefaultFrameRate = 30

// OutputFormat is the requested container
type OutputFormat string

// Supported output formats
const (
	FormatMP4 OutputFormat = "mp4"
	FormatMOV OutputFormat = "mov"
)

// ParseOutputFormat validates a format name. An empty name selects mp4.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatMP4:
		return FormatMP4, nil
	case FormatMOV:
		return FormatMOV, nil
	default:
		return "", fmt.Errorf("unsupported output format %q (expected mp4 or mov)", s)
	}
}

// ContentType returns the declared media type for downloads
func (f OutputFormat) ContentType() string {
	return "video/" + string(f)
}

// DownloadName returns the suggested file name for the produced video
func (f OutputFormat) DownloadName() string {
	return "output." + string(f)
}

// Extension returns the file extension including the dot
func (f OutputFormat) Extension() string {
	return "." + string(f)
}
