// Package encoder drives the external ffmpeg binary that turns the canonical frame
// sequence into a single video file.
package encoder

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/therealutkarshpriyadarshi/framereel/pkg/models"
)

var (
	// ErrProcessFailed is wrapped when ffmpeg cannot start or exits non-zero
	ErrProcessFailed = errors.New("encoder process failed")
	// ErrEmptyOutput is wrapped when ffmpeg reports success but leaves no usable file
	ErrEmptyOutput = errors.New("encoder produced no output")
)

const (
	stderrTailLines  = 100
	defaultKillGrace = 5 * time.Second
)

// FFmpeg wraps FFmpeg operations
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	killGrace   time.Duration
}

// NewFFmpeg creates a new FFmpeg instance. killGrace is how long a canceled encode
// may take to exit after SIGTERM before it is killed.
func NewFFmpeg(ffmpegPath, ffprobePath string, killGrace time.Duration) *FFmpeg {
	if killGrace <= 0 {
		killGrace = defaultKillGrace
	}
	return &FFmpeg{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		killGrace:   killGrace,
	}
}

// EncodeRequest describes one encode of a canonical frame sequence
type EncodeRequest struct {
	FramesDir   string
	Pattern     string
	FrameRate   int
	TotalFrames int
	Format      models.OutputFormat
	OutputPath  string
}

// FramesFunc is called with the encoded-frame counter each time ffmpeg reports it
type FramesFunc func(encoded int)

// BuildArgs returns the ffmpeg command line for req, without the binary
func BuildArgs(req EncodeRequest) ([]string, error) {
	profile, err := ProfileFor(req.Format)
	if err != nil {
		return nil, err
	}
	if req.FrameRate <= 0 {
		return nil, fmt.Errorf("invalid frame rate %d", req.FrameRate)
	}

	args := []string{
		"-hide_banner",
		"-y", // overwrite output
		"-framerate", strconv.Itoa(req.FrameRate),
		"-start_number", "0",
		"-i", filepath.Join(req.FramesDir, req.Pattern),
	}
	args = append(args, profile.Args...)
	args = append(args, "-r", strconv.Itoa(req.FrameRate))

	// Progress tracking
	args = append(args, "-progress", "pipe:1", "-nostats")

	// Output
	args = append(args, req.OutputPath)

	return args, nil
}

// Encode runs ffmpeg until it exits. Canceling ctx terminates the child process.
func (f *FFmpeg) Encode(ctx context.Context, req EncodeRequest, onFrames FramesFunc) error {
	args, err := BuildArgs(req)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = f.killGrace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: failed to start ffmpeg: %v", ErrProcessFailed, err)
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		ParseProgress(stdout, onFrames)
	}()

	// Capture stderr for error reporting
	tail := newTailBuffer(stderrTailLines)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			tail.add(scanner.Text())
		}
	}()

	// Pipes must be drained before Wait closes them
	wg.Wait()
	waitErr := cmd.Wait()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("ffmpeg interrupted: %w", ctxErr)
	}
	if waitErr != nil {
		return &ProcessError{ExitCode: exitCode(waitErr), Stderr: tail.String(), Err: waitErr}
	}

	return VerifyOutput(req.OutputPath)
}

// VerifyOutput fails when the output file is missing or empty
func VerifyOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEmptyOutput, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: %s is empty", ErrEmptyOutput, filepath.Base(path))
	}
	return nil
}

var progressRegex = regexp.MustCompile(`^frame=\s*(\d+)`)

// ParseProgress scans ffmpeg progress output line by line and reports every frame counter
func ParseProgress(r io.Reader, onFrames FramesFunc) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		matches := progressRegex.FindStringSubmatch(strings.TrimSpace(scanner.Text()))
		if len(matches) < 2 {
			continue
		}
		frames, err := strconv.Atoi(matches[1])
		if err != nil {
			continue
		}
		if onFrames != nil {
			onFrames(frames)
		}
	}
	// Keep draining so ffmpeg never blocks on a full pipe after a scan error
	io.Copy(io.Discard, r)
}

// ProcessError is returned when ffmpeg exits with a failure status
type ProcessError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("ffmpeg failed (exit %d): %v, stderr: %s", e.ExitCode, e.Err, e.Stderr)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrProcessFailed) hold for every ProcessError
func (e *ProcessError) Is(target error) bool {
	return target == ErrProcessFailed
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// VideoMetadata holds video metadata extracted from ffprobe
type VideoMetadata struct {
	Format  FormatInfo   `json:"format"`
	Streams []StreamInfo `json:"streams"`
}

// FormatInfo holds format information
type FormatInfo struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

// StreamInfo holds stream information
type StreamInfo struct {
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	PixFmt       string `json:"pix_fmt"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	FrameRate    string `json:"r_frame_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
	NbFrames     string `json:"nb_frames"`
	NbReadFrames string `json:"nb_read_frames"`
}

// VideoInfo is the summary of a produced video
type VideoInfo struct {
	Codec       string
	PixelFormat string
	Width       int
	Height      int
	FrameRate   float64
	Frames      int
	Duration    float64
	Size        int64
}

// ProbeVideo extracts metadata from a video file, counting decoded frames
func (f *FFmpeg) ProbeVideo(ctx context.Context, inputPath string) (*VideoMetadata, error) {
	args := []string{
		"-v", "quiet",
		"-count_frames",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		inputPath,
	}

	cmd := exec.CommandContext(ctx, f.ffprobePath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w, stderr: %s", err, stderr.String())
	}

	var metadata VideoMetadata
	if err := json.Unmarshal(stdout.Bytes(), &metadata); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	return &metadata, nil
}

// Probe summarizes the first video stream of a file
func (f *FFmpeg) Probe(ctx context.Context, path string) (*VideoInfo, error) {
	metadata, err := f.ProbeVideo(ctx, path)
	if err != nil {
		return nil, err
	}
	return metadata.Info()
}

// Info extracts the first video stream's summary
func (m *VideoMetadata) Info() (*VideoInfo, error) {
	info := &VideoInfo{}

	if duration, err := strconv.ParseFloat(m.Format.Duration, 64); err == nil {
		info.Duration = duration
	}
	if size, err := strconv.ParseInt(m.Format.Size, 10, 64); err == nil {
		info.Size = size
	}

	for _, stream := range m.Streams {
		if stream.CodecType != "video" {
			continue
		}
		info.Codec = stream.CodecName
		info.PixelFormat = stream.PixFmt
		info.Width = stream.Width
		info.Height = stream.Height
		info.FrameRate = parseRate(stream.AvgFrameRate)
		if info.FrameRate == 0 {
			info.FrameRate = parseRate(stream.FrameRate)
		}
		if n, err := strconv.Atoi(stream.NbReadFrames); err == nil {
			info.Frames = n
		} else if n, err := strconv.Atoi(stream.NbFrames); err == nil {
			info.Frames = n
		}
		return info, nil
	}

	return nil, fmt.Errorf("no video stream found")
}

// parseRate parses ffprobe rationals such as "30/1"
func parseRate(rate string) float64 {
	parts := strings.Split(rate, "/")
	if len(parts) != 2 {
		v, _ := strconv.ParseFloat(rate, 64)
		return v
	}
	num, _ := strconv.ParseFloat(parts[0], 64)
	den, _ := strconv.ParseFloat(parts[1], 64)
	if den == 0 {
		return 0
	}
	return num / den
}

// Version returns the first line of `ffmpeg -version`
func (f *FFmpeg) Version(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, f.ffmpegPath, "-version").Output()
	if err != nil {
		return "", fmt.Errorf("failed to run %s -version: %w", f.ffmpegPath, err)
	}
	line, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(line), nil
}

// tailBuffer keeps the last n lines written to it
type tailBuffer struct {
	mu    sync.Mutex
	max   int
	lines []string
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) add(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}
