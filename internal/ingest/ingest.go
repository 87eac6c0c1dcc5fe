// Package ingest filters uploaded blobs and persists accepted frames into a job workspace.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/therealutkarshpriyadarshi/framereel/internal/workspace"
	"github.com/therealutkarshpriyadarshi/framereel/pkg/models"
)

// ErrNoValidFrames is returned when a submission contains no acceptable frame
var ErrNoValidFrames = errors.New("no valid frames")

// Blob is one uploaded file
type Blob struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

// BytesBlob wraps an in-memory payload
func BytesBlob(name string, data []byte) Blob {
	return Blob{
		Name: name,
		Size: int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// FromFileHeaders adapts multipart form files
func FromFileHeaders(headers []*multipart.FileHeader) []Blob {
	blobs := make([]Blob, 0, len(headers))
	for _, fh := range headers {
		fh := fh
		blobs = append(blobs, Blob{
			Name: fh.Filename,
			Size: fh.Size,
			Open: func() (io.ReadCloser, error) { return fh.Open() },
		})
	}
	return blobs
}

// Filter splits blobs into those whose extension is allowed and the rest.
// Extensions are compared case-insensitively and may be given with or without a dot.
func Filter(blobs []Blob, allowedExts []string) (accepted, rejected []Blob) {
	allowed := make(map[string]bool, len(allowedExts))
	for _, ext := range allowedExts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = true
	}

	for _, b := range blobs {
		if b.Open == nil || !allowed[strings.ToLower(filepath.Ext(Sanitize(b.Name)))] {
			rejected = append(rejected, b)
			continue
		}
		accepted = append(accepted, b)
	}
	return accepted, rejected
}

// Sanitize reduces an uploaded file name to a safe base name made of ASCII letters,
// digits, dots, dashes and underscores. It returns "" when nothing usable remains.
func Sanitize(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '\t':
			b.WriteRune('_')
		}
	}

	return strings.TrimLeft(b.String(), "._")
}

// Persist writes accepted blobs into the workspace uploads directory. seqStart is the
// submission index of the first blob across all chunks of the job. The frame ceiling
// is checked before anything is written; the byte ceiling is enforced while copying.
func Persist(ctx context.Context, ws *workspace.Workspace, blobs []Blob, seqStart int) ([]models.Frame, error) {
	if len(blobs) == 0 {
		return nil, ErrNoValidFrames
	}

	budget := ws.Budget()
	if err := budget.ReserveFrames(len(blobs)); err != nil {
		return nil, err
	}

	frames := make([]models.Frame, 0, len(blobs))
	for i, blob := range blobs {
		if err := ctx.Err(); err != nil {
			return frames, err
		}

		seq := seqStart + i
		stored := Sanitize(blob.Name)
		path := filepath.Join(ws.UploadsPath(), fmt.Sprintf("%06d_%s", seq, stored))

		size, err := persistOne(blob, path, budget)
		if err != nil {
			return frames, fmt.Errorf("failed to persist %s: %w", blob.Name, err)
		}

		frames = append(frames, models.Frame{
			Name:       blob.Name,
			StoredName: stored,
			Seq:        seq,
			Path:       path,
			Size:       size,
		})
	}

	return frames, nil
}

func persistOne(blob Blob, path string, budget *workspace.Budget) (int64, error) {
	src, err := blob.Open()
	if err != nil {
		return 0, fmt.Errorf("failed to open upload: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}

	var reader io.Reader = src
	if remaining := budget.RemainingBytes(); remaining >= 0 {
		// One byte past the remaining budget is enough to detect the overflow
		reader = io.LimitReader(src, remaining+1)
	}

	n, copyErr := io.Copy(dst, reader)
	closeErr := dst.Close()
	if copyErr != nil {
		return n, fmt.Errorf("failed to write file: %w", copyErr)
	}
	if closeErr != nil {
		return n, fmt.Errorf("failed to close file: %w", closeErr)
	}

	if err := budget.Charge(n); err != nil {
		return n, err
	}
	return n, nil
}
