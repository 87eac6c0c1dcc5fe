// Package workspace allocates and removes per-job scratch directories.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	dirPrefix = "job-"

	UploadsDir = "uploads"
	FramesDir  = "frames"
	OutputDir  = "output"
)

var (
	// ErrTooManyFrames is returned when a job exceeds its frame ceiling
	ErrTooManyFrames = errors.New("too many frames")
	// ErrPayloadTooLarge is returned when a job exceeds its byte ceiling
	ErrPayloadTooLarge = errors.New("upload payload too large")
	// ErrReleased is returned when a released workspace is used
	ErrReleased = errors.New("workspace already released")
)

// Limits bounds what one job may accept
type Limits struct {
	MaxFrames int
	MaxBytes  int64
}

// Manager hands out job workspaces under a single root directory
type Manager struct {
	root   string
	limits Limits

	mu     sync.Mutex
	active map[string]*Workspace
}

// NewManager creates the root directory if needed and returns a manager for it
func NewManager(root string, limits Limits) (*Manager, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace root: %w", err)
	}

	return &Manager{
		root:   root,
		limits: limits,
		active: make(map[string]*Workspace),
	}, nil
}

// Root returns the directory all workspaces live under
func (m *Manager) Root() string {
	return m.root
}

// Limits returns the per-job limits
func (m *Manager) Limits() Limits {
	return m.limits
}

// Acquire creates a fresh, uniquely named workspace
func (m *Manager) Acquire() (*Workspace, error) {
	id := uuid.New().String()
	dir := filepath.Join(m.root, dirPrefix+id)

	if err := os.Mkdir(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	for _, sub := range []string{UploadsDir, FramesDir, OutputDir} {
		if err := os.Mkdir(filepath.Join(dir, sub), 0755); err != nil {
			os.RemoveAll(dir)
			return nil, fmt.Errorf("failed to create workspace %s directory: %w", sub, err)
		}
	}

	ws := &Workspace{
		ID:     id,
		Dir:    dir,
		budget: newBudget(m.limits),
	}

	m.mu.Lock()
	m.active[dir] = ws
	m.mu.Unlock()

	return ws, nil
}

// Release removes the workspace and everything in it. Releasing twice is a no-op.
func (m *Manager) Release(ws *Workspace) error {
	if ws == nil {
		return nil
	}

	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.released {
		return nil
	}

	if err := os.RemoveAll(ws.Dir); err != nil {
		return fmt.Errorf("failed to remove workspace %s: %w", ws.ID, err)
	}
	ws.released = true

	m.mu.Lock()
	delete(m.active, ws.Dir)
	m.mu.Unlock()

	return nil
}

// Active returns the number of workspaces currently held
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// SweepStale removes entries under the root that are older than maxAge and not held
// by a live job. It returns the removed paths.
func (m *Manager) SweepStale(maxAge time.Duration, now time.Time) ([]string, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read workspace root: %w", err)
	}

	var removed []string
	var errs []error

	for _, entry := range entries {
		path := filepath.Join(m.root, entry.Name())

		m.mu.Lock()
		_, held := m.active[path]
		m.mu.Unlock()
		if held {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			// Removed concurrently
			continue
		}
		if now.Sub(info.ModTime()) < maxAge {
			continue
		}

		if err := os.RemoveAll(path); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, path)
	}

	return removed, errors.Join(errs...)
}

// Workspace is one job's exclusive scratch directory
type Workspace struct {
	ID  string
	Dir string

	budget *Budget

	mu       sync.Mutex
	released bool
}

// Budget returns the workspace's frame and byte accounting
func (w *Workspace) Budget() *Budget {
	return w.budget
}

// Released reports whether the workspace directory has been removed
func (w *Workspace) Released() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.released
}

// UploadsPath returns the directory raw uploads are persisted into
func (w *Workspace) UploadsPath() string {
	return filepath.Join(w.Dir, UploadsDir)
}

// FramesPath returns the directory holding the canonical frame sequence
func (w *Workspace) FramesPath() string {
	return filepath.Join(w.Dir, FramesDir)
}

// OutputPath returns the path of the produced video for the given extension
func (w *Workspace) OutputPath(ext string) string {
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return filepath.Join(w.Dir, OutputDir, "output"+ext)
}
