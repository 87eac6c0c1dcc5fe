package ingest

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/framereel/internal/workspace"
)

func newWorkspace(t *testing.T, limits workspace.Limits) *workspace.Workspace {
	t.Helper()
	m, err := workspace.NewManager(t.TempDir(), limits)
	require.NoError(t, err)
	ws, err := m.Acquire()
	require.NoError(t, err)
	t.Cleanup(func() { m.Release(ws) })
	return ws
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"frame_001.png", "frame_001.png"},
		{"../../etc/passwd", "passwd"},
		{`C:\frames\shot 01.png`, "shot_01.png"},
		{"my frame (2).png", "my_frame_2.png"},
		{".hidden.png", "hidden.png"},
		{"ünïcode.png", "ncode.png"},
		{"...", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.in))
		})
	}
}

func TestFilter(t *testing.T) {
	blobs := []Blob{
		BytesBlob("a_1.png", []byte("a")),
		BytesBlob("b_2.PNG", []byte("b")),
		BytesBlob("c_3.jpg", []byte("c")),
		BytesBlob("notes.txt", []byte("d")),
		BytesBlob(".png", []byte("e")),
		{Name: "nil_open.png"},
	}

	accepted, rejected := Filter(blobs, []string{"png"})
	require.Len(t, accepted, 2)
	assert.Equal(t, "a_1.png", accepted[0].Name)
	assert.Equal(t, "b_2.PNG", accepted[1].Name)
	assert.Len(t, rejected, 4)

	accepted, _ = Filter(blobs, []string{".png", ".JPG"})
	assert.Len(t, accepted, 3)
}

func TestPersist(t *testing.T) {
	ws := newWorkspace(t, workspace.Limits{MaxFrames: 10, MaxBytes: 1024})

	blobs := []Blob{
		BytesBlob("frame_2.png", []byte("second")),
		BytesBlob("frame 1.png", []byte("first")),
	}

	frames, err := Persist(context.Background(), ws, blobs, 5)
	require.NoError(t, err)
	require.Len(t, frames, 2)

	assert.Equal(t, "frame_2.png", frames[0].Name)
	assert.Equal(t, 5, frames[0].Seq)
	assert.Equal(t, "frame 1.png", frames[1].Name)
	assert.Equal(t, "frame_1.png", frames[1].StoredName)
	assert.Equal(t, 6, frames[1].Seq)
	assert.Equal(t, int64(5), frames[1].Size)

	data, err := os.ReadFile(frames[0].Path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
	assert.Equal(t, ws.UploadsPath(), filepath.Dir(frames[0].Path))

	usedFrames, usedBytes := ws.Budget().Usage()
	assert.Equal(t, 2, usedFrames)
	assert.Equal(t, int64(11), usedBytes)
}

func TestPersistSameNameAcrossChunks(t *testing.T) {
	ws := newWorkspace(t, workspace.Limits{})

	_, err := Persist(context.Background(), ws, []Blob{BytesBlob("frame_7.png", []byte("a"))}, 0)
	require.NoError(t, err)
	_, err = Persist(context.Background(), ws, []Blob{BytesBlob("frame_7.png", []byte("b"))}, 1)
	require.NoError(t, err)

	entries, err := os.ReadDir(ws.UploadsPath())
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestPersistEmpty(t *testing.T) {
	ws := newWorkspace(t, workspace.Limits{})
	_, err := Persist(context.Background(), ws, nil, 0)
	assert.ErrorIs(t, err, ErrNoValidFrames)
}

func TestPersistTooManyFrames(t *testing.T) {
	ws := newWorkspace(t, workspace.Limits{MaxFrames: 1})

	blobs := []Blob{BytesBlob("1.png", []byte("a")), BytesBlob("2.png", []byte("b"))}
	_, err := Persist(context.Background(), ws, blobs, 0)
	assert.ErrorIs(t, err, workspace.ErrTooManyFrames)

	// Nothing was written before the ceiling check
	entries, err := os.ReadDir(ws.UploadsPath())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPersistPayloadTooLarge(t *testing.T) {
	ws := newWorkspace(t, workspace.Limits{MaxBytes: 8})

	blobs := []Blob{
		BytesBlob("1.png", []byte("12345")),
		BytesBlob("2.png", []byte("12345")),
	}
	frames, err := Persist(context.Background(), ws, blobs, 0)
	assert.ErrorIs(t, err, workspace.ErrPayloadTooLarge)
	assert.Len(t, frames, 1)
}

func TestPersistOpenError(t *testing.T) {
	ws := newWorkspace(t, workspace.Limits{})

	boom := errors.New("boom")
	blobs := []Blob{{
		Name: "1.png",
		Open: func() (io.ReadCloser, error) { return nil, boom },
	}}
	_, err := Persist(context.Background(), ws, blobs, 0)
	assert.ErrorIs(t, err, boom)
}

func TestPersistCanceled(t *testing.T) {
	ws := newWorkspace(t, workspace.Limits{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Persist(ctx, ws, []Blob{BytesBlob("1.png", []byte("a"))}, 0)
	assert.ErrorIs(t, err, context.Canceled)
}
