// Package ordering derives the canonical frame sequence from uploaded file names.
package ordering

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/therealutkarshpriyadarshi/framereel/pkg/models"
)

// ErrNoOrderKey is returned when no frame yields a numeric order key
var ErrNoOrderKey = errors.New("no frame produced a valid order key")

// FramePattern is the printf pattern of canonical frame files, as read by ffmpeg
const FramePattern = "frame_%06d.png"

// FrameName returns the canonical file name for a sequence position
func FrameName(position int) string {
	return fmt.Sprintf(FramePattern, position)
}

// ExtractKey concatenates every decimal digit in the file name, extension excluded,
// and parses the result. Incidental digits (a "1080p" tag, say) are included too.
func ExtractKey(name string) (int64, bool) {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))

	var digits strings.Builder
	for _, r := range base {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return 0, false
	}

	key, err := strconv.ParseInt(digits.String(), 10, 64)
	if err != nil {
		// Overflow
		return 0, false
	}
	return key, true
}

// Skipped is a frame excluded from the job because it has no order key
type Skipped struct {
	Frame  models.Frame
	Reason string
}

// ByNumericKey sorts frames ascending by order key. Frames sharing a key keep their
// submission order. Frames without a key are returned as skipped.
func ByNumericKey(frames []models.Frame) ([]models.Frame, []Skipped, error) {
	ordered := make([]models.Frame, 0, len(frames))
	var skipped []Skipped

	for _, f := range frames {
		key, ok := ExtractKey(f.Name)
		if !ok {
			skipped = append(skipped, Skipped{Frame: f, Reason: "no numeric order key in file name"})
			continue
		}
		f.Key = key
		f.HasKey = true
		ordered = append(ordered, f)
	}

	if len(ordered) == 0 {
		return nil, skipped, ErrNoOrderKey
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Key != ordered[j].Key {
			return ordered[i].Key < ordered[j].Key
		}
		return ordered[i].Seq < ordered[j].Seq
	})

	return Canonicalize(ordered), skipped, nil
}

// Lexical sorts frames by their stored file name, falling back to submission order
func Lexical(frames []models.Frame) []models.Frame {
	ordered := make([]models.Frame, len(frames))
	copy(ordered, frames)

	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].StoredName != ordered[j].StoredName {
			return ordered[i].StoredName < ordered[j].StoredName
		}
		return ordered[i].Seq < ordered[j].Seq
	})

	return Canonicalize(ordered)
}

// Canonicalize assigns dense positions 0..N-1 in slice order
func Canonicalize(frames []models.Frame) []models.Frame {
	for i := range frames {
		frames[i].Position = i
	}
	return frames
}
