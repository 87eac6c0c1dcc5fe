// Package normalize rewrites uploaded frames into a uniform, opaque RGB PNG sequence.
package normalize

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"path/filepath"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"

	"github.com/therealutkarshpriyadarshi/framereel/internal/ordering"
	"github.com/therealutkarshpriyadarshi/framereel/pkg/models"
)

// ErrDecode is wrapped by every frame that cannot be read as an image
var ErrDecode = errors.New("frame decode failed")

// Options controls frame normalization
type Options struct {
	// MaxDimension bounds width and height. Zero disables downscaling.
	MaxDimension int
	// Workers is how many frames are decoded concurrently. Zero means one.
	Workers int
}

// FrameError reports which frame broke the sequence
type FrameError struct {
	Frame    string
	Position int
	Err      error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("frame %d (%s): %v", e.Position, e.Frame, e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// ProgressFunc receives the number of frames written so far
type ProgressFunc func(done, total int)

// Normalizer converts frames into the canonical sequence
type Normalizer struct {
	opts Options
}

// New creates a normalizer
func New(opts Options) *Normalizer {
	return &Normalizer{opts: opts}
}

// Run writes every frame, in canonical order, to dir as frame_%06d.png. The first
// frame fixes the output size; later frames of another size are fitted and centered
// on a black canvas of that size. Up to Workers frames are decoded at once, but
// frames are written, reported and failed strictly in position order: the first
// broken frame in the sequence stops the run and nothing after it is written.
func (n *Normalizer) Run(ctx context.Context, frames []models.Frame, dir string, progress ProgressFunc) ([]models.Frame, error) {
	out := make([]models.Frame, len(frames))
	copy(out, frames)

	for i := range out {
		if out[i].Position != i {
			return nil, fmt.Errorf("frame %s has position %d, expected %d", out[i].Name, out[i].Position, i)
		}
	}
	if len(out) == 0 {
		return out, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	first, err := n.load(out[0].Path)
	if err != nil {
		return nil, &FrameError{Frame: out[0].Name, Position: 0, Err: err}
	}
	width, height := first.Bounds().Dx(), first.Bounds().Dy()
	if err := n.write(&out[0], first, dir, width, height); err != nil {
		return nil, err
	}
	if progress != nil {
		progress(1, len(out))
	}

	workers := n.workers()
	for start := 1; start < len(out); start += workers {
		end := min(start+workers, len(out))

		images, errs, err := n.decodeWindow(ctx, out[start:end], width, height)
		if err != nil {
			return nil, err
		}

		for k := range images {
			f := &out[start+k]
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if errs[k] != nil {
				return nil, &FrameError{Frame: f.Name, Position: f.Position, Err: errs[k]}
			}
			if err := n.write(f, images[k], dir, width, height); err != nil {
				return nil, err
			}
			if progress != nil {
				progress(f.Position+1, len(out))
			}
		}
	}

	return out, nil
}

// decodeWindow loads and fits a window of frames concurrently. Decode failures are
// returned per frame so the caller can fail on the earliest one; the error result
// is only set when ctx ends.
func (n *Normalizer) decodeWindow(ctx context.Context, window []models.Frame, width, height int) ([]*image.NRGBA, []error, error) {
	images := make([]*image.NRGBA, len(window))
	errs := make([]error, len(window))

	g, gctx := errgroup.WithContext(ctx)
	for k := range window {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			img, err := n.load(window[k].Path)
			if err != nil {
				errs[k] = err
				return nil
			}
			images[k] = fitCanvas(img, width, height)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	return images, errs, nil
}

func (n *Normalizer) write(f *models.Frame, img *image.NRGBA, dir string, width, height int) error {
	dst := filepath.Join(dir, ordering.FrameName(f.Position))
	if err := imaging.Save(img, dst, imaging.PNGCompressionLevel(png.BestSpeed)); err != nil {
		return &FrameError{Frame: f.Name, Position: f.Position, Err: fmt.Errorf("failed to write frame: %w", err)}
	}
	f.Width, f.Height = width, height
	return nil
}

func (n *Normalizer) workers() int {
	if n.opts.Workers <= 0 {
		return 1
	}
	return n.opts.Workers
}

func (n *Normalizer) load(path string) (*image.NRGBA, error) {
	src, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if src.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrDecode)
	}

	if limit := n.opts.MaxDimension; limit > 0 {
		// Fit never upscales
		src = imaging.Fit(src, limit, limit, imaging.Lanczos)
	}

	return opaque(src), nil
}

// opaque drops the alpha channel: colors are kept, every pixel becomes fully opaque
func opaque(src image.Image) *image.NRGBA {
	dst := imaging.Clone(src)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst
}

func fitCanvas(img *image.NRGBA, width, height int) *image.NRGBA {
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return img
	}

	if b.Dx() > width || b.Dy() > height {
		img = imaging.Fit(img, width, height, imaging.Lanczos)
	}
	canvas := imaging.New(width, height, color.NRGBA{A: 0xff})
	return imaging.PasteCenter(canvas, img)
}
