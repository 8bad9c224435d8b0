// Package capture grabs frames of a window or screen region for the pipeline.
package capture

import (
	"errors"
	"image"
	"time"

	"gocv.io/x/gocv"
)

var (
	// ErrTargetNotFound is returned when the configured window cannot be resolved.
	ErrTargetNotFound = errors.New("capture target not found")
	// ErrDegenerateCapture is returned for empty, mis-sized or single-valued buffers.
	ErrDegenerateCapture = errors.New("degenerate capture")
	// ErrReleased is returned by Capture after Release.
	ErrReleased = errors.New("capture source released")
)

// Frame is one captured image. The BGR Mat is owned by whoever holds the
// frame and must be released with Close.
type Frame struct {
	Mat gocv.Mat
	// Seq is zero until the pipeline numbers the cycle.
	Seq       uint64
	Timestamp time.Time
	// Region is the captured rectangle in screen coordinates.
	Region image.Rectangle

	owned  bool
	closed bool
}

// NewFrame wraps mat; the frame takes ownership of it.
func NewFrame(mat gocv.Mat, region image.Rectangle, ts time.Time) *Frame {
	return &Frame{Mat: mat, Region: region, Timestamp: ts, owned: true}
}

// Width returns the frame width in pixels.
func (f *Frame) Width() int { return f.Region.Dx() }

// Height returns the frame height in pixels.
func (f *Frame) Height() int { return f.Region.Dy() }

// Close releases the pixel buffer. It is safe to call more than once.
func (f *Frame) Close() {
	if f == nil || f.closed {
		return
	}
	f.closed = true
	if f.owned {
		f.Mat.Close()
	}
}

// Validate rejects buffers that are empty, do not match the expected size,
// or hold one value in every pixel.
func Validate(img *image.RGBA, want image.Rectangle) error {
	if img == nil {
		return ErrDegenerateCapture
	}

	b := img.Bounds()
	if b.Empty() {
		return ErrDegenerateCapture
	}
	if b.Dx() != want.Dx() || b.Dy() != want.Dy() {
		return ErrDegenerateCapture
	}
	if uniform(img) {
		return ErrDegenerateCapture
	}
	return nil
}

// uniform reports whether every pixel equals the first one.
func uniform(img *image.RGBA) bool {
	b := img.Bounds()
	first := img.Pix[img.PixOffset(b.Min.X, b.Min.Y):][:4]

	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):][:b.Dx()*4]
		for i := 0; i < len(row); i += 4 {
			if row[i] != first[0] || row[i+1] != first[1] || row[i+2] != first[2] || row[i+3] != first[3] {
				return false
			}
		}
	}
	return true
}
