package capture

import (
	"image"
	"sync"

	"gocv.io/x/gocv"
)

const (
	// motionBlurSize is the Gaussian kernel used to suppress pixel noise.
	motionBlurSize = 21
	// motionDiffThreshold is the per-pixel difference counted as change.
	motionDiffThreshold = 25
)

// MotionGate lets a frame through to detection only when enough of it has
// changed since the last frame that passed. Static scenes skip inference.
type MotionGate struct {
	mu        sync.Mutex
	threshold float64
	baseline  gocv.Mat
	primed    bool
}

// NewMotionGate creates a gate that opens when more than threshold percent
// of pixels differ from the baseline.
func NewMotionGate(threshold float64) *MotionGate {
	return &MotionGate{
		threshold: threshold,
		baseline:  gocv.NewMat(),
	}
}

// Check reports whether frame should be processed and the changed percentage.
// The first frame always passes and becomes the baseline.
func (g *MotionGate) Check(frame *gocv.Mat) (bool, float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if frame == nil || frame.Empty() {
		return false, 0
	}

	gray := gocv.NewMat()
	defer gray.Close()
	if frame.Channels() > 1 {
		gocv.CvtColor(*frame, &gray, gocv.ColorBGRToGray)
	} else {
		frame.CopyTo(&gray)
	}

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Pt(motionBlurSize, motionBlurSize), 0, 0, gocv.BorderDefault)

	if !g.primed || blurred.Rows() != g.baseline.Rows() || blurred.Cols() != g.baseline.Cols() {
		blurred.CopyTo(&g.baseline)
		g.primed = true
		return true, 100
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(blurred, g.baseline, &diff)

	mask := gocv.NewMat()
	defer mask.Close()
	gocv.Threshold(diff, &mask, motionDiffThreshold, 255, gocv.ThresholdBinary)

	changed := float64(gocv.CountNonZero(mask)) / float64(mask.Rows()*mask.Cols()) * 100

	if changed <= g.threshold {
		return false, changed
	}
	blurred.CopyTo(&g.baseline)
	return true, changed
}

// Reset forgets the baseline so the next frame passes.
func (g *MotionGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.primed = false
}

// Close releases the baseline buffer.
func (g *MotionGate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.baseline.Close()
	g.primed = false
}
