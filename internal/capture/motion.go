package capture

import (
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// Motion gate defaults.
const (
	DefaultMotionPercent = 1.0
	motionBlurSize       = 21
	motionPixelDelta     = 25
)

// MotionGate compares each frame with the previous one and reports whether
// enough pixels changed. While nobody is in front of the camera it decides
// whether a frame is worth sending to landmark inference.
type MotionGate struct {
	percent float64
	prev    gocv.Mat
	primed  bool
	mu      sync.Mutex
}

// NewMotionGate creates a gate that opens when more than percent of the
// pixels change between frames. Non-positive values use DefaultMotionPercent.
func NewMotionGate(percent float64) *MotionGate {
	if percent <= 0 {
		percent = DefaultMotionPercent
	}
	return &MotionGate{percent: percent, prev: gocv.NewMat()}
}

// Percent returns the change threshold.
func (g *MotionGate) Percent() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.percent
}

// Moved reports whether frame differs from the previous frame, and by how
// much in percent of pixels. The first frame after a reset primes the gate
// and reports no motion.
func (g *MotionGate) Moved(frame *gocv.Mat) (bool, float64) {
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

	if !g.primed || g.prev.Rows() != blurred.Rows() || g.prev.Cols() != blurred.Cols() {
		blurred.CopyTo(&g.prev)
		g.primed = true
		return false, 0
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(blurred, g.prev, &diff)
	gocv.Threshold(diff, &diff, motionPixelDelta, 255, gocv.ThresholdBinary)

	changed := float64(gocv.CountNonZero(diff)) / float64(diff.Rows()*diff.Cols()) * 100
	blurred.CopyTo(&g.prev)

	return changed > g.percent, changed
}

// Reset forgets the previous frame.
func (g *MotionGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.primed = false
}

// Close releases the stored frame. The gate can be reused afterwards.
func (g *MotionGate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.prev.Close()
	g.prev = gocv.NewMat()
	g.primed = false
}
