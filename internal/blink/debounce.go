package blink

// Debounce defaults.
const (
	DefaultEARThreshold    = 0.2
	DefaultMinClosedFrames = 2
)

// DebounceState is the mutable state of a Debouncer.
type DebounceState struct {
	ConsecutiveClosedFrames int  `json:"consecutive_closed_frames"`
	WasBlinking             bool `json:"was_blinking"`
}

// Closing reports whether the eye is currently below threshold.
func (s DebounceState) Closing() bool {
	return s.ConsecutiveClosedFrames > 0
}

// Debouncer filters per-frame EAR samples into discrete blinks.
// A closure counts as a blink only once the eye reopens after at least
// minClosedFrames consecutive samples below the threshold.
//
// Debouncer is not safe for concurrent use; it assumes one frame at a time.
type Debouncer struct {
	threshold       float64
	minClosedFrames int
	state           DebounceState
}

// NewDebouncer creates a Debouncer. Non-positive arguments fall back to the defaults.
func NewDebouncer(threshold float64, minClosedFrames int) *Debouncer {
	if threshold <= 0 {
		threshold = DefaultEARThreshold
	}
	if minClosedFrames <= 0 {
		minClosedFrames = DefaultMinClosedFrames
	}
	return &Debouncer{
		threshold:       threshold,
		minClosedFrames: minClosedFrames,
	}
}

// Observe feeds one frame's averaged EAR and reports whether a blink completed on this frame.
func (d *Debouncer) Observe(ear float64) bool {
	if ear < d.threshold {
		d.state.ConsecutiveClosedFrames++
		return false
	}

	blinked := false
	if d.state.ConsecutiveClosedFrames >= d.minClosedFrames && !d.state.WasBlinking {
		blinked = true
		d.state.WasBlinking = true
	} else {
		d.state.WasBlinking = false
	}
	d.state.ConsecutiveClosedFrames = 0

	return blinked
}

// State returns a copy of the current state.
func (d *Debouncer) State() DebounceState {
	return d.state
}

// Reset returns the debouncer to the eye-open state.
func (d *Debouncer) Reset() {
	d.state = DebounceState{}
}

// Threshold returns the EAR value below which the eye counts as closed.
func (d *Debouncer) Threshold() float64 {
	return d.threshold
}
