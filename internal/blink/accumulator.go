package blink

import "time"

// DefaultSettleWindow is the pause after the last blink that ends a gesture.
const DefaultSettleWindow = 1500 * time.Millisecond

// Event marks one completed blink.
type Event struct {
	At  time.Time `json:"at"`
	EAR float64   `json:"ear"`
}

// Gesture is a burst of blinks terminated by a pause.
type Gesture struct {
	BlinkCount  int       `json:"blink_count"`
	StartedAt   time.Time `json:"started_at"`
	LastBlinkAt time.Time `json:"last_blink_at"`
}

// Duration returns the time between the first and last blink.
func (g Gesture) Duration() time.Duration {
	return g.LastBlinkAt.Sub(g.StartedAt)
}

// Accumulator groups blinks into gestures using a settle window.
// At most one gesture is open at a time, and each gesture is returned as
// finalized exactly once, by Add, Poll or Flush.
//
// Accumulator is not safe for concurrent use.
type Accumulator struct {
	settle time.Duration
	open   *Gesture
}

// NewAccumulator creates an Accumulator. A non-positive window falls back to DefaultSettleWindow.
func NewAccumulator(settle time.Duration) *Accumulator {
	if settle <= 0 {
		settle = DefaultSettleWindow
	}
	return &Accumulator{settle: settle}
}

// Add records a blink at the given time.
// If the open gesture had already expired at that time it is finalized and
// returned, and the blink opens a new gesture.
func (a *Accumulator) Add(at time.Time) (expired Gesture, ok bool) {
	expired, ok = a.Poll(at)

	if a.open == nil {
		a.open = &Gesture{StartedAt: at}
	}
	a.open.BlinkCount++
	a.open.LastBlinkAt = at

	return expired, ok
}

// Poll finalizes the open gesture once now is past its deadline.
func (a *Accumulator) Poll(now time.Time) (Gesture, bool) {
	if a.open == nil || !now.After(a.deadline()) {
		return Gesture{}, false
	}
	return a.take(), true
}

// Flush finalizes the open gesture regardless of the deadline.
func (a *Accumulator) Flush() (Gesture, bool) {
	if a.open == nil {
		return Gesture{}, false
	}
	return a.take(), true
}

// Discard drops the open gesture without finalizing it.
func (a *Accumulator) Discard() {
	a.open = nil
}

// Open returns a copy of the gesture being accumulated.
func (a *Accumulator) Open() (Gesture, bool) {
	if a.open == nil {
		return Gesture{}, false
	}
	return *a.open, true
}

// Deadline returns when the open gesture will be finalized if no blink arrives.
func (a *Accumulator) Deadline() (time.Time, bool) {
	if a.open == nil {
		return time.Time{}, false
	}
	return a.deadline(), true
}

// SettleWindow returns the configured window.
func (a *Accumulator) SettleWindow() time.Duration {
	return a.settle
}

func (a *Accumulator) deadline() time.Time {
	return a.open.LastBlinkAt.Add(a.settle)
}

// take clears the open gesture before handing it out.
func (a *Accumulator) take() Gesture {
	g := *a.open
	a.open = nil
	return g
}
