package blink

import (
	"fmt"
	"time"

	"github.com/ayusman/nimesh/internal/detector"
)

// BlinkHandler receives each completed blink as soon as it is detected.
type BlinkHandler interface {
	HandleBlink(Event)
}

// BlinkHandlerFunc adapts a function to a BlinkHandler.
type BlinkHandlerFunc func(Event)

// HandleBlink calls f(e).
func (f BlinkHandlerFunc) HandleBlink(e Event) { f(e) }

// GestureHandler receives each finalized gesture.
type GestureHandler interface {
	HandleGesture(Gesture)
}

// GestureHandlerFunc adapts a function to a GestureHandler.
type GestureHandlerFunc func(Gesture)

// HandleGesture calls f(g).
func (f GestureHandlerFunc) HandleGesture(g Gesture) { f(g) }

// Config tunes blink detection.
type Config struct {
	// EARThreshold is the ratio below which an eye counts as closed.
	EARThreshold float64 `json:"ear_threshold"`
	// MinClosedFrames is how many closed frames a blink needs.
	MinClosedFrames int `json:"min_closed_frames"`
	// SettleWindow is the pause that ends a gesture.
	SettleWindow time.Duration `json:"settle_window"`
}

// DefaultConfig returns the default detection tuning.
func DefaultConfig() Config {
	return Config{
		EARThreshold:    DefaultEARThreshold,
		MinClosedFrames: DefaultMinClosedFrames,
		SettleWindow:    DefaultSettleWindow,
	}
}

// Validate checks that the config values are usable.
func (c Config) Validate() error {
	if c.EARThreshold <= 0 || c.EARThreshold >= 1 {
		return fmt.Errorf("ear threshold must be between 0 and 1, got %f", c.EARThreshold)
	}
	if c.MinClosedFrames < 1 {
		return fmt.Errorf("min closed frames must be at least 1, got %d", c.MinClosedFrames)
	}
	if c.SettleWindow <= 0 {
		return fmt.Errorf("settle window must be positive, got %s", c.SettleWindow)
	}
	return nil
}

// FrameResult describes what one frame did to the session.
type FrameResult struct {
	At        time.Time
	FaceFound bool
	EAR       float64
	Blinked   bool
	// Finalized is set when a gesture completed during this frame.
	Finalized *Gesture
	// OpenCount is the blink count of the gesture still accumulating.
	OpenCount int
	State     DebounceState
}

// Session is the per-detection pipeline state: one Debouncer and one Accumulator
// fed frame by frame. It is owned by a single frame loop and is not safe for
// concurrent use.
type Session struct {
	config      Config
	debouncer   *Debouncer
	accumulator *Accumulator
	onBlink     BlinkHandler
	onGesture   GestureHandler
}

// NewSession creates a session with a clean state.
func NewSession(config Config) *Session {
	return &Session{
		config:      config,
		debouncer:   NewDebouncer(config.EARThreshold, config.MinClosedFrames),
		accumulator: NewAccumulator(config.SettleWindow),
	}
}

// OnBlink sets the handler notified of every blink. May be nil.
func (s *Session) OnBlink(h BlinkHandler) {
	s.onBlink = h
}

// OnGesture sets the handler notified of every finalized gesture. May be nil.
func (s *Session) OnGesture(h GestureHandler) {
	s.onGesture = h
}

// Config returns the session tuning.
func (s *Session) Config() Config {
	return s.config
}

// ProcessFrame runs one frame through the pipeline.
// A nil or incomplete face skips the debouncer entirely, but the settle
// deadline is still checked so a gesture completes when the face leaves.
func (s *Session) ProcessFrame(face *detector.FaceLandmarks, now time.Time) FrameResult {
	res := FrameResult{At: now}

	if g, ok := s.accumulator.Poll(now); ok {
		res.Finalized = &g
		s.emitGesture(g)
	}

	ear, ok := FrameEAR(face)
	if ok {
		res.FaceFound = true
		res.EAR = ear

		if s.debouncer.Observe(ear) {
			res.Blinked = true
			s.emitBlink(Event{At: now, EAR: ear})

			if g, ok := s.accumulator.Add(now); ok {
				res.Finalized = &g
				s.emitGesture(g)
			}
		}
	}

	if g, ok := s.accumulator.Open(); ok {
		res.OpenCount = g.BlinkCount
	}
	res.State = s.debouncer.State()
	return res
}

// Tick checks the settle deadline without a new frame sample.
func (s *Session) Tick(now time.Time) (Gesture, bool) {
	g, ok := s.accumulator.Poll(now)
	if ok {
		s.emitGesture(g)
	}
	return g, ok
}

// Flush finalizes any open gesture immediately, notifying the gesture handler.
func (s *Session) Flush() (Gesture, bool) {
	g, ok := s.accumulator.Flush()
	if ok {
		s.emitGesture(g)
	}
	return g, ok
}

// Reset discards the open gesture and the debounce state without notifying anyone.
func (s *Session) Reset() {
	s.debouncer.Reset()
	s.accumulator.Discard()
}

// OpenGesture returns the gesture still accumulating, if any.
func (s *Session) OpenGesture() (Gesture, bool) {
	return s.accumulator.Open()
}

// State returns the debounce state.
func (s *Session) State() DebounceState {
	return s.debouncer.State()
}

func (s *Session) emitBlink(e Event) {
	if s.onBlink != nil {
		s.onBlink.HandleBlink(e)
	}
}

func (s *Session) emitGesture(g Gesture) {
	if s.onGesture != nil {
		s.onGesture.HandleGesture(g)
	}
}
