// Package app runs blink detection: it pulls frames from a camera, feeds
// landmarks through a blink session and dispatches finalized gestures.
package app

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/ayusman/nimesh/internal/action"
	"github.com/ayusman/nimesh/internal/blink"
	"github.com/ayusman/nimesh/internal/capture"
	"github.com/ayusman/nimesh/internal/detector"
)

// Frame pacing defaults.
const (
	// ActiveFPS is the frame rate while a face is in view.
	ActiveFPS = 30
	// IdleFPS is the frame rate once no face has been seen for IdleTimeout.
	IdleFPS = 10
	// IdleTimeout is how long without a face before switching to idle mode.
	IdleTimeout = 2 * time.Second
	// DefaultEffectQueue is the number of finalized gestures that may wait for dispatch.
	DefaultEffectQueue = 16
)

// ErrNotInitialized is returned by Start before a successful Initialize.
var ErrNotInitialized = errors.New("detection not initialized")

// RenderTarget receives every processed frame, e.g. to draw an overlay.
// The frame is only valid for the duration of the call.
type RenderTarget interface {
	Render(frame *gocv.Mat, face *detector.FaceLandmarks, result blink.FrameResult)
}

// MappingLoader supplies the blink count to action table at start.
type MappingLoader interface {
	LoadMapping() (action.Mapping, error)
}

// HistoryRecorder stores the outcome of each dispatched gesture.
type HistoryRecorder interface {
	RecordGesture(g blink.Gesture, id action.ID, dispatchErr error) error
}

// ActionEvent reports the result of dispatching one gesture.
type ActionEvent struct {
	Gesture blink.Gesture
	Action  action.ID
	Err     error
}

// ActionHandler is notified after each dispatch, including unmapped gestures.
type ActionHandler interface {
	HandleAction(ActionEvent)
}

// ActionHandlerFunc adapts a function to an ActionHandler.
type ActionHandlerFunc func(ActionEvent)

// HandleAction calls f(e).
func (f ActionHandlerFunc) HandleAction(e ActionEvent) { f(e) }

// Config holds the collaborators and tuning of an App.
type Config struct {
	Detection blink.Config
	Effects   map[action.ID]action.Effect
	// Mappings defaults to action.DefaultMapping when nil.
	Mappings MappingLoader
	History  HistoryRecorder
	// NewDetector loads the landmark engine. Defaults to the MediaPipe detector.
	NewDetector func() (detector.Detector, error)
	Now         func() time.Time
	Logger      *zap.Logger

	ActiveFPS     int
	IdleFPS       int
	IdleTimeout   time.Duration
	EffectQueue   int
	MotionPercent float64
}

func (c Config) withDefaults() Config {
	if c.Detection == (blink.Config{}) {
		c.Detection = blink.DefaultConfig()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.NewDetector == nil {
		logger := c.Logger
		c.NewDetector = func() (detector.Detector, error) {
			return detector.NewMediaPipeDetector(detector.DefaultConfig(), logger)
		}
	}
	if c.ActiveFPS <= 0 {
		c.ActiveFPS = ActiveFPS
	}
	if c.IdleFPS <= 0 {
		c.IdleFPS = IdleFPS
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = IdleTimeout
	}
	if c.EffectQueue <= 0 {
		c.EffectQueue = DefaultEffectQueue
	}
	return c
}

// Status is a snapshot of the detection state.
type Status struct {
	Initialized  bool           `json:"initialized"`
	Running      bool           `json:"running"`
	Mode         string         `json:"mode,omitempty"`
	FacePresent  bool           `json:"face_present"`
	EAR          float64        `json:"ear"`
	OpenBlinks   int            `json:"open_blinks"`
	ClosedFrames int            `json:"closed_frames"`
	WasBlinking  bool           `json:"was_blinking"`
	Frames       uint64         `json:"frames"`
	LastGesture  *blink.Gesture `json:"last_gesture,omitempty"`
	LastAction   action.ID      `json:"last_action,omitempty"`
	Detection    blink.Config   `json:"detection"`
}

// Pacing modes reported in Status.
const (
	ModeActive = "active"
	ModeIdle   = "idle"
)

// App owns the detection lifecycle. Start and Stop may be called from any
// goroutine except the frame loop and the effect worker, where handlers run:
// Stop waits for both to exit, so calling it from a handler deadlocks.
type App struct {
	config Config
	logger *zap.Logger

	// lifecycle serializes Initialize, Start, Stop and Close.
	lifecycle sync.Mutex

	mu        sync.RWMutex
	detector  detector.Detector
	detection blink.Config
	running   bool
	status    Status
	onBlink   blink.BlinkHandler
	onGesture blink.GestureHandler
	onAction  ActionHandler

	run *runState
}

// runState belongs to one Start/Stop cycle.
type runState struct {
	stopCh     chan struct{}
	loopDone   chan struct{}
	workerDone chan struct{}
	queue      chan blink.Gesture
	session    *blink.Session
	source     capture.Camera
}

// New creates an App. Call Initialize before Start.
func New(config Config) *App {
	config = config.withDefaults()
	return &App{
		config:    config,
		logger:    config.Logger.Named("app"),
		detection: config.Detection,
	}
}

// Initialize loads the landmark engine. On failure the App stays
// uninitialized and Initialize may be retried.
func (a *App) Initialize() error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	if a.Initialized() {
		return nil
	}

	d, err := a.config.NewDetector()
	if err != nil {
		a.logger.Warn("landmark engine unavailable", zap.Error(err))
		return fmt.Errorf("initialize detector: %w", err)
	}

	if w, ok := d.(interface{ Warmup() error }); ok {
		if err := w.Warmup(); err != nil {
			d.Close()
			a.logger.Warn("landmark engine failed to start", zap.Error(err))
			return fmt.Errorf("warm up detector: %w", err)
		}
	}

	a.mu.Lock()
	a.detector = d
	a.mu.Unlock()

	a.logger.Info("detection initialized")
	return nil
}

// Initialized reports whether the landmark engine is loaded.
func (a *App) Initialized() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.detector != nil
}

// Running reports whether the frame loop is active.
func (a *App) Running() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.running
}

// OnBlink sets the handler notified of each blink. It runs on the frame loop
// and must not call Stop or Close.
func (a *App) OnBlink(h blink.BlinkHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onBlink = h
}

// OnGesture sets the handler notified of each finalized gesture. It runs on
// the frame loop and must not call Stop or Close.
func (a *App) OnGesture(h blink.GestureHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onGesture = h
}

// OnAction sets the handler notified after each dispatch. It runs on the
// effect worker and must not call Stop or Close; hand off to another
// goroutine to stop detection from an action.
func (a *App) OnAction(h ActionHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onAction = h
}

// DetectionConfig returns the tuning used by the next Start.
func (a *App) DetectionConfig() blink.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.detection
}

// SetDetectionConfig validates and stores the tuning. A running session keeps
// its tuning until it is restarted.
func (a *App) SetDetectionConfig(cfg blink.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.detection = cfg
	return nil
}

// Start opens the source and begins processing frames into target, which
// may be nil. Starting a running App is a no-op.
func (a *App) Start(source capture.Camera, target RenderTarget) error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	if a.Running() {
		return nil
	}
	if !a.Initialized() {
		return ErrNotInitialized
	}
	if source == nil {
		return errors.New("start detection: nil frame source")
	}

	mapping := action.DefaultMapping()
	if a.config.Mappings != nil {
		m, err := a.config.Mappings.LoadMapping()
		if err != nil {
			return fmt.Errorf("load mappings: %w", err)
		}
		mapping = m
	}
	dispatcher := action.NewDispatcher(mapping, a.config.Effects, a.config.Logger)

	if err := source.Open(); err != nil {
		return fmt.Errorf("open frame source: %w", err)
	}
	source.SetFPS(a.config.ActiveFPS)

	a.mu.Lock()
	cfg := a.detection
	a.mu.Unlock()

	session := blink.NewSession(cfg)
	run := &runState{
		stopCh:     make(chan struct{}),
		loopDone:   make(chan struct{}),
		workerDone: make(chan struct{}),
		queue:      make(chan blink.Gesture, a.config.EffectQueue),
		session:    session,
		source:     source,
	}
	session.OnBlink(blink.BlinkHandlerFunc(a.handleBlink))
	session.OnGesture(blink.GestureHandlerFunc(func(g blink.Gesture) { a.handleGesture(run, g) }))

	a.mu.Lock()
	a.run = run
	a.running = true
	a.status = Status{Mode: ModeActive}
	a.mu.Unlock()

	go a.runEffects(run, dispatcher)
	go a.runLoop(run, target)

	a.logger.Info("detection started",
		zap.Float64("ear_threshold", cfg.EARThreshold),
		zap.Int("min_closed_frames", cfg.MinClosedFrames),
		zap.Duration("settle_window", cfg.SettleWindow),
		zap.Int("mappings", len(mapping)),
	)
	return nil
}

// Stop halts the frame loop and waits for it to exit. The open gesture is
// discarded without notification; gestures already finalized are still
// dispatched before Stop returns.
func (a *App) Stop() {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	a.mu.RLock()
	run := a.run
	a.mu.RUnlock()
	if run == nil {
		return
	}

	close(run.stopCh)
	<-run.loopDone

	run.session.Reset()
	close(run.queue)
	<-run.workerDone

	if err := run.source.Close(); err != nil {
		a.logger.Warn("closing frame source", zap.Error(err))
	}

	a.mu.Lock()
	a.run = nil
	a.running = false
	a.status.Mode = ""
	a.status.FacePresent = false
	a.status.OpenBlinks = 0
	a.status.ClosedFrames = 0
	a.status.WasBlinking = false
	a.mu.Unlock()

	a.logger.Info("detection stopped")
}

// Close stops detection and releases the landmark engine.
func (a *App) Close() error {
	a.Stop()

	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	a.mu.Lock()
	d := a.detector
	a.detector = nil
	a.mu.Unlock()

	if d == nil {
		return nil
	}
	return d.Close()
}

// Status returns a snapshot of the detection state.
func (a *App) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s := a.status
	s.Initialized = a.detector != nil
	s.Running = a.running
	s.Detection = a.detection
	if s.LastGesture != nil {
		g := *s.LastGesture
		s.LastGesture = &g
	}
	return s
}

func (a *App) handleBlink(e blink.Event) {
	a.mu.RLock()
	h := a.onBlink
	a.mu.RUnlock()

	a.logger.Debug("blink", zap.Float64("ear", e.EAR))
	if h != nil {
		h.HandleBlink(e)
	}
}

func (a *App) handleGesture(run *runState, g blink.Gesture) {
	a.mu.Lock()
	a.status.LastGesture = &g
	h := a.onGesture
	a.mu.Unlock()

	a.logger.Info("gesture finalized", zap.Int("blinks", g.BlinkCount), zap.Duration("duration", g.Duration()))
	if h != nil {
		h.HandleGesture(g)
	}

	select {
	case run.queue <- g:
	default:
		a.logger.Warn("effect queue full, dropping gesture", zap.Int("blinks", g.BlinkCount))
	}
}
