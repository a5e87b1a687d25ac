package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"gocv.io/x/gocv"

	"github.com/ayusman/nimesh/internal/action"
	"github.com/ayusman/nimesh/internal/blink"
	"github.com/ayusman/nimesh/internal/capture"
	"github.com/ayusman/nimesh/internal/detector"
)

type countEffect struct {
	runs atomic.Int32
	err  error
}

func (e *countEffect) Execute(context.Context, action.Request) error {
	e.runs.Add(1)
	return e.err
}

type fakeHistory struct {
	mu      sync.Mutex
	records []ActionEvent
}

func (h *fakeHistory) RecordGesture(g blink.Gesture, id action.ID, err error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, ActionEvent{Gesture: g, Action: id, Err: err})
	return nil
}

func (h *fakeHistory) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}

type staticMappings action.Mapping

func (m staticMappings) LoadMapping() (action.Mapping, error) {
	return action.Mapping(m), nil
}

type harness struct {
	app      *App
	detector *detector.MockDetector
	camera   *capture.MockCamera
	effects  map[action.ID]*countEffect
	blinks   chan blink.Event
	gestures chan blink.Gesture
	actions  chan ActionEvent
}

func newHarness(t *testing.T, settle time.Duration, mutate func(*Config)) *harness {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping frame loop test that requires GoCV Mat creation")
	}

	frames := capture.BlankFrames(1, 64, 48)
	t.Cleanup(func() {
		for _, f := range frames {
			f.Close()
		}
	})

	h := &harness{
		detector: detector.NewMockDetector(),
		camera:   capture.NewMockCamera(frames, true),
		effects:  map[action.ID]*countEffect{},
		blinks:   make(chan blink.Event, 16),
		gestures: make(chan blink.Gesture, 16),
		actions:  make(chan ActionEvent, 16),
	}
	h.detector.SetFace(detector.OpenEyesFace())

	effects := map[action.ID]action.Effect{}
	for _, id := range action.IDs() {
		e := &countEffect{}
		h.effects[id] = e
		effects[id] = e
	}

	cfg := Config{
		Detection:   blink.Config{EARThreshold: 0.2, MinClosedFrames: 2, SettleWindow: settle},
		Effects:     effects,
		NewDetector: func() (detector.Detector, error) { return h.detector, nil },
		Logger:      zaptest.NewLogger(t),
		ActiveFPS:   200,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	h.app = New(cfg)
	h.app.OnBlink(blink.BlinkHandlerFunc(func(e blink.Event) { h.blinks <- e }))
	h.app.OnGesture(blink.GestureHandlerFunc(func(g blink.Gesture) { h.gestures <- g }))
	h.app.OnAction(ActionHandlerFunc(func(e ActionEvent) { h.actions <- e }))

	if err := h.app.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	t.Cleanup(func() { h.app.Close() })
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.app.Start(h.camera, nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
}

// queueBlinks queues an open frame followed by n blinks that each clear the
// post-blink suppression.
func (h *harness) queueBlinks(n int) {
	open, closed := detector.OpenEyesFace(), detector.ClosedEyesFace()
	faces := []*detector.FaceLandmarks{open}
	for i := 0; i < n; i++ {
		faces = append(faces, closed, closed, open, open)
	}
	h.detector.Queue(faces...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func receive[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
	var zero T
	return zero
}

func TestApp_StartBeforeInitialize(t *testing.T) {
	a := New(Config{
		NewDetector: func() (detector.Detector, error) { return detector.NewMockDetector(), nil },
	})

	err := a.Start(capture.NewMockCamera(nil, false), nil)
	if !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Start() error = %v, want ErrNotInitialized", err)
	}
	if a.Running() {
		t.Error("App must not run before Initialize")
	}
}

func TestApp_InitializeFailureIsRetryable(t *testing.T) {
	attempts := 0
	engineDown := errors.New("python not found")

	a := New(Config{
		Logger: zaptest.NewLogger(t),
		NewDetector: func() (detector.Detector, error) {
			attempts++
			if attempts == 1 {
				return nil, engineDown
			}
			return detector.NewMockDetector(), nil
		},
	})

	if err := a.Initialize(); !errors.Is(err, engineDown) {
		t.Fatalf("first Initialize() error = %v, want wrapped engine error", err)
	}
	if a.Initialized() || a.Status().Initialized {
		t.Fatal("App reported initialized after a failed Initialize")
	}

	if err := a.Initialize(); err != nil {
		t.Fatalf("second Initialize() error = %v", err)
	}
	if !a.Initialized() {
		t.Fatal("expected App to be initialized after retry")
	}
	if err := a.Initialize(); err != nil || attempts != 2 {
		t.Errorf("Initialize() on an initialized App reloaded the engine (attempts=%d, err=%v)", attempts, err)
	}
}

func TestApp_InitializeFailsWhenEngineExits(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("skipping shell service test on Windows")
	}

	script := filepath.Join(t.TempDir(), "face_mesh_service.sh")
	if err := os.WriteFile(script, []byte("exit 1\n"), 0644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	cfg := detector.DefaultConfig()
	cfg.ScriptPath = script
	cfg.Python = "/bin/sh"

	logger := zaptest.NewLogger(t)
	a := New(Config{
		Logger: logger,
		NewDetector: func() (detector.Detector, error) {
			return detector.NewMediaPipeDetector(cfg, logger)
		},
	})
	defer a.Close()

	if err := a.Initialize(); err == nil {
		t.Fatal("Initialize() succeeded with an engine that exits on startup")
	}
	if a.Initialized() || a.Status().Initialized {
		t.Error("App reported initialized after the engine exited")
	}
	if err := a.Start(capture.NewMockCamera(nil, false), nil); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Start() error = %v, want ErrNotInitialized", err)
	}
}

func TestApp_SetDetectionConfig(t *testing.T) {
	a := New(Config{})

	if got := a.DetectionConfig(); got != blink.DefaultConfig() {
		t.Errorf("DetectionConfig() = %+v, want defaults", got)
	}
	if err := a.SetDetectionConfig(blink.Config{EARThreshold: 2}); err == nil {
		t.Error("expected validation error")
	}

	want := blink.Config{EARThreshold: 0.25, MinClosedFrames: 3, SettleWindow: time.Second}
	if err := a.SetDetectionConfig(want); err != nil {
		t.Fatalf("SetDetectionConfig() error = %v", err)
	}
	if got := a.Status().Detection; got != want {
		t.Errorf("Status().Detection = %+v, want %+v", got, want)
	}
}

func TestApp_TwoBlinksToggleLight(t *testing.T) {
	h := newHarness(t, 150*time.Millisecond, nil)
	h.queueBlinks(2)
	h.start(t)

	receive(t, h.blinks, "first blink")
	receive(t, h.blinks, "second blink")

	g := receive(t, h.gestures, "gesture")
	if g.BlinkCount != 2 {
		t.Fatalf("gesture BlinkCount = %d, want 2", g.BlinkCount)
	}

	ev := receive(t, h.actions, "action")
	if ev.Action != action.ToggleLight || ev.Err != nil {
		t.Fatalf("action event = %+v", ev)
	}

	for id, e := range h.effects {
		want := int32(0)
		if id == action.ToggleLight {
			want = 1
		}
		if got := e.runs.Load(); got != want {
			t.Errorf("%s ran %d times, want %d", id, got, want)
		}
	}

	if s := h.app.Status(); s.LastAction != action.ToggleLight || s.LastGesture == nil || s.LastGesture.BlinkCount != 2 {
		t.Errorf("status = %+v", s)
	}
}

func TestApp_ActionHandlerStopsDetectionOffWorker(t *testing.T) {
	h := newHarness(t, 150*time.Millisecond, nil)
	h.app.OnAction(ActionHandlerFunc(func(e ActionEvent) {
		if e.Action == action.ToggleLight {
			go h.app.Stop()
		}
	}))
	h.queueBlinks(2)
	h.start(t)

	waitFor(t, "detection to stop", func() bool { return !h.app.Running() })
	if got := h.effects[action.ToggleLight].runs.Load(); got != 1 {
		t.Errorf("toggle-light ran %d times, want 1", got)
	}
}

func TestApp_UnmappedCountRunsNoEffect(t *testing.T) {
	h := newHarness(t, 150*time.Millisecond, nil)
	h.queueBlinks(4)
	h.start(t)

	g := receive(t, h.gestures, "gesture")
	if g.BlinkCount != 4 {
		t.Fatalf("gesture BlinkCount = %d, want 4", g.BlinkCount)
	}

	ev := receive(t, h.actions, "action event")
	if ev.Action != "" || ev.Err != nil {
		t.Errorf("action event for unmapped count = %+v", ev)
	}
	for id, e := range h.effects {
		if e.runs.Load() != 0 {
			t.Errorf("%s ran for an unmapped gesture", id)
		}
	}
}

func TestApp_StopDiscardsOpenGesture(t *testing.T) {
	h := newHarness(t, 400*time.Millisecond, nil)
	h.queueBlinks(1)
	h.start(t)

	receive(t, h.blinks, "blink")
	waitFor(t, "open gesture", func() bool { return h.app.Status().OpenBlinks == 1 })

	h.app.Stop()

	if h.app.Running() {
		t.Fatal("Running() after Stop")
	}
	if h.camera.IsOpen() {
		t.Error("Stop must close the frame source")
	}
	select {
	case g := <-h.gestures:
		t.Fatalf("gesture finalized after Stop: %+v", g)
	case <-time.After(600 * time.Millisecond):
	}
	if s := h.app.Status(); s.OpenBlinks != 0 || s.ClosedFrames != 0 {
		t.Errorf("status after Stop = %+v", s)
	}

	// A restart counts from zero.
	h.queueBlinks(1)
	h.start(t)

	g := receive(t, h.gestures, "gesture after restart")
	if g.BlinkCount != 1 {
		t.Errorf("gesture after restart BlinkCount = %d, want 1", g.BlinkCount)
	}
}

func TestApp_StartIsIdempotent(t *testing.T) {
	h := newHarness(t, time.Second, nil)
	h.start(t)
	h.start(t)

	waitFor(t, "frames", func() bool { return h.app.Status().Frames > 0 })

	s := h.app.Status()
	if !s.Running || !s.Initialized || s.Mode != ModeActive || !s.FacePresent {
		t.Errorf("status = %+v", s)
	}

	h.app.Stop()
	h.app.Stop()
}

func TestApp_MappingSnapshotAtStart(t *testing.T) {
	history := &fakeHistory{}
	h := newHarness(t, 150*time.Millisecond, func(c *Config) {
		c.Mappings = staticMappings{3: action.EmergencyAlert}
		c.History = history
	})
	h.queueBlinks(3)
	h.start(t)

	ev := receive(t, h.actions, "action")
	if ev.Action != action.EmergencyAlert {
		t.Fatalf("action = %q, want %q", ev.Action, action.EmergencyAlert)
	}
	if h.effects[action.ToggleFan].runs.Load() != 0 {
		t.Error("default mapping used instead of the loaded one")
	}
	waitFor(t, "history record", func() bool { return history.len() == 1 })
}

func TestApp_EffectErrorReported(t *testing.T) {
	h := newHarness(t, 150*time.Millisecond, nil)
	h.effects[action.ToggleLight].err = errors.New("broker unreachable")
	h.queueBlinks(2)
	h.start(t)

	ev := receive(t, h.actions, "action")
	if ev.Action != action.ToggleLight || ev.Err == nil {
		t.Errorf("action event = %+v, want toggle-light with error", ev)
	}
	if !h.app.Running() {
		t.Error("an effect error must not stop detection")
	}
}

type panickyTarget struct {
	calls atomic.Int32
}

func (p *panickyTarget) Render(*gocv.Mat, *detector.FaceLandmarks, blink.FrameResult) {
	if p.calls.Add(1) == 1 {
		panic("overlay failed")
	}
}

func TestApp_LoopSurvivesFailures(t *testing.T) {
	h := newHarness(t, time.Second, nil)
	h.detector.SetError(errors.New("inference crashed"))

	target := &panickyTarget{}
	if err := h.app.Start(h.camera, target); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	waitFor(t, "detection retries", func() bool { return h.detector.Calls() > 3 })
	waitFor(t, "renders after a panic", func() bool { return target.calls.Load() > 3 })

	h.detector.SetError(nil)
	waitFor(t, "face after recovery", func() bool { return h.app.Status().FacePresent })
}

func TestApp_IdleMode(t *testing.T) {
	h := newHarness(t, time.Second, func(c *Config) {
		c.IdleTimeout = 30 * time.Millisecond
		c.IdleFPS = 100
	})
	h.detector.SetFace(nil)
	h.start(t)

	waitFor(t, "idle mode", func() bool { return h.app.Status().Mode == ModeIdle })
	if h.camera.FPS() != 100 {
		t.Errorf("camera FPS in idle mode = %d, want 100", h.camera.FPS())
	}

	h.detector.SetFace(detector.OpenEyesFace())
	waitFor(t, "active mode", func() bool { return h.app.Status().Mode == ModeActive })
	if h.camera.FPS() != 200 {
		t.Errorf("camera FPS in active mode = %d, want 200", h.camera.FPS())
	}
}
