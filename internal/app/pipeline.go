package app

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/ayusman/nimesh/internal/action"
	"github.com/ayusman/nimesh/internal/blink"
	"github.com/ayusman/nimesh/internal/capture"
	"github.com/ayusman/nimesh/internal/detector"
)

// loop is the per-run frame loop state. Only the loop goroutine touches it.
type loop struct {
	app      *App
	run      *runState
	target   RenderTarget
	detector detector.Detector
	motion   *capture.MotionGate

	active     bool
	lastFaceAt time.Time
	idleFrames int
}

// runLoop reads frames until the run is stopped.
//
// Pacing:
//  1. Start in active mode (ActiveFPS) and run inference on every frame.
//  2. After IdleTimeout without a face, drop to IdleFPS.
//  3. While idle, run inference only when the motion gate opens, or once per
//     second so a motionless face is still found.
//  4. A detected face switches back to active mode.
func (a *App) runLoop(run *runState, target RenderTarget) {
	defer close(run.loopDone)

	a.mu.RLock()
	d := a.detector
	a.mu.RUnlock()

	l := &loop{
		app:        a,
		run:        run,
		target:     target,
		detector:   d,
		motion:     capture.NewMotionGate(a.config.MotionPercent),
		active:     true,
		lastFaceAt: a.config.Now(),
	}
	defer l.motion.Close()

	ticker := time.NewTicker(time.Second / time.Duration(a.config.ActiveFPS))
	defer ticker.Stop()

	for {
		select {
		case <-run.stopCh:
			return
		case <-ticker.C:
			if l.stopped() {
				return
			}
			if fps, changed := l.tick(); changed {
				run.source.SetFPS(fps)
				ticker.Reset(time.Second / time.Duration(fps))
			}
		}
	}
}

func (l *loop) stopped() bool {
	select {
	case <-l.run.stopCh:
		return true
	default:
		return false
	}
}

// tick processes one frame and reports a new frame rate when the pacing
// mode changed. A panic inside the tick is logged and the loop continues.
func (l *loop) tick() (fps int, changed bool) {
	logger := l.app.logger
	defer func() {
		if r := recover(); r != nil {
			logger.Error("frame processing panicked", zap.Any("panic", r))
		}
	}()

	frame, err := l.run.source.ReadFrame()
	now := l.app.config.Now()
	if err != nil {
		logger.Debug("reading frame", zap.Error(err))
		l.run.session.Tick(now)
		return 0, false
	}
	defer frame.Close()

	face := l.detect(frame)
	result := l.run.session.ProcessFrame(face, now)
	l.app.recordFrame(result, l.active)

	if l.target != nil {
		l.target.Render(frame, face, result)
	}

	return l.pace(result.FaceFound, now)
}

func (l *loop) detect(frame *gocv.Mat) *detector.FaceLandmarks {
	if !l.active {
		moved, _ := l.motion.Moved(frame)
		l.idleFrames++
		if !moved && l.idleFrames < l.app.config.IdleFPS {
			return nil
		}
		l.idleFrames = 0
	}

	face, err := l.detector.Detect(frame)
	if err != nil {
		l.app.logger.Warn("landmark detection failed", zap.Error(err))
		return nil
	}
	return face
}

func (l *loop) pace(faceFound bool, now time.Time) (int, bool) {
	cfg := l.app.config

	if faceFound {
		l.lastFaceAt = now
		if !l.active {
			l.active = true
			l.app.logger.Debug("switched to active mode")
			return cfg.ActiveFPS, true
		}
		return 0, false
	}

	if l.active && now.Sub(l.lastFaceAt) > cfg.IdleTimeout {
		l.active = false
		l.idleFrames = 0
		l.motion.Reset()
		l.app.logger.Debug("switched to idle mode")
		return cfg.IdleFPS, true
	}
	return 0, false
}

func (a *App) recordFrame(res blink.FrameResult, active bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.status.Frames++
	a.status.FacePresent = res.FaceFound
	if res.FaceFound {
		a.status.EAR = res.EAR
	}
	a.status.OpenBlinks = res.OpenCount
	a.status.ClosedFrames = res.State.ConsecutiveClosedFrames
	a.status.WasBlinking = res.State.WasBlinking
	if active {
		a.status.Mode = ModeActive
	} else {
		a.status.Mode = ModeIdle
	}
}

// runEffects dispatches finalized gestures in order until the queue closes.
func (a *App) runEffects(run *runState, dispatcher *action.Dispatcher) {
	defer close(run.workerDone)

	ctx := context.Background()
	for g := range run.queue {
		id, err := dispatcher.Dispatch(ctx, g.BlinkCount)
		if err != nil {
			a.logger.Warn("action failed", zap.String("action", id.String()), zap.Int("blinks", g.BlinkCount), zap.Error(err))
		}

		if a.config.History != nil {
			if herr := a.config.History.RecordGesture(g, id, err); herr != nil {
				a.logger.Warn("recording gesture", zap.Error(herr))
			}
		}

		a.mu.Lock()
		if id != "" {
			a.status.LastAction = id
		}
		h := a.onAction
		a.mu.Unlock()

		if h != nil {
			h.HandleAction(ActionEvent{Gesture: g, Action: id, Err: err})
		}
	}
}
