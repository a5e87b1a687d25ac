package app

import (
	"errors"
	"sync"

	"github.com/ayusman/nimesh/internal/capture"
)

// SourceFactory creates the frame source for one detection run.
type SourceFactory func() capture.Camera

// Controller binds an App to a frame source and a render target so the HTTP
// API and the tray can switch detection on and off.
type Controller struct {
	app       *App
	newSource SourceFactory
	target    RenderTarget

	mu       sync.RWMutex
	onChange func(running bool)
}

// NewController creates a Controller. target may be nil.
func NewController(a *App, newSource SourceFactory, target RenderTarget) *Controller {
	return &Controller{app: a, newSource: newSource, target: target}
}

// App returns the controlled App.
func (c *Controller) App() *App {
	return c.app
}

// OnStateChange sets a callback run after every Start or Stop that changes
// whether detection is running, whichever caller made the change.
func (c *Controller) OnStateChange(fn func(running bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

// Start initializes the landmark engine if needed and starts detection.
func (c *Controller) Start() error {
	if c.app.Running() {
		return nil
	}
	if err := c.app.Initialize(); err != nil {
		return err
	}
	if c.newSource == nil {
		return errors.New("start detection: no frame source configured")
	}
	if err := c.app.Start(c.newSource(), c.target); err != nil {
		return err
	}
	c.notify(true)
	return nil
}

// Stop stops detection.
func (c *Controller) Stop() {
	if !c.app.Running() {
		return
	}
	c.app.Stop()
	c.notify(false)
}

// Toggle starts detection when stopped and stops it when running. It
// reports whether detection is running afterwards.
func (c *Controller) Toggle() (bool, error) {
	if c.app.Running() {
		c.Stop()
		return false, nil
	}
	if err := c.Start(); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Controller) notify(running bool) {
	c.mu.RLock()
	fn := c.onChange
	c.mu.RUnlock()
	if fn != nil {
		fn(running)
	}
}

// Status returns the App status.
func (c *Controller) Status() Status {
	return c.app.Status()
}
