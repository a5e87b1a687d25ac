// Package tray provides the system tray menu for switching blink detection on and off.
package tray

import (
	"fmt"
	"sync"

	"github.com/getlantern/systray"

	"github.com/ayusman/nimesh/internal/app"
)

// Tray represents the system tray application.
type Tray struct {
	onToggle    func() (bool, error)
	onDashboard func()
	onQuit      func()
	running     bool
	lastLabel   string
	mu          sync.RWMutex

	// Menu items stored for later updates
	menuToggle      *systray.MenuItem
	menuLastGesture *systray.MenuItem
}

// New creates a new Tray. running is the initial detection state.
func New(running bool) *Tray {
	return &Tray{
		running:   running,
		lastLabel: "Last: none",
	}
}

// OnToggle sets the callback that switches detection. It returns the new
// running state.
func (t *Tray) OnToggle(fn func() (bool, error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnOpenDashboard sets the callback for the dashboard menu item.
func (t *Tray) OnOpenDashboard(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDashboard = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until Quit is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit closes the tray and makes Run return.
func (t *Tray) Quit() {
	systray.Quit()
}

// onReady is called when the system tray is ready.
// It sets up the menu structure.
func (t *Tray) onReady() {
	systray.SetTitle("Nimesh")
	systray.SetTooltip("Nimesh blink control")

	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem(toggleTitle(t.running), "Start or stop blink detection")
	systray.AddSeparator()

	t.menuLastGesture = systray.AddMenuItem(t.lastLabel, "Last finalized gesture")
	t.menuLastGesture.Disable()
	t.mu.Unlock()
	systray.AddSeparator()

	menuDashboard := systray.AddMenuItem("Open Dashboard...", "Open the dashboard in a browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit Nimesh")

	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-menuDashboard.ClickedCh:
				t.handleDashboard()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

func toggleTitle(running bool) string {
	if running {
		return "● Detecting"
	}
	return "○ Paused"
}

// handleToggle runs the toggle callback and reflects its result in the menu.
func (t *Tray) handleToggle() {
	t.mu.RLock()
	callback := t.onToggle
	t.mu.RUnlock()

	if callback == nil {
		return
	}

	// Call the callback outside the lock to prevent deadlocks
	running, err := callback()
	if err != nil {
		t.SetLastLabel("Error: " + err.Error())
	}
	t.SetRunning(running)
}

// handleDashboard handles the dashboard menu item click.
func (t *Tray) handleDashboard() {
	t.mu.RLock()
	callback := t.onDashboard
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// handleQuit handles the quit menu item click.
func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// SetRunning updates the detection state shown in the menu.
func (t *Tray) SetRunning(running bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.running = running
	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(running))
	}
}

// SetLastLabel replaces the text of the last gesture item.
func (t *Tray) SetLastLabel(label string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastLabel = label
	if t.menuLastGesture != nil {
		t.menuLastGesture.SetTitle(label)
	}
}

// HandleAction shows the latest dispatched gesture.
func (t *Tray) HandleAction(e app.ActionEvent) {
	t.SetLastLabel(actionLabel(e))
}

func actionLabel(e app.ActionEvent) string {
	switch {
	case e.Action == "":
		return fmt.Sprintf("Last: %d blinks (unmapped)", e.Gesture.BlinkCount)
	case e.Err != nil:
		return fmt.Sprintf("Last: %d blinks, %s failed", e.Gesture.BlinkCount, e.Action)
	default:
		return fmt.Sprintf("Last: %d blinks, %s", e.Gesture.BlinkCount, e.Action)
	}
}

// Running returns the detection state shown in the menu.
func (t *Tray) Running() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.running
}

// LastLabel returns the text of the last gesture item.
func (t *Tray) LastLabel() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastLabel
}
