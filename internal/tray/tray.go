// Package tray provides a system tray control surface for pointerlink.
package tray

import (
	"fmt"
	"sync"

	"github.com/getlantern/systray"

	"github.com/ayusman/pointerlink/internal/app"
)

// Tray represents the system tray application. It observes pipeline
// cycles to show the last target and lets the user pause actuation or quit.
type Tray struct {
	onToggle func(enabled bool)
	onStatus func()
	onQuit   func()
	enabled  bool
	last     string
	mu       sync.RWMutex

	// Menu items stored for later updates
	menuToggle *systray.MenuItem
	menuLast   *systray.MenuItem
}

// New creates a new Tray reflecting the given enabled state.
func New(enabled bool) *Tray {
	return &Tray{
		enabled: enabled,
		last:    lastTitle(nil),
	}
}

// OnToggle sets the callback function to be called when actuation is toggled.
func (t *Tray) OnToggle(fn func(enabled bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnStatus sets the callback for the status menu item. Without one the
// item is not shown.
func (t *Tray) OnStatus(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStatus = fn
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

// Quit closes the tray from outside the menu, e.g. when the pipeline stops.
func (t *Tray) Quit() {
	systray.Quit()
}

// onReady is called when the system tray is ready.
// It sets up the menu structure.
func (t *Tray) onReady() {
	systray.SetTitle("Pointerlink")
	systray.SetTooltip("Pointerlink target actuation")

	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem(toggleTitle(t.enabled), "Pause or resume actuation")
	systray.AddSeparator()
	t.menuLast = systray.AddMenuItem(t.last, "Last selected target")
	t.menuLast.Disable()
	hasStatus := t.onStatus != nil
	t.mu.Unlock()
	systray.AddSeparator()

	var statusCh <-chan struct{}
	if hasStatus {
		statusCh = systray.AddMenuItem("Open Status...", "Open the status page in a browser").ClickedCh
		systray.AddSeparator()
	}

	menuQuit := systray.AddMenuItem("Quit", "Stop the pipeline and quit")

	// Handle menu item clicks in a separate goroutine
	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-statusCh:
				t.handleStatus()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

// handleToggle handles the toggle menu item click.
func (t *Tray) handleToggle() {
	t.mu.Lock()
	t.enabled = !t.enabled
	enabled := t.enabled
	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(enabled))
	}
	callback := t.onToggle
	t.mu.Unlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		callback(enabled)
	}
}

func (t *Tray) handleStatus() {
	t.mu.RLock()
	callback := t.onStatus
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// handleQuit asks the pipeline to stop; the tray closes once it has.
func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
	systray.Quit()
}

// OnCycle updates the last target line. It implements app.Observer.
func (t *Tray) OnCycle(ev app.CycleEvent) {
	if ev.Target == nil {
		return
	}
	title := lastTitle(ev.Target)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = title
	if t.menuLast != nil {
		t.menuLast.SetTitle(title)
	}
}

// LastTarget returns the text shown for the last target.
func (t *Tray) LastTarget() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last
}

// IsEnabled returns the current enabled state.
func (t *Tray) IsEnabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

func toggleTitle(enabled bool) string {
	if enabled {
		return "● Actuating"
	}
	return "○ Paused"
}

func lastTitle(ti *app.TargetInfo) string {
	if ti == nil {
		return "Last: none"
	}
	label := ti.Label
	if label == "" {
		label = "target"
	}
	if ti.Marked {
		label += "*"
	}
	return fmt.Sprintf("Last: %s %.2f -> (%d,%d)", label, ti.Confidence, ti.Mapped.X, ti.Mapped.Y)
}
