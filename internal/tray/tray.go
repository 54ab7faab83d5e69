// Package tray provides a macOS system tray interface for the LiDARCast
// streaming producer.
package tray

import (
	"fmt"
	"sync"

	"github.com/getlantern/systray"
)

// Tray represents the macOS system tray application.
type Tray struct {
	onToggle  func(enabled bool)
	onMonitor func()
	onQuit    func()
	enabled   bool
	mu        sync.RWMutex

	// Menu items stored for later updates
	menuToggle *systray.MenuItem
	menuStats  *systray.MenuItem
}

// New creates a new Tray instance with streaming enabled by default.
func New() *Tray {
	return &Tray{
		enabled: true,
	}
}

// OnToggle sets the callback function to be called when streaming is
// paused or resumed.
func (t *Tray) OnToggle(fn func(enabled bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnMonitor sets the callback function to be called when the monitor
// menu item is clicked.
func (t *Tray) OnMonitor(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onMonitor = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit tears the tray down, unblocking Run.
func (t *Tray) Quit() {
	systray.Quit()
}

// onReady is called when the system tray is ready.
// It sets up the menu structure.
func (t *Tray) onReady() {
	// Set the tray title and tooltip
	systray.SetTitle("LiDARCast")
	systray.SetTooltip("LiDARCast Frame Streaming")

	// Create menu items
	t.menuToggle = systray.AddMenuItem("● Streaming", "Pause or resume the frame stream")
	systray.AddSeparator()

	t.menuStats = systray.AddMenuItem("No frames yet", "Live stream statistics")
	t.menuStats.Disable()
	systray.AddSeparator()

	menuMonitor := systray.AddMenuItem("Open Monitor...", "Open the monitor in a browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit LiDARCast")

	// Handle menu item clicks in a separate goroutine
	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-menuMonitor.ClickedCh:
				t.handleMonitor()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

// onExit is called when the system tray is about to exit.
// It performs cleanup tasks.
func (t *Tray) onExit() {
	// Cleanup resources if needed
}

// handleToggle handles the toggle menu item click.
func (t *Tray) handleToggle() {
	t.mu.Lock()
	t.enabled = !t.enabled
	enabled := t.enabled

	// Update menu item text based on new state
	if enabled {
		t.menuToggle.SetTitle("● Streaming")
	} else {
		t.menuToggle.SetTitle("○ Paused")
	}

	callback := t.onToggle
	t.mu.Unlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		callback(enabled)
	}
}

// handleMonitor handles the monitor menu item click.
func (t *Tray) handleMonitor() {
	t.mu.RLock()
	callback := t.onMonitor
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

// SetStats updates the live statistics line in the menu.
func (t *Tray) SetStats(fps float64, hands int, connected bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.menuStats == nil {
		return
	}
	if !connected {
		t.menuStats.SetTitle("Disconnected")
		return
	}
	t.menuStats.SetTitle(fmt.Sprintf("%.1f fps | %d hands", fps, hands))
}

// IsEnabled returns the current enabled state.
func (t *Tray) IsEnabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}
