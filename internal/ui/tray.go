// Package ui runs the system tray surface. The tray is status-only plus a
// couple of global controls; all real interaction happens in the browser.
package ui

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/getlantern/systray"

	"github.com/frameloop/frameloop-agent/internal/session"
)

type Tray struct {
	sessions *session.Manager
	logger   *slog.Logger

	statusItem   *systray.MenuItem
	sessionsItem *systray.MenuItem

	mu sync.Mutex

	onQuit func()
}

type TrayConfig struct {
	Sessions *session.Manager
	Logger   *slog.Logger
	OnQuit   func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		sessions: cfg.Sessions,
		logger:   cfg.Logger,
		onQuit:   cfg.OnQuit,
	}
}

func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes)
	systray.SetTitle("Frameloop")
	systray.SetTooltip("Frameloop Agent")

	t.mu.Lock()
	t.statusItem = systray.AddMenuItem("Status: Idle", "Current agent status")
	t.statusItem.Disable()

	t.sessionsItem = systray.AddMenuItem("Sessions: 0", "Open editing sessions")
	t.sessionsItem.Disable()
	t.mu.Unlock()

	systray.AddSeparator()

	pauseAllItem := systray.AddMenuItem("Pause All Playback", "Pause every open session")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit Frameloop Agent")

	go func() {
		for {
			select {
			case <-pauseAllItem.ClickedCh:
				t.pauseAll()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			}
		}
	}()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	t.logger.Info("system tray exiting")
}

func (t *Tray) pauseAll() {
	if t.sessions == nil {
		return
	}
	for _, s := range t.sessions.List() {
		s.Pause()
	}
	t.UpdateStatus("Idle")
}

// UpdateStatus is a no-op until the tray's onReady has built the menu; the
// next refresh catches up.
func (t *Tray) UpdateStatus(status string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.statusItem == nil {
		return
	}
	t.statusItem.SetTitle("Status: " + status)
}

func (t *Tray) UpdateSessionsCount(count int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sessionsItem == nil {
		return
	}
	t.sessionsItem.SetTitle(fmt.Sprintf("Sessions: %d", count))
}

func (t *Tray) Quit() {
	systray.Quit()
}
