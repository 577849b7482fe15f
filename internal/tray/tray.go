package tray

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"github.com/getlantern/systray"
	"github.com/petems/miclock/internal/audio"
	"github.com/petems/miclock/internal/config"
	"github.com/petems/miclock/internal/engine"
	"github.com/rs/zerolog"
)

const actionTimeout = 5 * time.Second

// Engine is the part of the enforcement engine the menu needs
type Engine interface {
	RefreshCatalog(ctx context.Context) ([]audio.AudioDevice, error)
	Catalog() []audio.AudioDevice
	CurrentTarget() (string, bool)
	SetTarget(ctx context.Context, id string) error
	ClearTarget(ctx context.Context) error
	Status() engine.Status
	Updates() <-chan struct{}
}

type UI struct {
	engine  Engine
	version string
	commit  string
	log     zerolog.Logger
	onQuit  func()

	mu      sync.Mutex
	slots   []*deviceSlot
	devices []audio.AudioDevice

	// Menu items
	mDevices *systray.MenuItem
	mEmpty   *systray.MenuItem
	mStop    *systray.MenuItem
	mRefresh *systray.MenuItem
	mCopy    *systray.MenuItem
}

type deviceSlot struct {
	item *systray.MenuItem
	id   string
}

func New(eng Engine, version, commit string, log zerolog.Logger) *UI {
	return &UI{
		engine:  eng,
		version: version,
		commit:  commit,
		log:     log,
	}
}

// OnQuit registers fn to run when the user picks Quit, before the tray exits
func (u *UI) OnQuit(fn func()) {
	u.onQuit = fn
}

// Run blocks until the tray exits. It must be called from the main goroutine.
func (u *UI) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		systray.Quit()
	}()
	systray.Run(u.onReady, u.onExit)
	return nil
}

func (u *UI) onReady() {
	u.updateTitle(u.engine.Status())
	systray.SetTooltip("Keeps your chosen microphone as the default input")

	header := systray.AddMenuItem("Force use of this microphone", "")
	header.Disable()
	systray.AddSeparator()

	u.mDevices = systray.AddMenuItem("Microphone", "Select the input device to enforce")
	u.mEmpty = u.mDevices.AddSubMenuItem("No microphones found", "")
	u.mEmpty.Disable()

	u.mStop = systray.AddMenuItem("Stop Enforcing", "Forget the selected microphone")
	u.mRefresh = systray.AddMenuItem("Refresh Devices", "Re-scan audio input devices")
	u.mCopy = systray.AddMenuItem("Copy Device ID", "Copy the selected device ID to the clipboard")

	systray.AddSeparator()
	mLogs := systray.AddMenuItem("Open Logs", "View application logs")
	mAbout := systray.AddMenuItem("About", "About miclock")
	mVersion := mAbout.AddSubMenuItem(aboutText(u.version, u.commit), "")
	mVersion.Disable()
	mQuit := systray.AddMenuItem("Quit", "Exit application")

	u.refresh()

	// Event loop
	go u.handleEvents(mLogs, mAbout, mQuit)
	go u.watchEngine()
}

func (u *UI) handleEvents(mLogs, mAbout, mQuit *systray.MenuItem) {
	for {
		select {
		case <-u.mStop.ClickedCh:
			u.stopEnforcing()
		case <-u.mRefresh.ClickedCh:
			u.refresh()
		case <-u.mCopy.ClickedCh:
			u.copyDeviceID()
		case <-mLogs.ClickedCh:
			u.openLogs()
		case <-mAbout.ClickedCh:
			u.showAbout()
		case <-mQuit.ClickedCh:
			if u.onQuit != nil {
				u.onQuit()
			}
			systray.Quit()
			return
		}
	}
}

// watchEngine redraws the menu whenever the engine reports a change
func (u *UI) watchEngine() {
	for range u.engine.Updates() {
		u.render(u.engine.Catalog())
	}
}

// refresh rescans devices; a failed scan still renders the last snapshot
func (u *UI) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	devices, err := u.engine.RefreshCatalog(ctx)
	if err != nil {
		u.log.Error().Err(err).Msg("Failed to list audio devices")
	}
	u.render(devices)
}

func (u *UI) render(devices []audio.AudioDevice) {
	u.mu.Lock()
	defer u.mu.Unlock()

	target, hasTarget := u.engine.CurrentTarget()
	u.devices = devices

	for i, dev := range devices {
		if i == len(u.slots) {
			slot := &deviceSlot{item: u.mDevices.AddSubMenuItemCheckbox(dev.Name, "", false)}
			u.slots = append(u.slots, slot)
			go u.watchSlot(slot)
		}
		slot := u.slots[i]
		slot.id = dev.ID
		slot.item.SetTitle(dev.Name)
		slot.item.SetTooltip(dev.ID)
		if hasTarget && dev.ID == target {
			slot.item.Check()
		} else {
			slot.item.Uncheck()
		}
		slot.item.Show()
	}
	for _, slot := range u.slots[len(devices):] {
		slot.id = ""
		slot.item.Hide()
	}

	if len(devices) == 0 {
		u.mEmpty.Show()
	} else {
		u.mEmpty.Hide()
	}

	u.mDevices.SetTitle(menuTitle(devices, target))
	if hasTarget {
		u.mStop.Enable()
		u.mCopy.Enable()
	} else {
		u.mStop.Disable()
		u.mCopy.Disable()
	}

	u.updateTitle(u.engine.Status())
}

func (u *UI) watchSlot(slot *deviceSlot) {
	for range slot.item.ClickedCh {
		u.mu.Lock()
		id := slot.id
		u.mu.Unlock()
		if id == "" {
			continue
		}
		u.selectDevice(id)
	}
}

func (u *UI) selectDevice(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	if err := u.engine.SetTarget(ctx, id); err != nil {
		u.log.Error().Err(err).Str("device", id).Msg("Failed to select device")
	} else {
		u.log.Info().Str("device", id).Msg("Changed enforced device")
	}
	u.render(u.engine.Catalog())
}

func (u *UI) stopEnforcing() {
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	if err := u.engine.ClearTarget(ctx); err != nil {
		u.log.Error().Err(err).Msg("Failed to clear selection")
	}
	u.render(u.engine.Catalog())
}

func (u *UI) copyDeviceID() {
	target, ok := u.engine.CurrentTarget()
	if !ok {
		return
	}
	if err := clipboard.WriteAll(target); err != nil {
		u.log.Error().Err(err).Msg("Failed to copy device ID")
		return
	}
	u.log.Info().Str("device", target).Msg("Copied device ID to clipboard")
}

func (u *UI) openLogs() {
	dir := filepath.Dir(config.LogPath())

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", dir)
	case "windows":
		cmd = exec.Command("explorer", dir)
	default:
		cmd = exec.Command("xdg-open", dir)
	}
	if err := cmd.Start(); err != nil {
		u.log.Error().Err(err).Str("path", dir).Msg("Failed to open logs")
		return
	}
	go cmd.Wait()
}

func (u *UI) showAbout() {
	u.log.Info().Str("version", u.version).Str("commit", u.commit).Msg("About miclock")
}

// aboutText is shown in the disabled item under About
func aboutText(version, commit string) string {
	return fmt.Sprintf("miclock %s (%s)", version, commit)
}

func (u *UI) onExit() {
	u.log.Info().Msg("Tray closed")
}

// updateTitle sets the tray title with microphone emoji and status indicator
func (u *UI) updateTitle(st engine.Status) {
	systray.SetTitle(fmt.Sprintf("🎤 %s", emojiForStatus(st)))
}

// emojiForStatus returns the indicator for the last reconciliation
func emojiForStatus(st engine.Status) string {
	if !st.Enforcing() {
		return "⚪️" // White - nothing to enforce
	}
	switch st.LastOutcome {
	case engine.Applied, engine.AlreadyCorrect:
		return "🟢" // Green - pinned
	case engine.DeviceNotFound:
		return "🟡" // Yellow - selected device missing
	case engine.SystemRejected, engine.QueryFailed:
		return "🔴" // Red - OS refused or failed
	default:
		return "🟢"
	}
}

// menuTitle names the enforced device in the submenu title
func menuTitle(devices []audio.AudioDevice, target string) string {
	if target == "" {
		return "Microphone: none"
	}
	for _, d := range devices {
		if d.ID == target {
			return "Microphone: " + d.Name
		}
	}
	return "Microphone: " + target
}
