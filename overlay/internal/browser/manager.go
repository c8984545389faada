// Package browser runs the Chrome process that hosts supervised pages. The
// manager launches or connects through rod, samples heap usage and restarts
// Chrome past a memory or lifetime limit, handing the tabs back to their
// owner around the restart.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Mode selects how a local Chrome is run.
type Mode int

const (
	ModeHeadless Mode = iota
	ModeHeadful       // under Xvfb
)

func (m Mode) String() string {
	if m == ModeHeadful {
		return "headful"
	}
	return "headless"
}

// ParseMode accepts "headless" (or empty) and "headful".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "headless":
		return ModeHeadless, nil
	case "headful":
		return ModeHeadful, nil
	}
	return ModeHeadless, fmt.Errorf("browser: unknown mode %q", s)
}

// Config configures a Manager.
type Config struct {
	// RemoteURL is the DevTools WebSocket of an external Chrome. Empty
	// launches a local one.
	RemoteURL string
	// MemoryLimit is the summed JS heap, in bytes, past which Chrome is
	// restarted. Default: 1GB.
	MemoryLimit int64
	// RecycleInterval is the longest a Chrome process lives. Default: 4h.
	RecycleInterval time.Duration
	// CheckInterval is the heap sampling period. Default: 30s.
	CheckInterval time.Duration
	// ResourceBlocking lists request types tabs refuse: images, fonts, media.
	ResourceBlocking []string
	Mode             Mode
	// XvfbDisplay is used in headful mode. Default: ":99".
	XvfbDisplay string
	Logger      *slog.Logger
}

func (c *Config) defaults() {
	if c.MemoryLimit <= 0 {
		c.MemoryLimit = 1 << 30
	}
	if c.RecycleInterval <= 0 {
		c.RecycleInterval = 4 * time.Hour
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 30 * time.Second
	}
	if c.XvfbDisplay == "" {
		c.XvfbDisplay = ":99"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Owner holds the tabs of the managed browser. A restart calls Suspend
// before the old process goes away and Resume once the new one is up.
type Owner interface {
	Suspend()
	Resume(ctx context.Context) error
}

// Manager owns one Chrome process at a time.
type Manager struct {
	cfg Config

	mu       sync.RWMutex
	browser  *rod.Browser
	lnch     *launcher.Launcher
	display  *display
	started  time.Time
	recycles int
	closed   bool
	owner    Owner
}

// NewManager returns a Manager. Start launches Chrome.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Config returns the configuration with defaults applied.
func (m *Manager) Config() Config { return m.cfg }

// SetOwner registers the tab owner notified around restarts.
func (m *Manager) SetOwner(o Owner) {
	m.mu.Lock()
	m.owner = o
	m.mu.Unlock()
}

// Browser returns the live handle, nil before Start and after Close.
func (m *Manager) Browser() *rod.Browser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser
}

// Recycles counts completed restarts.
func (m *Manager) Recycles() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.recycles
}

// Start brings Chrome up and samples it until ctx is done.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("browser: manager is closed")
	}
	if err := m.launchLocked(); err != nil {
		return err
	}
	go m.monitor(ctx)
	return nil
}

// Recycle restarts Chrome. The owner's tabs are suspended first and
// reopened on the new process.
func (m *Manager) Recycle(ctx context.Context, reason string) error {
	m.mu.RLock()
	closed, owner, uptime := m.closed, m.owner, time.Since(m.started)
	m.mu.RUnlock()
	if closed {
		return fmt.Errorf("browser: manager is closed")
	}
	m.cfg.Logger.Info("browser: recycling", "reason", reason, "uptime", uptime)

	// The owner closes its tabs through Browser(), so it runs unlocked.
	if owner != nil {
		owner.Suspend()
	}

	m.mu.Lock()
	m.teardownLocked()
	err := m.launchLocked()
	if err == nil {
		m.recycles++
	}
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("browser: relaunch: %w", err)
	}

	if owner != nil {
		if err := owner.Resume(ctx); err != nil {
			m.cfg.Logger.Error("browser: reopen tabs after recycle", "error", err)
		}
	}
	return nil
}

// Close stops Chrome and Xvfb. The manager cannot be restarted.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.teardownLocked()
	return nil
}

func (m *Manager) launchLocked() error {
	u, err := m.controlURL()
	if err != nil {
		m.teardownLocked()
		return err
	}
	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		m.teardownLocked()
		return fmt.Errorf("browser: connect: %w", err)
	}
	if err := b.IgnoreCertErrors(true); err != nil {
		m.cfg.Logger.Warn("browser: ignore cert errors", "error", err)
	}
	m.browser, m.started = b, time.Now()
	return nil
}

// controlURL connects to the remote Chrome or launches a local one.
func (m *Manager) controlURL() (string, error) {
	if m.cfg.RemoteURL != "" {
		m.cfg.Logger.Info("browser: using remote chrome", "url", m.cfg.RemoteURL)
		return m.cfg.RemoteURL, nil
	}

	l := launcher.New().
		Headless(m.cfg.Mode == ModeHeadless).
		Set("disable-blink-features", "AutomationControlled")
	if m.cfg.Mode == ModeHeadful {
		d, err := startDisplay(m.cfg.XvfbDisplay, m.cfg.Logger)
		if err != nil {
			return "", err
		}
		m.display = d
		l = l.Env(append(os.Environ(), "DISPLAY="+d.name)...)
	}
	u, err := l.Launch()
	if err != nil {
		return "", fmt.Errorf("browser: launch: %w", err)
	}
	m.lnch = l
	m.cfg.Logger.Info("browser: launched chrome", "mode", m.cfg.Mode, "url", u)
	return u, nil
}

func (m *Manager) teardownLocked() {
	if m.browser != nil {
		m.browser.Close()
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	if m.display != nil {
		m.display.stop(m.cfg.Logger)
		m.display = nil
	}
}

// recycleReason names the limit a process has crossed, or "".
func (m *Manager) recycleReason(uptime time.Duration, heap int64) string {
	switch {
	case uptime > m.cfg.RecycleInterval:
		return "lifetime"
	case heap > m.cfg.MemoryLimit:
		return "memory"
	}
	return ""
}

func (m *Manager) monitor(ctx context.Context) {
	t := time.NewTicker(m.cfg.CheckInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		m.mu.RLock()
		b, started, closed := m.browser, m.started, m.closed
		m.mu.RUnlock()
		if closed {
			return
		}
		reason := "relaunch"
		if b != nil {
			reason = m.recycleReason(time.Since(started), heapUsage(b, m.cfg.Logger))
		}
		if reason != "" {
			if err := m.Recycle(ctx, reason); err != nil {
				m.cfg.Logger.Error("browser: recycle failed", "reason", reason, "error", err)
			}
		}
	}
}

// heapUsage sums the used V8 heap of every open tab. Tabs that cannot be
// queried count as zero.
func heapUsage(b *rod.Browser, logger *slog.Logger) int64 {
	pages, err := b.Pages()
	if err != nil {
		logger.Debug("browser: list tabs", "error", err)
		return 0
	}
	var total int64
	for _, p := range pages {
		res, err := proto.RuntimeGetHeapUsage{}.Call(p)
		if err != nil {
			continue
		}
		total += int64(res.UsedSize)
	}
	return total
}
