// Package browserhost drives real Chrome tabs through Rod. Each observed tab
// gets the page shim injected; its records come back through a CDP binding
// and drive a shim.Session (mirrored DOM plus friction engine).
package browserhost

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// Config configures the browser manager.
type Config struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty launches a local Chrome.
	RemoteURL string

	Headless bool
	// Stealth opens tabs through go-rod/stealth.
	Stealth bool

	// ResourceBlocking lists resource types to block (images, fonts, media,
	// stylesheets).
	ResourceBlocking []string

	ViewportWidth  int // default 1366
	ViewportHeight int // default 768

	// NavigateTimeout bounds the initial navigation of a tab. Default: 30s.
	NavigateTimeout time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.ViewportWidth <= 0 {
		c.ViewportWidth = 1366
	}
	if c.ViewportHeight <= 0 {
		c.ViewportHeight = 768
	}
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager owns the Chrome process (or remote connection) and the pages
// observed in it.
type Manager struct {
	cfg Config

	mu      sync.RWMutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	pages   map[string]*Page
	closed  bool
}

// NewManager creates a Manager. Call Start to launch Chrome.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg, pages: make(map[string]*Page)}
}

// Start launches Chrome, or connects to the remote instance. Calling it
// again returns the running browser.
func (m *Manager) Start(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("browserhost: manager is closed")
	}
	if m.browser != nil {
		return m.browser, nil
	}

	controlURL, err := m.controlURL(ctx)
	if err != nil {
		return nil, err
	}
	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		m.cleanupLauncher()
		return nil, fmt.Errorf("browserhost: connect: %w", err)
	}
	if err := b.IgnoreCertErrors(true); err != nil {
		m.cfg.Logger.Warn("browserhost: ignore cert errors failed", "error", err)
	}
	m.browser = b
	return b, nil
}

// controlURL returns the DevTools WebSocket URL, launching a local Chrome
// when no remote is configured.
func (m *Manager) controlURL(ctx context.Context) (string, error) {
	if m.cfg.RemoteURL != "" {
		m.cfg.Logger.Info("browserhost: connecting to remote", "url", m.cfg.RemoteURL)
		return m.cfg.RemoteURL, nil
	}
	l := launcher.New().Context(ctx).Headless(m.cfg.Headless)
	if m.cfg.Stealth {
		l = l.Set("disable-blink-features", "AutomationControlled")
	}
	u, err := l.Launch()
	if err != nil {
		return "", fmt.Errorf("browserhost: launch: %w", err)
	}
	m.lnch = l
	m.cfg.Logger.Info("browserhost: launched local chrome", "url", u, "headless", m.cfg.Headless)
	return u, nil
}

func (m *Manager) cleanupLauncher() {
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
}

// Browser returns the current Rod browser handle.
func (m *Manager) Browser() *rod.Browser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser
}

// Pages returns the open pages, in no particular order.
func (m *Manager) Pages() []*Page {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Page, 0, len(m.pages))
	for _, p := range m.pages {
		out = append(out, p)
	}
	return out
}

func (m *Manager) track(p *Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("browserhost: manager is closed")
	}
	if _, dup := m.pages[p.ID()]; dup {
		return fmt.Errorf("browserhost: page %q already open", p.ID())
	}
	m.pages[p.ID()] = p
	return nil
}

func (m *Manager) forget(p *Page) {
	m.mu.Lock()
	if m.pages[p.ID()] == p {
		delete(m.pages, p.ID())
	}
	m.mu.Unlock()
}

// Close ends every open page view, then shuts Chrome down. A remote
// browser is disconnected, not killed.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	pages := make([]*Page, 0, len(m.pages))
	for _, p := range m.pages {
		pages = append(pages, p)
	}
	m.mu.Unlock()

	for _, p := range pages {
		if err := p.Close(); err != nil {
			m.cfg.Logger.Debug("browserhost: close page", "page_id", p.ID(), "error", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var err error
	if m.browser != nil {
		err = m.browser.Close()
		m.browser = nil
	}
	m.cleanupLauncher()
	return err
}
