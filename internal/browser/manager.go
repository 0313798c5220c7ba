// Package browser owns the one long-lived chromium instance: launched with
// a persistent profile so portal cookies survive restarts, or connected to
// a remote instance.
package browser

import (
	"context"
	"errors"
	"fmt"
	"html"
	"path/filepath"
	"sync"

	"gradewatch/internal/surface"
	"gradewatch/internal/telemetry"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

type Config struct {
	// UserDataDir is the persistent profile directory.
	UserDataDir string
	Headless    bool
	Bin         string
	// RemoteURL is the websocket url of a running browser, empty launches
	// a local one.
	RemoteURL string
}

const (
	report_manager_popup = "manager.popup"
	report_manager_close = "manager.close"
)

var errClosed = errors.New("browser: manager is closed")

type Manager struct {
	cfg Config
	tel telemetry.API

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	popup   *rod.Page
	closed  bool
}

func NewManager(cfg Config, tel telemetry.API) *Manager {
	return &Manager{cfg: cfg, tel: tel}
}

// Start launches or connects to the browser.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errClosed
	}
	if m.browser != nil {
		return nil
	}

	wsURL := m.cfg.RemoteURL
	if wsURL == "" {
		dir, err := filepath.Abs(m.cfg.UserDataDir)
		if err != nil {
			return fmt.Errorf("browser: profile dir: %w", err)
		}

		l := launcher.New().
			Context(ctx).
			UserDataDir(dir).
			Headless(m.cfg.Headless).
			Set("disable-blink-features", "AutomationControlled")
		if m.cfg.Bin != "" {
			l = l.Bin(m.cfg.Bin)
		}

		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		m.tel.ReportDebug("launched local browser", "profile", dir, "headless", m.cfg.Headless)
	} else {
		m.tel.ReportDebug("connecting to remote browser", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		if m.lnch != nil {
			m.lnch.Kill()
			m.lnch = nil
		}
		return fmt.Errorf("browser: connect: %w", err)
	}
	m.browser = b
	return nil
}

func (m *Manager) current() (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errClosed
	}
	if m.browser == nil {
		return nil, errors.New("browser: not started")
	}
	return m.browser, nil
}

// NewPage opens a stealth tab, the caller closes it.
func (m *Manager) NewPage(ctx context.Context) (surface.Page, error) {
	b, err := m.current()
	if err != nil {
		return nil, err
	}
	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	return surface.NewRodPage(page), nil
}

const popupScript = `(message) => setTimeout(() => alert(message), 100)`

// Popup shows title and message in a tab of its own and raises a modal
// alert on it. A previous popup tab is replaced.
func (m *Manager) Popup(ctx context.Context, title, message string) error {
	b, err := m.current()
	if err != nil {
		return err
	}

	m.mu.Lock()
	previous := m.popup
	m.popup = nil
	m.mu.Unlock()
	if previous != nil {
		previous.Close()
	}

	page, err := b.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return fmt.Errorf("browser: popup tab: %w", err)
	}

	document := fmt.Sprintf(
		`<html><head><meta charset="utf-8"><title>%[1]s</title></head>`+
			`<body style="font-family: sans-serif; margin: 24px"><h2>%[1]s</h2><pre>%[2]s</pre></body></html>`,
		html.EscapeString(title),
		html.EscapeString(message),
	)
	if err := page.SetDocumentContent(document); err != nil {
		page.Close()
		return fmt.Errorf("browser: popup content: %w", err)
	}
	if _, err := page.Activate(); err != nil {
		m.tel.ReportWarning(report_manager_popup, err)
	}
	if _, err := page.Eval(popupScript, title+"\n\n"+message); err != nil {
		m.tel.ReportWarning(report_manager_popup, err)
	}

	m.mu.Lock()
	m.popup = page.Context(context.Background())
	m.mu.Unlock()
	return nil
}

// Close shuts the browser down. The profile directory is kept.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	var err error
	if m.browser != nil {
		err = m.browser.Close()
		if err != nil {
			m.tel.ReportWarning(report_manager_close, err)
		}
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Kill()
		m.lnch = nil
	}
	m.popup = nil
	return err
}
