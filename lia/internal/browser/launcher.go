// Package browser runs registry sessions on Chrome through Rod: one
// browser process (or one incognito context on a remote Chrome) and one
// stealth page per session.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// ErrElementNotFound is returned when a selector does not resolve within
// Config.ElementTimeout.
var ErrElementNotFound = errors.New("element not found")

// Config configures session startup.
type Config struct {
	// Headless runs Chrome without a window. When false and XvfbDisplay is
	// set, a virtual display is started for the session.
	Headless bool `yaml:"headless"`

	// RemoteURL is the DevTools WebSocket URL of an external Chrome.
	// Sessions then use an incognito context instead of a new process.
	RemoteURL string `yaml:"remote_url"`

	XvfbDisplay string `yaml:"xvfb_display"`

	// Bin overrides the Chrome binary. Empty lets Rod find or fetch one.
	Bin string `yaml:"bin"`

	// ResourceBlocking lists resource types to drop ("fonts", "media").
	// Never block images: the CAPTCHA is one.
	ResourceBlocking []string `yaml:"resource_blocking"`

	ViewportWidth  int `yaml:"viewport_width"`
	ViewportHeight int `yaml:"viewport_height"`

	NavigateTimeout time.Duration `yaml:"navigate_timeout"`
	ElementTimeout  time.Duration `yaml:"element_timeout"`
	SettleTimeout   time.Duration `yaml:"settle_timeout"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.ViewportWidth <= 0 {
		c.ViewportWidth = 1280
	}
	if c.ViewportHeight <= 0 {
		c.ViewportHeight = 900
	}
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 30 * time.Second
	}
	if c.ElementTimeout <= 0 {
		c.ElementTimeout = 5 * time.Second
	}
	if c.SettleTimeout <= 0 {
		c.SettleTimeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Launcher opens sessions. With RemoteURL set it keeps one connection to
// the remote Chrome and hands each session its own incognito context.
type Launcher struct {
	cfg Config

	mu           sync.Mutex
	remote       *rod.Browser
	remoteCancel context.CancelFunc
}

// NewLauncher returns a Launcher. Nothing starts until Open.
func NewLauncher(cfg Config) *Launcher {
	cfg.defaults()
	return &Launcher{cfg: cfg}
}

// Open starts a browser and a stealth page. On failure everything started
// so far is torn down.
func (l *Launcher) Open(ctx context.Context) (s *Session, err error) {
	s = &Session{cfg: l.cfg}
	defer func() {
		if err != nil {
			s.Close()
			s = nil
		}
	}()

	if !l.cfg.Headless && l.cfg.XvfbDisplay != "" && l.cfg.RemoteURL == "" {
		if s.xvfb, err = startXvfb(l.cfg.XvfbDisplay); err != nil {
			return nil, fmt.Errorf("browser: xvfb: %w", err)
		}
		l.cfg.Logger.Debug("browser: xvfb started", "display", l.cfg.XvfbDisplay)
	}

	if err := l.connect(ctx, s); err != nil {
		return nil, err
	}

	page, err := stealth.Page(s.browser)
	if err != nil {
		return nil, fmt.Errorf("browser: create page: %w", err)
	}
	s.page = page

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             l.cfg.ViewportWidth,
		Height:            l.cfg.ViewportHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		return nil, fmt.Errorf("browser: viewport: %w", err)
	}

	if len(l.cfg.ResourceBlocking) > 0 {
		s.router = blockResources(page, l.cfg.ResourceBlocking)
	}
	return s, nil
}

func (l *Launcher) connect(ctx context.Context, s *Session) error {
	log := l.cfg.Logger

	if l.cfg.RemoteURL != "" {
		b, err := l.remoteBrowser()
		if err != nil {
			return err
		}
		inc, err := b.Incognito()
		if err != nil {
			return fmt.Errorf("browser: incognito: %w", err)
		}
		s.browser = inc
		log.Debug("browser: remote session", "url", l.cfg.RemoteURL)
		return nil
	}

	lc := launcher.New().Context(ctx).
		Headless(l.cfg.Headless).
		Set("disable-blink-features", "AutomationControlled")
	if l.cfg.Bin != "" {
		lc = lc.Bin(l.cfg.Bin)
	}
	if !l.cfg.Headless && l.cfg.XvfbDisplay != "" {
		lc = lc.Env(append(os.Environ(), "DISPLAY="+l.cfg.XvfbDisplay)...)
	}
	s.launcher = lc

	u, err := lc.Launch()
	if err != nil {
		return fmt.Errorf("browser: launch: %w", err)
	}
	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("browser: connect: %w", err)
	}
	s.browser = b
	log.Debug("browser: launched local chrome", "headless", l.cfg.Headless)
	return nil
}

func (l *Launcher) remoteBrowser() (*rod.Browser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.remote != nil {
		return l.remote, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := rod.New().Context(ctx).ControlURL(l.cfg.RemoteURL)
	if err := b.Connect(); err != nil {
		cancel()
		return nil, fmt.Errorf("browser: connect remote: %w", err)
	}
	l.remote, l.remoteCancel = b, cancel
	return b, nil
}

// Close drops the remote connection, if any. Open sessions are not
// affected when Chrome is local.
func (l *Launcher) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.remoteCancel != nil {
		l.remoteCancel()
	}
	l.remote, l.remoteCancel = nil, nil
	return nil
}

func startXvfb(display string) (*exec.Cmd, error) {
	cmd := exec.Command("Xvfb", display, "-screen", "0", "1920x1080x24", "-ac")
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	time.Sleep(500 * time.Millisecond)
	return cmd, nil
}
