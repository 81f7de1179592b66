package lia

import (
	"context"
	"errors"
	"fmt"

	"github.com/hazyhaar/agentcheck/lia/internal/browser"
)

// BrowserConfig configures Chrome sessions.
type BrowserConfig = browser.Config

// RodSessions starts Chrome sessions through Rod with stealth pages.
type RodSessions struct {
	launcher *browser.Launcher
}

// NewRodSessions returns a session source. Close releases a shared remote
// connection when BrowserConfig.RemoteURL is used.
func NewRodSessions(cfg BrowserConfig) *RodSessions {
	return &RodSessions{launcher: browser.NewLauncher(cfg)}
}

// Open is a SessionFactory.
func (r *RodSessions) Open(ctx context.Context) (Session, error) {
	s, err := r.launcher.Open(ctx)
	if err != nil {
		return nil, err
	}
	return rodSession{s}, nil
}

func (r *RodSessions) Close() error { return r.launcher.Close() }

type rodSession struct {
	*browser.Session
}

func (s rodSession) ArmDialog(ctx context.Context) (Dialog, error) {
	d, err := s.Session.ArmDialog(ctx)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s rodSession) Fill(ctx context.Context, selector, value string) error {
	return notFound(s.Session.Fill(ctx, selector, value))
}

func (s rodSession) Click(ctx context.Context, selector string) error {
	return notFound(s.Session.Click(ctx, selector))
}

func (s rodSession) ElementImage(ctx context.Context, selector string) ([]byte, error) {
	img, err := s.Session.ElementImage(ctx, selector)
	return img, notFound(err)
}

// notFound re-tags the browser's lookup failure with ErrElementNotFound.
func notFound(err error) error {
	if errors.Is(err, browser.ErrElementNotFound) {
		return fmt.Errorf("%w: %v", ErrElementNotFound, err)
	}
	return err
}
