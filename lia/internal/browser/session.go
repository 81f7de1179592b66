package browser

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Session is one page in one browser. Not safe for concurrent use.
type Session struct {
	cfg      Config
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	router   *rod.HijackRouter
	xvfb     *exec.Cmd

	closeOnce sync.Once
}

// Navigate loads url, waiting at most NavigateTimeout for the load event.
// A slow load event is logged, not returned: the form is usable before
// every asset arrives.
func (s *Session) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavigateTimeout)
	defer cancel()

	p := s.page.Context(navCtx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("browser: navigate: %w", err)
	}
	if err := p.WaitLoad(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.cfg.Logger.Warn("browser: wait load", "error", err)
	}
	return nil
}

// element resolves selector within ElementTimeout. The returned cancel
// must be called once the element is no longer used.
func (s *Session) element(ctx context.Context, selector string) (*rod.Element, context.CancelFunc, error) {
	elCtx, cancel := context.WithTimeout(ctx, s.cfg.ElementTimeout)
	el, err := s.page.Context(elCtx).Element(selector)
	if err != nil {
		cancel()
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, nil, fmt.Errorf("browser: %q: %w", selector, ErrElementNotFound)
		}
		return nil, nil, fmt.Errorf("browser: %q: %w", selector, err)
	}
	return el, cancel, nil
}

// Fill clears the field and types value into it.
func (s *Session) Fill(ctx context.Context, selector, value string) error {
	el, cancel, err := s.element(ctx, selector)
	if err != nil {
		return err
	}
	defer cancel()
	if _, err := el.Eval(`() => { this.value = "" }`); err != nil {
		return fmt.Errorf("browser: clear %q: %w", selector, err)
	}
	if err := el.Input(value); err != nil {
		return fmt.Errorf("browser: input %q: %w", selector, err)
	}
	return nil
}

func (s *Session) Click(ctx context.Context, selector string) error {
	el, cancel, err := s.element(ctx, selector)
	if err != nil {
		return err
	}
	defer cancel()
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("browser: click %q: %w", selector, err)
	}
	return nil
}

// ElementImage waits for the element to be visible and screenshots it.
func (s *Session) ElementImage(ctx context.Context, selector string) ([]byte, error) {
	el, cancel, err := s.element(ctx, selector)
	if err != nil {
		return nil, err
	}
	defer cancel()
	if err := el.WaitVisible(); err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("browser: %q not visible: %w", selector, ErrElementNotFound)
		}
		return nil, fmt.Errorf("browser: wait visible %q: %w", selector, err)
	}
	img, err := el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
	if err != nil {
		return nil, fmt.Errorf("browser: element screenshot: %w", err)
	}
	return img, nil
}

// PageImage captures the top fraction of the full page at viewport width.
func (s *Session) PageImage(ctx context.Context, fraction float64) ([]byte, error) {
	if fraction <= 0 || fraction > 1 {
		return nil, fmt.Errorf("browser: screenshot fraction %v out of (0,1]", fraction)
	}
	p := s.page.Context(ctx)
	res, err := p.Eval(`() => ({h: document.body.scrollHeight, w: window.innerWidth})`)
	if err != nil {
		return nil, fmt.Errorf("browser: page size: %w", err)
	}
	h := res.Value.Get("h").Num()
	w := res.Value.Get("w").Num()
	if w <= 0 {
		w = float64(s.cfg.ViewportWidth)
	}

	img, err := p.Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
		Clip: &proto.PageViewport{
			X:      0,
			Y:      0,
			Width:  w,
			Height: h * fraction,
			Scale:  1,
		},
		CaptureBeyondViewport: true,
	})
	if err != nil {
		return nil, fmt.Errorf("browser: page screenshot: %w", err)
	}
	return img, nil
}

func (s *Session) HTML(ctx context.Context) (string, error) {
	html, err := s.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("browser: read html: %w", err)
	}
	return html, nil
}

// WaitSettle waits up to SettleTimeout for requests and DOM to go quiet.
// Only cancellation of ctx is reported.
func (s *Session) WaitSettle(ctx context.Context) error {
	wctx, cancel := context.WithTimeout(ctx, s.cfg.SettleTimeout)
	defer cancel()
	if err := s.page.Context(wctx).WaitStable(settleQuiet); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.cfg.Logger.Debug("browser: settle", "error", err)
	}
	return nil
}

// Close tears down page, context or process, and display. Safe to call
// more than once and on a partially opened session.
func (s *Session) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		if s.router != nil {
			if err := s.router.Stop(); err != nil {
				errs = append(errs, err)
			}
		}
		if s.page != nil {
			if err := s.page.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if s.browser != nil {
			if err := s.browser.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if s.launcher != nil {
			s.launcher.Cleanup()
		}
		if s.xvfb != nil && s.xvfb.Process != nil {
			s.xvfb.Process.Kill()
			s.xvfb.Wait()
		}
	})
	if len(errs) > 0 {
		return fmt.Errorf("browser: close: %w", errors.Join(errs...))
	}
	return nil
}
