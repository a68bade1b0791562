// Package browser drives a headless Chrome session for pages that need
// JavaScript to render.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
	"github.com/codeGROOVE-dev/retry"
)

// ErrElementNotFound is returned by FindElement when nothing matches.
var ErrElementNotFound = errors.New("element not found")

// Options configures a session.
type Options struct {
	Headless bool
	Attempts uint          // page load attempts
	Timeout  time.Duration // per page load
	Sleep    time.Duration // settle time after load or click, and between attempts
}

// DefaultOptions returns headless mode, 3 attempts, a 10s load timeout and a
// 3s settle time.
func DefaultOptions() Options {
	return Options{
		Headless: true,
		Attempts: 3,
		Timeout:  10 * time.Second,
		Sleep:    3 * time.Second,
	}
}

// Session is one browser tab.
type Session struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	logger      *slog.Logger
	opts        Options
	current     string
}

// New starts a browser. Starting is attempted opts.Attempts times.
func New(ctx context.Context, logger *slog.Logger, opts Options) (*Session, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.NoFirstRun,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("autoplay-policy", "no-user-gesture-required"),
		chromedp.WindowSize(1920, 1080),
	)

	var s *Session
	err := retry.Do(
		func() error {
			allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocOpts...)
			tabCtx, cancel := chromedp.NewContext(allocCtx)
			// Run with no actions starts the browser.
			if err := chromedp.Run(tabCtx); err != nil {
				cancel()
				allocCancel()
				return fmt.Errorf("start browser: %w", err)
			}
			s = &Session{
				ctx:         tabCtx,
				cancel:      cancel,
				allocCancel: allocCancel,
				logger:      logger,
				opts:        opts,
			}
			return nil
		},
		retry.Attempts(opts.Attempts),
		retry.Delay(opts.Sleep),
		retry.DelayType(retry.FixedDelay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			logger.Error("Could not create a browser session, trying again", "attempt", n, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create browser session: %w", err)
	}
	return s, nil
}

// Close shuts the tab and the browser down.
func (s *Session) Close() {
	s.cancel()
	s.allocCancel()
}

// run executes actions on the tab, bounded by timeout and by the caller's ctx.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	runCtx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (s *Session) settle(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.opts.Sleep):
		return nil
	}
}

// Load navigates to url and waits for the page to settle. Failed loads are
// retried with a fixed delay.
func (s *Session) Load(ctx context.Context, url string) error {
	err := retry.Do(
		func() error {
			start := time.Now()
			if err := s.run(ctx, s.opts.Timeout, chromedp.Navigate(url)); err != nil {
				s.logger.Warn("Page load failed",
					"url", url,
					"duration_ms", time.Since(start).Milliseconds(),
					"error", err)
				return err
			}
			s.logger.Info("Page loaded", "url", url, "duration_ms", time.Since(start).Milliseconds())
			return s.settle(ctx)
		},
		retry.Attempts(s.opts.Attempts),
		retry.Delay(s.opts.Sleep),
		retry.DelayType(retry.FixedDelay),
		retry.Context(ctx),
	)
	if err != nil {
		return fmt.Errorf("load %s: %w", url, err)
	}
	s.current = url
	return nil
}

// HTML returns the rendered document.
func (s *Session) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, s.opts.Timeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read page %s: %w", s.current, err)
	}
	return html, nil
}

func (s *Session) snapshot(ctx context.Context) (*goquery.Document, error) {
	html, err := s.HTML(ctx)
	if err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

// FindElements returns every element matching the CSS selector in the
// current rendering. The selection is a snapshot.
func (s *Session) FindElements(ctx context.Context, selector string) (*goquery.Selection, error) {
	doc, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Find(selector), nil
}

// FindElement returns the first element matching selector, or
// ErrElementNotFound.
func (s *Session) FindElement(ctx context.Context, selector string) (*goquery.Selection, error) {
	sel, err := s.FindElements(ctx, selector)
	if err != nil {
		return nil, err
	}
	if sel.Length() == 0 {
		return nil, fmt.Errorf("%w: %s on %s", ErrElementNotFound, selector, s.current)
	}
	return sel.First(), nil
}

// ClickOrIgnore clicks the first element matching selector if one is present
// and waits for the page to settle. It reports whether a click happened; a
// missing or unclickable element is not an error.
func (s *Session) ClickOrIgnore(ctx context.Context, selector string) (bool, error) {
	sel, err := s.FindElements(ctx, selector)
	if err != nil {
		return false, err
	}
	if sel.Length() == 0 {
		s.logger.Debug("Nothing to click", "selector", selector)
		return false, nil
	}
	if err := s.run(ctx, s.opts.Timeout, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		s.logger.Debug("Click failed, ignoring", "selector", selector, "error", err)
		return false, nil
	}
	return true, s.settle(ctx)
}

// Text returns the visible text of the current page.
func (s *Session) Text(ctx context.Context) (string, error) {
	doc, err := s.snapshot(ctx)
	if err != nil {
		return "", err
	}
	return doc.Find("body").Text(), nil
}
