package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"boligping/pkg/bolig"

	"github.com/PuerkitoBio/goquery"
)

// Selectors and markers on the rendered search page.
const (
	CookieRejectSelector = "button#didomi-notice-disagree-button"
	ResultCountSelector  = "h1.text-xl"
	NextPageSelector     = "ul[role='navigation'] a[role='button'][rel='next']"
)

// noResultsMarkers appear in the rendered text when a search page does not
// exist, e.g. for an unknown city.
var noResultsMarkers = []string{
	"Siden blev ikke fundet",
	"Siden findes ikke",
}

// Browser is the part of a browser session the web source drives.
type Browser interface {
	Load(ctx context.Context, url string) error
	FindElement(ctx context.Context, selector string) (*goquery.Selection, error)
	FindElements(ctx context.Context, selector string) (*goquery.Selection, error)
	ClickOrIgnore(ctx context.Context, selector string) (bool, error)
	Text(ctx context.Context) (string, error)
}

// WebSource reads search results from the rendered site through a browser.
// It is stateful: pages must be requested in order.
type WebSource struct {
	browser Browser
	logger  *slog.Logger
	current int
}

// NewWebSource creates a web source driving b.
func NewWebSource(b Browser, logger *slog.Logger) *WebSource {
	return &WebSource{browser: b, logger: logger}
}

// Page navigates to page n. Page 1 loads the search URL; later pages click
// the "next" button and fall back to loading the page URL directly.
func (s *WebSource) Page(ctx context.Context, q *bolig.Query, n int) (*Page, error) {
	if n <= 1 || n != s.current+1 {
		return s.load(ctx, q, n)
	}

	clicked, err := s.browser.ClickOrIgnore(ctx, NextPageSelector)
	if err != nil {
		return nil, &SourceUnavailableError{URL: q.RenderRequest(bolig.TargetWeb, n).URL, Err: err}
	}
	if !clicked {
		s.logger.Warn("Next page button missing, loading page directly", "page", n)
		return s.load(ctx, q, n)
	}
	s.current = n
	return s.Refresh(ctx)
}

// Refresh re-reads the result cards currently shown.
func (s *WebSource) Refresh(ctx context.Context) (*Page, error) {
	cards, err := s.browser.FindElements(ctx, CardSelector)
	if err != nil {
		return nil, fmt.Errorf("find result cards: %w", err)
	}
	return &Page{Records: HTMLRecords(cards)}, nil
}

func (s *WebSource) load(ctx context.Context, q *bolig.Query, n int) (*Page, error) {
	pageURL := q.RenderRequest(bolig.TargetWeb, n).URL
	s.logger.Info("Loading search page", "url", pageURL, "page", n)

	if err := s.browser.Load(ctx, pageURL); err != nil {
		return nil, &SourceUnavailableError{URL: pageURL, Err: err}
	}
	if _, err := s.browser.ClickOrIgnore(ctx, CookieRejectSelector); err != nil {
		s.logger.Warn("Could not dismiss cookie banner", "error", err)
	}

	text, err := s.browser.Text(ctx)
	if err != nil {
		return nil, &SourceUnavailableError{URL: pageURL, Err: err}
	}
	for _, marker := range noResultsMarkers {
		if strings.Contains(text, marker) {
			s.logger.Info("Search page does not exist", "url", pageURL, "marker", marker)
			return nil, ErrNoResultsPage
		}
	}

	heading, err := s.browser.FindElement(ctx, ResultCountSelector)
	if err != nil {
		return nil, &SourceUnavailableError{URL: pageURL, Err: fmt.Errorf("find result count: %w", err)}
	}
	total := ExtractNumber(heading.Text())
	if total == nil {
		return nil, &SourceUnavailableError{URL: pageURL, Err: fmt.Errorf("no number in result count %q", strings.TrimSpace(heading.Text()))}
	}

	s.current = n
	page, err := s.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	page.Total = *total
	return page, nil
}
