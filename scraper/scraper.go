// Package scraper fetches boligsiden.dk search results and turns them into listings.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"boligping/pkg/bolig"
)

// ErrNoResultsPage means the source has no search page for the query,
// typically because a location does not exist. It is not a failure.
var ErrNoResultsPage = errors.New("no results page for query")

// SourceUnavailableError means a page could not be fetched after retries.
type SourceUnavailableError struct {
	URL string
	Err error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("source unavailable: %s: %v", e.URL, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error {
	return e.Err
}

// IsSourceUnavailable checks if an error is a SourceUnavailableError.
func IsSourceUnavailable(err error) bool {
	var unavailable *SourceUnavailableError
	return errors.As(err, &unavailable)
}

// PaginationStalledError means navigating to a page never produced new
// results.
type PaginationStalledError struct {
	Page int
}

func (e *PaginationStalledError) Error() string {
	return fmt.Sprintf("pagination stalled on page %d", e.Page)
}

// IsPaginationStalled checks if an error is a PaginationStalledError.
func IsPaginationStalled(err error) bool {
	var stalled *PaginationStalledError
	return errors.As(err, &stalled)
}

// Page is one page of raw search results.
type Page struct {
	Total   int // total hits reported by the source
	Records []Record
}

// Source returns page n (1-based) of the results for a query.
type Source interface {
	Page(ctx context.Context, q *bolig.Query, n int) (*Page, error)
}

// Refresher is implemented by stateful sources whose current page can lag
// behind navigation. Refresh re-extracts the records currently shown.
type Refresher interface {
	Refresh(ctx context.Context) (*Page, error)
}

// DefaultStallRetries is how many times a stalled page is re-extracted.
const DefaultStallRetries = 3

// DefaultStallDelay is the wait before each re-extraction. It matches the
// browser's settle time.
const DefaultStallDelay = 3 * time.Second

// Driver walks every page of a search and collects distinct listings.
type Driver struct {
	logger       *slog.Logger
	stallRetries int
	stallDelay   time.Duration
	progress     func(fetched, total int)
	skipped      func()
}

// NewDriver creates a pagination driver.
func NewDriver(logger *slog.Logger) *Driver {
	return &Driver{
		logger:       logger,
		stallRetries: DefaultStallRetries,
		stallDelay:   DefaultStallDelay,
	}
}

// SetStallDelay changes the wait before re-reading a page that added no
// listings.
func (d *Driver) SetStallDelay(delay time.Duration) {
	d.stallDelay = delay
}

// OnProgress registers a callback invoked after every page with the number of
// distinct listings collected so far and the total reported by the source.
func (d *Driver) OnProgress(fn func(fetched, total int)) {
	d.progress = fn
}

// OnSkipped registers a callback invoked for every record that fails to parse.
func (d *Driver) OnSkipped(fn func()) {
	d.skipped = fn
}

// FetchAll requests page 1, derives the page count from the reported total
// and the size of page 1, then requests the remaining pages in order.
// Listings are deduplicated by URL and returned in first-seen order.
//
// ErrNoResultsPage is only meaningful on page 1. A later page that reports it
// is turned into a *SourceUnavailableError.
//
// On *PaginationStalledError the listings gathered so far are returned along
// with the error.
func (d *Driver) FetchAll(ctx context.Context, q *bolig.Query, src Source) ([]*bolig.Listing, error) {
	first, err := src.Page(ctx, q, 1)
	if err != nil {
		return nil, fmt.Errorf("fetch first page: %w", err)
	}

	set := newListingSet()
	d.merge(set, first.Records, 1)
	d.report(set.len(), first.Total)

	if first.Total <= 0 || len(first.Records) == 0 {
		d.logger.Info("Search returned no results", "total", first.Total)
		return set.list(), nil
	}

	pageSize := len(first.Records)
	pages := (first.Total + pageSize - 1) / pageSize
	d.logger.Info("First page fetched",
		"total", first.Total,
		"page_size", pageSize,
		"pages", pages)

	for n := 2; n <= pages; n++ {
		page, err := src.Page(ctx, q, n)
		if errors.Is(err, ErrNoResultsPage) {
			d.logger.Error("Result page vanished during pagination", "page", n, "pages", pages)
			// Not wrapped: callers treat ErrNoResultsPage as a missing location.
			return nil, &SourceUnavailableError{URL: fmt.Sprintf("page %d", n), Err: fmt.Errorf("result page vanished: %v", err)}
		}
		if err != nil {
			return nil, fmt.Errorf("fetch page %d: %w", n, err)
		}
		added := d.merge(set, page.Records, n)

		if added == 0 {
			if r, ok := src.(Refresher); ok {
				for attempt := 1; added == 0; attempt++ {
					if attempt > d.stallRetries {
						d.logger.Error("Page did not change after navigation", "page", n, "attempts", d.stallRetries)
						return set.list(), &PaginationStalledError{Page: n}
					}
					d.logger.Warn("Page added no listings, re-reading", "page", n, "attempt", attempt)
					if err := wait(ctx, d.stallDelay); err != nil {
						return nil, err
					}
					page, err = r.Refresh(ctx)
					if err != nil {
						return nil, fmt.Errorf("refresh page %d: %w", n, err)
					}
					added = d.merge(set, page.Records, n)
				}
			}
		}

		d.logger.Debug("Page fetched", "page", n, "added", added, "fetched", set.len())
		d.report(set.len(), first.Total)
	}

	return set.list(), nil
}

func wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (d *Driver) merge(set *listingSet, recs []Record, page int) int {
	added := 0
	for _, rec := range recs {
		l, err := Parse(rec)
		if err != nil {
			d.logger.Warn("Skipping malformed record", "page", page, "error", err)
			if d.skipped != nil {
				d.skipped()
			}
			continue
		}
		if set.add(l) {
			added++
		}
	}
	return added
}

func (d *Driver) report(fetched, total int) {
	if d.progress != nil {
		d.progress(fetched, total)
	}
}

// listingSet keeps listings keyed by URL in insertion order.
type listingSet struct {
	seen  map[string]bool
	order []*bolig.Listing
}

func newListingSet() *listingSet {
	return &listingSet{seen: make(map[string]bool)}
}

func (s *listingSet) add(l *bolig.Listing) bool {
	if s.seen[l.Key()] {
		return false
	}
	s.seen[l.Key()] = true
	s.order = append(s.order, l)
	return true
}

func (s *listingSet) len() int {
	return len(s.order)
}

func (s *listingSet) list() []*bolig.Listing {
	return s.order
}
