// Package poll runs one search: fetch, drop what was already sent, filter,
// notify and record.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"boligping/email"
	"boligping/metrics"
	"boligping/pkg/bolig"
	"boligping/scraper"
)

// Journal remembers which listings were sent to whom.
type Journal interface {
	SubtractSeen(ctx context.Context, listings []*bolig.Listing, recipients []string) ([]*bolig.Listing, error)
	RecordSeen(ctx context.Context, listings []*bolig.Listing, recipients []string) (int, error)
}

// Filter applies the client-side criteria.
type Filter interface {
	Apply(ctx context.Context, listings []*bolig.Listing, q *bolig.Query) ([]*bolig.Listing, error)
}

// Notifier delivers one message per recipient.
type Notifier interface {
	Notify(ctx context.Context, recipients []string, listings []*bolig.Listing) (*email.Result, error)
	Provider() string
}

// Options control a single run.
type Options struct {
	// Recipients to notify. Empty means console output.
	Recipients []string
	// NoCache skips both journal subtraction and recording.
	NoCache bool
}

// Report summarises a run.
type Report struct {
	EmptyQuery bool
	NoResults  bool
	Fetched    int
	New        int
	Matched    []*bolig.Listing
	Delivered  []string
	Failed     map[string]error
	Recorded   int
}

// Monitor wires the pipeline together.
type Monitor struct {
	source     scraper.Source
	sourceName string
	journal    Journal
	filter     Filter
	notifier   Notifier
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// New creates a monitor reading from source. journal may be nil when every
// run uses NoCache.
func New(source scraper.Source, sourceName string, journal Journal, filter Filter, notifier Notifier, m *metrics.Metrics, logger *slog.Logger) *Monitor {
	if m == nil {
		m = metrics.New()
	}
	return &Monitor{
		source:     source,
		sourceName: sourceName,
		journal:    journal,
		filter:     filter,
		notifier:   notifier,
		metrics:    m,
		logger:     logger,
	}
}

// Run executes one search. An unknown location is reported through
// Report.NoResults, not as an error. Delivery failures are only an error
// when no recipient got the notification.
func (m *Monitor) Run(ctx context.Context, q *bolig.Query, opts Options) (report *Report, err error) {
	start := time.Now()
	defer func() {
		m.metrics.RunDuration.Set(time.Since(start).Seconds())
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		m.metrics.LastRunTimestamp.WithLabelValues(outcome).SetToCurrentTime()
	}()

	recipients := opts.Recipients
	if len(recipients) == 0 {
		recipients = []string{email.ConsoleRecipient}
	}
	if !opts.NoCache && m.journal == nil {
		return nil, errors.New("journal required unless caching is disabled")
	}

	report = &Report{}
	if q.IsEmpty() {
		report.EmptyQuery = true
		m.logger.Warn("Query has no location or range filter, every listing will match")
	}

	driver := scraper.NewDriver(m.logger)
	driver.OnProgress(func(fetched, total int) {
		m.metrics.PagesFetched.WithLabelValues(m.sourceName).Inc()
		m.metrics.ListingsTotal.Set(float64(total))
		m.metrics.ListingsFound.Set(float64(fetched))
		m.logger.Info("Fetching listings", "fetched", fetched, "total", total)
	})
	driver.OnSkipped(func() {
		m.metrics.RecordsSkipped.Inc()
	})

	m.logger.Info("Search starting",
		"source", m.sourceName,
		"locations", q.Locations,
		"recipients", len(recipients),
		"cache", !opts.NoCache)

	listings, err := driver.FetchAll(ctx, q, m.source)
	if errors.Is(err, scraper.ErrNoResultsPage) {
		m.logger.Info("No results for search", "locations", q.Locations)
		report.NoResults = true
		return report, nil
	}
	if err != nil {
		report.Fetched = len(listings)
		if scraper.IsPaginationStalled(err) {
			m.logger.Error("Aborting run with partial results", "fetched", len(listings), "error", err)
		}
		return report, fmt.Errorf("fetch listings: %w", err)
	}
	report.Fetched = len(listings)

	fresh := listings
	if !opts.NoCache {
		fresh, err = m.journal.SubtractSeen(ctx, listings, recipients)
		if err != nil {
			return report, fmt.Errorf("subtract seen listings: %w", err)
		}
	}
	report.New = len(fresh)
	m.metrics.ListingsNew.Set(float64(len(fresh)))

	matched, err := m.filter.Apply(ctx, fresh, q)
	if err != nil {
		return report, fmt.Errorf("filter listings: %w", err)
	}
	report.Matched = matched
	m.metrics.ListingsMatched.Set(float64(len(matched)))

	m.logger.Info("Listings reconciled",
		"fetched", report.Fetched,
		"new", report.New,
		"matched", len(matched))

	if len(matched) == 0 {
		m.logger.Info("No new listings to report")
		return report, nil
	}

	res, err := m.notifier.Notify(ctx, recipients, matched)
	if err != nil {
		return report, fmt.Errorf("notify: %w", err)
	}
	report.Delivered = res.Delivered
	report.Failed = res.Failed
	provider := m.notifier.Provider()
	m.metrics.NotificationsSent.WithLabelValues(provider, "delivered").Add(float64(len(res.Delivered)))
	m.metrics.NotificationsSent.WithLabelValues(provider, "failed").Add(float64(len(res.Failed)))

	if !opts.NoCache && len(res.Delivered) > 0 {
		n, err := m.journal.RecordSeen(ctx, matched, res.Delivered)
		if err != nil {
			return report, fmt.Errorf("record seen listings: %w", err)
		}
		report.Recorded = n
		m.metrics.JournalWrites.Add(float64(n))
	}

	if len(res.Delivered) == 0 {
		return report, fmt.Errorf("no recipient notified: %w", res.Err())
	}
	if len(res.Failed) > 0 {
		m.logger.Warn("Some recipients were not notified", "failed", len(res.Failed), "error", res.Err())
	}

	m.logger.Info("Run completed",
		"matched", len(matched),
		"delivered", len(res.Delivered),
		"recorded", report.Recorded,
		"duration_ms", time.Since(start).Milliseconds())
	return report, nil
}
