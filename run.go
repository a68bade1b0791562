package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"boligping/browser"
	"boligping/config"
	"boligping/email"
	"boligping/filter"
	"boligping/metrics"
	"boligping/poll"
	"boligping/scraper"
	"boligping/storage"
)

const (
	httpTimeout   = 30 * time.Second
	detailTimeout = 20 * time.Second
)

// runSearch performs one search with everything built from cfg.
func runSearch(ctx context.Context, cfg *config.Config, logger *slog.Logger, stdout io.Writer) (err error) {
	q, err := cfg.Query()
	if err != nil {
		return err
	}

	m := metrics.New()
	if cfg.MetricsFile != "" {
		defer func() {
			if werr := m.WriteTextfile(cfg.MetricsFile); werr != nil {
				logger.Warn("Failed to write metrics", "path", cfg.MetricsFile, "error", werr)
			}
		}()
	}

	provider, err := newProvider(ctx, cfg, stdout, logger)
	if err != nil {
		return err
	}

	// A nil *storage.Journal must not reach poll as a non-nil interface.
	var journal poll.Journal
	if cfg.Cache {
		j, err := storage.Open(ctx, cfg.Journal, logger)
		if err != nil {
			return fmt.Errorf("opening journal: %w", err)
		}
		defer func() {
			if cerr := j.Close(); cerr != nil {
				logger.Warn("Failed to close journal", "error", cerr)
			}
		}()
		journal = j
	}

	fetcher, err := scraper.NewDetailFetcher(logger, detailTimeout)
	if err != nil {
		return fmt.Errorf("creating description fetcher: %w", err)
	}

	var source scraper.Source
	switch cfg.Source {
	case config.SourceAPI:
		source = scraper.NewAPISource(&http.Client{Timeout: httpTimeout}, logger)
	default:
		opts := browser.DefaultOptions()
		opts.Headless = cfg.Headless
		sess, err := browser.New(ctx, logger, opts)
		if err != nil {
			return fmt.Errorf("starting browser: %w", err)
		}
		defer sess.Close()
		source = scraper.NewWebSource(sess, logger)
	}

	monitor := poll.New(source, cfg.Source, journal, filter.New(fetcher, logger), email.New(provider, logger), m, logger)
	report, err := monitor.Run(ctx, q, poll.Options{
		Recipients: cfg.Recipients,
		NoCache:    !cfg.Cache,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return errors.New("interrupted")
		}
		return err
	}

	switch {
	case report.NoResults:
		logger.Info("The search page does not exist, check the city names", "cities", cfg.Search.Cities)
	case len(report.Matched) == 0:
		logger.Info("No new homes found", "fetched", report.Fetched)
	}
	return nil
}

// newProvider builds the delivery provider cfg selects.
func newProvider(ctx context.Context, cfg *config.Config, stdout io.Writer, logger *slog.Logger) (email.Provider, error) {
	creds := cfg.Credentials
	switch p := cfg.ResolvedProvider(); p {
	case config.ProviderConsole:
		return email.NewConsoleProvider(stdout), nil
	case config.ProviderSMTP:
		return email.NewSMTPProvider(email.GmailSMTPAddr, creds.GmailEmail, creds.GmailPassword, logger), nil
	case config.ProviderBrevo:
		return email.NewBrevoProvider(creds.BrevoAPIKey, cfg.Sender(), "BoligPing", logger), nil
	case config.ProviderGmail:
		svc, err := email.NewGmailService(ctx, creds.GoogleCredentialsJSON)
		if err != nil {
			return nil, fmt.Errorf("initializing Gmail service: %w", err)
		}
		return email.NewGmailProvider(svc, logger), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", p)
	}
}
