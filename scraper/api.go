package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"boligping/pkg/bolig"

	"github.com/codeGROOVE-dev/retry"
)

// StatusError is a non-OK HTTP response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.URL)
}

// IsClientError checks if an error is a 4xx StatusError.
func IsClientError(err error) bool {
	var status *StatusError
	return errors.As(err, &status) && status.StatusCode >= 400 && status.StatusCode < 500
}

type apiResponse struct {
	Cases     []json.RawMessage `json:"cases"`
	TotalHits int               `json:"totalHits"`
}

// APISource reads search results from the JSON search API.
type APISource struct {
	client   *http.Client
	logger   *slog.Logger
	baseURL  string
	attempts uint
	delay    time.Duration
}

// NewAPISource creates an API source using client for requests.
func NewAPISource(client *http.Client, logger *slog.Logger) *APISource {
	return &APISource{
		client:   client,
		logger:   logger,
		baseURL:  bolig.APIBaseURL,
		attempts: 5,
		delay:    time.Second,
	}
}

// WithBaseURL points the source at another endpoint, such as a test server.
func (s *APISource) WithBaseURL(u string) *APISource {
	s.baseURL = strings.TrimSuffix(u, "/")
	return s
}

// WithRetry overrides the retry attempts and initial delay.
func (s *APISource) WithRetry(attempts uint, delay time.Duration) *APISource {
	s.attempts = attempts
	s.delay = delay
	return s
}

// Page fetches one page of search results. A 404 maps to ErrNoResultsPage.
func (s *APISource) Page(ctx context.Context, q *bolig.Query, n int) (*Page, error) {
	req := q.RenderRequest(bolig.TargetAPI, n)
	pageURL := s.baseURL + strings.TrimPrefix(req.URL, bolig.APIBaseURL)

	var page *Page
	var notFound bool

	err := retry.Do(
		func() error {
			s.logger.Debug("HTTP request starting",
				"method", req.Method,
				"url", pageURL,
				"purpose", "fetch_search_page")

			httpReq, err := http.NewRequestWithContext(ctx, req.Method, pageURL, http.NoBody)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			httpReq.Header.Set("Accept", "application/json")
			httpReq.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36")

			startTime := time.Now()
			resp, err := s.client.Do(httpReq)
			duration := time.Since(startTime)

			if err != nil {
				s.logger.Warn("HTTP request failed, will retry",
					"url", pageURL,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					s.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			s.logger.Info("HTTP request completed",
				"url", pageURL,
				"status_code", resp.StatusCode,
				"duration_ms", duration.Milliseconds())

			if resp.StatusCode == http.StatusNotFound {
				notFound = true
				return &StatusError{URL: pageURL, StatusCode: resp.StatusCode}
			}
			if resp.StatusCode != http.StatusOK {
				return &StatusError{URL: pageURL, StatusCode: resp.StatusCode}
			}

			var body apiResponse
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				s.logger.Error("Failed to decode search response", "error", err)
				return retry.Unrecoverable(fmt.Errorf("decode response: %w", err))
			}

			page = &Page{Total: body.TotalHits}
			for i, raw := range body.Cases {
				rec, err := NewJSONRecord(raw)
				if err != nil {
					s.logger.Warn("Skipping undecodable case", "page", n, "index", i, "error", err)
					continue
				}
				page.Records = append(page.Records, rec)
			}
			return nil
		},
		retry.Attempts(s.attempts),
		retry.Delay(s.delay),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Info("Retrying search fetch after error", "attempt", n, "error", err)
		}),
		retry.RetryIf(func(err error) bool {
			// 4xx responses will not change on retry
			return !IsClientError(err)
		}),
	)

	if notFound {
		return nil, ErrNoResultsPage
	}
	if err != nil {
		return nil, &SourceUnavailableError{URL: pageURL, Err: err}
	}
	return page, nil
}
