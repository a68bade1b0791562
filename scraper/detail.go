package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/extensions"
)

// descriptionSelectors are tried in order on a listing's detail page.
var descriptionSelectors = []string{
	"[data-testid='case-description']",
	"div.case-description",
	"meta[property='og:description']",
	"meta[name='description']",
}

// DetailFetcher loads listing descriptions from detail pages.
type DetailFetcher struct {
	collector *colly.Collector
	logger    *slog.Logger
}

// NewDetailFetcher creates a description fetcher. Requests are serialized
// with a small random delay.
func NewDetailFetcher(logger *slog.Logger, timeout time.Duration) (*DetailFetcher, error) {
	c := colly.NewCollector(colly.AllowURLRevisit())
	c.SetRequestTimeout(timeout)
	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		RandomDelay: 500 * time.Millisecond,
	}); err != nil {
		return nil, err
	}
	return &DetailFetcher{collector: c, logger: logger}, nil
}

// FetchDescription returns the description text of the listing at listingURL.
// ok is false when the page has no description.
func (f *DetailFetcher) FetchDescription(ctx context.Context, listingURL string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	// Clones share the limiter but not callbacks.
	c := f.collector.Clone()
	extensions.RandomUserAgent(c)
	extensions.Referer(c)

	var text string
	var found, notFound bool
	var fetchErr error

	// The request may wait on the limiter; drop it if the run was cancelled
	// meanwhile. SetRequestTimeout bounds a request already in flight.
	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		f.logger.Debug("HTTP request starting", "method", r.Method, "url", r.URL.String(), "purpose", "fetch_description")
	})
	c.OnResponse(func(r *colly.Response) {
		f.logger.Debug("HTTP request completed", "url", r.Request.URL.String(), "status_code", r.StatusCode)
	})
	c.OnHTML("html", func(e *colly.HTMLElement) {
		text, found = extractDescription(e.DOM)
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode == http.StatusNotFound {
			notFound = true
			return
		}
		fetchErr = err
	})

	if err := c.Visit(listingURL); err != nil && fetchErr == nil && !notFound {
		fetchErr = err
	}
	c.Wait()

	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if notFound {
		f.logger.Debug("Listing page not found", "url", listingURL)
		return "", false, nil
	}
	if fetchErr != nil {
		return "", false, fmt.Errorf("fetch %s: %w", listingURL, fetchErr)
	}
	return text, found, nil
}

func extractDescription(doc *goquery.Selection) (string, bool) {
	for _, sel := range descriptionSelectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		var text string
		if goquery.NodeName(node) == "meta" {
			text, _ = node.Attr("content")
		} else {
			text = node.Text()
		}
		if text = strings.TrimSpace(text); text != "" {
			return text, true
		}
	}
	return "", false
}
