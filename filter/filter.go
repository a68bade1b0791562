// Package filter applies the search criteria the source cannot express.
package filter

import (
	"context"
	"log/slog"
	"strings"

	"boligping/pkg/bolig"
)

// Filter drops listings outside the monthly fee bounds or without a keyword
// match in their description.
type Filter struct {
	fetcher bolig.DescriptionFetcher
	logger  *slog.Logger
}

// New creates a filter that loads missing descriptions with fetcher.
func New(fetcher bolig.DescriptionFetcher, logger *slog.Logger) *Filter {
	return &Filter{fetcher: fetcher, logger: logger}
}

// Apply returns the listings that pass, in input order.
//
// A listing passes when its monthly fee is unknown or within q.MonthlyFee,
// and, if q has keywords, its description contains at least one of them
// case-insensitively. Descriptions are only fetched when keywords are given;
// listings whose description is missing or cannot be fetched are dropped.
func (f *Filter) Apply(ctx context.Context, listings []*bolig.Listing, q *bolig.Query) ([]*bolig.Listing, error) {
	var keywords []string
	for _, kw := range q.Keywords {
		keywords = append(keywords, strings.ToLower(kw))
	}

	var out []*bolig.Listing
	for _, l := range listings {
		if l.MonthlyFee != nil && !q.MonthlyFee.Contains(*l.MonthlyFee) {
			f.logger.Debug("Dropping listing outside fee bounds", "url", l.URL, "monthly_fee", *l.MonthlyFee)
			continue
		}
		if len(keywords) == 0 {
			out = append(out, l)
			continue
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		desc, err := l.EnsureDescription(ctx, f.fetcher)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			f.logger.Warn("Could not fetch description, dropping listing", "url", l.URL, "error", err)
			continue
		}
		text, ok := desc.Text()
		if !ok {
			f.logger.Debug("Dropping listing without description", "url", l.URL)
			continue
		}
		if !containsAny(strings.ToLower(text), keywords) {
			f.logger.Debug("Dropping listing without keyword match", "url", l.URL)
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
