// Package bolig contains the core domain types for the BoligPing search job.
package bolig

import (
	"context"
	"strings"
)

// Listing is one home for sale, as found on a search result page.
// Identity is the URL: two listings with the same URL are the same home.
type Listing struct {
	URL        string
	Address    string
	Price      *int // DKK
	Rooms      *int
	Size       *int // m²
	MonthlyFee *int // DKK per month
	YearBuilt  *int

	description Description
}

// Key returns the identity key of the listing.
func (l *Listing) Key() string {
	return l.URL
}

// Equal reports whether two listings refer to the same home.
func (l *Listing) Equal(o *Listing) bool {
	if l == nil || o == nil {
		return l == o
	}
	return l.URL == o.URL
}

// ID is the identifier stored in the notification journal: the final path
// segment of the URL, ignoring trailing slashes.
func (l *Listing) ID() string {
	u := strings.TrimRight(l.URL, "/")
	return u[strings.LastIndex(u, "/")+1:]
}

// Description returns the memoized description state.
func (l *Listing) Description() Description {
	return l.description
}

// SetDescription marks the description as fetched. Parsers call this when the
// source record already carries the text.
func (l *Listing) SetDescription(text string) {
	l.description = Fetched(text)
}

// DescriptionFetcher loads the free-text description of a listing.
// ok is false when the page has no description.
type DescriptionFetcher interface {
	FetchDescription(ctx context.Context, listingURL string) (text string, ok bool, err error)
}

// EnsureDescription fetches the description once. Later calls return the
// memoized value without touching the fetcher. A failed fetch is not
// memoized.
func (l *Listing) EnsureDescription(ctx context.Context, f DescriptionFetcher) (Description, error) {
	if l.description.fetched {
		return l.description, nil
	}
	text, ok, err := f.FetchDescription(ctx, l.URL)
	if err != nil {
		return l.description, err
	}
	if ok {
		l.description = Fetched(text)
	} else {
		l.description = FetchedEmpty()
	}
	return l.description, nil
}

// Description is either not fetched yet, or fetched with an optional text.
type Description struct {
	text    string
	fetched bool
	present bool
}

// Fetched returns a fetched description holding text.
func Fetched(text string) Description {
	return Description{text: text, fetched: true, present: true}
}

// FetchedEmpty returns a fetched description for a page without one.
func FetchedEmpty() Description {
	return Description{fetched: true}
}

// IsFetched reports whether the description has been loaded.
func (d Description) IsFetched() bool {
	return d.fetched
}

// Text returns the description and whether one exists.
func (d Description) Text() (string, bool) {
	return d.text, d.present
}

// Int returns a pointer to v, for building listings and queries.
func Int(v int) *int {
	return &v
}
