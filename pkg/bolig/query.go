package bolig

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

const (
	// WebBaseURL is the public search site.
	WebBaseURL = "https://www.boligsiden.dk"
	// APIBaseURL is the JSON search endpoint behind the site.
	APIBaseURL = "https://api.boligsiden.dk/search/cases"
	// APIPageSize is the number of cases requested per API page.
	APIPageSize = 50
)

// Range is an inclusive numeric interval. A nil bound is unbounded.
type Range struct {
	Min *int
	Max *int
}

// IsZero reports whether both bounds are absent.
func (r Range) IsZero() bool {
	return r.Min == nil && r.Max == nil
}

// Contains reports whether v lies within the set bounds.
func (r Range) Contains(v int) bool {
	if r.Min != nil && v < *r.Min {
		return false
	}
	if r.Max != nil && v > *r.Max {
		return false
	}
	return true
}

func (r Range) validate(name string) error {
	if r.Min != nil && *r.Min < 0 {
		return fmt.Errorf("%s: minimum %d is negative", name, *r.Min)
	}
	if r.Max != nil && *r.Max < 0 {
		return fmt.Errorf("%s: maximum %d is negative", name, *r.Max)
	}
	return nil
}

// Query holds the search criteria for one run. Build it with NewQuery and do
// not mutate it afterwards.
type Query struct {
	Locations     []string
	Price         Range
	MonthlyFee    Range
	Rooms         Range
	Size          Range
	Keywords      []string
	PropertyTypes []PropertyType
}

// NewQuery normalizes locations and validates all bounds.
func NewQuery(q Query) (*Query, error) {
	errs := []error{
		q.Price.validate("price"),
		q.MonthlyFee.validate("monthly fee"),
		q.Rooms.validate("rooms"),
		q.Size.validate("size"),
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	out := q
	out.Locations = make([]string, 0, len(q.Locations))
	for _, loc := range q.Locations {
		if n := NormalizeArea(loc); n != "" {
			out.Locations = append(out.Locations, n)
		}
	}
	out.Keywords = make([]string, 0, len(q.Keywords))
	for _, kw := range q.Keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			out.Keywords = append(out.Keywords, kw)
		}
	}
	return &out, nil
}

// IsEmpty reports whether no location and no range is set. Keywords and
// property types are not counted, so a keyword-only query is empty.
func (q *Query) IsEmpty() bool {
	return len(q.Locations) == 0 &&
		q.Price.IsZero() &&
		q.MonthlyFee.IsZero() &&
		q.Rooms.IsZero() &&
		q.Size.IsZero()
}

// Target selects which source a request is rendered for.
type Target int

const (
	// TargetWeb renders a search page URL for the browser source.
	TargetWeb Target = iota
	// TargetAPI renders a JSON API request.
	TargetAPI
)

func (t Target) String() string {
	switch t {
	case TargetWeb:
		return "web"
	case TargetAPI:
		return "api"
	default:
		return "target(" + strconv.Itoa(int(t)) + ")"
	}
}

// Request describes one page request.
type Request struct {
	Method string
	URL    string
}

func (r Request) String() string {
	return r.Method + " " + r.URL
}

// RenderRequest builds the request for page (1-based) of the query. The
// result depends only on the query fields and page.
func (q *Query) RenderRequest(target Target, page int) Request {
	if page < 1 {
		page = 1
	}
	if target == TargetAPI {
		return Request{Method: "GET", URL: q.apiURL(page)}
	}
	return Request{Method: "GET", URL: q.webURL(page)}
}

type param struct {
	key   string
	value string
}

func (q *Query) webURL(page int) string {
	var b strings.Builder
	b.WriteString(WebBaseURL)
	if len(q.Locations) > 0 {
		b.WriteString("/by/")
		b.WriteString(strings.Join(q.Locations, ","))
	}
	b.WriteString("/tilsalg")
	if tokens := ExpandPropertyTypes(q.PropertyTypes, TargetWeb); len(tokens) > 0 {
		b.WriteString("/")
		b.WriteString(strings.Join(tokens, ","))
	}

	var params []param
	params = appendRange(params, "priceMin", "priceMax", q.Price)
	params = appendRange(params, "numberOfRoomsMin", "numberOfRoomsMax", q.Rooms)
	params = appendRange(params, "areaMin", "areaMax", q.Size)
	if len(q.Keywords) > 0 {
		params = append(params, param{"text", strings.Join(q.Keywords, ",")})
	}
	if page > 1 {
		params = append(params, param{"page", strconv.Itoa(page)})
	}

	for i, p := range params {
		if i == 0 {
			b.WriteString("?")
		} else {
			b.WriteString("&")
		}
		b.WriteString(p.key)
		b.WriteString("=")
		b.WriteString(url.QueryEscape(p.value))
	}
	return b.String()
}

func (q *Query) apiURL(page int) string {
	v := url.Values{}
	for _, p := range appendRange(nil, "priceMin", "priceMax", q.Price) {
		v.Set(p.key, p.value)
	}
	for _, p := range appendRange(nil, "numberOfRoomsMin", "numberOfRoomsMax", q.Rooms) {
		v.Set(p.key, p.value)
	}
	for _, p := range appendRange(nil, "areaMin", "areaMax", q.Size) {
		v.Set(p.key, p.value)
	}
	if len(q.Locations) > 0 {
		v.Set("cities", strings.Join(q.Locations, ","))
	}
	if tokens := ExpandPropertyTypes(q.PropertyTypes, TargetAPI); len(tokens) > 0 {
		v.Set("addressTypes", strings.Join(tokens, ","))
	}
	v.Set("page", strconv.Itoa(page))
	v.Set("per_page", strconv.Itoa(APIPageSize))
	// Encode sorts by key.
	return APIBaseURL + "?" + v.Encode()
}

func appendRange(params []param, minKey, maxKey string, r Range) []param {
	if r.Min != nil {
		params = append(params, param{minKey, strconv.Itoa(*r.Min)})
	}
	if r.Max != nil {
		params = append(params, param{maxKey, strconv.Itoa(*r.Max)})
	}
	return params
}

var areaReplacer = strings.NewReplacer(" ", "-", "æ", "ae", "ø", "oe", "å", "aa")

// NormalizeArea turns a user-typed city or area name into the slug used by
// the site, e.g. "Københavns Ø" becomes "koebenhavns-oe".
func NormalizeArea(name string) string {
	return areaReplacer.Replace(strings.ToLower(strings.TrimSpace(name)))
}

// sortedUnique returns the distinct values of in, sorted.
func sortedUnique(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
