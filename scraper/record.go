package scraper

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"boligping/pkg/bolig"

	"github.com/PuerkitoBio/goquery"
)

// Role names a semantic field of a raw search record.
type Role int

// Field roles understood by Parse.
const (
	RoleURL Role = iota
	RoleAddress
	RolePrice
	RoleRooms
	RoleSize
	RoleMonthlyFee
	RoleYearBuilt
	RoleDescription
)

// Record is one raw search result, either a rendered result card or a
// decoded API case.
type Record interface {
	// Text returns the string value for role, and false if there is none.
	Text(role Role) (string, bool)
	// Number returns the numeric value for role, or nil if it is missing or
	// malformed.
	Number(role Role) *int
}

// ParseError means a record could not be turned into a listing.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "parse listing: " + e.Reason
}

// Parse builds a listing from a raw record. Records without a detail link or
// an address are rejected; missing numeric fields are left nil.
func Parse(rec Record) (*bolig.Listing, error) {
	raw, ok := rec.Text(RoleURL)
	if !ok || raw == "" {
		return nil, &ParseError{Reason: "no resolvable URL"}
	}
	link, err := resolveURL(raw)
	if err != nil {
		return nil, &ParseError{Reason: fmt.Sprintf("bad URL %q: %v", raw, err)}
	}
	if strings.Trim(strings.TrimPrefix(link, bolig.WebBaseURL), "/") == "" {
		return nil, &ParseError{Reason: fmt.Sprintf("URL %q names no listing", raw)}
	}
	address, ok := rec.Text(RoleAddress)
	if !ok || address == "" {
		return nil, &ParseError{Reason: "no address"}
	}

	l := &bolig.Listing{
		URL:        link,
		Address:    address,
		Price:      rec.Number(RolePrice),
		Rooms:      rec.Number(RoleRooms),
		Size:       rec.Number(RoleSize),
		MonthlyFee: rec.Number(RoleMonthlyFee),
		YearBuilt:  rec.Number(RoleYearBuilt),
	}
	if text, ok := rec.Text(RoleDescription); ok {
		l.SetDescription(text)
	}
	return l, nil
}

// resolveURL makes a link absolute against the public site and drops the
// query string and fragment.
func resolveURL(raw string) (string, error) {
	base, err := url.Parse(bolig.WebBaseURL)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	u := base.ResolveReference(ref)
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

var numberPattern = regexp.MustCompile(`[0-9][0-9.]*`)

// ExtractNumber returns the first number in text, reading "." as a thousands
// separator, so "I alt\n\n1.000.000 kr." gives 1000000. It returns nil when
// text holds no number.
func ExtractNumber(text string) *int {
	m := numberPattern.FindString(text)
	if m == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m, ".", ""))
	if err != nil {
		return nil
	}
	return &n
}

// Selectors for the rendered search page.
const (
	CardSelector    = "div[data-testid='case-list-card'].shadow-card"
	linkSelector    = "a[href*='viderestilling']"
	addressSelector = "div.bg-black div.font-black"
)

// spanPatterns recognise numeric spans on a result card by their label.
var spanPatterns = []struct {
	role    Role
	pattern *regexp.Regexp
}{
	{RolePrice, regexp.MustCompile(`kr\.$`)},
	{RoleSize, regexp.MustCompile(`[0-9]+ m²`)},
	{RoleRooms, regexp.MustCompile(`[0-9]+ Vær`)},
	{RoleMonthlyFee, regexp.MustCompile(`Ejerudg.*kr\.?/md`)},
	{RoleYearBuilt, regexp.MustCompile(`Opført.*[0-9]{4}`)},
}

// HTMLRecord is a result card from the rendered search page.
type HTMLRecord struct {
	sel     *goquery.Selection
	numbers map[Role]*int
}

// NewHTMLRecord wraps a card selection. The card's spans are classified once.
func NewHTMLRecord(sel *goquery.Selection) *HTMLRecord {
	r := &HTMLRecord{sel: sel, numbers: make(map[Role]*int)}
	sel.Find("span").Each(func(_ int, span *goquery.Selection) {
		text := strings.TrimSpace(span.Text())
		for _, sp := range spanPatterns {
			if !sp.pattern.MatchString(text) {
				continue
			}
			if n := ExtractNumber(text); n != nil {
				r.numbers[sp.role] = n
			}
		}
	})
	return r
}

// HTMLRecords returns a record for every card in cards.
func HTMLRecords(cards *goquery.Selection) []Record {
	var recs []Record
	cards.Each(func(_ int, card *goquery.Selection) {
		recs = append(recs, NewHTMLRecord(card))
	})
	return recs
}

func (r *HTMLRecord) Text(role Role) (string, bool) {
	switch role {
	case RoleURL:
		href, ok := r.sel.Find(linkSelector).First().Attr("href")
		return href, ok
	case RoleAddress:
		node := r.sel.Find(addressSelector).First()
		if node.Length() == 0 {
			return "", false
		}
		text := strings.Join(strings.Fields(node.Text()), " ")
		return text, text != ""
	default:
		return "", false
	}
}

func (r *HTMLRecord) Number(role Role) *int {
	return r.numbers[role]
}

// apiCase is one entry of the search API's "cases" list. Only the fields
// used by the parser are decoded.
type apiCase struct {
	CaseID          string   `json:"caseID"`
	CaseURL         string   `json:"caseUrl"`
	Address         *apiAddr `json:"address"`
	PriceCash       *float64 `json:"priceCash"`
	NumberOfRooms   *float64 `json:"numberOfRooms"`
	HousingArea     *float64 `json:"housingArea"`
	MonthlyExpense  *float64 `json:"monthlyExpense"`
	YearBuilt       *float64 `json:"yearBuilt"`
	DescriptionBody *string  `json:"descriptionBody"`
}

type apiAddr struct {
	RoadName    string `json:"roadName"`
	HouseNumber string `json:"houseNumber"`
	Floor       string `json:"floor"`
	Door        string `json:"door"`
	ZipCode     int    `json:"zipCode"`
	CityName    string `json:"cityName"`
}

func (a *apiAddr) String() string {
	street := strings.TrimSpace(a.RoadName + " " + a.HouseNumber)
	if a.Floor != "" {
		street += ", " + a.Floor + "."
		if a.Door != "" {
			street += " " + a.Door
		}
	}
	city := strings.TrimSpace(a.CityName)
	if a.ZipCode > 0 {
		city = strings.TrimSpace(strconv.Itoa(a.ZipCode) + " " + city)
	}
	if street == "" {
		return city
	}
	if city == "" {
		return street
	}
	return street + ", " + city
}

// JSONRecord is one case decoded from the search API.
type JSONRecord struct {
	c apiCase
}

// NewJSONRecord decodes a raw API case.
func NewJSONRecord(raw json.RawMessage) (*JSONRecord, error) {
	var c apiCase
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode case: %w", err)
	}
	return &JSONRecord{c: c}, nil
}

func (r *JSONRecord) Text(role Role) (string, bool) {
	switch role {
	case RoleURL:
		if r.c.CaseURL != "" {
			return r.c.CaseURL, true
		}
		if r.c.CaseID != "" {
			return "/viderestilling/" + r.c.CaseID, true
		}
		return "", false
	case RoleAddress:
		if r.c.Address == nil {
			return "", false
		}
		s := r.c.Address.String()
		return s, s != ""
	case RoleDescription:
		if r.c.DescriptionBody == nil {
			return "", false
		}
		return *r.c.DescriptionBody, true
	default:
		return "", false
	}
}

func (r *JSONRecord) Number(role Role) *int {
	var v *float64
	switch role {
	case RolePrice:
		v = r.c.PriceCash
	case RoleRooms:
		v = r.c.NumberOfRooms
	case RoleSize:
		v = r.c.HousingArea
	case RoleMonthlyFee:
		v = r.c.MonthlyExpense
	case RoleYearBuilt:
		v = r.c.YearBuilt
	}
	if v == nil {
		return nil
	}
	f := math.Round(*v)
	if math.IsNaN(f) || f < 0 || f > math.MaxInt32 {
		return nil
	}
	return bolig.Int(int(f))
}
