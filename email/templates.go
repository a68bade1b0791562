package email

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"boligping/pkg/bolig"
)

// ErrNoListings is returned by Compose when there is nothing to announce.
var ErrNoListings = errors.New("no listings to compose")

// Compose builds the subject and body announcing listings. The body is text
// with one <a> link per listing; providers that send HTML convert newlines
// with toHTML.
func Compose(listings []*bolig.Listing) (subject, body string, err error) {
	switch len(listings) {
	case 0:
		return "", "", ErrNoListings
	case 1:
		subject = "[BoligPing] Found a new home!"
	default:
		subject = fmt.Sprintf("[BoligPing] Found %d new homes!", len(listings))
	}

	var b strings.Builder
	b.WriteString("Hi,\n\n")
	if len(listings) == 1 {
		b.WriteString("I found a new home that you might be interested in:\n\n")
	} else {
		b.WriteString("I found some new homes that you might be interested in:\n\n")
	}

	blocks := make([]string, 0, len(listings))
	for _, l := range listings {
		blocks = append(blocks, listingBlock(l))
	}
	b.WriteString(strings.Join(blocks, "\n\n"))
	b.WriteString("\n\nHave a splendid day!\n\nBest regards,\nBoligPing")

	return subject, b.String(), nil
}

// listingBlock renders one listing. Unknown fields are left out.
func listingBlock(l *bolig.Listing) string {
	var lines []string
	if isSafeURL(l.URL) {
		lines = append(lines, fmt.Sprintf("<a href='%s'>%s</a>", escapeHTML(l.URL), escapeHTML(l.Address)))
	} else {
		lines = append(lines, escapeHTML(l.Address))
	}
	if l.Price != nil {
		lines = append(lines, "Price: "+thousands(*l.Price)+" kr.")
	}
	if l.Rooms != nil {
		lines = append(lines, "Number of rooms: "+strconv.Itoa(*l.Rooms))
	}
	if l.Size != nil {
		lines = append(lines, "Size: "+strconv.Itoa(*l.Size)+" m²")
	}
	if l.MonthlyFee != nil {
		lines = append(lines, "Monthly fee: "+thousands(*l.MonthlyFee)+" kr./md")
	}
	if l.YearBuilt != nil {
		lines = append(lines, "Year built: "+strconv.Itoa(*l.YearBuilt))
	}
	return strings.Join(lines, "\n")
}

// thousands formats n with "," between groups of three digits.
func thousands(n int) string {
	s := strconv.Itoa(n)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

// toHTML wraps a composed body for providers that send text/html.
func toHTML(body string) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n<meta charset=\"utf-8\">\n</head>\n<body>\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "<br>\n"))
	b.WriteString("\n</body>\n</html>\n")
	return b.String()
}

func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&#39;")
	return s
}

// isSafeURL only allows http and https links.
func isSafeURL(urlStr string) bool {
	urlStr = strings.TrimSpace(strings.ToLower(urlStr))
	return strings.HasPrefix(urlStr, "http://") || strings.HasPrefix(urlStr, "https://")
}

// sanitizeEmailHeader removes newlines and control characters to prevent
// header injection.
func sanitizeEmailHeader(s string) string {
	var result strings.Builder
	for _, r := range s {
		if r >= 32 && r != 127 {
			result.WriteRune(r)
		}
	}
	return result.String()
}
