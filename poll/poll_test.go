package poll

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"boligping/email"
	"boligping/filter"
	"boligping/metrics"
	"boligping/pkg/bolig"
	"boligping/scraper"
	"boligping/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// staticSource serves one page of API cases, or err. total overrides the
// reported hit count and laterErr is returned for pages after the first.
type staticSource struct {
	cases    []string
	err      error
	total    int
	laterErr error
	calls    int
}

func (s *staticSource) Page(_ context.Context, _ *bolig.Query, n int) (*scraper.Page, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	page := &scraper.Page{Total: len(s.cases)}
	if s.total > 0 {
		page.Total = s.total
	}
	if n > 1 {
		if s.laterErr != nil {
			return nil, s.laterErr
		}
		return page, nil
	}
	for _, c := range s.cases {
		rec, err := scraper.NewJSONRecord(json.RawMessage(c))
		if err != nil {
			return nil, err
		}
		page.Records = append(page.Records, rec)
	}
	return page, nil
}

type sentMail struct {
	to, subject, body string
}

type recordingProvider struct {
	fail map[string]bool
	sent []sentMail
}

func (p *recordingProvider) Name() string { return "recording" }

func (p *recordingProvider) Send(_ context.Context, to, subject, body string) error {
	if p.fail[to] {
		return fmt.Errorf("rejected %s", to)
	}
	p.sent = append(p.sent, sentMail{to, subject, body})
	return nil
}

func twoCases() []string {
	return []string{
		`{"caseID":"c1","address":{"roadName":"Vestergade","houseNumber":"1","zipCode":8000,"cityName":"Aarhus C"},"priceCash":2495000,"numberOfRooms":3,"housingArea":85,"monthlyExpense":2500,"yearBuilt":1932}`,
		`{"caseID":"c2","address":{"roadName":"Østergade","houseNumber":"7","zipCode":8000,"cityName":"Aarhus C"},"priceCash":3100000,"numberOfRooms":4,"housingArea":110}`,
	}
}

func aarhusQuery(t *testing.T) *bolig.Query {
	t.Helper()
	q, err := bolig.NewQuery(bolig.Query{
		Locations: []string{"aarhus"},
		Price:     bolig.Range{Min: bolig.Int(500000)},
	})
	if err != nil {
		t.Fatalf("NewQuery: %v", err)
	}
	return q
}

type fixture struct {
	monitor     *Monitor
	provider    *recordingProvider
	source      *staticSource
	metrics     *metrics.Metrics
	journalPath string
}

func newFixture(t *testing.T, src *staticSource) *fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), storage.DefaultPath)
	journal := storage.New(storage.NewFileBackend(path, discardLogger()), discardLogger())
	t.Cleanup(func() { journal.Close() })

	p := &recordingProvider{}
	m := metrics.New()
	mon := New(src, "api", journal, filter.New(nil, discardLogger()), email.New(p, discardLogger()), m, discardLogger())
	return &fixture{monitor: mon, provider: p, source: src, metrics: m, journalPath: path}
}

func journalLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}

func TestRunEndToEnd(t *testing.T) {
	fx := newFixture(t, &staticSource{cases: twoCases()})
	ctx := context.Background()
	opts := Options{Recipients: []string{"a@x.com"}}

	report, err := fx.monitor.Run(ctx, aarhusQuery(t), opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Fetched != 2 || report.New != 2 || len(report.Matched) != 2 {
		t.Errorf("report = %+v", report)
	}
	if len(fx.provider.sent) != 1 {
		t.Fatalf("expected one email, got %d", len(fx.provider.sent))
	}
	mail := fx.provider.sent[0]
	if mail.to != "a@x.com" || mail.subject != "[BoligPing] Found 2 new homes!" {
		t.Errorf("mail = %q to %q", mail.subject, mail.to)
	}
	if !strings.Contains(mail.body, "Vestergade 1, 8000 Aarhus C") || !strings.Contains(mail.body, "Price: 2,495,000 kr.") {
		t.Errorf("body:\n%s", mail.body)
	}

	lines := journalLines(t, fx.journalPath)
	want := []string{
		`{"id": "c1", "email": "a@x.com"}`,
		`{"id": "c2", "email": "a@x.com"}`,
	}
	if strings.Join(lines, "\n") != strings.Join(want, "\n") {
		t.Errorf("journal = %v, want %v", lines, want)
	}
	if report.Recorded != 2 {
		t.Errorf("recorded = %d, want 2", report.Recorded)
	}

	// A second run finds nothing new and sends nothing.
	report, err = fx.monitor.Run(ctx, aarhusQuery(t), opts)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if report.New != 0 || len(fx.provider.sent) != 1 {
		t.Errorf("second run: new = %d, sent = %d", report.New, len(fx.provider.sent))
	}
	if n := len(journalLines(t, fx.journalPath)); n != 2 {
		t.Errorf("journal has %d lines after re-run, want 2", n)
	}

	if got := testutil.ToFloat64(fx.metrics.NotificationsSent.WithLabelValues("recording", "delivered")); got != 1 {
		t.Errorf("delivered metric = %v, want 1", got)
	}
	if got := testutil.ToFloat64(fx.metrics.JournalWrites); got != 2 {
		t.Errorf("journal writes metric = %v, want 2", got)
	}
}

func TestRunPartialDelivery(t *testing.T) {
	fx := newFixture(t, &staticSource{cases: twoCases()})
	fx.provider.fail = map[string]bool{"b@x.com": true}

	report, err := fx.monitor.Run(context.Background(), aarhusQuery(t), Options{Recipients: []string{"a@x.com", "b@x.com"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Delivered) != 1 || report.Failed["b@x.com"] == nil {
		t.Errorf("report = %+v", report)
	}
	for _, line := range journalLines(t, fx.journalPath) {
		if strings.Contains(line, "b@x.com") {
			t.Errorf("failed recipient recorded: %s", line)
		}
	}
}

func TestRunAllDeliveriesFail(t *testing.T) {
	fx := newFixture(t, &staticSource{cases: twoCases()})
	fx.provider.fail = map[string]bool{"a@x.com": true}

	_, err := fx.monitor.Run(context.Background(), aarhusQuery(t), Options{Recipients: []string{"a@x.com"}})
	if err == nil {
		t.Fatal("expected error when nobody was notified")
	}
	if n := len(journalLines(t, fx.journalPath)); n != 0 {
		t.Errorf("journal has %d lines, want 0", n)
	}
}

func TestRunNoResults(t *testing.T) {
	fx := newFixture(t, &staticSource{err: scraper.ErrNoResultsPage})
	report, err := fx.monitor.Run(context.Background(), aarhusQuery(t), Options{Recipients: []string{"a@x.com"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.NoResults || len(fx.provider.sent) != 0 {
		t.Errorf("report = %+v, sent = %d", report, len(fx.provider.sent))
	}
}

func TestRunSourceUnavailable(t *testing.T) {
	srcErr := &scraper.SourceUnavailableError{URL: "https://api.boligsiden.dk/search/cases", Err: errors.New("HTTP 503")}
	fx := newFixture(t, &staticSource{err: srcErr})
	_, err := fx.monitor.Run(context.Background(), aarhusQuery(t), Options{Recipients: []string{"a@x.com"}})
	if !scraper.IsSourceUnavailable(err) {
		t.Errorf("expected SourceUnavailableError, got %v", err)
	}
}

func TestRunMissingLaterPageIsNotNoResults(t *testing.T) {
	fx := newFixture(t, &staticSource{cases: twoCases(), total: 4, laterErr: scraper.ErrNoResultsPage})
	report, err := fx.monitor.Run(context.Background(), aarhusQuery(t), Options{Recipients: []string{"a@x.com"}})
	if !scraper.IsSourceUnavailable(err) {
		t.Fatalf("expected SourceUnavailableError, got %v", err)
	}
	if report.NoResults {
		t.Error("a missing page 2 must not be reported as an unknown location")
	}
	if len(fx.provider.sent) != 0 {
		t.Errorf("expected no mail on a failed fetch, got %d", len(fx.provider.sent))
	}
}

func TestRunNoCache(t *testing.T) {
	src := &staticSource{cases: twoCases()}
	p := &recordingProvider{}
	mon := New(src, "api", nil, filter.New(nil, discardLogger()), email.New(p, discardLogger()), nil, discardLogger())

	for range 2 {
		report, err := mon.Run(context.Background(), aarhusQuery(t), Options{Recipients: []string{"a@x.com"}, NoCache: true})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if report.New != 2 || report.Recorded != 0 {
			t.Errorf("report = %+v", report)
		}
	}
	if len(p.sent) != 2 {
		t.Errorf("expected a mail on every run without cache, got %d", len(p.sent))
	}
}

func TestRunWithoutJournal(t *testing.T) {
	mon := New(&staticSource{}, "api", nil, filter.New(nil, discardLogger()), email.New(&recordingProvider{}, discardLogger()), nil, discardLogger())
	if _, err := mon.Run(context.Background(), aarhusQuery(t), Options{}); err == nil {
		t.Error("expected error when caching without a journal")
	}
}

func TestRunConsoleRecipient(t *testing.T) {
	fx := newFixture(t, &staticSource{cases: twoCases()})
	q, err := bolig.NewQuery(bolig.Query{})
	if err != nil {
		t.Fatalf("NewQuery: %v", err)
	}

	report, err := fx.monitor.Run(context.Background(), q, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.EmptyQuery {
		t.Error("empty query not flagged")
	}
	if len(fx.provider.sent) != 1 || fx.provider.sent[0].to != email.ConsoleRecipient {
		t.Errorf("sent = %+v", fx.provider.sent)
	}
	if lines := journalLines(t, fx.journalPath); len(lines) != 2 || !strings.Contains(lines[0], `"email": "console"`) {
		t.Errorf("journal = %v", lines)
	}
}

func TestRunFeeFilter(t *testing.T) {
	fx := newFixture(t, &staticSource{cases: twoCases()})
	q, err := bolig.NewQuery(bolig.Query{
		Locations:  []string{"aarhus"},
		MonthlyFee: bolig.Range{Max: bolig.Int(2000)},
	})
	if err != nil {
		t.Fatalf("NewQuery: %v", err)
	}

	report, err := fx.monitor.Run(context.Background(), q, Options{Recipients: []string{"a@x.com"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// c1 has a 2500 kr. fee, c2 has none.
	if len(report.Matched) != 1 || report.Matched[0].ID() != "c2" {
		t.Errorf("matched = %v", report.Matched)
	}
	if fx.provider.sent[0].subject != "[BoligPing] Found a new home!" {
		t.Errorf("subject = %q", fx.provider.sent[0].subject)
	}
}
