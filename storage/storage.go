// Package storage keeps the journal of listings already sent to each recipient.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"boligping/pkg/bolig"
)

// DefaultPath is the journal file used when no location is configured.
const DefaultPath = ".bolig_ping_cache"

// Entry records that a listing was sent to a recipient.
type Entry struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// line renders the entry as one journal line, {"id": ..., "email": ...}.
func (e Entry) line() string {
	id, _ := json.Marshal(e.ID)
	email, _ := json.Marshal(e.Email)
	return fmt.Sprintf(`{"id": %s, "email": %s}`+"\n", id, email)
}

// Backend stores journal entries. Entries are only ever appended.
type Backend interface {
	Entries(ctx context.Context) ([]Entry, error)
	Append(ctx context.Context, entries []Entry) error
	Close() error
	String() string
}

// Journal answers which listings a recipient has already been sent.
type Journal struct {
	backend Backend
	logger  *slog.Logger
}

// New creates a journal over backend.
func New(backend Backend, logger *slog.Logger) *Journal {
	return &Journal{backend: backend, logger: logger}
}

// Close releases the backend.
func (j *Journal) Close() error {
	return j.backend.Close()
}

func (j *Journal) seen(ctx context.Context) (map[Entry]bool, error) {
	entries, err := j.backend.Entries(ctx)
	if err != nil {
		return nil, fmt.Errorf("read journal %s: %w", j.backend, err)
	}
	seen := make(map[Entry]bool, len(entries))
	for _, e := range entries {
		seen[e] = true
	}
	return seen, nil
}

// SubtractSeen drops every listing already sent to any of the recipients.
// Order is preserved.
func (j *Journal) SubtractSeen(ctx context.Context, listings []*bolig.Listing, recipients []string) ([]*bolig.Listing, error) {
	seen, err := j.seen(ctx)
	if err != nil {
		return nil, err
	}

	var out []*bolig.Listing
	for _, l := range listings {
		sent := false
		for _, r := range recipients {
			if seen[Entry{ID: l.ID(), Email: r}] {
				sent = true
				break
			}
		}
		if !sent {
			out = append(out, l)
		}
	}
	j.logger.Info("Journal checked",
		"journal", j.backend.String(),
		"listings", len(listings),
		"unseen", len(out),
		"recipients", len(recipients))
	return out, nil
}

// RecordSeen appends one entry per (listing, recipient) pair not already in
// the journal. Recording the same pairs again writes nothing. It returns the
// number of entries written.
func (j *Journal) RecordSeen(ctx context.Context, listings []*bolig.Listing, recipients []string) (int, error) {
	seen, err := j.seen(ctx)
	if err != nil {
		return 0, err
	}

	var add []Entry
	for _, l := range listings {
		if l.ID() == "" {
			return 0, fmt.Errorf("listing %q has no journal id", l.URL)
		}
		for _, r := range recipients {
			e := Entry{ID: l.ID(), Email: r}
			if seen[e] {
				continue
			}
			seen[e] = true
			add = append(add, e)
		}
	}
	if len(add) == 0 {
		return 0, nil
	}
	if err := j.backend.Append(ctx, add); err != nil {
		return 0, fmt.Errorf("append to journal %s: %w", j.backend, err)
	}
	j.logger.Info("Journal updated", "journal", j.backend.String(), "entries_added", len(add))
	return len(add), nil
}

// Stats summarises a journal.
type Stats struct {
	Location     string
	Entries      int
	Listings     int
	PerRecipient map[string]int
}

// Recipients returns the recipients in the journal, sorted.
func (s *Stats) Recipients() []string {
	out := make([]string, 0, len(s.PerRecipient))
	for r := range s.PerRecipient {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Stats counts the entries in the journal.
func (j *Journal) Stats(ctx context.Context) (*Stats, error) {
	entries, err := j.backend.Entries(ctx)
	if err != nil {
		return nil, fmt.Errorf("read journal %s: %w", j.backend, err)
	}
	st := &Stats{
		Location:     j.backend.String(),
		PerRecipient: make(map[string]int),
	}
	ids := make(map[string]bool)
	for _, e := range entries {
		st.Entries++
		st.PerRecipient[e.Email]++
		ids[e.ID] = true
	}
	st.Listings = len(ids)
	return st, nil
}
