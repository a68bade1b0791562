package storage

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"boligping/pkg/bolig"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func listing(id string) *bolig.Listing {
	return &bolig.Listing{URL: "https://www.boligsiden.dk/viderestilling/" + id, Address: "Vej " + id}
}

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	dir := t.TempDir()
	db, err := OpenSQLite(filepath.Join(dir, "journal.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return map[string]Backend{
		"file":   NewFileBackend(filepath.Join(dir, ".bolig_ping_cache"), testLogger()),
		"sqlite": db,
	}
}

func TestRecordSeenIsIdempotent(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			j := New(b, testLogger())
			listings := []*bolig.Listing{listing("1"), listing("2"), listing("1")}

			n, err := j.RecordSeen(ctx, listings, []string{"a@example.com"})
			if err != nil {
				t.Fatalf("RecordSeen: %v", err)
			}
			if n != 2 {
				t.Errorf("first record wrote %d entries, want 2", n)
			}

			n, err = j.RecordSeen(ctx, listings, []string{"a@example.com"})
			if err != nil {
				t.Fatalf("RecordSeen: %v", err)
			}
			if n != 0 {
				t.Errorf("second record wrote %d entries, want 0", n)
			}

			entries, err := b.Entries(ctx)
			if err != nil {
				t.Fatalf("Entries: %v", err)
			}
			if len(entries) != 2 {
				t.Errorf("expected 2 entries, got %v", entries)
			}
		})
	}
}

func TestRecordSeenTrailingSlash(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			j := New(b, testLogger())
			l := &bolig.Listing{URL: "https://www.boligsiden.dk/adresse/vej-1/", Address: "Vej 1"}

			for run, want := range []int{1, 0} {
				n, err := j.RecordSeen(ctx, []*bolig.Listing{l}, []string{"a@x.com"})
				if err != nil {
					t.Fatalf("RecordSeen: %v", err)
				}
				if n != want {
					t.Errorf("run %d wrote %d entries, want %d", run, n, want)
				}
			}

			left, err := j.SubtractSeen(ctx, []*bolig.Listing{l}, []string{"a@x.com"})
			if err != nil {
				t.Fatalf("SubtractSeen: %v", err)
			}
			if len(left) != 0 {
				t.Errorf("expected the recorded listing to be subtracted, %d left", len(left))
			}
		})
	}
}

func TestRecordSeenRejectsEmptyID(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), ".bolig_ping_cache")
	j := New(NewFileBackend(path, testLogger()), testLogger())

	_, err := j.RecordSeen(ctx, []*bolig.Listing{listing("1"), {URL: "/"}}, []string{"a@x.com"})
	if err == nil {
		t.Fatal("expected error for a listing without an id")
	}
	if data, _ := os.ReadFile(path); len(data) != 0 {
		t.Errorf("nothing should be written, got %q", data)
	}
}

func TestSubtractSeenPerRecipient(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			j := New(b, testLogger())
			all := []*bolig.Listing{listing("1"), listing("2"), listing("3")}

			if _, err := j.RecordSeen(ctx, all[:2], []string{"a@example.com"}); err != nil {
				t.Fatalf("RecordSeen: %v", err)
			}

			tests := []struct {
				recipients []string
				want       []string
			}{
				{[]string{"a@example.com"}, []string{"3"}},
				{[]string{"b@example.com"}, []string{"1", "2", "3"}},
				{[]string{"b@example.com", "a@example.com"}, []string{"3"}},
				{nil, []string{"1", "2", "3"}},
			}
			for _, tt := range tests {
				got, err := j.SubtractSeen(ctx, all, tt.recipients)
				if err != nil {
					t.Fatalf("SubtractSeen: %v", err)
				}
				var ids []string
				for _, l := range got {
					ids = append(ids, l.ID())
				}
				if strings.Join(ids, ",") != strings.Join(tt.want, ",") {
					t.Errorf("recipients %v: got %v, want %v", tt.recipients, ids, tt.want)
				}
			}
		})
	}
}

func TestFileBackendFormat(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", ".bolig_ping_cache")
	j := New(NewFileBackend(path, testLogger()), testLogger())

	// Reading a missing journal creates it.
	got, err := j.SubtractSeen(ctx, []*bolig.Listing{listing("1")}, []string{"a@example.com"})
	if err != nil {
		t.Fatalf("SubtractSeen: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected listing to be unseen, got %d", len(got))
	}
	if info, err := os.Stat(path); err != nil || info.Size() != 0 {
		t.Fatalf("expected empty journal file, got %v, %v", info, err)
	}

	if _, err := j.RecordSeen(ctx, []*bolig.Listing{listing("1"), listing("2")}, []string{"a@example.com", "b@example.com"}); err != nil {
		t.Fatalf("RecordSeen: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	want := `{"id": "1", "email": "a@example.com"}
{"id": "1", "email": "b@example.com"}
{"id": "2", "email": "a@example.com"}
{"id": "2", "email": "b@example.com"}
`
	if string(data) != want {
		t.Errorf("journal =\n%s\nwant\n%s", data, want)
	}
}

func TestFileBackendSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal")
	content := `{"id": "1", "email": "a@example.com"}

not json
{"email": "a@example.com"}
{"id":"2","email":"a@example.com"}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	entries, err := NewFileBackend(path, testLogger()).Entries(context.Background())
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 2 || entries[1] != (Entry{ID: "2", Email: "a@example.com"}) {
		t.Errorf("entries = %v", entries)
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal")
	j := New(NewFileBackend(path, testLogger()), testLogger())
	if _, err := j.RecordSeen(ctx, []*bolig.Listing{listing("1"), listing("2")}, []string{"b@example.com"}); err != nil {
		t.Fatalf("RecordSeen: %v", err)
	}
	if _, err := j.RecordSeen(ctx, []*bolig.Listing{listing("2")}, []string{"a@example.com"}); err != nil {
		t.Fatalf("RecordSeen: %v", err)
	}

	st, err := j.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Entries != 3 || st.Listings != 2 || st.Location != path {
		t.Errorf("stats = %+v", st)
	}
	if r := st.Recipients(); len(r) != 2 || r[0] != "a@example.com" || st.PerRecipient["b@example.com"] != 2 {
		t.Errorf("recipients = %v, per recipient = %v", r, st.PerRecipient)
	}
}

func TestParseLocation(t *testing.T) {
	tests := []struct {
		in      string
		want    Location
		wantErr bool
	}{
		{"", Location{Scheme: "file", Path: DefaultPath}, false},
		{"/var/lib/boligping/cache", Location{Scheme: "file", Path: "/var/lib/boligping/cache"}, false},
		{"gs://my-bucket/journals/bolig.jsonl", Location{Scheme: "gs", Bucket: "my-bucket", Path: "journals/bolig.jsonl"}, false},
		{"sqlite://journal.db", Location{Scheme: "sqlite", Path: "journal.db"}, false},
		{"gs://bucket-only", Location{}, true},
		{"sqlite://", Location{}, true},
		{"s3://bucket/key", Location{}, true},
	}
	for _, tt := range tests {
		got, err := ParseLocation(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLocation(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLocation(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestOpenSQLite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "j.db")
	j, err := Open(ctx, "sqlite://"+path, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := j.RecordSeen(ctx, []*bolig.Listing{listing("7")}, []string{"a@example.com"}); err != nil {
		t.Fatalf("RecordSeen: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopening sees the earlier entry.
	j, err = Open(ctx, "sqlite://"+path, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer j.Close()
	got, err := j.SubtractSeen(ctx, []*bolig.Listing{listing("7")}, []string{"a@example.com"})
	if err != nil {
		t.Fatalf("SubtractSeen: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected listing to be seen after reopen")
	}
}

// TestGCSBackend runs against a real bucket named by BOLIGPING_TEST_BUCKET.
func TestGCSBackend(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	bucket := os.Getenv("BOLIGPING_TEST_BUCKET")
	if bucket == "" {
		t.Skip("BOLIGPING_TEST_BUCKET not set")
	}

	ctx := context.Background()
	object := "test/" + strings.ReplaceAll(t.Name(), "/", "_") + ".jsonl"
	j, err := Open(ctx, "gs://"+bucket+"/"+object, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	gcs := j.backend.(*GCSBackend)
	t.Cleanup(func() {
		_ = gcs.client.Bucket(bucket).Object(object).Delete(context.Background())
		j.Close()
	})

	for range 2 {
		if _, err := j.RecordSeen(ctx, []*bolig.Listing{listing("1"), listing("2")}, []string{"a@example.com"}); err != nil {
			t.Fatalf("RecordSeen: %v", err)
		}
	}
	st, err := j.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Entries != 2 {
		t.Errorf("expected 2 entries, got %d", st.Entries)
	}
}
