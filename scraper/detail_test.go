package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"boligping/pkg/bolig"
)

func TestDetailFetcher(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/with-body", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><div data-testid="case-description">
			Lys lejlighed med BADEKAR og altan.
		</div></body></html>`)
	})
	mux.HandleFunc("/meta-only", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><meta name="description" content="Villa med have"></head><body></body></html>`)
	})
	mux.HandleFunc("/empty", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><p>Ingen tekst</p></body></html>`)
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f, err := NewDetailFetcher(discardLogger(), 5*time.Second)
	if err != nil {
		t.Fatalf("NewDetailFetcher: %v", err)
	}

	tests := []struct {
		path    string
		want    string
		wantOK  bool
		wantErr bool
	}{
		{"/with-body", "Lys lejlighed med BADEKAR og altan.", true, false},
		{"/meta-only", "Villa med have", true, false},
		{"/empty", "", false, false},
		{"/missing", "", false, false},
		{"/broken", "", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			text, ok, err := f.FetchDescription(context.Background(), srv.URL+tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if text != tt.want || ok != tt.wantOK {
				t.Errorf("got (%q, %v), want (%q, %v)", text, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestDetailFetcherCancelled(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		fmt.Fprint(w, `<html><body><div class="case-description">Tekst</div></body></html>`)
	}))
	defer srv.Close()

	f, err := NewDetailFetcher(discardLogger(), 5*time.Second)
	if err != nil {
		t.Fatalf("NewDetailFetcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok, err := f.FetchDescription(ctx, srv.URL+"/listing")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if ok || hits != 0 {
		t.Errorf("ok = %v, server hits = %d, want no request", ok, hits)
	}
}

func TestDetailFetcherMemoizedThroughListing(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		fmt.Fprint(w, `<html><body><div class="case-description">Rækkehus</div></body></html>`)
	}))
	defer srv.Close()

	f, err := NewDetailFetcher(discardLogger(), 5*time.Second)
	if err != nil {
		t.Fatalf("NewDetailFetcher: %v", err)
	}
	l := &bolig.Listing{URL: srv.URL + "/viderestilling/1", Address: "Vej 1"}
	for range 3 {
		if _, err := l.EnsureDescription(context.Background(), f); err != nil {
			t.Fatalf("EnsureDescription: %v", err)
		}
	}
	if hits != 1 {
		t.Errorf("expected 1 request, got %d", hits)
	}
}
