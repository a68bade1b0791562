package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// Location is a parsed journal location.
type Location struct {
	Scheme string // "file", "gs" or "sqlite"
	Bucket string // gs only
	Path   string // file path, sqlite path or gs object name
}

// ParseLocation understands gs://bucket/object, sqlite://path and plain file
// paths. An empty string means DefaultPath.
func ParseLocation(s string) (Location, error) {
	switch {
	case s == "":
		return Location{Scheme: "file", Path: DefaultPath}, nil
	case strings.HasPrefix(s, "gs://"):
		rest := strings.TrimPrefix(s, "gs://")
		bucket, object, ok := strings.Cut(rest, "/")
		if !ok || bucket == "" || object == "" {
			return Location{}, fmt.Errorf("invalid journal location %q: want gs://bucket/object", s)
		}
		return Location{Scheme: "gs", Bucket: bucket, Path: object}, nil
	case strings.HasPrefix(s, "sqlite://"):
		path := strings.TrimPrefix(s, "sqlite://")
		if path == "" {
			return Location{}, fmt.Errorf("invalid journal location %q: missing path", s)
		}
		return Location{Scheme: "sqlite", Path: path}, nil
	case strings.Contains(s, "://"):
		return Location{}, fmt.Errorf("unsupported journal location %q", s)
	default:
		return Location{Scheme: "file", Path: s}, nil
	}
}

// Open creates the journal stored at location. Extra client options are
// passed to the Cloud Storage client for gs:// locations.
func Open(ctx context.Context, location string, logger *slog.Logger, opts ...option.ClientOption) (*Journal, error) {
	loc, err := ParseLocation(location)
	if err != nil {
		return nil, err
	}

	var backend Backend
	switch loc.Scheme {
	case "gs":
		client, err := storage.NewClient(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		backend = NewGCSBackend(client, loc.Bucket, loc.Path, logger)
	case "sqlite":
		db, err := OpenSQLite(loc.Path)
		if err != nil {
			return nil, err
		}
		backend = db
	default:
		backend = NewFileBackend(loc.Path, logger)
	}

	logger.Debug("Journal opened", "journal", backend.String())
	return New(backend, logger), nil
}
