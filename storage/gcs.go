package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/googleapi"
)

// GCSBackend keeps the journal as a single JSON-lines object in Cloud
// Storage. Appends rewrite the object under a generation precondition.
type GCSBackend struct {
	client *storage.Client
	bucket string
	object string
	logger *slog.Logger
}

// NewGCSBackend uses gs://bucket/object.
func NewGCSBackend(client *storage.Client, bucket, object string, logger *slog.Logger) *GCSBackend {
	return &GCSBackend{client: client, bucket: bucket, object: object, logger: logger}
}

func (g *GCSBackend) String() string {
	return "gs://" + g.bucket + "/" + g.object
}

func (g *GCSBackend) Close() error {
	return g.client.Close()
}

// isPreconditionFailed checks if another writer changed the object first.
func isPreconditionFailed(err error) bool {
	var gErr *googleapi.Error
	return errors.As(err, &gErr) && gErr.Code == http.StatusPreconditionFailed
}

// read returns the object contents and generation. A missing object reads
// as empty with generation 0.
func (g *GCSBackend) read(ctx context.Context) ([]byte, int64, error) {
	var data []byte
	var gen int64

	err := retry.Do(
		func() error {
			r, openErr := g.client.Bucket(g.bucket).Object(g.object).NewReader(ctx)
			if openErr != nil {
				if errors.Is(openErr, storage.ErrObjectNotExist) {
					data, gen = nil, 0
					return nil
				}
				return fmt.Errorf("open storage reader: %w", openErr)
			}
			defer func() {
				if closeErr := r.Close(); closeErr != nil {
					g.logger.Warn("Failed to close storage reader", "error", closeErr)
				}
			}()

			var readErr error
			data, readErr = io.ReadAll(r)
			if readErr != nil {
				return fmt.Errorf("read from storage: %w", readErr)
			}
			gen = r.Attrs.Generation
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(time.Minute),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			g.logger.Info("Retrying journal read after error", "attempt", n, "object", g.String(), "error", retryErr)
		}),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("read after retries: %w", err)
	}
	return data, gen, nil
}

// Entries reads every entry.
func (g *GCSBackend) Entries(ctx context.Context) ([]Entry, error) {
	data, _, err := g.read(ctx)
	if err != nil {
		return nil, err
	}
	return parseLines(bytes.NewReader(data), g.String(), g.logger)
}

// Append adds entries to the end of the object. If another writer updated
// the object in between, the read and write are repeated.
func (g *GCSBackend) Append(ctx context.Context, entries []Entry) error {
	var tail bytes.Buffer
	for _, e := range entries {
		tail.WriteString(e.line())
	}

	err := retry.Do(
		func() error {
			data, gen, err := g.read(ctx)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			if len(data) > 0 && data[len(data)-1] != '\n' {
				data = append(data, '\n')
			}

			cond := storage.Conditions{GenerationMatch: gen}
			if gen == 0 {
				cond = storage.Conditions{DoesNotExist: true}
			}
			w := g.client.Bucket(g.bucket).Object(g.object).If(cond).NewWriter(ctx)
			w.ContentType = "application/x-ndjson"
			if _, writeErr := w.Write(append(data, tail.Bytes()...)); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					g.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(5),
		retry.Delay(500*time.Millisecond),
		retry.MaxDelay(time.Minute),
		retry.MaxJitter(2*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			if isPreconditionFailed(retryErr) {
				g.logger.Info("Journal changed during append, retrying", "attempt", n, "object", g.String())
				return
			}
			g.logger.Info("Retrying journal append after error", "attempt", n, "object", g.String(), "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("append after retries: %w", err)
	}
	return nil
}
