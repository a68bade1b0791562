package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// FileBackend keeps the journal as JSON lines in a local file.
type FileBackend struct {
	path   string
	logger *slog.Logger
}

// NewFileBackend uses the file at path, creating it on first access.
func NewFileBackend(path string, logger *slog.Logger) *FileBackend {
	return &FileBackend{path: path, logger: logger}
}

func (f *FileBackend) String() string {
	return f.path
}

func (f *FileBackend) Close() error {
	return nil
}

// Entries reads every entry. A missing file is created empty. Lines that are
// not valid entries are skipped with a warning.
func (f *FileBackend) Entries(ctx context.Context) ([]Entry, error) {
	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}
	file, err := os.OpenFile(f.path, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			f.logger.Warn("Failed to close journal", "path", f.path, "error", closeErr)
		}
	}()

	return parseLines(file, f.path, f.logger)
}

// Append writes entries at the end of the file in a single write.
func (f *FileBackend) Append(ctx context.Context, entries []Entry) error {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.line())
	}

	file, err := os.OpenFile(f.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open journal for append: %w", err)
	}
	if _, err := file.WriteString(b.String()); err != nil {
		if closeErr := file.Close(); closeErr != nil {
			f.logger.Warn("Failed to close journal after error", "error", closeErr)
		}
		return fmt.Errorf("write journal: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close journal: %w", err)
	}
	return nil
}

func parseLines(r io.Reader, source string, logger *slog.Logger) ([]Entry, error) {
	var entries []Entry
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	n := 0
	for sc.Scan() {
		n++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil || e.ID == "" {
			logger.Warn("Skipping malformed journal line", "source", source, "line", n, "error", err)
			continue
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan journal: %w", err)
	}
	return entries, nil
}
