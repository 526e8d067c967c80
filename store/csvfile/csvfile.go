/*
Package csvfile stores the ledger in a flat CSV file.

FORMAT:
  Date,DailyConsumption(BDT),Balance(BDT)
  09-01-2025,12.30,87.70
  10-01-2025,17.50,70.20

  The header is written with the first row. Dates are DD-MM-YYYY; amounts
  are two-decimal strings. Rows that fail to parse are kept: the date cell
  is written back as read, unparseable amounts come back empty.

WRITES:
  Every Upsert rewrites the whole file through a temp file and rename, so
  a crash never leaves a half-written ledger.

FILESYSTEM:
  All I/O goes through an afero.Fs. Production uses afero.NewOsFs(); tests
  use afero.NewMemMapFs().
*/
package csvfile

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/mhrishan/desco-monitor/ledger"
)

const backend = "csv"

// Store is a ledger.Store backed by one CSV file.
type Store struct {
	fs   afero.Fs
	path string
	mu   sync.Mutex
}

// New returns a store for path on fs. The file is created on first write.
func New(fs afero.Fs, path string) *Store {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Store{fs: fs, path: path}
}

// ReadAll returns all data rows in date order. A missing file is an empty
// ledger.
func (s *Store) ReadAll(ctx context.Context) ([]ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := s.read()
	if err != nil {
		return nil, &ledger.BackendError{Backend: backend, Op: "read", Err: err}
	}
	ledger.Sort(entries)
	return entries, nil
}

// Upsert replaces the row for e.Date or inserts it, then rewrites the file.
func (s *Store) Upsert(ctx context.Context, e ledger.Entry) error {
	if err := ledger.ValidateEntry(e); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	entries, err := s.read()
	if err != nil {
		return &ledger.BackendError{Backend: backend, Op: "read", Err: err}
	}
	if err := s.write(ledger.Upsert(entries, e)); err != nil {
		return &ledger.BackendError{Backend: backend, Op: "write", Err: err}
	}
	return nil
}

// Reference is the absolute file path when it can be resolved.
func (s *Store) Reference() string {
	if abs, err := filepath.Abs(s.path); err == nil {
		return abs
	}
	return s.path
}

// Path is the file path as configured.
func (s *Store) Path() string { return s.path }

// Fs is the filesystem the ledger lives on.
func (s *Store) Fs() afero.Fs { return s.fs }

func (s *Store) read() ([]ledger.Entry, error) {
	f, err := s.fs.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var entries []ledger.Entry
	for first := true; ; first = false {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if first && ledger.IsHeader(rec) {
			continue
		}
		if isBlank(rec) {
			continue
		}
		entries = append(entries, ledger.ParseRow(rec))
	}
	return entries, nil
}

func (s *Store) write(entries []ledger.Entry) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmp := s.path + ".tmp"
	f, err := s.fs.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	if err := w.Write(ledger.Header); err != nil {
		f.Close()
		return err
	}
	for _, e := range entries {
		if err := w.Write(e.Row()); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}

func isBlank(rec []string) bool {
	for _, c := range rec {
		if c != "" {
			return false
		}
	}
	return true
}
