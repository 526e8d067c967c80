/*
Package xlsx stores the ledger in a spreadsheet workbook.

The ledger lives on one sheet (default "Ledger") with the same three
columns as the CSV backend. Cells are written as text so two-decimal
amounts display exactly as stored. Values typed by hand as numbers are
read back through their formatted text.

The workbook is read and written through an afero.Fs, and other sheets in
the workbook are left untouched.
*/
package xlsx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
	"github.com/xuri/excelize/v2"

	"github.com/mhrishan/desco-monitor/ledger"
)

const (
	backend = "xlsx"

	// DefaultSheet is the sheet used when none is configured.
	DefaultSheet = "Ledger"
)

// Store is a ledger.Store backed by an .xlsx workbook.
type Store struct {
	fs    afero.Fs
	path  string
	sheet string
	mu    sync.Mutex
}

// New returns a store for the workbook at path. The workbook is created on
// first write.
func New(fs afero.Fs, path, sheet string) *Store {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if sheet == "" {
		sheet = DefaultSheet
	}
	return &Store{fs: fs, path: path, sheet: sheet}
}

func (s *Store) ReadAll(ctx context.Context) ([]ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := s.open()
	if err != nil {
		return nil, &ledger.BackendError{Backend: backend, Op: "read", Err: err}
	}
	if f == nil {
		return nil, nil
	}
	defer f.Close()

	entries, _, err := s.rows(f)
	if err != nil {
		return nil, &ledger.BackendError{Backend: backend, Op: "read", Err: err}
	}
	ledger.Sort(entries)
	return entries, nil
}

func (s *Store) Upsert(ctx context.Context, e ledger.Entry) error {
	if err := ledger.ValidateEntry(e); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := s.open()
	if err != nil {
		return &ledger.BackendError{Backend: backend, Op: "read", Err: err}
	}
	if f == nil {
		f = excelize.NewFile()
		if err := f.SetSheetName("Sheet1", s.sheet); err != nil {
			f.Close()
			return &ledger.BackendError{Backend: backend, Op: "write", Err: err}
		}
	}
	defer f.Close()

	entries, used, err := s.rows(f)
	if err != nil {
		return &ledger.BackendError{Backend: backend, Op: "read", Err: err}
	}
	if err := s.writeRows(f, ledger.Upsert(entries, e), used); err != nil {
		return &ledger.BackendError{Backend: backend, Op: "write", Err: err}
	}
	if err := s.save(f); err != nil {
		return &ledger.BackendError{Backend: backend, Op: "write", Err: err}
	}
	return nil
}

// Reference is the absolute workbook path when it can be resolved.
func (s *Store) Reference() string {
	if abs, err := filepath.Abs(s.path); err == nil {
		return abs
	}
	return s.path
}

// Path is the workbook path as configured.
func (s *Store) Path() string { return s.path }

// Fs is the filesystem the workbook lives on.
func (s *Store) Fs() afero.Fs { return s.fs }

// =============================================================================
// WORKBOOK I/O
// =============================================================================

// open returns nil, nil when the workbook does not exist yet.
func (s *Store) open() (*excelize.File, error) {
	r, err := s.fs.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer r.Close()

	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", s.path, err)
	}
	return f, nil
}

// rows reads the ledger sheet and returns its entries and the number of
// sheet rows in use (header and blank rows included).
func (s *Store) rows(f *excelize.File) ([]ledger.Entry, int, error) {
	idx, err := f.GetSheetIndex(s.sheet)
	if err != nil {
		return nil, 0, err
	}
	if idx < 0 {
		return nil, 0, nil
	}

	raw, err := f.GetRows(s.sheet)
	if err != nil {
		return nil, 0, err
	}

	var entries []ledger.Entry
	for i, cells := range raw {
		if i == 0 && ledger.IsHeader(cells) {
			continue
		}
		if len(cells) == 0 {
			continue
		}
		entries = append(entries, ledger.ParseRow(cells))
	}
	return entries, len(raw), nil
}

func (s *Store) writeRows(f *excelize.File, entries []ledger.Entry, used int) error {
	idx, err := f.GetSheetIndex(s.sheet)
	if err != nil {
		return err
	}
	if idx < 0 {
		if idx, err = f.NewSheet(s.sheet); err != nil {
			return err
		}
	}
	f.SetActiveSheet(idx)

	if err := f.SetSheetRow(s.sheet, "A1", &[]interface{}{ledger.Header[0], ledger.Header[1], ledger.Header[2]}); err != nil {
		return err
	}
	for i, e := range entries {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := e.Row()
		if err := f.SetSheetRow(s.sheet, cell, &[]interface{}{row[0], row[1], row[2]}); err != nil {
			return err
		}
	}

	// Blank rows skipped on read leave stale rows at the bottom.
	for r := used; r > len(entries)+1; r-- {
		if err := f.RemoveRow(s.sheet, r); err != nil {
			return err
		}
	}
	return f.SetColWidth(s.sheet, "A", "C", 22)
}

func (s *Store) save(f *excelize.File) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmp := s.path + ".tmp"
	w, err := s.fs.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if err := f.Write(w); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return s.fs.Rename(tmp, s.path)
}
