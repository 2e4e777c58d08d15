// Package spreadsheet implements ports.TableStore for .xlsx and .csv files.
//
// Only the first sheet of a workbook is read. The first row is the header;
// blank header cells are named "Unnamed: <n>" so no data column is lost.
// Writes go to a temporary file in the target directory and are renamed
// into place, so a crash never leaves a half-written table.
package spreadsheet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"reportharvest/internal/core/domain"
)

// ErrUnsupportedFormat is returned for file extensions other than .xlsx and .csv.
var ErrUnsupportedFormat = errors.New("spreadsheet: unsupported file format")

// Store reads and writes tables on the local filesystem.
type Store struct {
	// SheetName is used for new workbooks. Default: Sheet1
	SheetName string
}

// NewStore creates a new Store.
func NewStore() *Store {
	return &Store{SheetName: "Sheet1"}
}

type codec interface {
	decode(path string) ([][]string, error)
	encode(w io.Writer, records [][]string) error
}

func (s *Store) codecFor(path string) (codec, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		sheet := s.SheetName
		if sheet == "" {
			sheet = "Sheet1"
		}
		return xlsxCodec{sheet: sheet}, nil
	case ".csv":
		return csvCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// Load reads the table at path.
func (s *Store) Load(ctx context.Context, path string) (*domain.Table, error) {
	c, err := s.codecFor(path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to open table %s: %w", path, err)
	}

	records, err := c.decode(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read table %s: %w", path, err)
	}
	return fromRecords(records), nil
}

// Save replaces the table at path.
func (s *Store) Save(ctx context.Context, path string, table *domain.Table) error {
	c, err := s.codecFor(path)
	if err != nil {
		return err
	}
	return writeAtomic(path, func(w io.Writer) error {
		return c.encode(w, toRecords(table))
	})
}

// Copy duplicates src to dst byte for byte.
func (s *Store) Copy(ctx context.Context, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	return writeAtomic(dst, func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	})
}

func writeAtomic(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()

	if err := write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write table %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close table %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to move table into place %s: %w", path, err)
	}
	return nil
}

func fromRecords(records [][]string) *domain.Table {
	if len(records) == 0 {
		return domain.NewTable()
	}

	header := make([]string, len(records[0]))
	seen := make(map[string]int, len(header))
	for i, h := range records[0] {
		h = strings.TrimSpace(h)
		if h == "" {
			h = fmt.Sprintf("Unnamed: %d", i)
		}
		if n := seen[h]; n > 0 {
			seen[h] = n + 1
			h = fmt.Sprintf("%s.%d", h, n)
		} else {
			seen[h] = 1
		}
		header[i] = h
	}

	t := domain.NewTable(header...)
	for _, rec := range records[1:] {
		if isBlank(rec) {
			continue
		}
		row := make(domain.Row, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = strings.TrimSpace(rec[i])
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

func toRecords(t *domain.Table) [][]string {
	records := make([][]string, 0, len(t.Rows)+1)
	records = append(records, append([]string(nil), t.Columns...))
	for _, r := range t.Rows {
		rec := make([]string, len(t.Columns))
		for i, col := range t.Columns {
			rec[i] = r[col]
		}
		records = append(records, rec)
	}
	return records
}

func isBlank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
