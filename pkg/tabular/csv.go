// Package tabular reads and writes record sets as CSV files: one header row,
// then one line per record, with no index column.
package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/phimask/phimask/pkg/records"
)

// ErrNoHeader is returned when a CSV file has no header row.
var ErrNoHeader = errors.New("csv has no header row")

// Read decodes a CSV stream. Every cell is read as text; empty cells are null
// so they export back as empty cells.
func Read(r io.Reader, name string) (*records.RecordSet, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 0

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	rs := records.New(name, header)
	for {
		line, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", name, err)
		}
		row := make([]records.Value, len(line))
		for i, cell := range line {
			if cell == "" {
				row[i] = records.Null()
			} else {
				row[i] = records.String(cell)
			}
		}
		if err := rs.Append(row...); err != nil {
			return nil, err
		}
	}
	return rs, nil
}

// Load reads the CSV file at path.
func Load(path, name string) (*records.RecordSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f, name)
}

// Write encodes rs as CSV in column order. Null cells are written empty.
func Write(w io.Writer, rs *records.RecordSet) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(rs.Columns); err != nil {
		return err
	}
	line := make([]string, len(rs.Columns))
	for _, r := range rs.Rows {
		for i, c := range rs.Columns {
			line[i] = r.Get(c).String()
		}
		if err := cw.Write(line); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Pending is a fully written temporary file waiting to be moved onto its
// final path.
type Pending struct {
	tmp  string
	path string
}

// Path returns the final path.
func (p *Pending) Path() string {
	return p.path
}

// Prepare writes rs to a temporary file next to path. Nothing is visible at
// path until Commit.
func Prepare(path string, rs *records.RecordSet) (*Pending, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	if err := Write(tmp, rs); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("close %s: %w", path, err)
	}
	return &Pending{tmp: tmp.Name(), path: path}, nil
}

// Commit renames the temporary file onto the final path.
func (p *Pending) Commit() error {
	if err := os.Rename(p.tmp, p.path); err != nil {
		_ = os.Remove(p.tmp)
		return fmt.Errorf("rename %s: %w", p.path, err)
	}
	return nil
}

// Discard removes the temporary file.
func (p *Pending) Discard() {
	_ = os.Remove(p.tmp)
}

// Save writes rs to path through a temporary file in the same directory, so
// readers never see a partially written file.
func Save(path string, rs *records.RecordSet) error {
	pending, err := Prepare(path, rs)
	if err != nil {
		return err
	}
	return pending.Commit()
}
