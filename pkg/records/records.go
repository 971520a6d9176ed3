// Package records provides the in-memory tabular model shared by every stage of
// the pipeline: an ordered column list plus rows of nullable scalar cells.
package records

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Value is a nullable scalar cell. Source values of any scalar type are reduced
// to their string form on ingest so masking and export compare like with like.
type Value struct {
	str   string
	valid bool
}

// String returns a non-null cell holding s.
func String(s string) Value {
	return Value{str: s, valid: true}
}

// Null returns the null cell.
func Null() Value {
	return Value{}
}

// FromAny converts a driver or decoder value into a cell.
func FromAny(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case string:
		return String(t)
	case []byte:
		return String(string(t))
	case json.Number:
		return String(t.String())
	case bool:
		return String(strconv.FormatBool(t))
	case int64:
		return String(strconv.FormatInt(t, 10))
	case int:
		return String(strconv.Itoa(t))
	case float64:
		return String(strconv.FormatFloat(t, 'f', -1, 64))
	case time.Time:
		return String(formatTime(t))
	default:
		return String(fmt.Sprint(t))
	}
}

// formatTime renders dates without a time component as plain ISO dates.
func formatTime(t time.Time) string {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format(time.DateOnly)
	}
	return t.Format(time.RFC3339)
}

// String returns the cell text; null cells render as the empty string.
func (v Value) String() string {
	return v.str
}

// IsNull reports whether the cell is null.
func (v Value) IsNull() bool {
	return !v.valid
}

// IsBlank reports whether the cell is null or holds only the empty string.
func (v Value) IsBlank() bool {
	return !v.valid || v.str == ""
}

// Record is one row keyed by column name. Columns absent from the map are null.
type Record map[string]Value

// Clone returns a shallow copy; cells are values so the copy is independent.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Get returns the cell for column, or null when the column is absent.
func (r Record) Get(column string) Value {
	return r[column]
}

// RecordSet is an ordered sequence of rows sharing one column list.
type RecordSet struct {
	Name    string
	Columns []string
	Rows    []Record
}

// New creates an empty record set with the given columns.
func New(name string, columns []string) *RecordSet {
	cols := make([]string, len(columns))
	copy(cols, columns)
	return &RecordSet{Name: name, Columns: cols}
}

// Len returns the row count.
func (rs *RecordSet) Len() int {
	return len(rs.Rows)
}

// HasColumn reports whether column is part of the set.
func (rs *RecordSet) HasColumn(column string) bool {
	for _, c := range rs.Columns {
		if c == column {
			return true
		}
	}
	return false
}

// Append adds a row built from values in column order.
func (rs *RecordSet) Append(values ...Value) error {
	if len(values) != len(rs.Columns) {
		return fmt.Errorf("row has %d values, record set %q has %d columns", len(values), rs.Name, len(rs.Columns))
	}
	row := make(Record, len(values))
	for i, c := range rs.Columns {
		row[c] = values[i]
	}
	rs.Rows = append(rs.Rows, row)
	return nil
}

// Clone deep-copies the set so callers can transform it without aliasing.
func (rs *RecordSet) Clone() *RecordSet {
	out := New(rs.Name, rs.Columns)
	out.Rows = make([]Record, len(rs.Rows))
	for i, r := range rs.Rows {
		out.Rows[i] = r.Clone()
	}
	return out
}

// Distinct returns the sorted distinct non-blank values of column.
func (rs *RecordSet) Distinct(column string) []string {
	seen := make(map[string]struct{})
	for _, r := range rs.Rows {
		v := r.Get(column)
		if v.IsBlank() {
			continue
		}
		seen[v.String()] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Concat appends the rows of other. The result carries the union of both column
// lists, receiver columns first; cells missing on either side are null.
func Concat(name string, sets ...*RecordSet) *RecordSet {
	var cols []string
	seen := make(map[string]bool)
	for _, s := range sets {
		for _, c := range s.Columns {
			if !seen[c] {
				seen[c] = true
				cols = append(cols, c)
			}
		}
	}
	out := New(name, cols)
	for _, s := range sets {
		for _, r := range s.Rows {
			out.Rows = append(out.Rows, r.Clone())
		}
	}
	return out
}

// DedupeBy keeps the first row for each distinct value of column. Rows with a
// blank key are kept as-is.
func (rs *RecordSet) DedupeBy(column string) *RecordSet {
	out := New(rs.Name, rs.Columns)
	seen := make(map[string]bool)
	for _, r := range rs.Rows {
		v := r.Get(column)
		if !v.IsBlank() {
			if seen[v.String()] {
				continue
			}
			seen[v.String()] = true
		}
		out.Rows = append(out.Rows, r.Clone())
	}
	return out
}
