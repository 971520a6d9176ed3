// Package normalize reconciles divergent source column names onto the canonical
// column vocabulary declared in the alias configuration.
package normalize

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/phimask/phimask/pkg/records"
)

var (
	// ErrAmbiguousAlias indicates one alias maps to two canonical columns
	ErrAmbiguousAlias = errors.New("alias maps to more than one canonical column")

	// ErrEmptyAlias indicates an alias with no letters or digits
	ErrEmptyAlias = errors.New("alias normalizes to an empty name")

	// ErrMissingColumn indicates a required column is absent after normalization
	ErrMissingColumn = errors.New("required column missing")
)

// AliasError describes a malformed alias entry.
type AliasError struct {
	Canonical string
	Alias     string
	Other     string // Competing canonical column for ambiguous aliases
	Err       error
}

func (e *AliasError) Error() string {
	if e.Other != "" {
		return fmt.Sprintf("alias %q of %q: %v (also %q)", e.Alias, e.Canonical, e.Err, e.Other)
	}
	return fmt.Sprintf("alias %q of %q: %v", e.Alias, e.Canonical, e.Err)
}

func (e *AliasError) Unwrap() error {
	return e.Err
}

// Key returns the comparison form of a column name: diacritics folded,
// lower-cased, everything except ASCII letters and digits removed.
func Key(name string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), name)
	if err != nil {
		folded = name
	}
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// AliasTable resolves normalized column names to canonical names.
type AliasTable struct {
	lookup    map[string]string
	canonical []string // sorted
}

// NewAliasTable builds the lookup from canonical name → accepted spellings.
// Each canonical name also matches itself. Overlapping aliases are rejected.
func NewAliasTable(aliases map[string][]string) (*AliasTable, error) {
	t := &AliasTable{lookup: make(map[string]string)}

	names := make([]string, 0, len(aliases))
	for c := range aliases {
		names = append(names, c)
	}
	sort.Strings(names)
	t.canonical = names

	for _, canonical := range names {
		spellings := append([]string{canonical}, aliases[canonical]...)
		for _, alias := range spellings {
			key := Key(alias)
			if key == "" {
				return nil, &AliasError{Canonical: canonical, Alias: alias, Err: ErrEmptyAlias}
			}
			if prev, ok := t.lookup[key]; ok && prev != canonical {
				return nil, &AliasError{Canonical: canonical, Alias: alias, Other: prev, Err: ErrAmbiguousAlias}
			}
			t.lookup[key] = canonical
		}
	}
	return t, nil
}

// Canonical returns the canonical column names in sorted order.
func (t *AliasTable) Canonical() []string {
	out := make([]string, len(t.canonical))
	copy(out, t.canonical)
	return out
}

// Resolve returns the canonical name for a source column.
func (t *AliasTable) Resolve(column string) (string, bool) {
	c, ok := t.lookup[Key(column)]
	return c, ok
}

// Report summarizes one normalization pass.
type Report struct {
	Renamed    map[string]string // source column → canonical
	Dropped    []string          // source columns with no canonical match
	Collisions []string          // source columns whose canonical name was already taken
	Missing    []string          // canonical columns with no source column, sorted
}

// Normalize renames matching columns to their canonical names and drops every
// column that has no match. Surviving columns keep their input order. When two
// source columns resolve to the same canonical column the first one wins.
// The input is never modified.
func Normalize(rs *records.RecordSet, t *AliasTable) (*records.RecordSet, Report) {
	report := Report{Renamed: make(map[string]string)}

	var (
		cols    []string
		sources []string
		taken   = make(map[string]bool)
	)
	for _, c := range rs.Columns {
		canonical, ok := t.Resolve(c)
		if !ok {
			report.Dropped = append(report.Dropped, c)
			continue
		}
		if taken[canonical] {
			report.Collisions = append(report.Collisions, c)
			continue
		}
		taken[canonical] = true
		cols = append(cols, canonical)
		sources = append(sources, c)
		if c != canonical {
			report.Renamed[c] = canonical
		}
	}

	for _, c := range t.canonical {
		if !taken[c] {
			report.Missing = append(report.Missing, c)
		}
	}

	out := records.New(rs.Name, cols)
	out.Rows = make([]records.Record, len(rs.Rows))
	for i, r := range rs.Rows {
		row := make(records.Record, len(cols))
		for j, c := range cols {
			row[c] = r.Get(sources[j])
		}
		out.Rows[i] = row
	}
	return out, report
}

// RequireColumns fails when any of cols is absent from rs.
func RequireColumns(rs *records.RecordSet, cols ...string) error {
	var missing []string
	for _, c := range cols {
		if !rs.HasColumn(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w in %q: %s", ErrMissingColumn, rs.Name, strings.Join(missing, ", "))
	}
	return nil
}
