// Package masking rewrites the sensitive columns of a record set from the
// synthetic identity of each record's real identifier, leaving linkage columns
// untouched.
package masking

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/phimask/phimask/pkg/identity"
	"github.com/phimask/phimask/pkg/records"
)

// DefaultPlaceholder replaces sensitive values that have no synthetic counterpart.
const DefaultPlaceholder = "MASKED"

var (
	// ErrInvalidRule indicates a malformed masking rule
	ErrInvalidRule = errors.New("invalid masking rule")

	// ErrMissingColumn indicates the identifier column is absent from the record set
	ErrMissingColumn = errors.New("identifier column missing")
)

// Sensitivity selects which unpreserved columns are rewritten.
type Sensitivity string

const (
	// SensitivityAll treats every column that is neither preserved nor the identifier as sensitive.
	SensitivityAll Sensitivity = "all"
	// SensitivityDeclared treats only mapped columns and pattern matches as sensitive.
	SensitivityDeclared Sensitivity = "declared"
)

// IsValid checks if the sensitivity mode is known
func (s Sensitivity) IsValid() bool {
	return s == SensitivityAll || s == SensitivityDeclared
}

// MissingPolicy decides what happens to a record whose identifier has no mask.
type MissingPolicy string

const (
	// MissingPlaceholder writes the placeholder into every sensitive column.
	MissingPlaceholder MissingPolicy = "placeholder"
	// MissingSkip omits the record from the output.
	MissingSkip MissingPolicy = "skip"
)

// IsValid checks if the policy is known
func (p MissingPolicy) IsValid() bool {
	return p == MissingPlaceholder || p == MissingSkip
}

// Rules is the declarative masking configuration for one record set.
type Rules struct {
	Fields              map[string]string // column → synthetic field or ${field} template
	Preserve            []string          // linkage/structural columns, never rewritten
	Sensitivity         Sensitivity
	SensitivePatterns   []string // column-name regexes, used with SensitivityDeclared
	Placeholder         string
	OnMissingIdentifier MissingPolicy
	MaskIdentifier      bool // rewrite the identifier column when it has a field mapping
}

// Result counts what one Apply call did.
type Result struct {
	Rows               int      // input rows
	Masked             int      // rows rewritten from their own mask
	Placeholdered      int      // rows whose identifier had no mask
	Skipped            int      // rows omitted under MissingSkip
	BlankIdentifiers   int      // rows with a null or empty identifier
	MissingIdentifiers []string // distinct identifiers absent from the masks, sorted
}

// Applicator applies identity masks according to compiled rules. It holds no
// per-call state and is safe for concurrent use.
type Applicator struct {
	fields         map[string]expression
	preserve       map[string]bool
	patterns       []*CompiledPattern
	sensitivity    Sensitivity
	placeholder    string
	onMissing      MissingPolicy
	maskIdentifier bool
}

// NewApplicator compiles rules eagerly so configuration errors surface before any record is touched.
func NewApplicator(rules Rules) (*Applicator, error) {
	a := &Applicator{
		fields:         make(map[string]expression, len(rules.Fields)),
		preserve:       make(map[string]bool, len(rules.Preserve)),
		sensitivity:    rules.Sensitivity,
		placeholder:    rules.Placeholder,
		onMissing:      rules.OnMissingIdentifier,
		maskIdentifier: rules.MaskIdentifier,
	}
	if a.sensitivity == "" {
		a.sensitivity = SensitivityAll
	}
	if !a.sensitivity.IsValid() {
		return nil, fmt.Errorf("%w: sensitivity %q", ErrInvalidRule, rules.Sensitivity)
	}
	if a.onMissing == "" {
		a.onMissing = MissingPlaceholder
	}
	if !a.onMissing.IsValid() {
		return nil, fmt.Errorf("%w: on_missing_identifier %q", ErrInvalidRule, rules.OnMissingIdentifier)
	}
	if a.placeholder == "" {
		a.placeholder = DefaultPlaceholder
	}

	for column, raw := range rules.Fields {
		expr, err := compileExpression(column, raw)
		if err != nil {
			return nil, err
		}
		a.fields[column] = expr
	}
	for _, c := range rules.Preserve {
		a.preserve[c] = true
	}

	patterns, err := compilePatterns(rules.SensitivePatterns)
	if err != nil {
		return nil, err
	}
	a.patterns = patterns

	return a, nil
}

// Placeholder returns the sentinel used for unmapped sensitive values.
func (a *Applicator) Placeholder() string {
	return a.placeholder
}

// SensitiveColumns returns, in column order, the columns of rs that Apply rewrites.
func (a *Applicator) SensitiveColumns(rs *records.RecordSet, identifierColumn string) []string {
	var out []string
	for _, c := range rs.Columns {
		if a.isSensitive(c, identifierColumn) {
			out = append(out, c)
		}
	}
	return out
}

func (a *Applicator) isSensitive(column, identifierColumn string) bool {
	if a.preserve[column] {
		return false
	}
	_, mapped := a.fields[column]
	if column == identifierColumn {
		return a.maskIdentifier && mapped
	}
	if a.sensitivity == SensitivityAll {
		return true
	}
	return mapped || matchesAny(a.patterns, column)
}

// Apply returns a masked copy of rs; rs itself is never modified, so callers
// may export the original alongside the masked copy.
//
// Every sensitive value of a record is derived from the mask of that record's
// identifier, so one identifier renders identically across all record sets.
// Records whose identifier has no mask never pass real values through: they are
// placeholder-masked or skipped according to the missing-identifier policy.
func (a *Applicator) Apply(rs *records.RecordSet, identifierColumn string, masks identity.Masks) (*records.RecordSet, Result, error) {
	result := Result{Rows: rs.Len()}
	if !rs.HasColumn(identifierColumn) {
		return nil, result, fmt.Errorf("%w: %q not in %q", ErrMissingColumn, identifierColumn, rs.Name)
	}

	sensitive := a.SensitiveColumns(rs, identifierColumn)
	missing := make(map[string]struct{})

	out := records.New(rs.Name, rs.Columns)
	out.Rows = make([]records.Record, 0, rs.Len())

	for _, row := range rs.Rows {
		id := row.Get(identifierColumn)
		var mask *identity.Mask
		if id.IsBlank() {
			result.BlankIdentifiers++
		} else if m, ok := masks.Lookup(id.String()); ok {
			mask = m
		} else {
			missing[id.String()] = struct{}{}
		}

		if mask == nil && a.onMissing == MissingSkip {
			result.Skipped++
			continue
		}

		masked := row.Clone()
		for _, col := range sensitive {
			if masked.Get(col).IsNull() {
				continue
			}
			masked[col] = records.String(a.value(col, mask))
		}
		out.Rows = append(out.Rows, masked)

		if mask == nil {
			result.Placeholdered++
		} else {
			result.Masked++
		}
	}

	result.MissingIdentifiers = make([]string, 0, len(missing))
	for id := range missing {
		result.MissingIdentifiers = append(result.MissingIdentifiers, id)
	}
	sort.Strings(result.MissingIdentifiers)

	if n := result.Placeholdered + result.Skipped; n > 0 {
		slog.Warn("Records without a synthetic identity were not masked from a mask",
			"record_set", rs.Name,
			"policy", string(a.onMissing),
			"records", n,
			"distinct_identifiers", len(result.MissingIdentifiers),
			"blank_identifiers", result.BlankIdentifiers)
	}

	return out, result, nil
}

// value renders the replacement for one sensitive column. A nil mask or an
// unresolvable mapping yields the placeholder.
func (a *Applicator) value(column string, mask *identity.Mask) string {
	if mask == nil {
		return a.placeholder
	}
	expr, ok := a.fields[column]
	if !ok {
		return a.placeholder
	}
	v, ok := expr.Eval(mask)
	if !ok {
		return a.placeholder
	}
	return v
}
