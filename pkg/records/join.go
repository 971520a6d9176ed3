package records

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownColumn is returned when an operation references a column the set lacks.
var ErrUnknownColumn = errors.New("unknown column")

// JoinKey pairs a left column with the right column it must equal.
type JoinKey struct {
	Left  string `yaml:"left"`
	Right string `yaml:"right"`
}

// JoinOptions controls column naming of an inner join.
type JoinOptions struct {
	LeftSuffix  string
	RightSuffix string
}

// Join performs an inner join of left and right on all keys.
//
// Left row order is kept; each left row is followed by its matches in right
// order. A key pair naming the same column on both sides produces a single
// output column. Other columns present on both sides get the side suffixes.
// Rows with a blank key never match.
func Join(name string, left, right *RecordSet, keys []JoinKey, opts JoinOptions) (*RecordSet, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("join %q: at least one key required", name)
	}
	for _, k := range keys {
		if !left.HasColumn(k.Left) {
			return nil, fmt.Errorf("join %q: left %q: %w: %s", name, left.Name, ErrUnknownColumn, k.Left)
		}
		if !right.HasColumn(k.Right) {
			return nil, fmt.Errorf("join %q: right %q: %w: %s", name, right.Name, ErrUnknownColumn, k.Right)
		}
	}
	if opts.LeftSuffix == "" {
		opts.LeftSuffix = "_left"
	}
	if opts.RightSuffix == "" {
		opts.RightSuffix = "_right"
	}

	// Same-named key pairs collapse into one column taken from the left side.
	merged := make(map[string]bool)
	for _, k := range keys {
		if k.Left == k.Right {
			merged[k.Right] = true
		}
	}

	leftCols := make(map[string]bool, len(left.Columns))
	for _, c := range left.Columns {
		leftCols[c] = true
	}
	rightCols := make(map[string]bool, len(right.Columns))
	for _, c := range right.Columns {
		rightCols[c] = true
	}

	leftName := make(map[string]string, len(left.Columns))
	var cols []string
	for _, c := range left.Columns {
		out := c
		if rightCols[c] && !merged[c] {
			out = c + opts.LeftSuffix
		}
		leftName[c] = out
		cols = append(cols, out)
	}
	rightName := make(map[string]string, len(right.Columns))
	for _, c := range right.Columns {
		if merged[c] {
			continue
		}
		out := c
		if leftCols[c] {
			out = c + opts.RightSuffix
		}
		rightName[c] = out
		cols = append(cols, out)
	}

	index := make(map[string][]Record)
	for _, r := range right.Rows {
		key, ok := joinKey(r, keys, false)
		if !ok {
			continue
		}
		index[key] = append(index[key], r)
	}

	out := New(name, cols)
	for _, l := range left.Rows {
		key, ok := joinKey(l, keys, true)
		if !ok {
			continue
		}
		for _, r := range index[key] {
			row := make(Record, len(cols))
			for c, n := range leftName {
				row[n] = l.Get(c)
			}
			for c, n := range rightName {
				row[n] = r.Get(c)
			}
			out.Rows = append(out.Rows, row)
		}
	}
	return out, nil
}

func joinKey(r Record, keys []JoinKey, left bool) (string, bool) {
	parts := make([]string, len(keys))
	for i, k := range keys {
		col := k.Right
		if left {
			col = k.Left
		}
		v := r.Get(col)
		if v.IsBlank() {
			return "", false
		}
		parts[i] = v.String()
	}
	return strings.Join(parts, "\x1f"), true
}
