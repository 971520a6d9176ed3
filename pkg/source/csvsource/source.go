// Package csvsource fetches record sets from local CSV exports.
package csvsource

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/phimask/phimask/pkg/records"
	"github.com/phimask/phimask/pkg/source"
	"github.com/phimask/phimask/pkg/tabular"
)

// Source reads one CSV file.
type Source struct {
	name string
	path string
}

var _ source.Fetcher = (*Source)(nil)

// NewSource creates a file-backed fetcher.
func NewSource(name, path string) *Source {
	return &Source{name: name, path: path}
}

// Fetch loads the file. A filter keeps only the rows whose filter column value
// is among the filter values.
func (s *Source) Fetch(ctx context.Context, filter *source.Filter) (*records.RecordSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rs, err := tabular.Load(s.path, s.name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
			return nil, source.NewError(s.name, source.KindConnect, err)
		}
		return nil, source.NewError(s.name, source.KindQuery, err)
	}
	if filter == nil {
		return rs, nil
	}
	if !rs.HasColumn(filter.Column) {
		return nil, source.NewError(s.name, source.KindQuery, fmt.Errorf("%w: %s", records.ErrUnknownColumn, filter.Column))
	}

	allowed := make(map[string]bool, len(filter.Values))
	for _, v := range filter.Values {
		allowed[v] = true
	}
	out := records.New(rs.Name, rs.Columns)
	for _, r := range rs.Rows {
		if v := r.Get(filter.Column); !v.IsNull() && allowed[v.String()] {
			out.Rows = append(out.Rows, r)
		}
	}
	return out, nil
}
