package crm

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/phimask/phimask/pkg/records"
	"github.com/phimask/phimask/pkg/source"
)

var identPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*(\.[A-Za-z][A-Za-z0-9_]*)*$`)

// Query describes what to fetch from one CRM object.
type Query struct {
	Object  string
	Columns []string
	OrderBy string
	Limit   int
	SOQL    string // Complete statement; overrides the fields above
}

// BuildSOQL renders q as a SOQL statement. Object, column and ordering names
// must be plain (optionally dotted) identifiers.
func BuildSOQL(q Query) (string, error) {
	if q.SOQL != "" {
		return q.SOQL, nil
	}
	if !identPattern.MatchString(q.Object) {
		return "", fmt.Errorf("invalid object name %q", q.Object)
	}
	if len(q.Columns) == 0 {
		return "", fmt.Errorf("no columns for object %q", q.Object)
	}
	for _, c := range q.Columns {
		if !identPattern.MatchString(c) {
			return "", fmt.Errorf("invalid column name %q", c)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(q.Columns, ", "), q.Object)
	if q.OrderBy != "" {
		if !identPattern.MatchString(q.OrderBy) {
			return "", fmt.Errorf("invalid order_by %q", q.OrderBy)
		}
		fmt.Fprintf(&b, " ORDER BY %s", q.OrderBy)
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.Limit)
	}
	return b.String(), nil
}

// Source fetches one record set from the CRM.
type Source struct {
	client *Client
	name   string
	query  Query
}

var _ source.Fetcher = (*Source)(nil)

// NewSource creates a CRM-backed fetcher. The client may be shared between sources.
func NewSource(client *Client, name string, q Query) *Source {
	return &Source{client: client, name: name, query: q}
}

// Fetch runs the query and flattens the result into a record set. Columns are
// the configured columns first, then any further fields in the order the API
// returned them. CRM sources do not support filters.
func (s *Source) Fetch(ctx context.Context, filter *source.Filter) (*records.RecordSet, error) {
	if filter != nil {
		return nil, source.NewError(s.name, source.KindQuery, fmt.Errorf("crm sources cannot be filtered by column %q", filter.Column))
	}
	soql, err := BuildSOQL(s.query)
	if err != nil {
		return nil, source.NewError(s.name, source.KindQuery, err)
	}

	objs, err := s.client.query(ctx, s.name, soql)
	if err != nil {
		return nil, err
	}
	return toRecordSet(s.name, s.query.Columns, objs), nil
}

func toRecordSet(name string, declared []string, objs []object) *records.RecordSet {
	flat := make([][]field, len(objs))
	var columns []string
	seen := make(map[string]bool)
	for _, c := range declared {
		if !seen[c] {
			seen[c] = true
			columns = append(columns, c)
		}
	}
	for i, obj := range objs {
		flat[i] = flatten(obj)
		for _, f := range flat[i] {
			if !seen[f.key] {
				seen[f.key] = true
				columns = append(columns, f.key)
			}
		}
	}

	rows := make([]records.Record, len(flat))
	for i, fields := range flat {
		row := make(records.Record, len(columns))
		for _, c := range columns {
			row[c] = records.Null()
		}
		for _, f := range fields {
			row[f.key] = records.FromAny(f.value)
		}
		rows[i] = row
	}

	// A relationship that was null in some records shows up as a bare
	// column next to its dotted fields; drop it when it never held a value.
	kept := columns[:0:0]
	for _, c := range columns {
		if isEmptyRelationship(c, columns, rows) {
			for _, row := range rows {
				delete(row, c)
			}
			continue
		}
		kept = append(kept, c)
	}

	rs := records.New(name, kept)
	rs.Rows = rows
	return rs
}

func isEmptyRelationship(column string, columns []string, rows []records.Record) bool {
	nested := false
	for _, c := range columns {
		if strings.HasPrefix(c, column+".") {
			nested = true
			break
		}
	}
	if !nested {
		return false
	}
	for _, row := range rows {
		if !row.Get(column).IsNull() {
			return false
		}
	}
	return true
}
