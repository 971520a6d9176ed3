package records

import "fmt"

// Projection selects a source column and names it in the output.
type Projection struct {
	Name   string `yaml:"name"`
	Column string `yaml:"column"`
}

// Project returns a new set holding only the projected columns, renamed and in
// projection order. An empty projection returns a clone.
func (rs *RecordSet) Project(cols []Projection) (*RecordSet, error) {
	if len(cols) == 0 {
		return rs.Clone(), nil
	}
	names := make([]string, len(cols))
	seen := make(map[string]bool, len(cols))
	for i, p := range cols {
		if !rs.HasColumn(p.Column) {
			return nil, fmt.Errorf("project %q: %w: %s", rs.Name, ErrUnknownColumn, p.Column)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("project %q: duplicate output column %q", rs.Name, p.Name)
		}
		seen[p.Name] = true
		names[i] = p.Name
	}
	out := New(rs.Name, names)
	out.Rows = make([]Record, len(rs.Rows))
	for i, r := range rs.Rows {
		row := make(Record, len(cols))
		for _, p := range cols {
			row[p.Name] = r.Get(p.Column)
		}
		out.Rows[i] = row
	}
	return out, nil
}
