// Package sqlsource fetches record sets from MySQL or PostgreSQL tables with
// dialect-aware, parameterized SELECT statements.
package sqlsource

import (
	"context"
	stdsql "database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/phimask/phimask/pkg/database"
	"github.com/phimask/phimask/pkg/records"
	"github.com/phimask/phimask/pkg/source"
)

// Query describes the rows to select from one table.
type Query struct {
	Table   string   // Optionally schema-qualified: clinic.assessments
	Columns []string // Empty selects every column
	OrderBy string   // Column name, optionally followed by " desc"
	Limit   int
}

// BuildSelect renders q for the given ent dialect. Identifiers are quoted and
// filter values are bound as arguments, never spliced into the statement.
func BuildSelect(dialect string, q Query, filter *source.Filter) (string, []any, error) {
	if q.Table == "" {
		return "", nil, errors.New("no table")
	}

	b := entsql.Dialect(dialect)
	table := b.Table(q.Table)
	if schema, name, ok := strings.Cut(q.Table, "."); ok {
		table = b.Table(name).Schema(schema)
	}

	sel := b.Select(q.Columns...).From(table)
	if filter != nil {
		if filter.Column == "" {
			return "", nil, errors.New("filter has no column")
		}
		args := make([]driver.Value, len(filter.Values))
		for i, v := range filter.Values {
			args[i] = v
		}
		sel.Where(entsql.InValues(filter.Column, args...))
	}
	if q.OrderBy != "" {
		col, dir, _ := strings.Cut(strings.TrimSpace(q.OrderBy), " ")
		if strings.EqualFold(strings.TrimSpace(dir), "desc") {
			sel.OrderBy(entsql.Desc(col))
		} else {
			sel.OrderBy(col)
		}
	}
	if q.Limit > 0 {
		sel.Limit(q.Limit)
	}

	query, args := sel.Query()
	return query, args, nil
}

// Source fetches one record set from a table.
type Source struct {
	db      *stdsql.DB
	dialect string
	name    string
	query   Query
}

var _ source.Fetcher = (*Source)(nil)

// NewSource creates a table-backed fetcher. db may be shared between sources.
func NewSource(db *stdsql.DB, dialect, name string, q Query) *Source {
	return &Source{db: db, dialect: dialect, name: name, query: q}
}

// Fetch runs the SELECT and returns its rows in result order. A filter with no
// values matches nothing, so the query is skipped and an empty set returned.
func (s *Source) Fetch(ctx context.Context, filter *source.Filter) (*records.RecordSet, error) {
	if filter != nil && len(filter.Values) == 0 {
		slog.Info("Filter has no values, skipping query", "source", s.name, "column", filter.Column)
		return records.New(s.name, s.query.Columns), nil
	}

	query, args, err := BuildSelect(s.dialect, s.query, filter)
	if err != nil {
		return nil, source.NewError(s.name, source.KindQuery, err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, source.NewError(s.name, classify(err), fmt.Errorf("select from %s: %w", s.query.Table, err))
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, source.NewError(s.name, source.KindQuery, fmt.Errorf("read columns: %w", err))
	}

	rs := records.New(s.name, columns)
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, source.NewError(s.name, source.KindQuery, fmt.Errorf("scan row: %w", err))
		}
		row := make([]records.Value, len(columns))
		for i, v := range values {
			row[i] = records.FromAny(v)
		}
		if err := rs.Append(row...); err != nil {
			return nil, source.NewError(s.name, source.KindQuery, err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, source.NewError(s.name, classify(err), fmt.Errorf("iterate rows: %w", err))
	}
	return rs, nil
}

// Connect opens the shared database connection used by SQL sources, reporting
// failures as source errors labelled with the database name.
func Connect(ctx context.Context, cfg database.Config) (*stdsql.DB, error) {
	db, err := database.Open(ctx, cfg)
	if err != nil {
		return nil, source.NewError(cfg.Database, classify(err), err)
	}
	if status, err := database.Health(ctx, db); err == nil {
		slog.Debug("Database connected", "driver", string(cfg.Driver), "health", status)
	}
	return db, nil
}

// classify maps a driver error onto the source error taxonomy.
func classify(err error) source.Kind {
	if database.IsAuthError(err) {
		return source.KindAuth
	}
	var connErr *pgconn.ConnectError
	var netErr net.Error
	switch {
	case errors.As(err, &connErr),
		errors.As(err, &netErr),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, mysql.ErrInvalidConn):
		return source.KindConnect
	}
	return source.KindQuery
}
