// Package ledger stores run metadata in PostgreSQL: run id, seed, status,
// per-source row counts and output paths. It never stores identifiers, masks
// or cell values.
package ledger

import (
	"context"
	stdsql "database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/phimask/phimask/pkg/database"
	"github.com/phimask/phimask/pkg/pipeline"
)

//go:embed migrations
var migrationsFS embed.FS

const table = "masking_runs"

var (
	// ErrRunNotFound indicates no ledger row exists for a run id
	ErrRunNotFound = errors.New("run not found")

	// ErrInvalidRunID indicates a run id that is not a UUID
	ErrInvalidRunID = errors.New("invalid run id")
)

// Run is one ledger row.
type Run struct {
	ID          string
	Seed        uint64
	Status      pipeline.Status
	StartedAt   time.Time
	FinishedAt  *time.Time
	Identifiers int
	Sources     []pipeline.SetSummary
	Joins       []pipeline.SetSummary
	Outputs     []string
	Error       string
}

// Ledger records pipeline runs. It implements pipeline.Recorder.
type Ledger struct {
	db *stdsql.DB
}

var _ pipeline.Recorder = (*Ledger)(nil)

// Open connects to PostgreSQL and applies the embedded schema migrations.
func Open(ctx context.Context, cfg database.Config) (*Ledger, error) {
	if cfg.Driver != database.DriverPostgres {
		return nil, fmt.Errorf("ledger requires postgres, got %q", cfg.Driver)
	}
	db, err := database.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	l, err := New(ctx, db, cfg.Database)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

// New migrates db and wraps it. The caller keeps ownership of db.
func New(ctx context.Context, db *stdsql.DB, databaseName string) (*Ledger, error) {
	if err := database.RunMigrations(ctx, db, migrationsFS, "migrations", databaseName); err != nil {
		return nil, fmt.Errorf("failed to migrate ledger: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close closes the underlying connection pool.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Start inserts the row for a run that has just begun.
func (l *Ledger) Start(ctx context.Context, s *pipeline.Summary) error {
	return l.upsert(ctx, s)
}

// Finish stores the final state of a run. A run that failed before Start is
// inserted here.
func (l *Ledger) Finish(ctx context.Context, s *pipeline.Summary) error {
	return l.upsert(ctx, s)
}

func (l *Ledger) upsert(ctx context.Context, s *pipeline.Summary) error {
	if _, err := uuid.Parse(s.RunID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRunID, err)
	}
	sources, err := json.Marshal(nonNil(s.Sources))
	if err != nil {
		return err
	}
	joins, err := json.Marshal(nonNil(s.Joins))
	if err != nil {
		return err
	}
	outputs, err := json.Marshal(nonNil(s.Outputs))
	if err != nil {
		return err
	}

	var finished, runErr any
	if !s.FinishedAt.IsZero() {
		finished = s.FinishedAt
	}
	if s.Error != "" {
		runErr = s.Error
	}

	query, args := entsql.Dialect(dialect.Postgres).
		Insert(table).
		Columns("run_id", "seed", "status", "started_at", "finished_at", "identifiers", "sources", "joins", "outputs", "error").
		Values(s.RunID, strconv.FormatUint(s.Seed, 10), string(s.Status), s.StartedAt, finished, s.Identifiers,
			string(sources), string(joins), string(outputs), runErr).
		OnConflict(entsql.ConflictColumns("run_id"), entsql.ResolveWithNewValues()).
		Query()
	if _, err := l.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to record run %s: %w", s.RunID, err)
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

var runColumns = []string{"run_id", "seed", "status", "started_at", "finished_at", "identifiers", "sources", "joins", "outputs", "error"}

// Get returns the row of one run.
func (l *Ledger) Get(ctx context.Context, runID string) (*Run, error) {
	if _, err := uuid.Parse(runID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRunID, err)
	}
	query, args := entsql.Dialect(dialect.Postgres).
		Select(runColumns...).
		From(entsql.Table(table)).
		Where(entsql.EQ("run_id", runID)).
		Query()
	runs, err := l.query(ctx, query, args)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return &runs[0], nil
}

// List returns the most recent runs, newest first.
func (l *Ledger) List(ctx context.Context, limit int) ([]Run, error) {
	sel := entsql.Dialect(dialect.Postgres).
		Select(runColumns...).
		From(entsql.Table(table)).
		OrderBy(entsql.Desc("started_at"))
	if limit > 0 {
		sel.Limit(limit)
	}
	query, args := sel.Query()
	return l.query(ctx, query, args)
}

func (l *Ledger) query(ctx context.Context, query string, args []any) ([]Run, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r                       Run
			seed, status            string
			finished                stdsql.NullTime
			runErr                  stdsql.NullString
			sources, joins, outputs []byte
		)
		if err := rows.Scan(&r.ID, &seed, &status, &r.StartedAt, &finished, &r.Identifiers,
			&sources, &joins, &outputs, &runErr); err != nil {
			return nil, fmt.Errorf("failed to scan ledger row: %w", err)
		}
		if r.Seed, err = strconv.ParseUint(seed, 10, 64); err != nil {
			return nil, fmt.Errorf("run %s: bad seed %q: %w", r.ID, seed, err)
		}
		r.Status = pipeline.Status(status)
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		r.Error = runErr.String
		if err := json.Unmarshal(sources, &r.Sources); err != nil {
			return nil, fmt.Errorf("run %s: sources: %w", r.ID, err)
		}
		if err := json.Unmarshal(joins, &r.Joins); err != nil {
			return nil, fmt.Errorf("run %s: joins: %w", r.ID, err)
		}
		if err := json.Unmarshal(outputs, &r.Outputs); err != nil {
			return nil, fmt.Errorf("run %s: outputs: %w", r.ID, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Prune deletes finished runs that started more than olderThan ago. Runs still
// marked running are kept.
func (l *Ledger) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("retention must be positive, got %s", olderThan)
	}
	cutoff := time.Now().Add(-olderThan)
	query, args := entsql.Dialect(dialect.Postgres).
		Delete(table).
		Where(entsql.And(
			entsql.LT("started_at", cutoff),
			entsql.NEQ("status", string(pipeline.StatusRunning)),
		)).
		Query()
	res, err := l.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to prune ledger: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("Ledger: pruned old runs", "count", n, "older_than", olderThan)
	}
	return n, nil
}
