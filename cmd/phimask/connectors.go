package main

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/phimask/phimask/pkg/config"
	"github.com/phimask/phimask/pkg/database"
	"github.com/phimask/phimask/pkg/records"
	"github.com/phimask/phimask/pkg/source"
	"github.com/phimask/phimask/pkg/source/crm"
	"github.com/phimask/phimask/pkg/source/csvsource"
	"github.com/phimask/phimask/pkg/source/sqlsource"
)

// connectors owns the shared clients behind the configured sources.
type connectors struct {
	crm *crm.Client
	dbc database.Config

	mu sync.Mutex
	db *stdsql.DB
}

// openDB connects on first use, so connection failures surface from the fetch
// that needed the database.
func (c *connectors) openDB(ctx context.Context) (*stdsql.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db != nil {
		return c.db, nil
	}
	db, err := sqlsource.Connect(ctx, c.dbc)
	if err != nil {
		return nil, err
	}
	c.db = db
	return db, nil
}

func (c *connectors) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return
	}
	if err := c.db.Close(); err != nil {
		slog.Error("Error closing source database", "error", err)
	}
}

// buildFetchers creates one fetcher per configured source. CRM and database
// settings come from the environment and are only read when a source needs them.
func buildFetchers(ctx context.Context, cfg *config.Config) (map[string]source.Fetcher, *connectors, error) {
	conns := &connectors{}
	fetchers := make(map[string]source.Fetcher, len(cfg.Sources))
	for _, s := range cfg.Sources {
		f, err := conns.fetcher(ctx, cfg, s)
		if err != nil {
			conns.Close()
			return nil, nil, err
		}
		fetchers[s.Name] = f
	}
	return fetchers, conns, nil
}

func (c *connectors) fetcher(ctx context.Context, cfg *config.Config, s *config.SourceConfig) (source.Fetcher, error) {
	switch s.Kind {
	case config.SourceKindCRM:
		if c.crm == nil {
			crmCfg, err := crm.LoadConfigFromEnv()
			if err != nil {
				return nil, fmt.Errorf("source %q: %w", s.Name, err)
			}
			c.crm = crm.NewClient(crmCfg)
		}
		return crm.NewSource(c.crm, s.Name, crm.Query{
			Object:  s.Object,
			Columns: s.Columns,
			OrderBy: s.OrderBy,
			Limit:   s.Limit,
			SOQL:    s.Query,
		}), nil

	case config.SourceKindSQL:
		if c.dbc.Driver == "" {
			dbCfg, err := database.LoadConfigFromEnv("DB_", database.DriverMySQL)
			if err != nil {
				return nil, fmt.Errorf("source %q: %w", s.Name, err)
			}
			c.dbc = dbCfg
		}
		q := sqlsource.Query{
			Table:   s.Table,
			Columns: s.Columns,
			OrderBy: s.OrderBy,
			Limit:   s.Limit,
		}
		name := s.Name
		return source.FetcherFunc(func(ctx context.Context, filter *source.Filter) (*records.RecordSet, error) {
			db, err := c.openDB(ctx)
			if err != nil {
				return nil, err
			}
			return sqlsource.NewSource(db, c.dbc.Dialect(), name, q).Fetch(ctx, filter)
		}), nil

	case config.SourceKindCSV:
		path := s.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(cfg.ConfigDir(), path)
		}
		return csvsource.NewSource(s.Name, path), nil
	}
	return nil, fmt.Errorf("source %q: %w", s.Name, errors.ErrUnsupported)
}
