// Package util provides the shared PostgreSQL database used by the SQL source
// and run ledger tests.
package util

import (
	"context"
	"crypto/rand"
	stdsql "database/sql"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver for database/sql
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/phimask/phimask/pkg/database"
)

var shared struct {
	once    sync.Once
	connStr string
	err     error
}

// TestDatabase is a schema private to one test inside the shared server.
type TestDatabase struct {
	DB      *stdsql.DB // search_path points at Schema
	ConnStr string     // Server connection string without a search_path
	Schema  string
}

// SetupTestDatabase creates an empty schema for the calling test and drops it
// when the test ends. The server is CI_DATABASE_URL when set, otherwise a
// PostgreSQL container started once per test binary. Tests are skipped under
// -short.
func SetupTestDatabase(t *testing.T) *TestDatabase {
	t.Helper()
	if testing.Short() {
		t.Skip("requires PostgreSQL")
	}
	ctx := context.Background()
	connStr := serverConnString(t)
	schema := schemaName(t)

	admin, err := stdsql.Open("pgx", connStr)
	require.NoError(t, err)
	defer admin.Close()
	_, err = admin.ExecContext(ctx, "CREATE SCHEMA "+schema)
	require.NoError(t, err)

	scoped, err := withSearchPath(connStr, schema)
	require.NoError(t, err)
	db, err := stdsql.Open("pgx", scoped)
	require.NoError(t, err)
	db.SetMaxOpenConns(5)

	t.Cleanup(func() {
		if _, err := db.ExecContext(context.Background(), "DROP SCHEMA IF EXISTS "+schema+" CASCADE"); err != nil {
			t.Logf("failed to drop schema %s: %v", schema, err)
		}
		_ = db.Close()
	})
	return &TestDatabase{DB: db, ConnStr: connStr, Schema: schema}
}

// Config returns connection settings for the shared server in the form the
// connectors and the ledger read from the environment.
func (d *TestDatabase) Config(t *testing.T) database.Config {
	t.Helper()
	pc, err := pgconn.ParseConfig(d.ConnStr)
	require.NoError(t, err)
	return database.Config{
		Driver:   database.DriverPostgres,
		Host:     pc.Host,
		Port:     int(pc.Port),
		User:     pc.User,
		Password: pc.Password,
		Database: pc.Database,
		SSLMode:  "disable",
	}
}

func serverConnString(t *testing.T) string {
	t.Helper()
	if ci := os.Getenv("CI_DATABASE_URL"); ci != "" {
		return ci
	}
	shared.once.Do(func() {
		ctx := context.Background()
		container, err := postgres.Run(ctx,
			"postgres:17-alpine",
			postgres.WithDatabase("phimask"),
			postgres.WithUsername("phimask"),
			postgres.WithPassword("phimask"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			shared.err = fmt.Errorf("failed to start postgres container: %w", err)
			return
		}
		shared.connStr, shared.err = container.ConnectionString(ctx, "sslmode=disable")
	})
	require.NoError(t, shared.err, "shared PostgreSQL is unavailable")
	return shared.connStr
}

// schemaName is unique per call and at most 63 bytes, PostgreSQL's identifier limit.
func schemaName(t *testing.T) string {
	suffix := make([]byte, 4)
	_, err := rand.Read(suffix)
	require.NoError(t, err)

	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		}
		return '_'
	}, t.Name())
	if len(name) > 40 {
		name = name[:40]
	}
	return "t_" + hex.EncodeToString(suffix) + "_" + name
}

func withSearchPath(connStr, schema string) (string, error) {
	u, err := url.Parse(connStr)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
