// Package database opens pooled MySQL and PostgreSQL connections and applies
// embedded schema migrations.
package database

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"entgo.io/ent/dialect"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver for database/sql
)

// Config holds database configuration
type Config struct {
	Driver   Driver
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string // PostgreSQL only

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DSN renders the driver-specific connection string.
func (c Config) DSN() string {
	if c.Driver == DriverMySQL {
		mc := mysql.NewConfig()
		mc.User = c.User
		mc.Passwd = c.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
		mc.DBName = c.Database
		mc.ParseTime = true
		return mc.FormatDSN()
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// SQLDriverName is the database/sql driver registered for the engine.
func (c Config) SQLDriverName() string {
	if c.Driver == DriverMySQL {
		return "mysql"
	}
	return "pgx"
}

// Dialect is the ent SQL dialect matching the engine.
func (c Config) Dialect() string {
	if c.Driver == DriverMySQL {
		return dialect.MySQL
	}
	return dialect.Postgres
}

// Open creates a pooled connection and verifies it with a ping.
func Open(ctx context.Context, cfg Config) (*stdsql.DB, error) {
	db, err := stdsql.Open(cfg.SQLDriverName(), cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// IsAuthError reports whether err is a credential rejection from either driver:
// MySQL 1045 (access denied) or PostgreSQL SQLSTATE 28000/28P01.
func IsAuthError(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1045
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "28000" || pgErr.Code == "28P01"
	}
	return false
}
