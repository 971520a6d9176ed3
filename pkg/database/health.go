package database

import (
	"context"
	"database/sql"
	"log/slog"
	"time"
)

// HealthStatus represents database health and connection pool statistics
type HealthStatus struct {
	Healthy         bool
	ResponseTime    time.Duration
	OpenConnections int
	InUse           int
	Idle            int
	WaitCount       int64
}

// Health checks database connectivity and returns connection pool statistics
func Health(ctx context.Context, db *sql.DB) (*HealthStatus, error) {
	start := time.Now()
	if err := db.PingContext(ctx); err != nil {
		return &HealthStatus{ResponseTime: time.Since(start)}, err
	}

	stats := db.Stats()
	return &HealthStatus{
		Healthy:         true,
		ResponseTime:    time.Since(start),
		OpenConnections: stats.OpenConnections,
		InUse:           stats.InUse,
		Idle:            stats.Idle,
		WaitCount:       stats.WaitCount,
	}, nil
}

// LogValue renders the status as a slog group.
func (h *HealthStatus) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("healthy", h.Healthy),
		slog.Int64("response_time_ms", h.ResponseTime.Milliseconds()),
		slog.Int("open_connections", h.OpenConnections),
		slog.Int("in_use", h.InUse),
		slog.Int("idle", h.Idle),
		slog.Int64("wait_count", h.WaitCount),
	)
}
