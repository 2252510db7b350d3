// Package db opens the Postgres pool shared by the API and the worker.
package db

import (
	"context"
	"fmt"
	"time"

	"chatflow_backend/platform/config"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool parses the DSN, sizes the pool from config and pings once before returning.
// The worker holds one connection per in-flight job plus the sweeper and retention loops.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.GetDatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	maxConns := int32(cfg.GetDatabaseMaxConns())
	poolConfig.MaxConns = maxConns
	poolConfig.MinConns = max(maxConns/5, 1)
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}
