package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// ErrNoPool is returned by components asked to touch the database when no
// connection pool was supplied. Public operations fail fast on it instead of
// hanging.
var ErrNoPool = fmt.Errorf("database pool unavailable")

// NewPool builds the shared pgx connection pool from a connection string and
// verifies the database is reachable. Every unit of work in the service
// acquires a connection from this pool and releases it when done.
func NewPool(ctx context.Context, connString string, logger *zap.Logger) (*pgxpool.Pool, error) {
	if connString == "" {
		return nil, fmt.Errorf("database connection string is empty")
	}

	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 15 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("connected to database",
		zap.String("database", cfg.ConnConfig.Database),
		zap.String("host", cfg.ConnConfig.Host),
		zap.Int32("max_conns", cfg.MaxConns))

	return pool, nil
}
