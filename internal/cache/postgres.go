package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBackend stores entries in a PostgreSQL table. It lets several
// crawler processes share one cache.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and creates the cache table if needed.
func OpenPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS crawlkit_cache (
		key TEXT PRIMARY KEY,
		entry JSONB NOT NULL,
		stored_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create cache table: %w", err)
	}

	logger.Debug("postgres cache ready", "host", poolConfig.ConnConfig.Host, "database", poolConfig.ConnConfig.Database)
	return &PostgresBackend{pool: pool}, nil
}

// GetItem implements Backend.
func (p *PostgresBackend) GetItem(ctx context.Context, key string) (*Entry, error) {
	var data []byte
	err := p.pool.QueryRow(ctx, "SELECT entry FROM crawlkit_cache WHERE key = $1", key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}
	return decodeEntry(data)
}

// SetItem implements Backend.
func (p *PostgresBackend) SetItem(ctx context.Context, key string, e *Entry) error {
	data, err := encodeEntry(e)
	if err != nil {
		return err
	}
	query := `
	INSERT INTO crawlkit_cache (key, entry) VALUES ($1, $2)
	ON CONFLICT (key) DO UPDATE SET entry = EXCLUDED.entry, stored_at = now()`
	if _, err := p.pool.Exec(ctx, query, key, data); err != nil {
		return fmt.Errorf("failed to set cache entry: %w", err)
	}
	return nil
}

// RemoveItem implements Backend.
func (p *PostgresBackend) RemoveItem(ctx context.Context, key string) error {
	if _, err := p.pool.Exec(ctx, "DELETE FROM crawlkit_cache WHERE key = $1", key); err != nil {
		return fmt.Errorf("failed to remove cache entry: %w", err)
	}
	return nil
}

// HasItem implements Backend.
func (p *PostgresBackend) HasItem(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM crawlkit_cache WHERE key = $1)", key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check cache entry: %w", err)
	}
	return exists, nil
}

// Clear implements Backend.
func (p *PostgresBackend) Clear(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, "TRUNCATE crawlkit_cache"); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}

// Size implements Backend.
func (p *PostgresBackend) Size(ctx context.Context) (int, error) {
	var n int
	if err := p.pool.QueryRow(ctx, "SELECT COUNT(*) FROM crawlkit_cache").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count cache entries: %w", err)
	}
	return n, nil
}

// Close implements Backend.
func (p *PostgresBackend) Close() error {
	p.pool.Close()
	return nil
}
