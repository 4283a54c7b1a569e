// Package postgres provides Postgres-backed persistence for targets, job
// records, and raw content. Extraction documents live in Mongo; see
// internal/storage/mongo.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements the pipeline store interfaces over one connection pool.
// The pool health-checks connections on acquire, so callers never hold a
// stale handle across worker threads.
type Store struct {
	pool dbPool
}

// New connects to Postgres and returns a Store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for tests).
func NewWithPool(pool dbPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS targets (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	website TEXT NOT NULL,
	domain TEXT NOT NULL,
	last_crawled TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS crawl_jobs (
	id TEXT PRIMARY KEY,
	target_id TEXT NOT NULL REFERENCES targets(id),
	job_type TEXT NOT NULL DEFAULT 'full_crawl',
	status TEXT NOT NULL,
	triggered_by TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	duration_seconds DOUBLE PRECISION,
	pages_crawled INT NOT NULL DEFAULT 0,
	pages_processed INT NOT NULL DEFAULT 0,
	progress INT NOT NULL DEFAULT 0,
	current_url TEXT,
	stats JSONB NOT NULL DEFAULT '{}'::jsonb,
	errors JSONB NOT NULL DEFAULT '[]'::jsonb
);
CREATE INDEX IF NOT EXISTS crawl_jobs_status_created_idx ON crawl_jobs (status, created_at);

CREATE TABLE IF NOT EXISTS ai_jobs (
	id TEXT PRIMARY KEY,
	target_id TEXT NOT NULL REFERENCES targets(id),
	raw_content_id TEXT NOT NULL,
	category TEXT NOT NULL,
	status TEXT NOT NULL,
	triggered_by TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	duration_seconds DOUBLE PRECISION,
	model_name TEXT,
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	result_id TEXT,
	prompt TEXT,
	raw_response TEXT,
	errors JSONB NOT NULL DEFAULT '[]'::jsonb
);
CREATE INDEX IF NOT EXISTS ai_jobs_status_created_idx ON ai_jobs (status, created_at);

CREATE TABLE IF NOT EXISTS raw_content (
	id TEXT PRIMARY KEY,
	target_id TEXT NOT NULL REFERENCES targets(id),
	url TEXT NOT NULL,
	category TEXT NOT NULL,
	content TEXT NOT NULL,
	format TEXT NOT NULL DEFAULT 'html',
	snapshot_uri TEXT,
	extracted_at TIMESTAMPTZ NOT NULL,
	processed BOOLEAN NOT NULL DEFAULT FALSE,
	attempts INT NOT NULL DEFAULT 0,
	last_attempt TIMESTAMPTZ,
	processing_error TEXT
);
CREATE INDEX IF NOT EXISTS raw_content_target_idx ON raw_content (target_id);
CREATE INDEX IF NOT EXISTS raw_content_unprocessed_idx ON raw_content (processed, attempts, extracted_at);
`

// EnsureSchema creates tables and indexes if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
