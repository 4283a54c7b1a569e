package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/collegedata/crawler/internal/pipeline"
)

// CreateTarget inserts a new college target record.
func (s *Store) CreateTarget(ctx context.Context, target pipeline.Target) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO targets (id, name, website, domain, last_crawled, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		target.ID, target.Name, target.Website, target.Domain, target.LastCrawled, target.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert target: %w", err)
	}
	return nil
}

// GetTarget returns one target by id, or pipeline.ErrNotFound.
func (s *Store) GetTarget(ctx context.Context, id string) (pipeline.Target, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, website, domain, last_crawled, created_at
		 FROM targets WHERE id = $1`, id)

	var t pipeline.Target
	err := row.Scan(&t.ID, &t.Name, &t.Website, &t.Domain, &t.LastCrawled, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.Target{}, pipeline.ErrNotFound
	}
	if err != nil {
		return pipeline.Target{}, fmt.Errorf("select target: %w", err)
	}
	return t, nil
}

// ListTargets returns targets ordered by creation time, newest first.
func (s *Store) ListTargets(ctx context.Context, limit, offset int) ([]pipeline.Target, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, website, domain, last_crawled, created_at
		 FROM targets ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	defer rows.Close()

	var targets []pipeline.Target
	for rows.Next() {
		var t pipeline.Target
		if err := rows.Scan(&t.ID, &t.Name, &t.Website, &t.Domain, &t.LastCrawled, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate targets: %w", err)
	}
	return targets, nil
}

// MarkTargetCrawled stamps the time a crawl of the target last completed.
func (s *Store) MarkTargetCrawled(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE targets SET last_crawled = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("mark target crawled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pipeline.ErrNotFound
	}
	return nil
}
