package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/collegedata/crawler/internal/pipeline"
)

// StoreRawContent inserts a fetched page and returns its id.
func (s *Store) StoreRawContent(ctx context.Context, content pipeline.RawContent) (string, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO raw_content
		   (id, target_id, url, category, content, format, snapshot_uri, extracted_at, processed, attempts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		content.ID, content.TargetID, content.URL, content.Category, content.Content,
		content.Format, content.SnapshotURI, content.ExtractedAt, content.Processed, content.Attempts,
	)
	if err != nil {
		return "", fmt.Errorf("insert raw content: %w", err)
	}
	return content.ID, nil
}

const rawContentColumns = `id, target_id, url, category, content, format, snapshot_uri,
	extracted_at, processed, attempts, last_attempt, processing_error`

func scanRawContent(row pgx.Row) (pipeline.RawContent, error) {
	var (
		c           pipeline.RawContent
		snapshotURI *string
		procErr     *string
	)
	err := row.Scan(&c.ID, &c.TargetID, &c.URL, &c.Category, &c.Content, &c.Format,
		&snapshotURI, &c.ExtractedAt, &c.Processed, &c.Attempts, &c.LastAttempt, &procErr)
	if err != nil {
		return pipeline.RawContent{}, err
	}
	if snapshotURI != nil {
		c.SnapshotURI = *snapshotURI
	}
	if procErr != nil {
		c.ProcessingErr = *procErr
	}
	return c, nil
}

// GetRawContent returns one raw content record by id, or pipeline.ErrNotFound.
func (s *Store) GetRawContent(ctx context.Context, id string) (pipeline.RawContent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+rawContentColumns+` FROM raw_content WHERE id = $1`, id)
	c, err := scanRawContent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.RawContent{}, pipeline.ErrNotFound
	}
	if err != nil {
		return pipeline.RawContent{}, fmt.Errorf("select raw content: %w", err)
	}
	return c, nil
}

// GetRawContentByURL returns the most recent snapshot of a URL for a target.
// The URL is intentionally not unique: recrawls append fresh rows.
func (s *Store) GetRawContentByURL(ctx context.Context, targetID, url string) (pipeline.RawContent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+rawContentColumns+` FROM raw_content
		 WHERE target_id = $1 AND url = $2
		 ORDER BY extracted_at DESC LIMIT 1`, targetID, url)
	c, err := scanRawContent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.RawContent{}, pipeline.ErrNotFound
	}
	if err != nil {
		return pipeline.RawContent{}, fmt.Errorf("select raw content by url: %w", err)
	}
	return c, nil
}

// ListUnprocessedContent returns pages awaiting extraction, oldest first.
// Rows that have exhausted maxAttempts are excluded so a poison document
// cannot be re-enqueued forever.
func (s *Store) ListUnprocessedContent(ctx context.Context, limit, maxAttempts int, category pipeline.Category) ([]pipeline.RawContent, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `SELECT ` + rawContentColumns + ` FROM raw_content
		 WHERE processed = FALSE AND attempts < $2`
	args := []any{limit, maxAttempts}
	if category != "" {
		query += ` AND category = $3`
		args = append(args, category)
	}
	query += ` ORDER BY extracted_at ASC LIMIT $1`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed content: %w", err)
	}
	defer rows.Close()

	var out []pipeline.RawContent
	for rows.Next() {
		c, err := scanRawContent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan raw content: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate raw content: %w", err)
	}
	return out, nil
}

// MarkContentProcessed flags a page as extracted and clears any prior
// processing error.
func (s *Store) MarkContentProcessed(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE raw_content
		 SET processed = TRUE, attempts = attempts + 1, last_attempt = $2, processing_error = NULL
		 WHERE id = $1`,
		id, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("mark content processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pipeline.ErrNotFound
	}
	return nil
}

// RecordProcessingFailure increments the attempt counter and keeps the last
// error for inspection. The row stays unprocessed.
func (s *Store) RecordProcessingFailure(ctx context.Context, id, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE raw_content
		 SET attempts = attempts + 1, last_attempt = $2, processing_error = $3
		 WHERE id = $1`,
		id, time.Now().UTC(), errMsg,
	)
	if err != nil {
		return fmt.Errorf("record processing failure: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pipeline.ErrNotFound
	}
	return nil
}
