package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/collegedata/crawler/internal/pipeline"
)

const uniqueViolation = "23505"

func insertErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return pipeline.ErrAlreadyExists
	}
	return fmt.Errorf("%s: %w", op, err)
}

// CreateCrawlJob inserts a new crawl job in queued status.
func (s *Store) CreateCrawlJob(ctx context.Context, job pipeline.CrawlJob) error {
	stats, err := json.Marshal(job.Stats)
	if err != nil {
		return fmt.Errorf("marshal crawl stats: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO crawl_jobs
		   (id, target_id, job_type, status, triggered_by, created_at, stats)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.TargetID, job.JobType, job.Status, job.TriggeredBy, job.CreatedAt, stats,
	)
	if err != nil {
		return insertErr("insert crawl job", err)
	}
	return nil
}

const crawlJobColumns = `id, target_id, job_type, status, triggered_by, created_at,
	started_at, completed_at, duration_seconds, pages_crawled, pages_processed,
	progress, current_url, stats, errors`

func scanCrawlJob(row pgx.Row) (pipeline.CrawlJob, error) {
	var (
		job        pipeline.CrawlJob
		currentURL *string
		stats      []byte
		errList    []byte
	)
	err := row.Scan(&job.ID, &job.TargetID, &job.JobType, &job.Status, &job.TriggeredBy,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt, &job.DurationSeconds,
		&job.PagesCrawled, &job.PagesProcessed, &job.Progress, &currentURL, &stats, &errList)
	if err != nil {
		return pipeline.CrawlJob{}, err
	}
	if currentURL != nil {
		job.CurrentURL = *currentURL
	}
	if len(stats) > 0 {
		if err := json.Unmarshal(stats, &job.Stats); err != nil {
			return pipeline.CrawlJob{}, fmt.Errorf("unmarshal crawl stats: %w", err)
		}
	}
	if len(errList) > 0 {
		if err := json.Unmarshal(errList, &job.Errors); err != nil {
			return pipeline.CrawlJob{}, fmt.Errorf("unmarshal job errors: %w", err)
		}
	}
	return job, nil
}

// GetCrawlJob returns one crawl job by id, or pipeline.ErrNotFound.
func (s *Store) GetCrawlJob(ctx context.Context, id string) (pipeline.CrawlJob, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+crawlJobColumns+` FROM crawl_jobs WHERE id = $1`, id)
	job, err := scanCrawlJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.CrawlJob{}, pipeline.ErrNotFound
	}
	if err != nil {
		return pipeline.CrawlJob{}, fmt.Errorf("select crawl job: %w", err)
	}
	return job, nil
}

// ListQueuedCrawlJobs returns queued crawl jobs, oldest first.
func (s *Store) ListQueuedCrawlJobs(ctx context.Context, limit int) ([]pipeline.CrawlJob, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+crawlJobColumns+` FROM crawl_jobs
		 WHERE status = 'queued' ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list queued crawl jobs: %w", err)
	}
	defer rows.Close()

	var jobs []pipeline.CrawlJob
	for rows.Next() {
		job, err := scanCrawlJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan crawl job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate crawl jobs: %w", err)
	}
	return jobs, nil
}

// MarkCrawlJobRunning transitions a queued job to running. The guard on the
// current status keeps the transition monotonic when two workers race.
func (s *Store) MarkCrawlJobRunning(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE crawl_jobs
		 SET status = 'running', started_at = COALESCE(started_at, $2)
		 WHERE id = $1 AND status = 'queued'`,
		id, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("mark crawl job running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pipeline.ErrNotFound
	}
	return nil
}

// UpdateCrawlProgress writes the incremental crawl counters. Terminal jobs
// are left untouched so a late engine write cannot resurrect a swept job.
func (s *Store) UpdateCrawlProgress(ctx context.Context, id string, progress pipeline.CrawlProgress) error {
	stats, err := json.Marshal(progress.Stats)
	if err != nil {
		return fmt.Errorf("marshal crawl stats: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE crawl_jobs
		 SET pages_crawled = $2, pages_processed = $3, progress = $4,
		     current_url = $5, stats = $6
		 WHERE id = $1 AND status NOT IN ('completed', 'failed')`,
		id, progress.PagesCrawled, progress.PagesProcessed, progress.Progress,
		progress.CurrentURL, stats,
	)
	if err != nil {
		return fmt.Errorf("update crawl progress: %w", err)
	}
	return nil
}

// CompleteCrawlJob moves a job to a terminal status. Repeat terminal writes
// are ignored, which makes the stall sweeper and the engine safe to race.
func (s *Store) CompleteCrawlJob(ctx context.Context, id string, status pipeline.JobStatus, errMsg string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}
	now := time.Now().UTC()
	newErrors, err := appendedError(errMsg, now)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE crawl_jobs
		 SET status = $2, completed_at = $3,
		     duration_seconds = CASE WHEN started_at IS NULL THEN NULL
		                             ELSE EXTRACT(EPOCH FROM ($3::timestamptz - started_at)) END,
		     errors = errors || $4::jsonb
		 WHERE id = $1 AND status NOT IN ('completed', 'failed')`,
		id, status, now, newErrors,
	)
	if err != nil {
		return fmt.Errorf("complete crawl job: %w", err)
	}
	return nil
}

// CreateAIJob inserts a new extraction job in queued status.
func (s *Store) CreateAIJob(ctx context.Context, job pipeline.AIJob) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ai_jobs
		   (id, target_id, raw_content_id, category, status, triggered_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.TargetID, job.RawContentID, job.Category, job.Status, job.TriggeredBy, job.CreatedAt,
	)
	if err != nil {
		return insertErr("insert ai job", err)
	}
	return nil
}

const aiJobColumns = `id, target_id, raw_content_id, category, status, triggered_by,
	created_at, started_at, completed_at, duration_seconds, model_name, confidence,
	result_id, prompt, raw_response, errors`

func scanAIJob(row pgx.Row) (pipeline.AIJob, error) {
	var (
		job         pipeline.AIJob
		modelName   *string
		resultID    *string
		prompt      *string
		rawResponse *string
		errList     []byte
	)
	err := row.Scan(&job.ID, &job.TargetID, &job.RawContentID, &job.Category, &job.Status,
		&job.TriggeredBy, &job.CreatedAt, &job.StartedAt, &job.CompletedAt,
		&job.DurationSeconds, &modelName, &job.Confidence, &resultID, &prompt,
		&rawResponse, &errList)
	if err != nil {
		return pipeline.AIJob{}, err
	}
	if modelName != nil {
		job.ModelName = *modelName
	}
	if resultID != nil {
		job.ResultID = *resultID
	}
	if prompt != nil {
		job.Prompt = *prompt
	}
	if rawResponse != nil {
		job.RawResponse = *rawResponse
	}
	if len(errList) > 0 {
		if err := json.Unmarshal(errList, &job.Errors); err != nil {
			return pipeline.AIJob{}, fmt.Errorf("unmarshal job errors: %w", err)
		}
	}
	return job, nil
}

// GetAIJob returns one extraction job by id, or pipeline.ErrNotFound.
func (s *Store) GetAIJob(ctx context.Context, id string) (pipeline.AIJob, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+aiJobColumns+` FROM ai_jobs WHERE id = $1`, id)
	job, err := scanAIJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.AIJob{}, pipeline.ErrNotFound
	}
	if err != nil {
		return pipeline.AIJob{}, fmt.Errorf("select ai job: %w", err)
	}
	return job, nil
}

// ListQueuedAIJobs returns queued extraction jobs, oldest first.
func (s *Store) ListQueuedAIJobs(ctx context.Context, limit int) ([]pipeline.AIJob, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+aiJobColumns+` FROM ai_jobs
		 WHERE status = 'queued' ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list queued ai jobs: %w", err)
	}
	defer rows.Close()

	var jobs []pipeline.AIJob
	for rows.Next() {
		job, err := scanAIJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ai job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ai jobs: %w", err)
	}
	return jobs, nil
}

// MarkAIJobRunning transitions a queued extraction job to running.
func (s *Store) MarkAIJobRunning(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ai_jobs
		 SET status = 'running', started_at = COALESCE(started_at, $2)
		 WHERE id = $1 AND status = 'queued'`,
		id, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("mark ai job running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pipeline.ErrNotFound
	}
	return nil
}

// RecordAIJobResult stores the extraction outcome alongside audit fields.
func (s *Store) RecordAIJobResult(ctx context.Context, id string, result pipeline.AIJobResult) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE ai_jobs
		 SET model_name = $2, confidence = $3, result_id = $4, prompt = $5, raw_response = $6
		 WHERE id = $1`,
		id, result.ModelName, result.Confidence, result.ResultID, result.Prompt, result.RawResponse,
	)
	if err != nil {
		return fmt.Errorf("record ai job result: %w", err)
	}
	return nil
}

// CompleteAIJob moves an extraction job to a terminal status. Repeat terminal
// writes are ignored.
func (s *Store) CompleteAIJob(ctx context.Context, id string, status pipeline.JobStatus, errMsg string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}
	now := time.Now().UTC()
	newErrors, err := appendedError(errMsg, now)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE ai_jobs
		 SET status = $2, completed_at = $3,
		     duration_seconds = CASE WHEN started_at IS NULL THEN NULL
		                             ELSE EXTRACT(EPOCH FROM ($3::timestamptz - started_at)) END,
		     errors = errors || $4::jsonb
		 WHERE id = $1 AND status NOT IN ('completed', 'failed')`,
		id, status, now, newErrors,
	)
	if err != nil {
		return fmt.Errorf("complete ai job: %w", err)
	}
	return nil
}

// appendedError marshals errMsg as a JSON array suitable for jsonb
// concatenation, or an empty array when there is nothing to append.
func appendedError(errMsg string, at time.Time) ([]byte, error) {
	if errMsg == "" {
		return []byte(`[]`), nil
	}
	entry, err := json.Marshal([]pipeline.JobError{{Message: errMsg, Timestamp: at}})
	if err != nil {
		return nil, fmt.Errorf("marshal job error: %w", err)
	}
	return entry, nil
}
