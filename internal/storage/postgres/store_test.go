package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collegedata/crawler/internal/pipeline"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func TestNewWithPoolRequiresPool(t *testing.T) {
	t.Parallel()
	_, err := NewWithPool(nil)
	require.Error(t, err)
}

func TestCreateTarget(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO targets").
		WithArgs("t-1", "Example College", "https://example.edu", "example.edu", (*time.Time)(nil), created).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.CreateTarget(context.Background(), pipeline.Target{
		ID:        "t-1",
		Name:      "Example College",
		Website:   "https://example.edu",
		Domain:    "example.edu",
		CreatedAt: created,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateCrawlJobDuplicateID(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO crawl_jobs").
		WithArgs("job-1", "t-1", "full_crawl", pipeline.JobStatusQueued, "api", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: uniqueViolation})

	err := store.CreateCrawlJob(context.Background(), pipeline.CrawlJob{
		ID:          "job-1",
		TargetID:    "t-1",
		JobType:     "full_crawl",
		Status:      pipeline.JobStatusQueued,
		TriggeredBy: "api",
		CreatedAt:   time.Now().UTC(),
	})
	require.ErrorIs(t, err, pipeline.ErrAlreadyExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTargetNotFound(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM targets").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetTarget(context.Background(), "missing")
	require.ErrorIs(t, err, pipeline.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkCrawlJobRunningOnlyFromQueued(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	// Zero rows affected means the job was no longer queued.
	mock.ExpectExec("UPDATE crawl_jobs").
		WithArgs("job-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.MarkCrawlJobRunning(context.Background(), "job-1")
	require.ErrorIs(t, err, pipeline.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteCrawlJobRejectsNonTerminalStatus(t *testing.T) {
	t.Parallel()
	store, _ := newMockStore(t)

	err := store.CompleteCrawlJob(context.Background(), "job-1", pipeline.JobStatusRunning, "")
	require.Error(t, err)
}

func TestCompleteCrawlJobAppendsError(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE crawl_jobs").
		WithArgs("job-1", pipeline.JobStatusFailed, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.CompleteCrawlJob(context.Background(), "job-1", pipeline.JobStatusFailed, "fetch timed out")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCrawlJob(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows([]string{
		"id", "target_id", "job_type", "status", "triggered_by", "created_at",
		"started_at", "completed_at", "duration_seconds", "pages_crawled",
		"pages_processed", "progress", "current_url", "stats", "errors",
	}).AddRow(
		"job-1", "t-1", "full_crawl", pipeline.JobStatusQueued, "api", created,
		nil, nil, nil, 0, 0, 0, nil,
		[]byte(`{"admission_pages":2,"placement_pages":0,"internship_pages":0,"other_pages":1}`),
		[]byte(`[]`),
	)
	mock.ExpectQuery("SELECT (.+) FROM crawl_jobs").
		WithArgs("job-1").
		WillReturnRows(rows)

	job, err := store.GetCrawlJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "t-1", job.TargetID)
	assert.Equal(t, pipeline.JobStatusQueued, job.Status)
	assert.Equal(t, 2, job.Stats.AdmissionPages)
	assert.Empty(t, job.Errors)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordAIJobResult(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE ai_jobs").
		WithArgs("ai-1", "gemini-1.5-flash", 0.8, "result-1", "prompt text", `{"ok":true}`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.RecordAIJobResult(context.Background(), "ai-1", pipeline.AIJobResult{
		ModelName:   "gemini-1.5-flash",
		Confidence:  0.8,
		ResultID:    "result-1",
		Prompt:      "prompt text",
		RawResponse: `{"ok":true}`,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListUnprocessedContentFiltersByCategory(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	extracted := time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows([]string{
		"id", "target_id", "url", "category", "content", "format", "snapshot_uri",
		"extracted_at", "processed", "attempts", "last_attempt", "processing_error",
	}).AddRow(
		"content-1", "t-1", "https://example.edu/admissions", pipeline.CategoryAdmission,
		"<html></html>", "html", nil, extracted, false, 1, nil, nil,
	)
	mock.ExpectQuery("SELECT (.+) FROM raw_content").
		WithArgs(10, 3, pipeline.CategoryAdmission).
		WillReturnRows(rows)

	out, err := store.ListUnprocessedContent(context.Background(), 10, 3, pipeline.CategoryAdmission)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "content-1", out[0].ID)
	assert.Equal(t, 1, out[0].Attempts)
	assert.False(t, out[0].Processed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkContentProcessed(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE raw_content").
		WithArgs("content-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.MarkContentProcessed(context.Background(), "content-1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordProcessingFailure(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE raw_content").
		WithArgs("content-1", pgxmock.AnyArg(), "model unavailable").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.RecordProcessingFailure(context.Background(), "content-1", "model unavailable")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
