package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	systemclock "github.com/collegedata/crawler/internal/clock/system"
	"github.com/collegedata/crawler/internal/config"
	uuidgen "github.com/collegedata/crawler/internal/id/uuid"
	"github.com/collegedata/crawler/internal/llm"
	"github.com/collegedata/crawler/internal/pipeline"
	"github.com/collegedata/crawler/internal/storage/memory"
	"github.com/collegedata/crawler/internal/workerpool"
)

type recordingPool struct {
	mu    sync.Mutex
	items []pipeline.QueueItem
}

func (p *recordingPool) Enqueue(_ context.Context, item pipeline.QueueItem) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items = append(p.items, item)
	return nil
}

func (p *recordingPool) Status() workerpool.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return workerpool.Status{QueueSize: len(p.items), ActiveJobs: []workerpool.ActiveJob{}}
}

func (p *recordingPool) enqueued() []pipeline.QueueItem {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]pipeline.QueueItem, len(p.items))
	copy(out, p.items)
	return out
}

type fakeModel struct {
	mu     sync.Mutex
	loaded bool
	err    error
}

func (m *fakeModel) Load(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.loaded = true
	return nil
}

func (m *fakeModel) Unload() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaded = false
	return nil
}

func (m *fakeModel) Status() llm.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return llm.Status{Name: "test-model", Device: "api", Loaded: m.loaded}
}

type apiFixture struct {
	server      *Server
	targets     *memory.TargetStore
	jobs        *memory.JobStore
	contents    *memory.ContentStore
	crawlPool   *recordingPool
	extractPool *recordingPool
	model       *fakeModel
}

func newFixture(t *testing.T, cfg config.Config) *apiFixture {
	t.Helper()
	if cfg.AI.MaxAttempts == 0 {
		cfg.AI.MaxAttempts = 3
	}
	f := &apiFixture{
		targets:     memory.NewTargetStore(),
		jobs:        memory.NewJobStore(),
		contents:    memory.NewContentStore(),
		crawlPool:   &recordingPool{},
		extractPool: &recordingPool{},
		model:       &fakeModel{},
	}
	f.server = NewServer(Deps{
		Targets:     f.targets,
		CrawlJobs:   f.jobs,
		AIJobs:      f.jobs,
		Contents:    f.contents,
		CrawlPool:   f.crawlPool,
		ExtractPool: f.extractPool,
		Model:       f.model,
		Clock:       systemclock.New(),
		IDs:         uuidgen.New(),
	}, cfg)
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload
}

func seedTarget(t *testing.T, f *apiFixture) pipeline.Target {
	t.Helper()
	target := pipeline.Target{
		ID:        "t-1",
		Name:      "Example College",
		Website:   "https://college.example.edu",
		Domain:    "college.example.edu",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, f.targets.CreateTarget(context.Background(), target))
	return target
}

func TestCreateAndGetTarget(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.Config{})

	rec := f.do(t, http.MethodPost, "/v1/targets", map[string]string{
		"name":    "Example College",
		"website": "https://college.example.edu",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeBody(t, rec)
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "college.example.edu", created["domain"])

	rec = f.do(t, http.MethodGet, "/v1/targets/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Example College", decodeBody(t, rec)["name"])
}

func TestCreateTargetRejectsBadWebsite(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.Config{})

	for _, website := range []string{"", "not a url", "ftp://college.example.edu"} {
		rec := f.do(t, http.MethodPost, "/v1/targets", map[string]string{
			"name":    "Example College",
			"website": website,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code, website)
	}
}

func TestGetTargetNotFound(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.Config{})
	rec := f.do(t, http.MethodGet, "/v1/targets/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartCrawlCreatesAndEnqueuesJob(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.Config{})
	target := seedTarget(t, f)

	rec := f.do(t, http.MethodPost, "/v1/targets/"+target.ID+"/crawl", map[string]string{
		"triggered_by": "scheduler",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	jobID, _ := decodeBody(t, rec)["job_id"].(string)
	require.NotEmpty(t, jobID)

	job, err := f.jobs.GetCrawlJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.JobStatusQueued, job.Status)
	assert.Equal(t, "full_crawl", job.JobType)
	assert.Equal(t, "scheduler", job.TriggeredBy)

	items := f.crawlPool.enqueued()
	require.Len(t, items, 1)
	assert.Equal(t, jobID, items[0].JobID)
	assert.Equal(t, pipeline.JobKindCrawl, items[0].Kind)
}

func TestStartCrawlMissingTarget(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.Config{})
	rec := f.do(t, http.MethodPost, "/v1/targets/missing/crawl", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetCrawlJob(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.Config{})
	require.NoError(t, f.jobs.CreateCrawlJob(context.Background(), pipeline.CrawlJob{
		ID:        "job-1",
		TargetID:  "t-1",
		Status:    pipeline.JobStatusRunning,
		CreatedAt: time.Now().UTC(),
	}))

	rec := f.do(t, http.MethodGet, "/v1/crawl/jobs/job-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "running", decodeBody(t, rec)["status"])

	rec = f.do(t, http.MethodGet, "/v1/crawl/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func seedContent(t *testing.T, f *apiFixture, id string, category pipeline.Category) pipeline.RawContent {
	t.Helper()
	content := pipeline.RawContent{
		ID:          id,
		TargetID:    "t-1",
		URL:         "https://college.example.edu/" + id,
		Category:    category,
		Content:     "<html><body>page</body></html>",
		Format:      "html",
		ExtractedAt: time.Now().UTC(),
	}
	_, err := f.contents.StoreRawContent(context.Background(), content)
	require.NoError(t, err)
	return content
}

func TestCreateAIJob(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.Config{})
	content := seedContent(t, f, "c-1", pipeline.CategoryAdmission)

	rec := f.do(t, http.MethodPost, "/v1/ai/jobs", map[string]string{"content_id": content.ID})
	require.Equal(t, http.StatusAccepted, rec.Code)
	jobID, _ := decodeBody(t, rec)["job_id"].(string)
	require.NotEmpty(t, jobID)

	job, err := f.jobs.GetAIJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, content.ID, job.RawContentID)
	assert.Equal(t, pipeline.CategoryAdmission, job.Category)

	items := f.extractPool.enqueued()
	require.Len(t, items, 1)
	assert.Equal(t, pipeline.JobKindExtraction, items[0].Kind)
}

func TestCreateAIJobValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.Config{})

	rec := f.do(t, http.MethodPost, "/v1/ai/jobs", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/ai/jobs", map[string]string{"content_id": "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProcessPendingEnqueuesAllUnprocessed(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.Config{})
	seedContent(t, f, "c-1", pipeline.CategoryAdmission)
	seedContent(t, f, "c-2", pipeline.CategoryPlacement)

	rec := f.do(t, http.MethodPost, "/v1/ai/process-pending", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	payload := decodeBody(t, rec)
	assert.Equal(t, float64(2), payload["jobs_created"])
	assert.Len(t, f.extractPool.enqueued(), 2)
}

func TestListUnprocessedContentFilters(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.Config{})
	seedContent(t, f, "c-1", pipeline.CategoryAdmission)
	seedContent(t, f, "c-2", pipeline.CategoryPlacement)

	rec := f.do(t, http.MethodGet, "/v1/content/unprocessed?category=placement", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	payload := decodeBody(t, rec)
	assert.Equal(t, float64(1), payload["count"])
}

func TestModelLifecycleEndpoints(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.Config{})

	rec := f.do(t, http.MethodGet, "/v1/model/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["loaded"])

	rec = f.do(t, http.MethodPost, "/v1/model/load", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["loaded"])

	rec = f.do(t, http.MethodGet, "/v1/ai/queue", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["model_loaded"])

	rec = f.do(t, http.MethodPost, "/v1/model/unload", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["loaded"])
}

func TestModelLoadFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.Config{})
	f.model.err = errors.New("api key not configured")

	rec := f.do(t, http.MethodPost, "/v1/model/load", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "api key not configured")
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()
	cfg := config.Config{}
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = "secret"
	f := newFixture(t, cfg)
	seedTarget(t, f)

	rec := f.do(t, http.MethodGet, "/v1/targets/t-1", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/targets/t-1", nil)
	req.Header.Set("X-API-Key", "secret")
	out := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(out, req)
	assert.Equal(t, http.StatusOK, out.Code)

	// Health endpoints stay open.
	rec = f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthAndReady(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.Config{})

	rec := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReportsDownstreamFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.Config{})
	f.server.deps.Ready = func(context.Context) error { return errors.New("database unreachable") }

	rec := f.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
