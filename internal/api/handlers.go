package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/collegedata/crawler/internal/pipeline"
	"github.com/collegedata/crawler/internal/workerpool"
)

type createTargetRequest struct {
	Name    string `json:"name"`
	Website string `json:"website"`
}

type triggerRequest struct {
	TriggeredBy string `json:"triggered_by"`
}

type processPendingRequest struct {
	Limit       int    `json:"limit"`
	MaxAttempts int    `json:"max_attempts"`
	Category    string `json:"category"`
	TriggeredBy string `json:"triggered_by"`
}

type createAIJobRequest struct {
	ContentID   string `json:"content_id"`
	TriggeredBy string `json:"triggered_by"`
}

func (s *Server) createTarget(w http.ResponseWriter, r *http.Request) {
	var req createTargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Website = strings.TrimSpace(req.Website)
	if req.Name == "" || req.Website == "" {
		writeError(w, http.StatusBadRequest, "name and website are required")
		return
	}
	parsed, err := url.Parse(req.Website)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		writeError(w, http.StatusBadRequest, "website must be an absolute http(s) URL")
		return
	}

	id, err := s.deps.IDs.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "generate id")
		return
	}
	target := pipeline.Target{
		ID:        id,
		Name:      req.Name,
		Website:   req.Website,
		Domain:    strings.ToLower(parsed.Hostname()),
		CreatedAt: s.deps.Clock.Now().UTC(),
	}
	if err := s.deps.Targets.CreateTarget(r.Context(), target); err != nil {
		s.logger.Error("create target", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "create target")
		return
	}
	writeJSON(w, http.StatusCreated, target)
}

func (s *Server) getTarget(w http.ResponseWriter, r *http.Request) {
	target, err := s.deps.Targets.GetTarget(r.Context(), chi.URLParam(r, "target_id"))
	if err != nil {
		writeStoreError(w, err, "target")
		return
	}
	writeJSON(w, http.StatusOK, target)
}

func (s *Server) listTargets(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	targets, err := s.deps.Targets.ListTargets(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list targets")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(targets), "targets": targets})
}

func (s *Server) startCrawl(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "target_id")
	target, err := s.deps.Targets.GetTarget(r.Context(), targetID)
	if err != nil {
		writeStoreError(w, err, "target")
		return
	}

	var req triggerRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.TriggeredBy == "" {
		req.TriggeredBy = "api"
	}

	jobID, err := s.deps.IDs.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "generate id")
		return
	}
	now := s.deps.Clock.Now().UTC()
	job := pipeline.CrawlJob{
		ID:          jobID,
		TargetID:    target.ID,
		JobType:     "full_crawl",
		Status:      pipeline.JobStatusQueued,
		TriggeredBy: req.TriggeredBy,
		CreatedAt:   now,
	}
	if err := s.deps.CrawlJobs.CreateCrawlJob(r.Context(), job); err != nil {
		s.logger.Error("create crawl job", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "create crawl job")
		return
	}
	if err := s.deps.CrawlPool.Enqueue(r.Context(), pipeline.QueueItem{
		JobID:     jobID,
		TargetID:  target.ID,
		Kind:      pipeline.JobKindCrawl,
		Submitted: now.Unix(),
	}); err != nil {
		s.logger.Error("enqueue crawl job", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "enqueue crawl job")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": string(job.Status)})
}

func (s *Server) getCrawlJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.CrawlJobs.GetCrawlJob(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		writeStoreError(w, err, "crawl job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) crawlQueueStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.CrawlPool.Status())
}

func (s *Server) createAIJob(w http.ResponseWriter, r *http.Request) {
	var req createAIJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ContentID == "" {
		writeError(w, http.StatusBadRequest, "content_id is required")
		return
	}
	content, err := s.deps.Contents.GetRawContent(r.Context(), req.ContentID)
	if err != nil {
		writeStoreError(w, err, "raw content")
		return
	}
	if req.TriggeredBy == "" {
		req.TriggeredBy = "api"
	}
	jobID, err := s.enqueueExtraction(r, content, req.TriggeredBy)
	if err != nil {
		s.logger.Error("create extraction job", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": string(pipeline.JobStatusQueued)})
}

func (s *Server) processPending(w http.ResponseWriter, r *http.Request) {
	var req processPendingRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}
	if req.MaxAttempts <= 0 {
		req.MaxAttempts = s.cfg.AI.MaxAttempts
	}
	if req.TriggeredBy == "" {
		req.TriggeredBy = "process_pending"
	}

	contents, err := s.deps.Contents.ListUnprocessedContent(
		r.Context(), req.Limit, req.MaxAttempts, pipeline.Category(req.Category))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list unprocessed content")
		return
	}

	jobIDs := make([]string, 0, len(contents))
	for _, content := range contents {
		jobID, err := s.enqueueExtraction(r, content, req.TriggeredBy)
		if err != nil {
			s.logger.Error("create extraction job",
				zap.String("content_id", content.ID), zap.Error(err))
			continue
		}
		jobIDs = append(jobIDs, jobID)
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"jobs_created": len(jobIDs),
		"job_ids":      jobIDs,
	})
}

func (s *Server) enqueueExtraction(r *http.Request, content pipeline.RawContent, triggeredBy string) (string, error) {
	jobID, err := s.deps.IDs.NewID()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	now := s.deps.Clock.Now().UTC()
	job := pipeline.AIJob{
		ID:           jobID,
		TargetID:     content.TargetID,
		RawContentID: content.ID,
		Category:     content.Category,
		Status:       pipeline.JobStatusQueued,
		TriggeredBy:  triggeredBy,
		CreatedAt:    now,
	}
	if err := s.deps.AIJobs.CreateAIJob(r.Context(), job); err != nil {
		return "", fmt.Errorf("create extraction job: %w", err)
	}
	if err := s.deps.ExtractPool.Enqueue(r.Context(), pipeline.QueueItem{
		JobID:     jobID,
		TargetID:  content.TargetID,
		Kind:      pipeline.JobKindExtraction,
		Submitted: now.Unix(),
	}); err != nil {
		return "", fmt.Errorf("enqueue extraction job: %w", err)
	}
	return jobID, nil
}

func (s *Server) getAIJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.AIJobs.GetAIJob(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		writeStoreError(w, err, "extraction job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type extractionQueuePayload struct {
	workerpool.Status
	ModelLoaded bool `json:"model_loaded"`
}

func (s *Server) extractionQueueStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, extractionQueuePayload{
		Status:      s.deps.ExtractPool.Status(),
		ModelLoaded: s.deps.Model.Status().Loaded,
	})
}

func (s *Server) listUnprocessedContent(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 10)
	maxAttempts := queryInt(r, "max_attempts", s.cfg.AI.MaxAttempts)
	category := pipeline.Category(r.URL.Query().Get("category"))

	contents, err := s.deps.Contents.ListUnprocessedContent(r.Context(), limit, maxAttempts, category)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list unprocessed content")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(contents), "content": contents})
}

func (s *Server) modelStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Model.Status())
}

func (s *Server) loadModel(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Model.Load(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Model.Status())
}

func (s *Server) unloadModel(w http.ResponseWriter, _ *http.Request) {
	if err := s.deps.Model.Unload(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Model.Status())
}

func writeStoreError(w http.ResponseWriter, err error, what string) {
	if errors.Is(err, pipeline.ErrNotFound) {
		writeError(w, http.StatusNotFound, what+" not found")
		return
	}
	writeError(w, http.StatusInternalServerError, "fetch "+what)
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
