// Package memory provides in-memory store implementations for development
// and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/collegedata/crawler/internal/pipeline"
)

// JobStore keeps crawl and extraction job records in maps. Status
// transitions follow the same monotonic rules the Postgres store enforces:
// started is set once on entering running, completed and duration once on a
// terminal transition, and terminal records are never resurrected.
type JobStore struct {
	mu        sync.RWMutex
	crawlJobs map[string]pipeline.CrawlJob
	aiJobs    map[string]pipeline.AIJob
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		crawlJobs: make(map[string]pipeline.CrawlJob),
		aiJobs:    make(map[string]pipeline.AIJob),
	}
}

// CreateCrawlJob stores a new job in queued status.
func (s *JobStore) CreateCrawlJob(_ context.Context, job pipeline.CrawlJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.crawlJobs[job.ID]; exists {
		return pipeline.ErrAlreadyExists
	}
	s.crawlJobs[job.ID] = job
	return nil
}

// GetCrawlJob fetches a crawl job by ID.
func (s *JobStore) GetCrawlJob(_ context.Context, id string) (pipeline.CrawlJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.crawlJobs[id]
	if !ok {
		return pipeline.CrawlJob{}, pipeline.ErrNotFound
	}
	return job, nil
}

// ListQueuedCrawlJobs returns queued jobs, oldest first.
func (s *JobStore) ListQueuedCrawlJobs(_ context.Context, limit int) ([]pipeline.CrawlJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []pipeline.CrawlJob
	for _, job := range s.crawlJobs {
		if job.Status == pipeline.JobStatusQueued {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkCrawlJobRunning transitions a queued crawl job to running.
func (s *JobStore) MarkCrawlJobRunning(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.crawlJobs[id]
	if !ok {
		return pipeline.ErrNotFound
	}
	if job.Status != pipeline.JobStatusQueued {
		return nil
	}
	now := time.Now().UTC()
	job.Status = pipeline.JobStatusRunning
	if job.StartedAt == nil {
		job.StartedAt = &now
	}
	s.crawlJobs[id] = job
	return nil
}

// UpdateCrawlProgress writes an incremental progress snapshot.
func (s *JobStore) UpdateCrawlProgress(_ context.Context, id string, progress pipeline.CrawlProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.crawlJobs[id]
	if !ok {
		return pipeline.ErrNotFound
	}
	if job.Status.IsTerminal() {
		return nil
	}
	job.PagesCrawled = progress.PagesCrawled
	job.PagesProcessed = progress.PagesProcessed
	job.Progress = progress.Progress
	if progress.CurrentURL != "" {
		job.CurrentURL = progress.CurrentURL
	}
	job.Stats = progress.Stats
	s.crawlJobs[id] = job
	return nil
}

// CompleteCrawlJob moves a crawl job to a terminal status. Repeat terminal
// writes are ignored so the stall sweeper and a late engine write cannot
// fight over the record.
func (s *JobStore) CompleteCrawlJob(_ context.Context, id string, status pipeline.JobStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.crawlJobs[id]
	if !ok {
		return pipeline.ErrNotFound
	}
	if job.Status.IsTerminal() {
		return nil
	}
	now := time.Now().UTC()
	job.Status = status
	job.CompletedAt = &now
	if job.StartedAt != nil {
		d := now.Sub(*job.StartedAt).Seconds()
		job.DurationSeconds = &d
	}
	if errMsg != "" {
		job.Errors = append(job.Errors, pipeline.JobError{Message: errMsg, Timestamp: now})
	}
	s.crawlJobs[id] = job
	return nil
}

// CreateAIJob stores a new extraction job in queued status.
func (s *JobStore) CreateAIJob(_ context.Context, job pipeline.AIJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.aiJobs[job.ID]; exists {
		return pipeline.ErrAlreadyExists
	}
	s.aiJobs[job.ID] = job
	return nil
}

// GetAIJob fetches an extraction job by ID.
func (s *JobStore) GetAIJob(_ context.Context, id string) (pipeline.AIJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.aiJobs[id]
	if !ok {
		return pipeline.AIJob{}, pipeline.ErrNotFound
	}
	return job, nil
}

// ListQueuedAIJobs returns queued extraction jobs, oldest first.
func (s *JobStore) ListQueuedAIJobs(_ context.Context, limit int) ([]pipeline.AIJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []pipeline.AIJob
	for _, job := range s.aiJobs {
		if job.Status == pipeline.JobStatusQueued {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkAIJobRunning transitions a queued extraction job to running.
func (s *JobStore) MarkAIJobRunning(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.aiJobs[id]
	if !ok {
		return pipeline.ErrNotFound
	}
	if job.Status != pipeline.JobStatusQueued {
		return nil
	}
	now := time.Now().UTC()
	job.Status = pipeline.JobStatusRunning
	if job.StartedAt == nil {
		job.StartedAt = &now
	}
	s.aiJobs[id] = job
	return nil
}

// RecordAIJobResult attaches the model output to a running job.
func (s *JobStore) RecordAIJobResult(_ context.Context, id string, result pipeline.AIJobResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.aiJobs[id]
	if !ok {
		return pipeline.ErrNotFound
	}
	job.ModelName = result.ModelName
	job.Confidence = result.Confidence
	job.ResultID = result.ResultID
	job.Prompt = result.Prompt
	job.RawResponse = result.RawResponse
	s.aiJobs[id] = job
	return nil
}

// CompleteAIJob moves an extraction job to a terminal status.
func (s *JobStore) CompleteAIJob(_ context.Context, id string, status pipeline.JobStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.aiJobs[id]
	if !ok {
		return pipeline.ErrNotFound
	}
	if job.Status.IsTerminal() {
		return nil
	}
	now := time.Now().UTC()
	job.Status = status
	job.CompletedAt = &now
	if job.StartedAt != nil {
		d := now.Sub(*job.StartedAt).Seconds()
		job.DurationSeconds = &d
	}
	if errMsg != "" {
		job.Errors = append(job.Errors, pipeline.JobError{Message: errMsg, Timestamp: now})
	}
	s.aiJobs[id] = job
	return nil
}
