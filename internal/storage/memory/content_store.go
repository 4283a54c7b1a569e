package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/collegedata/crawler/internal/pipeline"
)

// ContentStore keeps raw fetched pages in memory.
type ContentStore struct {
	mu      sync.RWMutex
	content map[string]pipeline.RawContent
	nextID  int
}

// NewContentStore constructs a ContentStore.
func NewContentStore() *ContentStore {
	return &ContentStore{content: make(map[string]pipeline.RawContent)}
}

// StoreRawContent persists one fetched page and returns its id.
func (s *ContentStore) StoreRawContent(_ context.Context, content pipeline.RawContent) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if content.ID == "" {
		s.nextID++
		content.ID = "content-" + strconv.Itoa(s.nextID)
	}
	if content.ExtractedAt.IsZero() {
		content.ExtractedAt = time.Now().UTC()
	}
	s.content[content.ID] = content
	return content.ID, nil
}

// GetRawContent fetches one page by id.
func (s *ContentStore) GetRawContent(_ context.Context, id string) (pipeline.RawContent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.content[id]
	if !ok {
		return pipeline.RawContent{}, pipeline.ErrNotFound
	}
	return c, nil
}

// GetRawContentByURL fetches the first page stored for (target, url).
func (s *ContentStore) GetRawContentByURL(_ context.Context, targetID, url string) (pipeline.RawContent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.content {
		if c.TargetID == targetID && c.URL == url {
			return c, nil
		}
	}
	return pipeline.RawContent{}, pipeline.ErrNotFound
}

// ListUnprocessedContent returns unprocessed pages below the attempt cap,
// oldest first, optionally filtered by category.
func (s *ContentStore) ListUnprocessedContent(_ context.Context, limit, maxAttempts int, category pipeline.Category) ([]pipeline.RawContent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []pipeline.RawContent
	for _, c := range s.content {
		if c.Processed || c.Attempts >= maxAttempts {
			continue
		}
		if category != "" && c.Category != category {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExtractedAt.Before(out[j].ExtractedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkContentProcessed flips the processed flag and counts the attempt.
func (s *ContentStore) MarkContentProcessed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.content[id]
	if !ok {
		return pipeline.ErrNotFound
	}
	now := time.Now().UTC()
	c.Processed = true
	c.Attempts++
	c.LastAttempt = &now
	c.ProcessingErr = ""
	s.content[id] = c
	return nil
}

// RecordProcessingFailure counts a failed attempt and keeps the error text.
func (s *ContentStore) RecordProcessingFailure(_ context.Context, id, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.content[id]
	if !ok {
		return pipeline.ErrNotFound
	}
	now := time.Now().UTC()
	c.Attempts++
	c.LastAttempt = &now
	c.ProcessingErr = errMsg
	s.content[id] = c
	return nil
}
