package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/collegedata/crawler/internal/pipeline"
)

// TargetStore keeps crawl targets in memory.
type TargetStore struct {
	mu      sync.RWMutex
	targets map[string]pipeline.Target
}

// NewTargetStore constructs a TargetStore.
func NewTargetStore() *TargetStore {
	return &TargetStore{targets: make(map[string]pipeline.Target)}
}

// CreateTarget registers a target.
func (s *TargetStore) CreateTarget(_ context.Context, target pipeline.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets[target.ID] = target
	return nil
}

// GetTarget fetches a target by id.
func (s *TargetStore) GetTarget(_ context.Context, id string) (pipeline.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.targets[id]
	if !ok {
		return pipeline.Target{}, pipeline.ErrNotFound
	}
	return t, nil
}

// ListTargets returns targets ordered by creation time.
func (s *TargetStore) ListTargets(_ context.Context, limit, offset int) ([]pipeline.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]pipeline.Target, 0, len(s.targets))
	for _, t := range s.targets {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkTargetCrawled stamps the last successful crawl time.
func (s *TargetStore) MarkTargetCrawled(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.targets[id]
	if !ok {
		return pipeline.ErrNotFound
	}
	t.LastCrawled = &at
	s.targets[id] = t
	return nil
}
