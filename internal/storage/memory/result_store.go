package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/collegedata/crawler/internal/pipeline"
	"github.com/collegedata/crawler/internal/results"
)

// ResultStore keeps extraction documents in memory with the same
// merge-on-write semantics as the Mongo store.
type ResultStore struct {
	mu          sync.Mutex
	admissions  map[string]results.AdmissionData
	placements  map[string]results.PlacementData
	internships map[string]results.InternshipData
	nextID      int
}

// NewResultStore constructs a ResultStore.
func NewResultStore() *ResultStore {
	return &ResultStore{
		admissions:  make(map[string]results.AdmissionData),
		placements:  make(map[string]results.PlacementData),
		internships: make(map[string]results.InternshipData),
	}
}

func (s *ResultStore) newID() string {
	s.nextID++
	return "result-" + strconv.Itoa(s.nextID)
}

// UpsertAdmission merges a delta into the single admission document per
// target, creating it when absent.
func (s *ResultStore) UpsertAdmission(_ context.Context, delta results.AdmissionData) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	existing, ok := s.admissions[delta.TargetID]
	if !ok {
		delta.ID = s.newID()
		delta.CreatedAt = now
		delta.LastUpdated = now
		s.admissions[delta.TargetID] = delta
		return delta.ID, nil
	}
	merged := results.MergeAdmission(existing, delta, now)
	s.admissions[delta.TargetID] = merged
	return merged.ID, nil
}

// UpsertPlacement merges a delta into the placement document keyed by
// (target, academic year).
func (s *ResultStore) UpsertPlacement(_ context.Context, delta results.PlacementData) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	key := delta.TargetID + "|" + delta.AcademicYear
	existing, ok := s.placements[key]
	if !ok {
		delta.ID = s.newID()
		delta.CreatedAt = now
		delta.LastUpdated = now
		s.placements[key] = delta
		return delta.ID, nil
	}
	merged := results.MergePlacement(existing, delta, now)
	s.placements[key] = merged
	return merged.ID, nil
}

// UpsertInternship merges a delta into the internship document keyed by
// (target, academic year).
func (s *ResultStore) UpsertInternship(_ context.Context, delta results.InternshipData) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	key := delta.TargetID + "|" + delta.AcademicYear
	existing, ok := s.internships[key]
	if !ok {
		delta.ID = s.newID()
		delta.CreatedAt = now
		delta.LastUpdated = now
		s.internships[key] = delta
		return delta.ID, nil
	}
	merged := results.MergeInternship(existing, delta, now)
	s.internships[key] = merged
	return merged.ID, nil
}

// GetAdmission returns the admission document for a target.
func (s *ResultStore) GetAdmission(_ context.Context, targetID string) (results.AdmissionData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.admissions[targetID]
	if !ok {
		return results.AdmissionData{}, pipeline.ErrNotFound
	}
	return doc, nil
}

// GetPlacement returns the placement document for (target, academic year).
func (s *ResultStore) GetPlacement(_ context.Context, targetID, academicYear string) (results.PlacementData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.placements[targetID+"|"+academicYear]
	if !ok {
		return results.PlacementData{}, pipeline.ErrNotFound
	}
	return doc, nil
}

// GetInternship returns the internship document for (target, academic year).
func (s *ResultStore) GetInternship(_ context.Context, targetID, academicYear string) (results.InternshipData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.internships[targetID+"|"+academicYear]
	if !ok {
		return results.InternshipData{}, pipeline.ErrNotFound
	}
	return doc, nil
}
