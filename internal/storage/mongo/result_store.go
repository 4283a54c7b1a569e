// Package mongo persists extraction documents in MongoDB. The document
// collections are schema-free on purpose: the language model returns sparse,
// evolving shapes that map poorly onto relational columns.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/collegedata/crawler/internal/pipeline"
	"github.com/collegedata/crawler/internal/results"
)

// Collection names for the three extraction document variants.
const (
	admissionCollection  = "admission_data"
	placementCollection  = "placement_data"
	internshipCollection = "internship_data"
)

// Config holds MongoDB connection settings.
type Config struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

// ResultStore implements results.Store on MongoDB with merge-on-write
// semantics. Writes take a read-merge-replace round trip, serialized by a
// mutex so concurrent extraction workers in one process cannot interleave
// and drop each other's fields.
type ResultStore struct {
	mu         sync.Mutex
	client     *mongo.Client
	admission  *mongo.Collection
	placement  *mongo.Collection
	internship *mongo.Collection
	clock      pipeline.Clock
	ids        pipeline.IDGenerator
}

// NewResultStore connects to MongoDB, verifies the connection, and ensures
// the lookup indexes exist.
func NewResultStore(ctx context.Context, cfg Config, clock pipeline.Clock, ids pipeline.IDGenerator) (*ResultStore, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("mongo.uri is required")
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("mongo.database is required")
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(cfg.Database)
	store := &ResultStore{
		client:     client,
		admission:  db.Collection(admissionCollection),
		placement:  db.Collection(placementCollection),
		internship: db.Collection(internshipCollection),
		clock:      clock,
		ids:        ids,
	}
	if err := store.ensureIndexes(connectCtx); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *ResultStore) ensureIndexes(ctx context.Context) error {
	targetIdx := mongo.IndexModel{Keys: bson.D{{Key: "target_id", Value: 1}}}
	yearIdx := mongo.IndexModel{Keys: bson.D{
		{Key: "target_id", Value: 1},
		{Key: "academic_year", Value: 1},
	}}
	if _, err := s.admission.Indexes().CreateOne(ctx, targetIdx); err != nil {
		return fmt.Errorf("create admission index: %w", err)
	}
	for _, c := range []*mongo.Collection{s.placement, s.internship} {
		if _, err := c.Indexes().CreateOne(ctx, yearIdx); err != nil {
			return fmt.Errorf("create %s index: %w", c.Name(), err)
		}
	}
	return nil
}

// Close disconnects the underlying client.
func (s *ResultStore) Close(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

// UpsertAdmission merges a delta into the single admission document kept for
// the target and returns the document id.
func (s *ResultStore) UpsertAdmission(ctx context.Context, delta results.AdmissionData) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	filter := bson.M{"target_id": delta.TargetID}

	var existing results.AdmissionData
	err := s.admission.FindOne(ctx, filter).Decode(&existing)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return s.insertAdmission(ctx, delta, now)
	case err != nil:
		return "", fmt.Errorf("find admission document: %w", err)
	}

	merged := results.MergeAdmission(existing, delta, now)
	if _, err := s.admission.ReplaceOne(ctx, bson.M{"_id": existing.ID}, merged); err != nil {
		return "", fmt.Errorf("replace admission document: %w", err)
	}
	return existing.ID, nil
}

func (s *ResultStore) insertAdmission(ctx context.Context, delta results.AdmissionData, now time.Time) (string, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate document id: %w", err)
	}
	delta.ID = id
	delta.CreatedAt = now
	delta.LastUpdated = now
	if _, err := s.admission.InsertOne(ctx, delta); err != nil {
		return "", fmt.Errorf("insert admission document: %w", err)
	}
	return id, nil
}

// UpsertPlacement merges a delta into the placement document kept per
// (target, academic year) and returns the document id.
func (s *ResultStore) UpsertPlacement(ctx context.Context, delta results.PlacementData) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	filter := bson.M{"target_id": delta.TargetID, "academic_year": delta.AcademicYear}

	var existing results.PlacementData
	err := s.placement.FindOne(ctx, filter).Decode(&existing)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		id, err := s.ids.NewID()
		if err != nil {
			return "", fmt.Errorf("generate document id: %w", err)
		}
		delta.ID = id
		delta.CreatedAt = now
		delta.LastUpdated = now
		if _, err := s.placement.InsertOne(ctx, delta); err != nil {
			return "", fmt.Errorf("insert placement document: %w", err)
		}
		return id, nil
	case err != nil:
		return "", fmt.Errorf("find placement document: %w", err)
	}

	merged := results.MergePlacement(existing, delta, now)
	if _, err := s.placement.ReplaceOne(ctx, bson.M{"_id": existing.ID}, merged); err != nil {
		return "", fmt.Errorf("replace placement document: %w", err)
	}
	return existing.ID, nil
}

// UpsertInternship merges a delta into the internship document kept per
// (target, academic year) and returns the document id.
func (s *ResultStore) UpsertInternship(ctx context.Context, delta results.InternshipData) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	filter := bson.M{"target_id": delta.TargetID, "academic_year": delta.AcademicYear}

	var existing results.InternshipData
	err := s.internship.FindOne(ctx, filter).Decode(&existing)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		id, err := s.ids.NewID()
		if err != nil {
			return "", fmt.Errorf("generate document id: %w", err)
		}
		delta.ID = id
		delta.CreatedAt = now
		delta.LastUpdated = now
		if _, err := s.internship.InsertOne(ctx, delta); err != nil {
			return "", fmt.Errorf("insert internship document: %w", err)
		}
		return id, nil
	case err != nil:
		return "", fmt.Errorf("find internship document: %w", err)
	}

	merged := results.MergeInternship(existing, delta, now)
	if _, err := s.internship.ReplaceOne(ctx, bson.M{"_id": existing.ID}, merged); err != nil {
		return "", fmt.Errorf("replace internship document: %w", err)
	}
	return existing.ID, nil
}

// GetAdmission returns the admission document for a target.
func (s *ResultStore) GetAdmission(ctx context.Context, targetID string) (results.AdmissionData, error) {
	var doc results.AdmissionData
	err := s.admission.FindOne(ctx, bson.M{"target_id": targetID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return results.AdmissionData{}, pipeline.ErrNotFound
	}
	if err != nil {
		return results.AdmissionData{}, fmt.Errorf("find admission document: %w", err)
	}
	return doc, nil
}

// GetPlacement returns the placement document for a target and academic year.
func (s *ResultStore) GetPlacement(ctx context.Context, targetID, academicYear string) (results.PlacementData, error) {
	var doc results.PlacementData
	filter := bson.M{"target_id": targetID, "academic_year": academicYear}
	err := s.placement.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return results.PlacementData{}, pipeline.ErrNotFound
	}
	if err != nil {
		return results.PlacementData{}, fmt.Errorf("find placement document: %w", err)
	}
	return doc, nil
}

// GetInternship returns the internship document for a target and academic
// year.
func (s *ResultStore) GetInternship(ctx context.Context, targetID, academicYear string) (results.InternshipData, error) {
	var doc results.InternshipData
	filter := bson.M{"target_id": targetID, "academic_year": academicYear}
	err := s.internship.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return results.InternshipData{}, pipeline.ErrNotFound
	}
	if err != nil {
		return results.InternshipData{}, fmt.Errorf("find internship document: %w", err)
	}
	return doc, nil
}
