// Package results defines the structured extraction documents derived from
// raw content, plus the merge-on-write algorithm shared by all variants.
package results

import (
	"context"
	"time"

	"github.com/collegedata/crawler/internal/pipeline"
)

// AdmissionData is the single admission document kept per target.
type AdmissionData struct {
	ID                 string           `bson:"_id,omitempty" json:"id,omitempty"`
	TargetID           string           `bson:"target_id" json:"target_id"`
	SourceURLs         []string         `bson:"source_urls" json:"source_urls"`
	Courses            []map[string]any `bson:"courses" json:"courses"`
	ApplicationProcess string           `bson:"application_process,omitempty" json:"application_process,omitempty"`
	ImportantDates     []map[string]any `bson:"important_dates" json:"important_dates"`
	HostelFacilities   map[string]any   `bson:"hostel_facilities" json:"hostel_facilities"`
	CreatedAt          time.Time        `bson:"created_at" json:"created_at"`
	LastUpdated        time.Time        `bson:"last_updated" json:"last_updated"`
}

// PlacementData is kept per (target, academic year).
type PlacementData struct {
	ID                   string           `bson:"_id,omitempty" json:"id,omitempty"`
	TargetID             string           `bson:"target_id" json:"target_id"`
	AcademicYear         string           `bson:"academic_year" json:"academic_year"`
	SourceURLs           []string         `bson:"source_urls" json:"source_urls"`
	OverallStatistics    map[string]any   `bson:"overall_statistics" json:"overall_statistics"`
	DepartmentStatistics []map[string]any `bson:"department_statistics" json:"department_statistics"`
	RecruitingCompanies  []map[string]any `bson:"recruiting_companies" json:"recruiting_companies"`
	CreatedAt            time.Time        `bson:"created_at" json:"created_at"`
	LastUpdated          time.Time        `bson:"last_updated" json:"last_updated"`
}

// InternshipData is kept per (target, academic year).
type InternshipData struct {
	ID                   string           `bson:"_id,omitempty" json:"id,omitempty"`
	TargetID             string           `bson:"target_id" json:"target_id"`
	AcademicYear         string           `bson:"academic_year" json:"academic_year"`
	SourceURLs           []string         `bson:"source_urls" json:"source_urls"`
	OverallStatistics    map[string]any   `bson:"overall_statistics" json:"overall_statistics"`
	DepartmentStatistics []map[string]any `bson:"department_statistics" json:"department_statistics"`
	InternshipCompanies  []map[string]any `bson:"internship_companies" json:"internship_companies"`
	CreatedAt            time.Time        `bson:"created_at" json:"created_at"`
	LastUpdated          time.Time        `bson:"last_updated" json:"last_updated"`
}

// Classified is the tagged union an extraction run resolves to. Content the
// crawler could not categorize is extracted with the general prompt and
// routed afterwards by the model-detected content type; Kind stays
// CategoryGeneral when the model found nothing classifiable, in which case
// no variant pointer is set and nothing is persisted.
type Classified struct {
	Kind       pipeline.Category
	Admission  *AdmissionData
	Placement  *PlacementData
	Internship *InternshipData
}

// Store persists extraction documents with merge-on-write semantics: at most
// one document per (target, academic year), repeated identical deltas are
// idempotent.
type Store interface {
	UpsertAdmission(ctx context.Context, delta AdmissionData) (string, error)
	UpsertPlacement(ctx context.Context, delta PlacementData) (string, error)
	UpsertInternship(ctx context.Context, delta InternshipData) (string, error)
	GetAdmission(ctx context.Context, targetID string) (AdmissionData, error)
	GetPlacement(ctx context.Context, targetID, academicYear string) (PlacementData, error)
	GetInternship(ctx context.Context, targetID, academicYear string) (InternshipData, error)
}
