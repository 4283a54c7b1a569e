package results

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeAdmission_OverlaysExistingCourse(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	existing := AdmissionData{
		TargetID:   "college-1",
		SourceURLs: []string{"https://example.edu/admission"},
		Courses: []map[string]any{
			{"name": "B.Tech", "duration": "4 years"},
		},
	}
	delta := AdmissionData{
		SourceURLs: []string{"https://example.edu/courses"},
		Courses: []map[string]any{
			{"name": "B.Tech", "seats": "120"},
		},
	}

	merged := MergeAdmission(existing, delta, now)

	require.Len(t, merged.Courses, 1, "overlay must not duplicate the course")
	assert.Equal(t, "4 years", merged.Courses[0]["duration"])
	assert.Equal(t, "120", merged.Courses[0]["seats"])
	assert.Equal(t, []string{"https://example.edu/admission", "https://example.edu/courses"}, merged.SourceURLs)
	assert.Equal(t, now, merged.LastUpdated)
}

func TestMergeAdmission_EmptyIncomingFieldNeverErases(t *testing.T) {
	t.Parallel()

	existing := AdmissionData{
		Courses: []map[string]any{
			{"name": "MBA", "eligibility": "graduate"},
		},
	}
	delta := AdmissionData{
		Courses: []map[string]any{
			{"name": "MBA", "eligibility": "", "fee_structure": nil},
		},
	}

	merged := MergeAdmission(existing, delta, time.Now())

	require.Len(t, merged.Courses, 1)
	assert.Equal(t, "graduate", merged.Courses[0]["eligibility"])
	assert.NotContains(t, merged.Courses[0], "fee_structure")
}

func TestMergeAdmission_Idempotent(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	existing := AdmissionData{
		TargetID:   "college-1",
		SourceURLs: []string{"https://example.edu/a"},
		Courses: []map[string]any{
			{"name": "B.Sc", "duration": "3 years"},
		},
		HostelFacilities: map[string]any{"available": true},
	}
	delta := AdmissionData{
		SourceURLs: []string{"https://example.edu/b"},
		Courses: []map[string]any{
			{"name": "B.Sc", "seats": "60"},
			{"name": "M.Sc"},
		},
		ApplicationProcess: "online",
		ImportantDates: []map[string]any{
			{"event": "application deadline", "date": "2025-06-30"},
		},
	}

	once := MergeAdmission(existing, delta, now)
	twice := MergeAdmission(once, delta, now)

	assert.Equal(t, once, twice)
}

func TestMergePlacement_NewCompaniesAppendInOrder(t *testing.T) {
	t.Parallel()

	existing := PlacementData{
		TargetID:     "college-1",
		AcademicYear: "2024-25",
		RecruitingCompanies: []map[string]any{
			{"name": "Acme", "students_hired": "12"},
		},
	}
	delta := PlacementData{
		RecruitingCompanies: []map[string]any{
			{"name": "Globex", "students_hired": "4"},
			{"name": "Acme", "package_offered": "6 LPA"},
		},
	}

	merged := MergePlacement(existing, delta, time.Now())

	require.Len(t, merged.RecruitingCompanies, 2)
	assert.Equal(t, "Acme", merged.RecruitingCompanies[0]["name"])
	assert.Equal(t, "6 LPA", merged.RecruitingCompanies[0]["package_offered"])
	assert.Equal(t, "Globex", merged.RecruitingCompanies[1]["name"])
}

func TestMergePlacement_OverallStatisticsShallowMerge(t *testing.T) {
	t.Parallel()

	existing := PlacementData{
		OverallStatistics: map[string]any{
			"students_placed":    "220",
			"placement_percent":  "91",
			"highest_package":    "24 LPA",
		},
	}
	delta := PlacementData{
		OverallStatistics: map[string]any{
			"students_placed": "231",
			"average_package": "7.2 LPA",
		},
	}

	merged := MergePlacement(existing, delta, time.Now())

	assert.Equal(t, "231", merged.OverallStatistics["students_placed"])
	assert.Equal(t, "91", merged.OverallStatistics["placement_percent"])
	assert.Equal(t, "7.2 LPA", merged.OverallStatistics["average_package"])
	assert.Equal(t, "24 LPA", merged.OverallStatistics["highest_package"])
}

func TestMergeInternship_DropsEntriesWithoutKey(t *testing.T) {
	t.Parallel()

	existing := InternshipData{
		InternshipCompanies: []map[string]any{
			{"name": "Initech", "stipend": "15k"},
		},
	}
	delta := InternshipData{
		InternshipCompanies: []map[string]any{
			{"stipend": "20k"},
			{"name": "Initech", "students_hired": "3"},
		},
	}

	merged := MergeInternship(existing, delta, time.Now())

	require.Len(t, merged.InternshipCompanies, 1)
	assert.Equal(t, "15k", merged.InternshipCompanies[0]["stipend"])
	assert.Equal(t, "3", merged.InternshipCompanies[0]["students_hired"])
}

func TestUnionStrings_SkipsDuplicatesAndEmpty(t *testing.T) {
	t.Parallel()

	got := unionStrings([]string{"a", "b"}, []string{"b", "", "c", "a"})
	assert.Equal(t, []string{"a", "b", "c"}, got)
}
