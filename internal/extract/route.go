package extract

import (
	"github.com/collegedata/crawler/internal/pipeline"
	"github.com/collegedata/crawler/internal/results"
)

// Route converts parsed model output into the extraction document variant
// it belongs to. Pages the crawler classified stay in their category;
// general pages are routed by the content type the model detected, and stay
// unrouted (Kind general, no variant set) when the model found nothing.
func Route(category pipeline.Category, data map[string]any, targetID, sourceURL string) results.Classified {
	switch category {
	case pipeline.CategoryAdmission:
		return results.Classified{
			Kind: category,
			Admission: &results.AdmissionData{
				TargetID:           targetID,
				SourceURLs:         []string{sourceURL},
				Courses:            mapSlice(data["courses"]),
				ApplicationProcess: stringValue(data["application_process"]),
				ImportantDates:     mapSlice(data["important_dates"]),
				HostelFacilities:   mapValue(data["hostel_facilities"]),
			},
		}
	case pipeline.CategoryPlacement:
		return results.Classified{
			Kind: category,
			Placement: &results.PlacementData{
				TargetID:             targetID,
				AcademicYear:         stringValue(data["academic_year"]),
				SourceURLs:           []string{sourceURL},
				OverallStatistics:    mapValue(data["overall_statistics"]),
				DepartmentStatistics: mapSlice(data["department_statistics"]),
				RecruitingCompanies:  mapSlice(data["recruiting_companies"]),
			},
		}
	case pipeline.CategoryInternship:
		return results.Classified{
			Kind: category,
			Internship: &results.InternshipData{
				TargetID:             targetID,
				AcademicYear:         stringValue(data["academic_year"]),
				SourceURLs:           []string{sourceURL},
				OverallStatistics:    mapValue(data["overall_statistics"]),
				DepartmentStatistics: mapSlice(data["department_statistics"]),
				InternshipCompanies:  mapSlice(data["internship_companies"]),
			},
		}
	}

	// General content carries less structure. It contributes the detected
	// category's free-text description field only.
	detected := pipeline.Category(stringValue(data["content_type"]))
	info := stringValue(data["relevant_information"])
	switch detected {
	case pipeline.CategoryAdmission:
		return results.Classified{
			Kind: detected,
			Admission: &results.AdmissionData{
				TargetID:           targetID,
				SourceURLs:         []string{sourceURL},
				ApplicationProcess: info,
			},
		}
	case pipeline.CategoryPlacement:
		return results.Classified{
			Kind: detected,
			Placement: &results.PlacementData{
				TargetID:          targetID,
				SourceURLs:        []string{sourceURL},
				OverallStatistics: map[string]any{"description": info},
			},
		}
	case pipeline.CategoryInternship:
		return results.Classified{
			Kind: detected,
			Internship: &results.InternshipData{
				TargetID:          targetID,
				SourceURLs:        []string{sourceURL},
				OverallStatistics: map[string]any{"description": info},
			},
		}
	}
	return results.Classified{Kind: pipeline.CategoryGeneral}
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func mapValue(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func mapSlice(v any) []map[string]any {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, entry := range raw {
		if m, ok := entry.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
