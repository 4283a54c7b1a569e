package extract

import (
	"encoding/json"
	"strings"

	"github.com/collegedata/crawler/internal/pipeline"
)

// ParseResponse pulls the JSON object out of a model response and scores
// its completeness. A response with no parsable object yields an empty map
// and zero confidence rather than an error; the extraction still completes.
func ParseResponse(response string, category pipeline.Category) (map[string]any, float64) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start < 0 || end <= start {
		return map[string]any{}, 0
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(response[start:end+1]), &data); err != nil {
		return map[string]any{}, 0
	}
	return data, Confidence(data, category)
}

// Confidence scores parsed data by field completeness: key fields carry 0.8
// of the weight, secondary fields 0.2.
func Confidence(data map[string]any, category pipeline.Category) float64 {
	if len(data) == 0 {
		return 0
	}

	var keyFields, secondaryFields []string
	switch category {
	case pipeline.CategoryAdmission:
		keyFields = []string{"courses", "application_process", "important_dates"}
		secondaryFields = []string{"hostel_facilities"}
	case pipeline.CategoryPlacement:
		keyFields = []string{"overall_statistics", "recruiting_companies"}
		secondaryFields = []string{"department_statistics", "academic_year"}
	case pipeline.CategoryInternship:
		keyFields = []string{"overall_statistics", "internship_companies"}
		secondaryFields = []string{"department_statistics", "academic_year"}
	default:
		keyFields = []string{"content_type", "relevant_information"}
		secondaryFields = []string{"key_details"}
	}

	const (
		keyWeight       = 0.8
		secondaryWeight = 0.2
	)
	keyScore := fieldScore(data, keyFields)
	secondaryScore := fieldScore(data, secondaryFields)
	return keyScore*keyWeight + secondaryScore*secondaryWeight
}

func fieldScore(data map[string]any, fields []string) float64 {
	if len(fields) == 0 {
		return 0
	}
	present := 0
	for _, field := range fields {
		if v, ok := data[field]; ok && hasContent(v) {
			present++
		}
	}
	return float64(present) / float64(len(fields))
}

// hasContent mirrors truthiness for decoded JSON values: empty strings,
// collections, zero, false, and null all count as absent.
func hasContent(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
