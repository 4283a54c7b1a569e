package results

import "time"

// MergeAdmission overlays an incoming delta onto an existing admission
// document. Courses merge by name, important dates by event; the scalar and
// object fields shallow-merge with incoming values winning. The result of
// applying the same delta twice equals applying it once.
func MergeAdmission(existing, delta AdmissionData, now time.Time) AdmissionData {
	merged := existing
	merged.SourceURLs = unionStrings(existing.SourceURLs, delta.SourceURLs)
	merged.Courses = mergeKeyed(existing.Courses, delta.Courses, "name")
	if delta.ApplicationProcess != "" {
		merged.ApplicationProcess = delta.ApplicationProcess
	}
	merged.ImportantDates = mergeKeyed(existing.ImportantDates, delta.ImportantDates, "event")
	merged.HostelFacilities = shallowMerge(existing.HostelFacilities, delta.HostelFacilities)
	merged.LastUpdated = now
	return merged
}

// MergePlacement overlays an incoming delta onto an existing placement
// document for the same (target, academic year).
func MergePlacement(existing, delta PlacementData, now time.Time) PlacementData {
	merged := existing
	merged.SourceURLs = unionStrings(existing.SourceURLs, delta.SourceURLs)
	merged.OverallStatistics = shallowMerge(existing.OverallStatistics, delta.OverallStatistics)
	merged.DepartmentStatistics = mergeKeyed(existing.DepartmentStatistics, delta.DepartmentStatistics, "department")
	merged.RecruitingCompanies = mergeKeyed(existing.RecruitingCompanies, delta.RecruitingCompanies, "name")
	merged.LastUpdated = now
	return merged
}

// MergeInternship overlays an incoming delta onto an existing internship
// document for the same (target, academic year).
func MergeInternship(existing, delta InternshipData, now time.Time) InternshipData {
	merged := existing
	merged.SourceURLs = unionStrings(existing.SourceURLs, delta.SourceURLs)
	merged.OverallStatistics = shallowMerge(existing.OverallStatistics, delta.OverallStatistics)
	merged.DepartmentStatistics = mergeKeyed(existing.DepartmentStatistics, delta.DepartmentStatistics, "department")
	merged.InternshipCompanies = mergeKeyed(existing.InternshipCompanies, delta.InternshipCompanies, "name")
	merged.LastUpdated = now
	return merged
}

// unionStrings returns existing plus any values of incoming not already
// present, preserving existing order so repeated merges stay stable.
func unionStrings(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing))
	out := make([]string, 0, len(existing)+len(incoming))
	for _, s := range existing {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	for _, s := range incoming {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// mergeKeyed merges two lists of named objects by the given key field.
// Existing entries keep their position and absorb non-empty incoming fields;
// entries with new keys are appended in incoming order. Incoming entries
// without the key field are dropped since they cannot merge stably.
func mergeKeyed(existing, incoming []map[string]any, key string) []map[string]any {
	out := make([]map[string]any, 0, len(existing)+len(incoming))
	index := make(map[string]int, len(existing))
	for _, entry := range existing {
		copied := copyMap(entry)
		if name := stringField(copied, key); name != "" {
			if pos, ok := index[name]; ok {
				out[pos] = overlayNonEmpty(out[pos], copied)
				continue
			}
			index[name] = len(out)
		}
		out = append(out, copied)
	}
	for _, entry := range incoming {
		name := stringField(entry, key)
		if name == "" {
			continue
		}
		if pos, ok := index[name]; ok {
			out[pos] = overlayNonEmpty(out[pos], entry)
			continue
		}
		index[name] = len(out)
		out = append(out, copyMap(entry))
	}
	return out
}

// overlayNonEmpty lays src over dst, skipping empty incoming values so that
// a sparse delta never erases information already extracted.
func overlayNonEmpty(dst, src map[string]any) map[string]any {
	out := copyMap(dst)
	for k, v := range src {
		if isEmptyValue(v) {
			continue
		}
		out[k] = v
	}
	return out
}

// shallowMerge lays src over dst with incoming keys winning; keys missing
// from src are preserved. Empty incoming values still win here, matching the
// last-write policy for object fields.
func shallowMerge(dst, src map[string]any) map[string]any {
	if len(dst) == 0 && len(src) == 0 {
		return dst
	}
	out := copyMap(dst)
	for k, v := range src {
		if v == nil {
			continue
		}
		out[k] = v
	}
	return out
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func stringField(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}
