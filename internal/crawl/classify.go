// Package crawl implements the breadth-first site crawler: fetching pages,
// classifying them into content categories, and persisting raw content for
// the extraction pipeline.
package crawl

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/collegedata/crawler/internal/pipeline"
)

// URL path terms that decide a category without inspecting the page text.
var (
	admissionURLTerms  = []string{"admission", "apply", "enroll", "course", "program", "fee"}
	placementURLTerms  = []string{"placement", "recruit", "career", "company", "job"}
	internshipURLTerms = []string{"intern", "training", "apprentice"}
)

// Keyword lists scored against page text. A keyword present anywhere in the
// body counts once, presence in a heading adds headingWeight on top.
var (
	admissionKeywords = []string{
		"admission", "eligibility", "criteria", "fee", "application",
		"entrance exam", "scholarship", "hostel", "course", "program",
		"bachelor", "master", "degree", "diploma",
	}
	placementKeywords = []string{
		"placement", "placed", "recruited", "companies visited", "recruiter",
		"job offer", "placement record", "salary package", "campus interview",
		"placement cell", "career",
	}
	internshipKeywords = []string{
		"internship", "intern", "summer training", "industrial training",
		"practical training", "apprentice", "stipend",
	}
)

const (
	headingWeight     = 3
	classifyThreshold = 3
	headingSelector   = "h1, h2, h3"
)

// Classify assigns a content category to a fetched page. URL terms win
// outright; otherwise the keyword score must reach the threshold and beat
// every other category strictly, or the page stays general.
func Classify(pageURL string, doc *goquery.Document) pipeline.Category {
	lowered := strings.ToLower(pageURL)
	for _, term := range admissionURLTerms {
		if strings.Contains(lowered, term) {
			return pipeline.CategoryAdmission
		}
	}
	for _, term := range placementURLTerms {
		if strings.Contains(lowered, term) {
			return pipeline.CategoryPlacement
		}
	}
	for _, term := range internshipURLTerms {
		if strings.Contains(lowered, term) {
			return pipeline.CategoryInternship
		}
	}

	if doc == nil {
		return pipeline.CategoryGeneral
	}
	text := doc.Selection.Clone()
	text.Find("script, style").Remove()
	body := strings.ToLower(text.Text())
	headings := strings.ToLower(text.Find(headingSelector).Text())

	scores := map[pipeline.Category]int{
		pipeline.CategoryAdmission:  scoreKeywords(body, headings, admissionKeywords),
		pipeline.CategoryPlacement:  scoreKeywords(body, headings, placementKeywords),
		pipeline.CategoryInternship: scoreKeywords(body, headings, internshipKeywords),
	}

	best := pipeline.CategoryGeneral
	bestScore := 0
	tied := false
	for _, category := range []pipeline.Category{
		pipeline.CategoryAdmission, pipeline.CategoryPlacement, pipeline.CategoryInternship,
	} {
		score := scores[category]
		switch {
		case score > bestScore:
			best = category
			bestScore = score
			tied = false
		case score == bestScore && score > 0:
			tied = true
		}
	}
	if bestScore < classifyThreshold || tied {
		return pipeline.CategoryGeneral
	}
	return best
}

func scoreKeywords(body, headings string, keywords []string) int {
	// Presence-based: a keyword scores once no matter how often it repeats
	// in the body, plus the heading bonus when any heading carries it.
	score := 0
	for _, kw := range keywords {
		if strings.Contains(body, kw) {
			score++
		}
		if strings.Contains(headings, kw) {
			score += headingWeight
		}
	}
	return score
}
