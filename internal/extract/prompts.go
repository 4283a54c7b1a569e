// Package extract implements the extraction engine: building category
// prompts from raw content, running them through the language model, and
// persisting the parsed result with merge-on-write semantics.
package extract

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/collegedata/crawler/internal/pipeline"
)

// Content above this length is cut before prompting so one oversized page
// cannot blow the model's context window.
const (
	maxContentChars = 8000
	truncatedMarker = "... [content truncated]"
)

const admissionPrompt = `You are analyzing content from %s's admission webpage.

URL: %s

CONTENT:
%s

Extract the following information in valid JSON format matching this schema:
{
  "courses": [{"name": "", "duration": "", "eligibility": "", "fee_structure": {"tuition": "", "development": "", "other": ""}, "seats": ""}],
  "application_process": "",
  "important_dates": [{"event": "", "date": ""}],
  "hostel_facilities": {"available": true|false, "boys_hostel": {"fee": "", "seats": ""}, "girls_hostel": {"fee": "", "seats": ""}}
}

Only include fields where information is definitely present in the content.
If you're uncertain about any information, mark it as null.
Ensure your response is valid JSON and nothing else.

<RESPONSE>
`

const placementPrompt = `You are analyzing content from %s's placement webpage.

URL: %s

CONTENT:
%s

Extract the following information in valid JSON format matching this schema:
{
  "academic_year": "",
  "overall_statistics": {
    "eligible_students": "",
    "students_placed": "",
    "placement_percentage": "",
    "highest_package": "",
    "average_package": "",
    "lowest_package": ""
  },
  "department_statistics": [{"department": "", "statistics": {"students_placed": "", "placement_percentage": "", "avg_package": ""}}],
  "recruiting_companies": [{"name": "", "students_hired": "", "package_offered": ""}]
}

Only include fields where information is definitely present in the content.
If you're uncertain about any information, mark it as null.
Ensure your response is valid JSON and nothing else.

<RESPONSE>
`

const internshipPrompt = `You are analyzing content from %s's internship webpage.

URL: %s

CONTENT:
%s

Extract the following information in valid JSON format matching this schema:
{
  "academic_year": "",
  "overall_statistics": {
    "internships": "",
    "participation": ""
  },
  "department_statistics": [{"department": "", "participation": "", "avg_stipend": ""}],
  "internship_companies": [{"name": "", "students_hired": "", "stipend": ""}]
}

Only include fields where information is definitely present in the content.
If you're uncertain about any information, mark it as null.
Ensure your response is valid JSON and nothing else.

<RESPONSE>
`

const generalPrompt = `You are analyzing content from %s's webpage.

URL: %s

CONTENT:
%s

Analyze this content and determine if it contains information about admissions, placements, or internships.
Extract any relevant information in valid JSON format matching this schema:
{
  "content_type": "admission|placement|internship|general",
  "relevant_information": "",
  "key_details": {}
}

Only include fields where information is definitely present in the content.
If you're uncertain about any information, mark it as null.
Ensure your response is valid JSON and nothing else.

<RESPONSE>
`

// BuildPrompt renders the category prompt over cleaned page text.
func BuildPrompt(category pipeline.Category, collegeName, sourceURL, htmlContent string) string {
	if collegeName == "" {
		collegeName = "the college"
	}
	text := CleanHTML(htmlContent)
	if len(text) > maxContentChars {
		cut := maxContentChars
		// Back off to a rune boundary so the cut never splits a multi-byte
		// character.
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + truncatedMarker
	}

	var tmpl string
	switch category {
	case pipeline.CategoryAdmission:
		tmpl = admissionPrompt
	case pipeline.CategoryPlacement:
		tmpl = placementPrompt
	case pipeline.CategoryInternship:
		tmpl = internshipPrompt
	default:
		tmpl = generalPrompt
	}
	return fmt.Sprintf(tmpl, collegeName, sourceURL, text)
}

var blankLines = regexp.MustCompile(`\n{3,}`)

// CleanHTML strips markup down to readable text: script, style, and head
// elements removed, one line per text node, blank lines dropped.
func CleanHTML(htmlContent string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return strings.TrimSpace(htmlContent)
	}
	doc.Find("script, style, meta, link, head").Remove()

	var b strings.Builder
	for _, root := range doc.Selection.Nodes {
		var walk func(*html.Node)
		walk = func(n *html.Node) {
			if n.Type == html.TextNode {
				for _, line := range strings.Split(n.Data, "\n") {
					line = strings.TrimSpace(line)
					if line == "" {
						continue
					}
					b.WriteString(line)
					b.WriteString("\n")
				}
			}
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				walk(c)
			}
		}
		walk(root)
	}
	return blankLines.ReplaceAllString(strings.TrimSuffix(b.String(), "\n"), "\n\n")
}
