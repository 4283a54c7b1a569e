package crawl

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collegedata/crawler/internal/pipeline"
)

func docFromHTML(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func TestClassifyURLShortcuts(t *testing.T) {
	t.Parallel()
	cases := []struct {
		url  string
		want pipeline.Category
	}{
		{"https://college.edu/admissions/2025", pipeline.CategoryAdmission},
		{"https://college.edu/how-to-apply", pipeline.CategoryAdmission},
		{"https://college.edu/placements", pipeline.CategoryPlacement},
		{"https://college.edu/careers-cell", pipeline.CategoryPlacement},
		{"https://college.edu/internships", pipeline.CategoryInternship},
		{"https://college.edu/summer-training", pipeline.CategoryInternship},
	}
	for _, tc := range cases {
		doc := docFromHTML(t, "<html><body>nothing relevant here</body></html>")
		assert.Equal(t, tc.want, Classify(tc.url, doc), tc.url)
	}
}

func TestClassifyByKeywordScore(t *testing.T) {
	t.Parallel()
	html := `<html><body>
		<h1>Placement Cell</h1>
		<p>Students placed this year were recruited by top companies.
		The placement record improved again.</p>
	</body></html>`
	doc := docFromHTML(t, html)
	got := Classify("https://college.edu/cell", doc)
	assert.Equal(t, pipeline.CategoryPlacement, got)
}

func TestClassifyHeadingsOutweighBody(t *testing.T) {
	t.Parallel()
	// One heading occurrence alone reaches the threshold.
	html := `<html><body><h2>Internship stipend</h2><p>details follow</p></body></html>`
	doc := docFromHTML(t, html)
	assert.Equal(t, pipeline.CategoryInternship, Classify("https://college.edu/x", doc))
}

func TestClassifyBelowThresholdIsGeneral(t *testing.T) {
	t.Parallel()
	html := `<html><body><p>The library opens at nine. One internship notice.</p></body></html>`
	doc := docFromHTML(t, html)
	assert.Equal(t, pipeline.CategoryGeneral, Classify("https://college.edu/library", doc))
}

func TestClassifyTieIsGeneral(t *testing.T) {
	t.Parallel()
	// Three keywords present for placement and three for internship.
	html := `<html><body><p>
		Our career office and every recruiter reported students placed.
		A stipend is paid during summer training to every apprentice.
	</p></body></html>`
	doc := docFromHTML(t, html)
	assert.Equal(t, pipeline.CategoryGeneral, Classify("https://college.edu/x", doc))
}

func TestClassifyRepeatedKeywordCountsOnce(t *testing.T) {
	t.Parallel()
	// One keyword repeating never reaches the threshold on its own.
	html := `<html><body><p>career fair, career day, career week</p></body></html>`
	doc := docFromHTML(t, html)
	assert.Equal(t, pipeline.CategoryGeneral, Classify("https://college.edu/x", doc))
}

func TestClassifyIgnoresScriptAndStyleText(t *testing.T) {
	t.Parallel()
	html := `<html><head><style>.intern { color: red }</style></head><body>
		<script>var kw = "internship stipend apprentice summer training";</script>
		<p>nothing relevant here</p>
	</body></html>`
	doc := docFromHTML(t, html)
	assert.Equal(t, pipeline.CategoryGeneral, Classify("https://college.edu/x", doc))

	// The page itself is untouched for later link extraction.
	assert.Equal(t, 1, doc.Find("script").Length())
}

func TestClassifyNilDocument(t *testing.T) {
	t.Parallel()
	assert.Equal(t, pipeline.CategoryGeneral, Classify("https://college.edu/about-us", nil))
}
