package crawl

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractLinks(t *testing.T) {
	t.Parallel()
	base, err := url.Parse("https://college.edu/home")
	require.NoError(t, err)

	html := `<html><body>
		<a href="/admissions">Admissions</a>
		<a href="https://college.edu/placements#stats">Placements</a>
		<a href="about.html">About</a>
		<a href="#top">Top</a>
		<a href="javascript:void(0)">JS</a>
		<a href="mailto:info@college.edu">Mail</a>
		<a href="tel:+1555">Call</a>
		<a href="https://other.edu/page">External</a>
		<a href="/brochure.pdf">Brochure</a>
		<a href="/photos/campus.JPG">Photo</a>
		<a href="/admissions">Duplicate</a>
	</body></html>`
	doc := docFromHTML(t, html)

	links := ExtractLinks(base, doc)
	assert.Equal(t, []string{
		"https://college.edu/admissions",
		"https://college.edu/placements",
		"https://college.edu/about.html",
	}, links)
}

func TestExtractLinksNilInputs(t *testing.T) {
	t.Parallel()
	assert.Nil(t, ExtractLinks(nil, nil))
}
