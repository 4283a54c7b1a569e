package crawl

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Extensions the crawler never follows. Documents and images carry no
// classifiable HTML.
var skippedExtensions = []string{
	".pdf", ".doc", ".docx", ".ppt", ".pptx",
	".jpg", ".jpeg", ".png", ".gif",
}

// ExtractLinks collects the same-domain anchor targets of a page, resolved
// against the page URL with fragments stripped. Order follows document order
// with duplicates removed, so the breadth-first queue stays deterministic.
func ExtractLinks(base *url.URL, doc *goquery.Document) []string {
	if base == nil || doc == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		lowered := strings.ToLower(href)
		if strings.HasPrefix(lowered, "javascript:") ||
			strings.HasPrefix(lowered, "mailto:") ||
			strings.HasPrefix(lowered, "tel:") {
			return
		}

		resolved, err := base.Parse(href)
		if err != nil {
			return
		}
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		if !strings.EqualFold(resolved.Host, base.Host) {
			return
		}
		resolved.Fragment = ""

		loweredPath := strings.ToLower(resolved.Path)
		for _, ext := range skippedExtensions {
			if strings.HasSuffix(loweredPath, ext) {
				return
			}
		}

		link := resolved.String()
		if _, ok := seen[link]; ok {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})
	return links
}
