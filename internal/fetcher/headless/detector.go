package headless

import (
	"bytes"
	"strings"
)

// Detector decides whether a plain HTTP body warrants a browser render.
type Detector struct {
	minHTMLBytes int
	keywords     [][]byte
}

// NewDetector constructs a Detector with the configured thresholds. A zero
// minBytes disables the size check; empty keywords disable the marker check.
func NewDetector(minBytes int, keywords []string) *Detector {
	lowerKeywords := make([][]byte, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		lowerKeywords = append(lowerKeywords, bytes.ToLower([]byte(kw)))
	}
	return &Detector{
		minHTMLBytes: minBytes,
		keywords:     lowerKeywords,
	}
}

// NeedsRendering inspects the body for signals that the server returned a
// client-side shell instead of real content.
func (d *Detector) NeedsRendering(body []byte) bool {
	if d == nil {
		return false
	}
	if d.minHTMLBytes > 0 && len(body) < d.minHTMLBytes {
		return true
	}
	if len(body) == 0 || len(d.keywords) == 0 {
		return false
	}
	lowerBody := bytes.ToLower(body)
	for _, kw := range d.keywords {
		if bytes.Contains(lowerBody, kw) {
			return true
		}
	}
	return false
}
