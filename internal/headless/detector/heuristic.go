// Package detector decides when a plain HTTP results page needs a headless re-fetch.
package detector

import (
	"bytes"
	"net/http"

	"github.com/JakeFAU/athlete-results-crawler/internal/fetcher"
)

const (
	defaultThreshold = 2048
	// scriptSharePercent is the share of a small page taken by script elements above which
	// the page is treated as a client-rendered shell.
	scriptSharePercent = 25
)

// ResultsMarkers identify markup the parser reads: directory rows and the pagination label,
// the tour selector, event links and stats, and heat cards. A page carrying any of them was
// rendered by the server.
var ResultsMarkers = []string{
	"paginationLabel",
	"athlete-name",
	"yearResultsTourCode",
	"eventresults",
	"event-stats__",
	"hot-heat",
}

var shellMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
}

// Heuristic promotes results pages that arrived without their results markup.
type Heuristic struct {
	// BodyLengthThreshold bounds the pages checked for script share.
	BodyLengthThreshold int
	markers             [][]byte
}

var _ fetcher.Promoter = (*Heuristic)(nil)

// NewHeuristic creates a detector. A threshold of zero uses 2048 bytes.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	markers := make([][]byte, 0, len(ResultsMarkers))
	for _, m := range ResultsMarkers {
		markers = append(markers, []byte(m))
	}
	return &Heuristic{BodyLengthThreshold: threshold, markers: markers}
}

// ShouldPromote reports whether resp looks like an unrendered shell.
func (h *Heuristic) ShouldPromote(resp fetcher.Response) bool {
	if resp.StatusCode != http.StatusOK {
		return false
	}
	body := resp.Body
	if containsAny(body, h.markers) {
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if containsAny(body, shellMarkers) {
		return true
	}
	return len(body) < h.BodyLengthThreshold && scriptShare(body) >= scriptSharePercent
}

func containsAny(body []byte, markers [][]byte) bool {
	for _, m := range markers {
		if bytes.Contains(body, m) {
			return true
		}
	}
	return false
}

// scriptShare returns the percentage of body inside script elements. An unclosed script
// runs to the end of the body.
func scriptShare(body []byte) int {
	lower := bytes.ToLower(body)
	open, closing := []byte("<script"), []byte("</script>")
	covered := 0
	for rest := lower; ; {
		start := bytes.Index(rest, open)
		if start < 0 {
			break
		}
		rest = rest[start:]
		end := bytes.Index(rest, closing)
		if end < 0 {
			covered += len(rest)
			break
		}
		covered += end + len(closing)
		rest = rest[end+len(closing):]
	}
	return covered * 100 / len(body)
}
