package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestObserveHelpersRecord(t *testing.T) {
	Init()
	Init()

	before := testutil.ToFloat64(fetchRequestsTotal.WithLabelValues("metrics.test", "transient"))
	ObserveFetch("https://metrics.test/a", "transient", 10*time.Millisecond)
	if got := testutil.ToFloat64(fetchRequestsTotal.WithLabelValues("metrics.test", "transient")); got != before+1 {
		t.Errorf("expected fetch counter to grow by 1, got %f -> %f", before, got)
	}

	retries := testutil.ToFloat64(fetchRetriesTotal.WithLabelValues("metrics.test"))
	ObserveRetry("https://metrics.test/a")
	if got := testutil.ToFloat64(fetchRetriesTotal.WithLabelValues("metrics.test")); got != retries+1 {
		t.Errorf("expected retry counter to grow by 1, got %f -> %f", retries, got)
	}

	jobs := testutil.ToFloat64(crawlerJobsTotal.WithLabelValues("finished"))
	ObserveJob("finished")
	if got := testutil.ToFloat64(crawlerJobsTotal.WithLabelValues("finished")); got != jobs+1 {
		t.Errorf("expected job counter to grow by 1, got %f -> %f", jobs, got)
	}

	IncActiveWorkers()
	active := testutil.ToFloat64(crawlerActiveWorkers)
	DecActiveWorkers()
	if got := testutil.ToFloat64(crawlerActiveWorkers); got != active-1 {
		t.Errorf("expected active workers to drop by 1, got %f -> %f", active, got)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	ObserveEntity("ok")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "crawler_entities_total") {
		t.Fatal("expected crawler_entities_total in exposition")
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
