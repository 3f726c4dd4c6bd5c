package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/athlete-results-crawler/internal/fetcher"
)

func TestTransportBuildCollector(t *testing.T) {
	t.Parallel()

	tr := New(Config{UserAgent: "coverage-agent", Timeout: time.Second})
	collector := tr.buildCollector(&fetcher.Response{}, new(error))
	if collector.UserAgent != "coverage-agent" {
		t.Fatalf("expected user agent override, got %q", collector.UserAgent)
	}
	if !collector.AllowURLRevisit || !collector.ParseHTTPErrorResponse {
		t.Fatal("expected revisits and error responses to be enabled")
	}
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	tr := New(Config{Headers: http.Header{"X-Trace": {"yes"}}})
	var result fetcher.Response
	var fetchErr error

	hooks := &stubHooks{}
	tr.configureCollectorHooks(hooks, &result, &fetchErr)
	if hooks.onRequest == nil || hooks.onResponse == nil || hooks.onError == nil {
		t.Fatal("expected hooks to be registered")
	}

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	if collyReq.Headers.Get("X-Trace") != "yes" {
		t.Fatalf("expected header propagation, got %+v", collyReq.Headers)
	}

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusServiceUnavailable,
		Body:       []byte("busy"),
		Headers:    &http.Header{"Retry-After": {"1"}},
		Request: &colly.Request{
			URL: mustParseURL(t, "https://example.com/athletes"),
		},
	})
	if result.StatusCode != http.StatusServiceUnavailable || string(result.Body) != "busy" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Headers.Get("Retry-After") != "1" {
		t.Fatalf("expected headers copied, got %+v", result.Headers)
	}

	hooks.onError(nil, errors.New("boom"))
	if fetchErr == nil || fetchErr.Error() != "boom" {
		t.Fatalf("expected fetchErr set, got %v", fetchErr)
	}
}

func TestTransportGetReturnsStatusesAndRevisits(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if r.Header.Get("User-Agent") != "results-bot" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	tr := New(Config{UserAgent: "results-bot", Timeout: 5 * time.Second})

	first, err := tr.Get(context.Background(), srv.URL+"/athletes")
	if err != nil {
		t.Fatalf("first Get() error = %v", err)
	}
	if first.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 to surface as a response, got %d", first.StatusCode)
	}

	second, err := tr.Get(context.Background(), srv.URL+"/athletes")
	if err != nil {
		t.Fatalf("second Get() error = %v", err)
	}
	if second.StatusCode != http.StatusOK || string(second.Body) != "<html>ok</html>" {
		t.Fatalf("unexpected second response: %d %q", second.StatusCode, second.Body)
	}
}

func TestTransportGetRespectsRobots(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /private"))
			return
		}
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	tr := New(Config{Timeout: 5 * time.Second, RespectRobots: true})

	blocked, err := tr.Get(context.Background(), srv.URL+"/private/athletes")
	if err != nil {
		t.Fatalf("blocked Get() error = %v", err)
	}
	if blocked.StatusCode != http.StatusForbidden {
		t.Fatalf("expected disallowed page to answer 403, got %d", blocked.StatusCode)
	}

	allowed, err := tr.Get(context.Background(), srv.URL+"/athletes")
	if err != nil {
		t.Fatalf("allowed Get() error = %v", err)
	}
	if allowed.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", allowed.StatusCode)
	}
}

func TestTransportGetCanceledContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(Config{}).Get(ctx, srv.URL); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
