package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/athlete-results-crawler/internal/crawler"
	"github.com/JakeFAU/athlete-results-crawler/internal/jobs"
	"github.com/JakeFAU/athlete-results-crawler/internal/storage/checkpoint"
	"github.com/JakeFAU/athlete-results-crawler/internal/storage/memory"
)

type fakeJobService struct {
	mu         sync.Mutex
	requests   []jobs.Request
	jobs       map[string]crawler.Job
	submitErr  error
	panicOnGet bool
}

func (f *fakeJobService) Submit(_ context.Context, req jobs.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.requests = append(f.requests, req)
	return fmt.Sprintf("job-%d", len(f.requests)), nil
}

func (f *fakeJobService) Get(_ context.Context, id string) (crawler.Job, error) {
	if f.panicOnGet {
		panic("boom")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return crawler.Job{}, fmt.Errorf("get %s: %w", id, crawler.ErrJobNotFound)
	}
	return job, nil
}

func (f *fakeJobService) List(context.Context) []crawler.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]crawler.Job, 0, len(f.jobs))
	for _, j := range f.jobs {
		out = append(out, j)
	}
	return out
}

func newTestServer(t *testing.T, svc *fakeJobService, cfg Config) (*Server, *checkpoint.Store) {
	t.Helper()
	state, err := checkpoint.New(memory.NewBlobStore())
	require.NoError(t, err)
	if svc == nil {
		svc = &fakeJobService{}
	}
	return NewServer(svc, state, cfg, zaptest.NewLogger(t)), state
}

func do(t *testing.T, s *Server, method, path string, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestSubmitJobAccepted(t *testing.T) {
	t.Parallel()

	svc := &fakeJobService{}
	s, _ := newTestServer(t, svc, Config{})
	rec := do(t, s, http.MethodPost, "/v1/jobs",
		`{"years":[2024,2025],"countries":["ESP"],"tours":["CT"],"max_workers":3,"request_delay_seconds":0}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.JSONEq(t, `{"job_id":"job-1"}`, rec.Body.String())
	require.Len(t, svc.requests, 1)
	require.Equal(t, []int{2024, 2025}, svc.requests[0].Years)
	require.Equal(t, 3, *svc.requests[0].MaxWorkers)
	require.Zero(t, *svc.requests[0].RequestDelaySeconds)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestSubmitJobRejectsBadInput(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil, Config{})
	require.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/v1/jobs", "{invalid").Code)
	require.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/v1/jobs", `{"urls":["x"]}`).Code)

	invalid := &fakeJobService{submitErr: fmt.Errorf("%w: years must not be empty", jobs.ErrInvalidParameters)}
	s, _ = newTestServer(t, invalid, Config{})
	rec := do(t, s, http.MethodPost, "/v1/jobs", `{"years":[]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "years must not be empty")

	broken := &fakeJobService{submitErr: errors.New("persist jobs: disk full")}
	s, _ = newTestServer(t, broken, Config{})
	require.Equal(t, http.StatusInternalServerError, do(t, s, http.MethodPost, "/v1/jobs", `{}`).Code)
}

func TestGetJob(t *testing.T) {
	t.Parallel()

	svc := &fakeJobService{jobs: map[string]crawler.Job{
		"job-1": {ID: "job-1", Status: crawler.JobStatusRunning, Submitted: time.Unix(100, 0).UTC(), Logs: []string{"[00:01:40] Job started"}},
	}}
	s, _ := newTestServer(t, svc, Config{})

	rec := do(t, s, http.MethodGet, "/v1/jobs/job-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var job crawler.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	require.Equal(t, crawler.JobStatusRunning, job.Status)
	require.Equal(t, []string{"[00:01:40] Job started"}, job.Logs)

	require.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/v1/jobs/nope", "").Code)

	rec = do(t, s, http.MethodGet, "/v1/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"job-1"`)
}

func TestOptionsFallbackAndStored(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Defaults:   crawler.JobParameters{Years: []int{2025}, MaxWorkers: 5},
		Tours:      []string{"CT", "QS"},
		CountryIDs: map[string]int{"ESP": 208, "CAN": 250},
	}
	s, state := newTestServer(t, nil, cfg)

	rec := do(t, s, http.MethodGet, "/v1/options", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got optionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, []int{2025}, got.Years)
	require.Equal(t, []string{"CT", "QS"}, got.Tours)
	require.Equal(t, []string{"CAN", "ESP"}, got.Countries)
	require.Empty(t, got.Entities)

	require.NoError(t, state.SaveOptions(context.Background(), crawler.OptionSet{
		Years:     []int{2024, 2025},
		Tours:     []string{"LONGBOARD"},
		Locations: []string{"Galicia"},
		Entities:  []crawler.EntityDescriptor{{ID: "10158", DisplayName: "Adur Amatriain"}},
	}))
	rec = do(t, s, http.MethodGet, "/v1/options", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got = optionsResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, []int{2024, 2025}, got.Years)
	require.Equal(t, []string{"LONGBOARD"}, got.Tours)
	require.Len(t, got.Entities, 1)
	require.Equal(t, 5, got.Defaults.MaxWorkers)
}

func TestLatestDataset(t *testing.T) {
	t.Parallel()

	s, state := newTestServer(t, nil, Config{})
	require.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/v1/datasets/latest", "").Code)

	require.NoError(t, state.SaveRun(context.Background(), crawler.RunManifest{
		JobID:  "job-1",
		RunDir: "runs/20250602_093000",
		Latest: []crawler.ArtifactRef{{Name: "leaf_records.csv", Rows: 10}},
	}))
	rec := do(t, s, http.MethodGet, "/v1/datasets/latest", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "runs/20250602_093000")
}

func TestAPIKeyGuardsV1Only(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil, Config{APIKey: "secret"})
	require.Equal(t, http.StatusUnauthorized, do(t, s, http.MethodGet, "/v1/jobs", "").Code)
	require.Equal(t, http.StatusForbidden, do(t, s, http.MethodGet, "/v1/jobs", "", "X-API-Key", "wrong").Code)
	require.Equal(t, http.StatusForbidden, do(t, s, http.MethodGet, "/v1/jobs", "", "X-API-Key", "secret-but-longer").Code)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/v1/jobs", "", "X-API-Key", "secret").Code)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/v1/jobs?api_key=secret", "").Code)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/healthz", "").Code)
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil, Config{})
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/readyz", "").Code)

	s, _ = newTestServer(t, nil, Config{Ready: func(context.Context) error { return errors.New("bucket unreachable") }})
	rec := do(t, s, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "bucket unreachable")
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, &fakeJobService{panicOnGet: true}, Config{})
	rec := do(t, s, http.MethodGet, "/v1/jobs/x", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestIDIsPropagated(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil, Config{})
	rec := do(t, s, http.MethodGet, "/healthz", "", "X-Request-ID", "abc")
	require.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil, Config{})
	rec := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
}
