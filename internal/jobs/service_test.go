package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/athlete-results-crawler/internal/clock/system"
	"github.com/JakeFAU/athlete-results-crawler/internal/crawler"
)

type fakeQueue struct {
	mu    sync.Mutex
	items []crawler.QueueItem
	err   error
}

func (q *fakeQueue) Enqueue(_ context.Context, item crawler.QueueItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.items = append(q.items, item)
	return nil
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return "job-" + string(rune('0'+g.n)), nil
}

var defaults = crawler.JobParameters{
	Years:               []int{2025},
	Countries:           []string{"ESP"},
	MaxWorkers:          5,
	RequestDelaySeconds: 0.5,
}

func newService(t *testing.T, q *fakeQueue) (*Service, *Repository) {
	t.Helper()
	clock := system.NewFixed(t0)
	repo := NewRepository(&fakePersister{}, clock)
	svc := NewService(repo, q, &seqIDs{}, clock, ServiceConfig{Defaults: defaults, MaxWorkers: 10}, zaptest.NewLogger(t))
	return svc, repo
}

func TestSubmitQueuesJobWithDefaults(t *testing.T) {
	t.Parallel()

	q := &fakeQueue{}
	svc, _ := newService(t, q)
	id, err := svc.Submit(context.Background(), Request{Tours: []string{"ct", " CT ", "qs"}})
	require.NoError(t, err)
	require.Equal(t, "job-1", id)
	require.Equal(t, []crawler.QueueItem{{JobID: id, Submitted: t0.UnixMilli()}}, q.items)

	job, err := svc.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusQueued, job.Status)
	require.Equal(t, []int{2025}, job.Parameters.Years)
	require.Equal(t, []string{"ESP"}, job.Parameters.Countries)
	require.Equal(t, []string{"CT", "QS"}, job.Parameters.Tours)
	require.Equal(t, 5, job.Parameters.MaxWorkers)
	require.Equal(t, []string{"[09:30:00] Job queued"}, job.Logs)
	require.Len(t, svc.List(context.Background()), 1)
}

func TestSubmitRejectsInvalidParameters(t *testing.T) {
	t.Parallel()

	cases := map[string]Request{
		"empty years":    {Years: []int{}},
		"negative year":  {Years: []int{-1}},
		"zero workers":   {MaxWorkers: ptr(0)},
		"too many":       {MaxWorkers: ptr(11)},
		"negative delay": {RequestDelaySeconds: ptr(-0.1)},
	}
	for name, req := range cases {
		q := &fakeQueue{}
		svc, repo := newService(t, q)
		_, err := svc.Submit(context.Background(), req)
		require.ErrorIs(t, err, ErrInvalidParameters, name)
		require.Empty(t, q.items, name)
		require.Empty(t, repo.List(), name)
	}
}

func TestSubmitMarksJobErrorWhenEnqueueFails(t *testing.T) {
	t.Parallel()

	q := &fakeQueue{err: errors.New("queue closed")}
	svc, repo := newService(t, q)
	_, err := svc.Submit(context.Background(), Request{})
	require.Error(t, err)

	jobs := repo.List()
	require.Len(t, jobs, 1)
	require.Equal(t, crawler.JobStatusError, jobs[0].Status)
	require.Contains(t, jobs[0].ErrorText, "queue closed")
	require.NotNil(t, jobs[0].Finished)
	require.Nil(t, jobs[0].Started)
	require.Contains(t, jobs[0].Logs[len(jobs[0].Logs)-1], "Job failed: enqueue failed")
}

func TestResolveOverridesDefaults(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t, &fakeQueue{})
	p, err := svc.Resolve(Request{
		Years:               []int{2023, 2024},
		Countries:           []string{"bra", "BRA", "aus"},
		Entities:            []string{" Adur Amatriain "},
		Locations:           []string{"Galicia", ""},
		MaxWorkers:          ptr(10),
		RequestDelaySeconds: ptr(0.0),
	})
	require.NoError(t, err)
	require.Equal(t, []int{2023, 2024}, p.Years)
	require.Equal(t, []string{"BRA", "AUS"}, p.Countries)
	require.Equal(t, []string{"Adur Amatriain"}, p.Entities)
	require.Equal(t, []string{"Galicia"}, p.Locations)
	require.Equal(t, 10, p.MaxWorkers)
	require.Zero(t, p.RequestDelaySeconds)
}

func TestValidateUnboundedWorkers(t *testing.T) {
	t.Parallel()

	require.NoError(t, Validate(crawler.JobParameters{Years: []int{2025}, MaxWorkers: 50}, 0))
	require.ErrorIs(t, Validate(crawler.JobParameters{Years: []int{2025}}, 0), ErrInvalidParameters)
}

func ptr[T any](v T) *T { return &v }
