// Package jobs owns the job table, parameter validation, and the lifecycle of a crawl run.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/athlete-results-crawler/internal/crawler"
)

const logTimeFormat = "15:04:05"

var errProgressRegressed = errors.New("progress may not move backwards or past total")

// Persister saves and restores the full job table.
type Persister interface {
	SaveJobs(ctx context.Context, jobs []crawler.Job, changedID string) error
	LoadJobs(ctx context.Context) ([]crawler.Job, error)
}

// Repository is the single owner of job state. One mutex guards the whole table and
// every mutation is persisted before the lock is released.
type Repository struct {
	mu    sync.Mutex
	jobs  map[string]crawler.Job
	order []string
	store Persister
	clock crawler.Clock
}

// NewRepository creates an empty repository backed by store.
func NewRepository(store Persister, clock crawler.Clock) *Repository {
	return &Repository{
		jobs:  make(map[string]crawler.Job),
		store: store,
		clock: clock,
	}
}

// Create adds a job and persists the table. The job is not kept if persisting fails.
func (r *Repository) Create(ctx context.Context, job crawler.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.ID]; exists {
		return fmt.Errorf("create %s: %w", job.ID, crawler.ErrJobExists)
	}
	r.jobs[job.ID] = job.Clone()
	r.order = append(r.order, job.ID)
	if err := r.persistLocked(ctx, job.ID); err != nil {
		delete(r.jobs, job.ID)
		r.order = r.order[:len(r.order)-1]
		return err
	}
	return nil
}

// Update applies fn to a copy of the job, validates the result, stores it, and persists the table.
// The returned job reflects the change even when persisting fails; the persist error is returned.
func (r *Repository) Update(ctx context.Context, id string, fn func(*crawler.Job) error) (crawler.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.jobs[id]
	if !ok {
		return crawler.Job{}, fmt.Errorf("update %s: %w", id, crawler.ErrJobNotFound)
	}
	next := current.Clone()
	if err := fn(&next); err != nil {
		return current.Clone(), fmt.Errorf("update %s: %w", id, err)
	}
	if !crawler.CanTransition(current.Status, next.Status) {
		return current.Clone(), fmt.Errorf("update %s from %s to %s: %w",
			id, current.Status, next.Status, crawler.ErrInvalidTransition)
	}
	if next.Progress.Done < current.Progress.Done || next.Progress.Done > next.Progress.Total {
		return current.Clone(), fmt.Errorf("update %s: %w", id, errProgressRegressed)
	}
	next.ID = id
	r.jobs[id] = next
	return next.Clone(), r.persistLocked(ctx, id)
}

// AppendLog adds a timestamped line to a job's log.
func (r *Repository) AppendLog(ctx context.Context, id string, lines ...string) error {
	_, err := r.Update(ctx, id, func(j *crawler.Job) error {
		r.appendLog(j, lines...)
		return nil
	})
	return err
}

// Get returns a copy of one job.
func (r *Repository) Get(id string) (crawler.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return crawler.Job{}, fmt.Errorf("get %s: %w", id, crawler.ErrJobNotFound)
	}
	return job.Clone(), nil
}

// List returns every job, newest submission first.
func (r *Repository) List() []crawler.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]crawler.Job, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		out = append(out, r.jobs[r.order[i]].Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Submitted.After(out[j].Submitted)
	})
	return out
}

// Recovered describes what Recover found in the persisted table.
type Recovered struct {
	// Interrupted counts jobs that were running and are now interrupted.
	Interrupted int
	// Requeued lists jobs still waiting to run, oldest submission first.
	Requeued []string
}

// Recover loads the last persisted table and marks jobs that were running as interrupted.
// Jobs that never left the queue keep their status and are returned for re-enqueueing.
// A missing snapshot is an empty table.
func (r *Repository) Recover(ctx context.Context) (Recovered, error) {
	loaded, err := r.store.LoadJobs(ctx)
	if err != nil && !errors.Is(err, crawler.ErrNotFound) {
		return Recovered{}, fmt.Errorf("recover jobs: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = make(map[string]crawler.Job, len(loaded))
	r.order = r.order[:0]
	sort.SliceStable(loaded, func(i, j int) bool {
		return loaded[i].Submitted.Before(loaded[j].Submitted)
	})

	var rec Recovered
	for _, job := range loaded {
		if _, dup := r.jobs[job.ID]; dup || job.ID == "" {
			continue
		}
		switch job.Status {
		case crawler.JobStatusRunning:
			job.Status = crawler.JobStatusInterrupted
			r.appendLog(&job, "Job interrupted by service restart")
			rec.Interrupted++
		case crawler.JobStatusQueued:
			r.appendLog(&job, "Job re-queued after restart")
			rec.Requeued = append(rec.Requeued, job.ID)
		}
		r.jobs[job.ID] = job
		r.order = append(r.order, job.ID)
	}
	if len(r.order) == 0 {
		return rec, nil
	}
	return rec, r.persistLocked(ctx, "")
}

func (r *Repository) appendLog(j *crawler.Job, lines ...string) {
	stamp := r.now().Format(logTimeFormat)
	for _, line := range lines {
		j.Logs = append(j.Logs, fmt.Sprintf("[%s] %s", stamp, line))
	}
}

func (r *Repository) now() time.Time {
	if r.clock == nil {
		return time.Now().UTC()
	}
	return r.clock.Now()
}

func (r *Repository) persistLocked(ctx context.Context, changedID string) error {
	if r.store == nil {
		return nil
	}
	snapshot := make([]crawler.Job, 0, len(r.order))
	for _, id := range r.order {
		snapshot = append(snapshot, r.jobs[id].Clone())
	}
	if err := r.store.SaveJobs(ctx, snapshot, changedID); err != nil {
		return fmt.Errorf("persist jobs: %w", err)
	}
	return nil
}
