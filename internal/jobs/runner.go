package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/athlete-results-crawler/internal/crawler"
	"github.com/JakeFAU/athlete-results-crawler/internal/dataset"
	"github.com/JakeFAU/athlete-results-crawler/internal/discovery"
	"github.com/JakeFAU/athlete-results-crawler/internal/fanout"
	"github.com/JakeFAU/athlete-results-crawler/internal/metrics"
	"github.com/JakeFAU/athlete-results-crawler/internal/progress"
	"github.com/JakeFAU/athlete-results-crawler/internal/worker"
)

const defaultProgressEvery = 5

var tracer = otel.Tracer("github.com/JakeFAU/athlete-results-crawler/internal/jobs")

// Pipeline discovers athletes and crawls each one.
type Pipeline interface {
	DiscoverAll(ctx context.Context, filter discovery.Filter) ([]crawler.EntityDescriptor, error)
	CrawlEntity(ctx context.Context, d crawler.EntityDescriptor, dims fanout.Dimensions) ([]crawler.SubRecord, error)
}

// PipelineFactory builds a pipeline paced for one job's parameters.
type PipelineFactory func(params crawler.JobParameters) (Pipeline, error)

// Sink receives per-athlete results as they complete and the full result set at the end.
type Sink interface {
	SaveEntity(ctx context.Context, result crawler.EntityResult) error
	Assemble(ctx context.Context, run dataset.Run) (crawler.RunManifest, error)
}

// RunnerConfig tunes job execution.
type RunnerConfig struct {
	// ProgressLogEvery writes a progress line to the job log every N completions.
	ProgressLogEvery int
}

// Runner executes a queued job from discovery through dataset assembly.
type Runner struct {
	repo     *Repository
	pipeline PipelineFactory
	sink     Sink
	clock    crawler.Clock
	cfg      RunnerConfig
	logger   *zap.Logger
}

// NewRunner wires a Runner.
func NewRunner(
	repo *Repository,
	pipeline PipelineFactory,
	sink Sink,
	clock crawler.Clock,
	cfg RunnerConfig,
	logger *zap.Logger,
) *Runner {
	if cfg.ProgressLogEvery <= 0 {
		cfg.ProgressLogEvery = defaultProgressEvery
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		repo:     repo,
		pipeline: pipeline,
		sink:     sink,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run executes the job. Failures after the job started are recorded on the job itself
// and also returned; a job that cannot start is left untouched. A job whose ctx ends
// mid-crawl stays running without a dataset, for Recover to mark interrupted.
func (r *Runner) Run(ctx context.Context, jobID string) (err error) {
	logger := r.logger.With(zap.String("job_id", jobID))
	started := r.clock.Now()
	job, err := r.repo.Update(ctx, jobID, func(j *crawler.Job) error {
		if j.Status != crawler.JobStatusQueued {
			return fmt.Errorf("job is %s: %w", j.Status, crawler.ErrInvalidTransition)
		}
		j.Status = crawler.JobStatusRunning
		j.Started = &started
		r.repo.appendLog(j, "Job started")
		return nil
	})
	if err != nil {
		// Only a failed persist leaves the job started; a refusal means another run owns it.
		if errors.Is(err, crawler.ErrInvalidTransition) || errors.Is(err, crawler.ErrJobNotFound) ||
			job.Status != crawler.JobStatusRunning {
			return fmt.Errorf("start job: %w", err)
		}
		logger.Error("persist job start failed", zap.Error(err))
	}
	metrics.ObserveJob(string(crawler.JobStatusRunning))

	ctx, span := tracer.Start(ctx, "jobs.run", trace.WithAttributes(attribute.String("job.id", jobID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	if sc := span.SpanContext(); sc.IsValid() {
		logger = logger.With(zap.String("trace_id", sc.TraceID().String()))
	}
	logger.Info("job started")

	defer func() {
		if p := recover(); p != nil {
			err = r.fail(ctx, logger, jobID, fmt.Errorf("panic: %v", p))
		}
	}()

	params := job.Parameters
	r.appendLog(ctx, logger, jobID, describe(params))

	pipeline, err := r.pipeline(params)
	if err != nil {
		return r.fail(ctx, logger, jobID, fmt.Errorf("build pipeline: %w", err))
	}
	descriptors, err := pipeline.DiscoverAll(ctx, discovery.Filter{Countries: params.Countries, Entities: params.Entities})
	if err != nil {
		return r.fail(ctx, logger, jobID, fmt.Errorf("discover athletes: %w", err))
	}
	r.appendLog(ctx, logger, jobID, fmt.Sprintf("Discovered %d athletes", len(descriptors)))

	if len(descriptors) == 0 {
		return r.finish(ctx, logger, jobID, started, crawler.Summary{}, "No athletes matched the filters")
	}

	if _, err := r.repo.Update(ctx, jobID, func(j *crawler.Job) error {
		j.Progress = crawler.Progress{Total: len(descriptors)}
		return nil
	}); err != nil {
		logger.Error("persist progress total failed", zap.Error(err))
	}

	dims := fanout.Dimensions{Years: params.Years, Tours: params.Tours, Locations: params.Locations}
	tracker := progress.NewTracker(len(descriptors), r.clock.Now(), r.clock.Now)
	pool := worker.New(func(ctx context.Context, d crawler.EntityDescriptor) ([]crawler.SubRecord, error) {
		return pipeline.CrawlEntity(ctx, d, dims)
	}, logger)

	results := pool.Run(ctx, descriptors, params.MaxWorkers, func(c worker.Completion) {
		r.onComplete(ctx, logger, jobID, tracker, c)
	})

	if err := ctx.Err(); err != nil {
		r.appendLog(context.WithoutCancel(ctx), logger, jobID, "Job stopped before completion: "+err.Error())
		logger.Warn("job stopped", zap.Error(err))
		return fmt.Errorf("job %s stopped: %w", jobID, err)
	}

	summary := Summarize(results, r.clock.Now().Sub(started))
	manifest, err := r.sink.Assemble(ctx, dataset.Run{
		JobID:      jobID,
		Parameters: params,
		Results:    results,
		Summary:    summary,
	})
	if err != nil {
		return r.fail(ctx, logger, jobID, fmt.Errorf("assemble dataset: %w", err))
	}
	summary.ElapsedSeconds = roundSeconds(r.clock.Now().Sub(started))
	return r.finish(ctx, logger, jobID, started, summary,
		fmt.Sprintf("Dataset written to %s", manifest.RunDir))
}

// onComplete runs on the pool's consumer goroutine: save first, then report progress.
func (r *Runner) onComplete(
	ctx context.Context,
	logger *zap.Logger,
	jobID string,
	tracker *progress.Tracker,
	c worker.Completion,
) {
	var lines []string
	d := c.Result.Descriptor
	if c.Failed() {
		lines = append(lines, fmt.Sprintf("Error crawling %s (%s): %s", d.DisplayName, d.ID, c.Result.Error))
	}
	if err := r.sink.SaveEntity(ctx, c.Result); err != nil {
		logger.Warn("incremental save failed", zap.String("entity_id", d.ID), zap.Error(err))
		lines = append(lines, fmt.Sprintf("Failed to save %s (%s): %v", d.DisplayName, d.ID, err))
	}

	snap := tracker.Complete()
	if snap.Done%r.cfg.ProgressLogEvery == 0 || snap.Done == snap.Total {
		lines = append(lines, progressLine(snap))
	}
	if _, err := r.repo.Update(ctx, jobID, func(j *crawler.Job) error {
		j.Progress = snap
		r.repo.appendLog(j, lines...)
		return nil
	}); err != nil {
		logger.Error("persist progress failed", zap.Error(err))
	}
}

func (r *Runner) finish(
	ctx context.Context,
	logger *zap.Logger,
	jobID string,
	started time.Time,
	summary crawler.Summary,
	note string,
) error {
	finished := r.clock.Now()
	if summary.ElapsedSeconds == 0 {
		summary.ElapsedSeconds = roundSeconds(finished.Sub(started))
	}
	_, err := r.repo.Update(ctx, jobID, func(j *crawler.Job) error {
		j.Status = crawler.JobStatusFinished
		j.Finished = &finished
		j.Summary = &summary
		if j.Progress.Total > 0 {
			zero := 0.0
			j.Progress.ETASeconds = &zero
		}
		r.repo.appendLog(j, note, fmt.Sprintf(
			"Job finished: %d athletes, %d events, %d heats in %.1fs",
			summary.TotalEntities, summary.TotalSubRecords, summary.TotalLeafRecords, summary.ElapsedSeconds,
		))
		return nil
	})
	metrics.ObserveJob(string(crawler.JobStatusFinished))
	logger.Info("job finished",
		zap.Int("entities", summary.TotalEntities),
		zap.Int("sub_records", summary.TotalSubRecords),
		zap.Int("leaf_records", summary.TotalLeafRecords),
	)
	if err != nil {
		logger.Error("persist job finish failed", zap.Error(err))
		return fmt.Errorf("finish job: %w", err)
	}
	return nil
}

// fail records cause on the job and returns it.
func (r *Runner) fail(ctx context.Context, logger *zap.Logger, jobID string, cause error) error {
	finished := r.clock.Now()
	msg := cause.Error()
	if _, err := r.repo.Update(ctx, jobID, func(j *crawler.Job) error {
		j.Status = crawler.JobStatusError
		j.ErrorText = msg
		j.Finished = &finished
		r.repo.appendLog(j, "Job failed: "+msg)
		return nil
	}); err != nil {
		logger.Error("persist job failure failed", zap.Error(err))
		cause = errors.Join(cause, err)
	}
	metrics.ObserveJob(string(crawler.JobStatusError))
	logger.Error("job failed", zap.String("error", msg))
	return cause
}

func (r *Runner) appendLog(ctx context.Context, logger *zap.Logger, jobID string, line string) {
	if err := r.repo.AppendLog(ctx, jobID, line); err != nil {
		logger.Error("persist job log failed", zap.Error(err))
	}
}

// Summarize totals athletes, events, and heats across results.
func Summarize(results []crawler.EntityResult, elapsed time.Duration) crawler.Summary {
	s := crawler.Summary{TotalEntities: len(results), ElapsedSeconds: roundSeconds(elapsed)}
	for _, res := range results {
		s.TotalSubRecords += len(res.SubRecords)
		s.TotalLeafRecords += res.LeafCount()
	}
	return s
}

func progressLine(p crawler.Progress) string {
	eta := "unknown"
	if p.ETASeconds != nil {
		eta = fmt.Sprintf("%.1fs", *p.ETASeconds)
	}
	return fmt.Sprintf("Progress: %d/%d athletes (ETA %s)", p.Done, p.Total, eta)
}

func describe(p crawler.JobParameters) string {
	list := func(v []string) string {
		if len(v) == 0 {
			return "all"
		}
		return strings.Join(v, ",")
	}
	return fmt.Sprintf("Parameters: years=%v countries=%s tours=%s entities=%s locations=%s workers=%d delay=%.2fs",
		p.Years, list(p.Countries), list(p.Tours), list(p.Entities), list(p.Locations),
		p.MaxWorkers, p.RequestDelaySeconds)
}

func roundSeconds(d time.Duration) float64 {
	return float64(d.Round(100*time.Millisecond)) / float64(time.Second)
}
