// Package app is the composition root: it builds every long-lived service from the
// configuration and runs them.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/athlete-results-crawler/internal/api"
	"github.com/JakeFAU/athlete-results-crawler/internal/clock/system"
	"github.com/JakeFAU/athlete-results-crawler/internal/config"
	"github.com/JakeFAU/athlete-results-crawler/internal/crawler"
	"github.com/JakeFAU/athlete-results-crawler/internal/dataset"
	"github.com/JakeFAU/athlete-results-crawler/internal/discovery"
	"github.com/JakeFAU/athlete-results-crawler/internal/dispatcher"
	"github.com/JakeFAU/athlete-results-crawler/internal/fanout"
	"github.com/JakeFAU/athlete-results-crawler/internal/fetcher"
	collyfetcher "github.com/JakeFAU/athlete-results-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/athlete-results-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/athlete-results-crawler/internal/hash/sha256"
	"github.com/JakeFAU/athlete-results-crawler/internal/headless/detector"
	"github.com/JakeFAU/athlete-results-crawler/internal/id/uuid"
	"github.com/JakeFAU/athlete-results-crawler/internal/jobs"
	"github.com/JakeFAU/athlete-results-crawler/internal/metrics"
	"github.com/JakeFAU/athlete-results-crawler/internal/parser"
	"github.com/JakeFAU/athlete-results-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/athlete-results-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/athlete-results-crawler/internal/queue/memory"
	"github.com/JakeFAU/athlete-results-crawler/internal/source"
	"github.com/JakeFAU/athlete-results-crawler/internal/storage/checkpoint"
	"github.com/JakeFAU/athlete-results-crawler/internal/storage/gcs"
	"github.com/JakeFAU/athlete-results-crawler/internal/storage/local"
	memstore "github.com/JakeFAU/athlete-results-crawler/internal/storage/memory"
	"github.com/JakeFAU/athlete-results-crawler/internal/storage/postgres"
)

const shutdownTimeout = 15 * time.Second

// App holds the shared, long-lived services.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  crawler.Clock

	blobs      checkpoint.Backend
	state      *checkpoint.Store
	repo       *jobs.Repository
	service    *jobs.Service
	runner     *jobs.Runner
	queue      *memory.Queue
	dispatcher *dispatcher.Dispatcher
	server     *api.Server

	closers []func() error
}

// Option overrides a dependency, mainly for tests.
type Option func(*options)

type options struct {
	transport fetcher.Transport
	clock     crawler.Clock
	blobs     checkpoint.Backend
}

// WithTransport replaces the configured page transport.
func WithTransport(t fetcher.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithClock replaces the wall clock.
func WithClock(c crawler.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithBlobStore replaces the configured storage backend.
func WithBlobStore(b checkpoint.Backend) Option {
	return func(o *options) { o.blobs = b }
}

type blobBackend interface {
	checkpoint.Backend
	crawler.BlobStore
}

// New builds every service and recovers the job table. Jobs that were running when the
// previous process stopped are marked interrupted.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	a := &App{cfg: cfg, logger: logger, clock: o.clock}
	if a.clock == nil {
		a.clock = system.New()
	}
	metrics.Init()

	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	blobs, err := a.openBlobs(ctx, o.blobs)
	if err != nil {
		return nil, err
	}
	a.blobs = blobs
	if a.state, err = checkpoint.New(blobs); err != nil {
		return nil, err
	}

	a.repo = jobs.NewRepository(a.state, a.clock)
	recovered, err := a.repo.Recover(ctx)
	if err != nil {
		return nil, fmt.Errorf("recover job table: %w", err)
	}
	logger.Info("job table recovered",
		zap.Int("jobs", len(a.repo.List())),
		zap.Int("interrupted", recovered.Interrupted),
		zap.Int("requeued", len(recovered.Requeued)),
	)

	transport := o.transport
	if transport == nil {
		if transport, err = a.openTransport(); err != nil {
			return nil, err
		}
	}
	factory, err := a.pipelineFactory(transport)
	if err != nil {
		return nil, err
	}

	sink, err := a.openAssembler(ctx, blobs)
	if err != nil {
		return nil, err
	}

	a.runner = jobs.NewRunner(a.repo, factory, sink, a.clock,
		jobs.RunnerConfig{ProgressLogEvery: cfg.Jobs.ProgressLogEvery}, logger.Named("runner"))
	// Recovered jobs must fit without a running dispatcher.
	a.queue = memory.NewQueue(cfg.Jobs.QueueDepth + len(recovered.Requeued))
	a.dispatcher = dispatcher.New(a.queue, a.runner, cfg.Jobs.Parallel, logger.Named("dispatcher"))
	if err := a.requeue(ctx, recovered.Requeued); err != nil {
		return nil, err
	}
	a.service = jobs.NewService(a.repo, a.dispatcher, uuid.New(), a.clock, jobs.ServiceConfig{
		Defaults:   cfg.Defaults,
		MaxWorkers: cfg.Limits.MaxWorkers,
	}, logger.Named("jobs"))
	a.server = api.NewServer(a.service, a.state, api.Config{
		APIKey:     apiKey(cfg.Auth),
		Defaults:   cfg.Defaults,
		Tours:      cfg.Source.Tours,
		CountryIDs: cfg.Source.CountryIDs,
		Ready:      a.ready,
	}, logger)

	ok = true
	return a, nil
}

// requeue puts jobs that were waiting before the restart back on the queue, oldest first.
func (a *App) requeue(ctx context.Context, ids []string) error {
	for _, id := range ids {
		job, err := a.repo.Get(id)
		if err != nil {
			return fmt.Errorf("requeue %s: %w", id, err)
		}
		item := crawler.QueueItem{JobID: id, Submitted: job.Submitted.UnixMilli()}
		if err := a.dispatcher.Enqueue(ctx, item); err != nil {
			return fmt.Errorf("requeue %s: %w", id, err)
		}
		a.logger.Info("job re-queued", zap.String("job_id", id))
	}
	return nil
}

func apiKey(auth config.AuthConfig) string {
	if !auth.Enabled {
		return ""
	}
	return auth.APIKey
}

func (a *App) openBlobs(ctx context.Context, override checkpoint.Backend) (checkpoint.Backend, error) {
	if override != nil {
		return override, nil
	}
	switch a.cfg.Storage.Backend {
	case "memory":
		a.logger.Warn("using in-memory storage; checkpoints and datasets are lost on exit")
		return memstore.NewBlobStore(), nil
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		store, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Storage.GCSBucket, Prefix: a.cfg.Storage.Prefix})
		if err != nil {
			return nil, err
		}
		a.logger.Info("using gcs storage", zap.String("bucket", a.cfg.Storage.GCSBucket))
		return store, nil
	default:
		store, err := local.New(local.Config{BaseDir: a.cfg.Storage.DataDir})
		if err != nil {
			return nil, err
		}
		a.logger.Info("using local storage", zap.String("data_dir", a.cfg.Storage.DataDir))
		return store, nil
	}
}

func (a *App) openTransport() (fetcher.Transport, error) {
	probe := collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.Source.UserAgent,
		Timeout:       a.cfg.FetchTimeout(),
		RespectRobots: a.cfg.Fetch.RespectRobots,
	})
	if a.cfg.Fetch.Backend == "http" {
		return probe, nil
	}

	render, err := headless.NewChromedp(headless.Config{
		MaxParallel:       a.cfg.Headless.MaxParallel,
		UserAgent:         a.cfg.Source.UserAgent,
		NavigationTimeout: time.Duration(a.cfg.Headless.NavTimeoutSec) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("create headless transport: %w", err)
	}
	a.closers = append(a.closers, func() error {
		render.Close()
		return nil
	})
	if a.cfg.Fetch.Backend == "headless" {
		return render, nil
	}
	// auto: plain HTTP first, headless only for pages that look unrendered.
	return fetcher.NewPromotingTransport(probe, render,
		detector.NewHeuristic(a.cfg.Headless.PromotionThreshold), a.logger.Named("fetch")), nil
}

// pipeline joins a walker and a fan-out crawler that share one paced fetcher.
type pipeline struct {
	*discovery.Walker
	*fanout.Crawler
}

// pipelineFactory builds a fresh fetcher per job so each job gets its own request delay,
// while the per-host rate limiter is shared by all jobs.
func (a *App) pipelineFactory(transport fetcher.Transport) (jobs.PipelineFactory, error) {
	endpoints, err := source.New(a.cfg.Source.BaseURL, a.cfg.Source.CountryIDs)
	if err != nil {
		return nil, err
	}
	limiter := ratelimit.New(ratelimit.Config{DefaultRPS: a.cfg.Fetch.MaxRPS, DefaultBurst: 1})
	p := parser.New(a.logger.Named("parser"))
	logger := a.logger.Named("crawl")

	return func(params crawler.JobParameters) (jobs.Pipeline, error) {
		f, err := fetcher.New(transport, fetcher.Config{
			Delay:       params.RequestDelay(),
			MaxAttempts: a.cfg.Fetch.MaxAttempts,
			BaseBackoff: time.Duration(a.cfg.Fetch.BackoffBaseMs) * time.Millisecond,
			MaxBackoff:  time.Duration(a.cfg.Fetch.BackoffMaxMs) * time.Millisecond,
		}, fetcher.WithLimiter(limiter), fetcher.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return pipeline{
			Walker:  discovery.NewWalker(f, p, endpoints, logger),
			Crawler: fanout.New(f, p, endpoints, logger),
		}, nil
	}, nil
}

func (a *App) openAssembler(ctx context.Context, blobs checkpoint.Backend) (*dataset.Assembler, error) {
	store, ok := blobs.(blobBackend)
	if !ok {
		return nil, fmt.Errorf("storage backend %T cannot hold artifacts", blobs)
	}
	opts := []dataset.Option{dataset.WithLogger(a.logger.Named("dataset"))}

	if a.cfg.DB.DSN != "" {
		leaves, err := postgres.NewLeafStore(ctx, postgres.Config{
			DSN:      a.cfg.DB.DSN,
			Table:    a.cfg.DB.Table,
			MaxConns: a.cfg.DB.MaxConns,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error {
			leaves.Close()
			return nil
		})
		if err := leaves.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		opts = append(opts, dataset.WithMirror(leaves))
		a.logger.Info("mirroring heat rows to postgres", zap.String("table", a.cfg.DB.Table))
	}

	if a.cfg.PubSub.ProjectID != "" && a.cfg.PubSub.TopicName != "" {
		pub, err := pubsub.New(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pub.Close)
		opts = append(opts, dataset.WithPublisher(pub))
		a.logger.Info("announcing runs on pubsub", zap.String("topic", a.cfg.PubSub.TopicName))
	}

	return dataset.New(store, a.state, sha256.New(), a.clock,
		dataset.Config{Topic: a.cfg.PubSub.TopicName}, opts...), nil
}

// ready checks that checkpoint storage answers.
func (a *App) ready(ctx context.Context) error {
	if _, err := a.state.LoadJobs(ctx); err != nil && !errors.Is(err, crawler.ErrNotFound) {
		return fmt.Errorf("checkpoint storage: %w", err)
	}
	return nil
}

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Service returns the job service.
func (a *App) Service() *jobs.Service {
	return a.service
}

// State returns the checkpoint store.
func (a *App) State() *checkpoint.Store {
	return a.state
}

// Dispatch runs queued jobs until ctx ends.
func (a *App) Dispatch(ctx context.Context) {
	a.dispatcher.Run(ctx)
}

// Serve runs the HTTP API and the dispatcher until ctx ends, then shuts both down.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.Dispatch(ctx)
	}()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown failed", zap.Error(err))
	}
	a.queue.Close()
	<-dispatchDone
	if serveErr != nil {
		return fmt.Errorf("http server: %w", serveErr)
	}
	return nil
}

// Crawl submits one job and runs it on the calling goroutine. Jobs queued ahead of it,
// such as ones recovered after a restart, run first.
func (a *App) Crawl(ctx context.Context, req jobs.Request) (crawler.Job, error) {
	id, err := a.service.Submit(ctx, req)
	if err != nil {
		return crawler.Job{}, err
	}
	var runErr error
	for {
		item, err := a.queue.Dequeue(ctx)
		if err != nil {
			return crawler.Job{}, fmt.Errorf("dequeue job %s: %w", id, err)
		}
		if item.JobID == id {
			runErr = a.runner.Run(ctx, id)
			break
		}
		a.logger.Info("running earlier queued job", zap.String("job_id", item.JobID))
		if err := a.runner.Run(ctx, item.JobID); err != nil {
			a.logger.Warn("earlier queued job ended with error", zap.String("job_id", item.JobID), zap.Error(err))
		}
	}
	job, err := a.service.Get(ctx, id)
	if err != nil {
		return crawler.Job{}, err
	}
	return job, runErr
}

// Close releases clients in reverse order of creation and flushes the logger.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
}
