package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/athlete-results-crawler/internal/crawler"
	"github.com/JakeFAU/athlete-results-crawler/internal/metrics"
)

// ErrInvalidParameters marks submissions rejected by validation.
var ErrInvalidParameters = errors.New("invalid job parameters")

// Request is a submission as received from a client. Nil or empty fields take the configured defaults.
type Request struct {
	Years               []int    `json:"years"`
	Countries           []string `json:"countries"`
	Tours               []string `json:"tours"`
	Entities            []string `json:"entities"`
	Locations           []string `json:"locations"`
	MaxWorkers          *int     `json:"max_workers"`
	RequestDelaySeconds *float64 `json:"request_delay_seconds"`
}

// Enqueuer hands a job id to whatever executes jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, item crawler.QueueItem) error
}

// ServiceConfig holds submission defaults and limits.
type ServiceConfig struct {
	Defaults   crawler.JobParameters
	MaxWorkers int
}

// Service accepts submissions and answers job queries.
type Service struct {
	repo   *Repository
	queue  Enqueuer
	ids    crawler.IDGenerator
	clock  crawler.Clock
	cfg    ServiceConfig
	logger *zap.Logger
}

// NewService wires a Service.
func NewService(
	repo *Repository,
	queue Enqueuer,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	cfg ServiceConfig,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, queue: queue, ids: ids, clock: clock, cfg: cfg, logger: logger}
}

// Submit validates the request, records a queued job, and enqueues it. It returns the job id.
func (s *Service) Submit(ctx context.Context, req Request) (string, error) {
	params, err := s.Resolve(req)
	if err != nil {
		return "", err
	}
	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	now := s.clock.Now()
	job := crawler.Job{
		ID:         id,
		Status:     crawler.JobStatusQueued,
		Submitted:  now,
		Parameters: params,
		Logs:       []string{fmt.Sprintf("[%s] Job queued", now.Format(logTimeFormat))},
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	metrics.ObserveJob(string(crawler.JobStatusQueued))

	if err := s.queue.Enqueue(ctx, crawler.QueueItem{JobID: id, Submitted: now.UnixMilli()}); err != nil {
		msg := fmt.Sprintf("enqueue failed: %v", err)
		if _, upErr := s.repo.Update(ctx, id, func(j *crawler.Job) error {
			finished := s.clock.Now()
			j.Status = crawler.JobStatusError
			j.ErrorText = msg
			j.Finished = &finished
			s.repo.appendLog(j, "Job failed: "+msg)
			return nil
		}); upErr != nil {
			s.logger.Error("mark unqueued job failed", zap.String("job_id", id), zap.Error(upErr))
		}
		return "", fmt.Errorf("enqueue job %s: %w", id, err)
	}
	s.logger.Info("job submitted", zap.String("job_id", id), zap.Ints("years", params.Years))
	return id, nil
}

// Get returns one job.
func (s *Service) Get(_ context.Context, id string) (crawler.Job, error) {
	return s.repo.Get(id)
}

// List returns the job history, newest first.
func (s *Service) List(_ context.Context) []crawler.Job {
	return s.repo.List()
}

// Resolve applies defaults to a request and validates the outcome.
func (s *Service) Resolve(req Request) (crawler.JobParameters, error) {
	d := s.cfg.Defaults
	p := crawler.JobParameters{
		Years:               append([]int(nil), req.Years...),
		Countries:           cleanTokens(req.Countries, true),
		Tours:               cleanTokens(req.Tours, true),
		Entities:            cleanTokens(req.Entities, false),
		Locations:           cleanTokens(req.Locations, false),
		MaxWorkers:          d.MaxWorkers,
		RequestDelaySeconds: d.RequestDelaySeconds,
	}
	if req.Years == nil {
		p.Years = append([]int(nil), d.Years...)
	}
	if len(p.Countries) == 0 {
		p.Countries = cleanTokens(d.Countries, true)
	}
	if req.MaxWorkers != nil {
		p.MaxWorkers = *req.MaxWorkers
	}
	if req.RequestDelaySeconds != nil {
		p.RequestDelaySeconds = *req.RequestDelaySeconds
	}
	if err := Validate(p, s.cfg.MaxWorkers); err != nil {
		return crawler.JobParameters{}, err
	}
	return p, nil
}

// Validate checks parameters against the submission rules.
func Validate(p crawler.JobParameters, maxWorkers int) error {
	var problems []string
	if len(p.Years) == 0 {
		problems = append(problems, "years must not be empty")
	}
	for _, y := range p.Years {
		if y <= 0 {
			problems = append(problems, fmt.Sprintf("year %d must be positive", y))
			break
		}
	}
	if p.MaxWorkers < 1 || (maxWorkers > 0 && p.MaxWorkers > maxWorkers) {
		problems = append(problems, fmt.Sprintf("max_workers must be between 1 and %d", maxWorkers))
	}
	if p.RequestDelaySeconds < 0 {
		problems = append(problems, "request_delay_seconds must be >= 0")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidParameters, strings.Join(problems, "; "))
	}
	return nil
}

func cleanTokens(in []string, upper bool) []string {
	var out []string
	seen := make(map[string]struct{}, len(in))
	for _, tok := range in {
		tok = strings.TrimSpace(tok)
		if upper {
			tok = strings.ToUpper(tok)
		}
		if tok == "" {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}
