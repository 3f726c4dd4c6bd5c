// Package fetcher implements the paced, retrying page fetcher shared by every crawl stage.
//
// Every logical fetch first waits the configured delay (also before the very first request),
// then issues up to MaxAttempts requests through a Transport. Throttling responses, 5xx
// gateway errors, and transport failures are retried with exponential backoff; any other
// non-2xx response fails immediately with a permanent FetchError.
package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/athlete-results-crawler/internal/crawler"
	"github.com/JakeFAU/athlete-results-crawler/internal/metrics"
)

// Response is what a Transport hands back for a single request.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Transport performs exactly one HTTP GET. Non-2xx responses are not errors at this level.
type Transport interface {
	Get(ctx context.Context, url string) (Response, error)
}

// Config controls pacing and retries.
type Config struct {
	Delay       time.Duration
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultConfig returns the pacing used when a job does not override it.
func DefaultConfig() Config {
	return Config{
		Delay:       500 * time.Millisecond,
		MaxAttempts: 3,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  8 * time.Second,
	}
}

type pauser interface {
	Pause(ctx context.Context, delay time.Duration) error
}

type timerPauser struct{}

func (timerPauser) Pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("pause canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// Fetcher implements crawler.Fetcher on top of a Transport.
type Fetcher struct {
	transport Transport
	delay     time.Duration
	retry     *RetryPolicy
	limiter   Limiter
	pause     pauser
	logger    *zap.Logger
}

var _ crawler.Fetcher = (*Fetcher)(nil)

// Option customizes a Fetcher.
type Option func(*Fetcher)

// Limiter grants permission for one request to url.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// WithLimiter caps the request rate across every Fetcher sharing the limiter.
func WithLimiter(l Limiter) Option {
	return func(f *Fetcher) {
		f.limiter = l
	}
}

// WithLogger attaches a logger for retry diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// New builds a Fetcher.
func New(transport Transport, cfg Config, opts ...Option) (*Fetcher, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if cfg.Delay < 0 {
		return nil, fmt.Errorf("delay must be >= 0")
	}
	f := &Fetcher{
		transport: transport,
		delay:     cfg.Delay,
		retry:     NewRetryPolicy(cfg.MaxAttempts, cfg.BaseBackoff, cfg.MaxBackoff),
		pause:     timerPauser{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Fetch returns the document at url or a *FetchError once retries are exhausted.
func (f *Fetcher) Fetch(ctx context.Context, url string) (crawler.Document, error) {
	if err := f.wait(ctx, url, f.delay); err != nil {
		return crawler.Document{}, err
	}
	for attempt := 1; ; attempt++ {
		if err := f.waitLimiter(ctx, url); err != nil {
			return crawler.Document{}, err
		}
		start := time.Now()
		resp, err := f.transport.Get(ctx, url)
		elapsed := time.Since(start)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return crawler.Document{}, fmt.Errorf("fetch %s canceled: %w", url, ctxErr)
		}

		fetchErr := classify(url, resp, err)
		if fetchErr == nil {
			metrics.ObserveFetch(url, "ok", elapsed)
			return crawler.Document{
				URL:        firstNonEmpty(resp.URL, url),
				StatusCode: resp.StatusCode,
				Headers:    resp.Headers,
				Body:       resp.Body,
				Duration:   elapsed,
			}, nil
		}
		fetchErr.Attempts = attempt
		metrics.ObserveFetch(url, string(fetchErr.Kind), elapsed)
		if !f.retry.ShouldRetry(fetchErr, attempt) {
			return crawler.Document{}, fetchErr
		}

		backoff := f.retry.Backoff(attempt)
		f.logger.Debug("retrying fetch",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Int("status", fetchErr.StatusCode),
			zap.Duration("backoff", backoff),
			zap.Error(fetchErr.Err),
		)
		metrics.ObserveRetry(url)
		if err := f.wait(ctx, url, backoff); err != nil {
			return crawler.Document{}, err
		}
	}
}

func (f *Fetcher) wait(ctx context.Context, url string, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if err := f.pause.Pause(ctx, delay); err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	metrics.ObserveRateLimitDelay(url, delay)
	return nil
}

func (f *Fetcher) waitLimiter(ctx context.Context, url string) error {
	if f.limiter == nil {
		return nil
	}
	if err := f.limiter.Wait(ctx, url); err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
