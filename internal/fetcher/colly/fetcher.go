// Package collyfetcher implements the HTTP Transport using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/athlete-results-crawler/internal/fetcher"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	Headers   http.Header
	// RespectRobots makes disallowed pages answer 403 instead of being fetched.
	RespectRobots bool
}

// Transport implements fetcher.Transport using the Colly collector.
type Transport struct {
	cfg           Config
	baseCollector *colly.Collector
}

var _ fetcher.Transport = (*Transport)(nil)

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Transport.
func New(cfg Config) *Transport {
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	if cfg.RespectRobots {
		c.IgnoreRobotsTxt = false
		c.WithTransport(&robotsAwareTransport{base: newHTTPTransport()})
	} else {
		c.WithTransport(newHTTPTransport())
	}

	return &Transport{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Get executes a single HTTP GET using Colly. Error statuses are returned as responses.
func (t *Transport) Get(ctx context.Context, url string) (fetcher.Response, error) {
	var (
		result   fetcher.Response
		fetchErr error
	)
	collector := t.buildCollector(&result, &fetchErr)
	if err := t.runCollector(ctx, collector, url, &fetchErr); err != nil {
		if errors.Is(err, colly.ErrRobotsTxtBlocked) {
			return fetcher.Response{URL: url, StatusCode: http.StatusForbidden}, nil
		}
		return fetcher.Response{}, err
	}
	return result, nil
}

func (t *Transport) buildCollector(result *fetcher.Response, fetchErr *error) *colly.Collector {
	collector := t.baseCollector.Clone()
	if t.cfg.UserAgent != "" {
		collector.UserAgent = t.cfg.UserAgent
	}
	// Clones share the visited-URL store; retries and pagination revisit the same URLs.
	collector.AllowURLRevisit = true
	collector.ParseHTTPErrorResponse = true
	timeout := t.cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	t.configureCollectorHooks(collector, result, fetchErr)
	return collector
}

func (t *Transport) configureCollectorHooks(hooks collectorHooks, result *fetcher.Response, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		t.copyHeaders(r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = fetcher.Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (t *Transport) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func (t *Transport) copyHeaders(r *colly.Request) {
	for key, values := range t.cfg.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
}
