// Package worker runs per-athlete crawls with bounded concurrency.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/athlete-results-crawler/internal/crawler"
	"github.com/JakeFAU/athlete-results-crawler/internal/metrics"
)

// CrawlFunc crawls a single athlete.
type CrawlFunc func(ctx context.Context, d crawler.EntityDescriptor) ([]crawler.SubRecord, error)

// Completion is emitted once per finished athlete, successful or not.
type Completion struct {
	Result   crawler.EntityResult
	Duration time.Duration
}

// Failed reports whether the crawl ended with an error.
func (c Completion) Failed() bool {
	return c.Result.Error != ""
}

// Pool dispatches crawls to a fixed number of workers.
type Pool struct {
	crawl  CrawlFunc
	logger *zap.Logger
}

// New constructs a Pool.
func New(crawl CrawlFunc, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{crawl: crawl, logger: logger}
}

// Run crawls every descriptor with at most limit crawls in flight and blocks until all finish.
// onComplete is invoked serially from the calling goroutine, in completion order.
// The returned results are in completion order as well.
func (p *Pool) Run(
	ctx context.Context,
	descriptors []crawler.EntityDescriptor,
	limit int,
	onComplete func(Completion),
) []crawler.EntityResult {
	if len(descriptors) == 0 {
		return []crawler.EntityResult{}
	}
	if limit < 1 {
		limit = 1
	}
	if limit > len(descriptors) {
		limit = len(descriptors)
	}

	work := make(chan crawler.EntityDescriptor)
	events := make(chan Completion)

	var wg sync.WaitGroup
	for i := 0; i < limit; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range work {
				events <- p.crawlOne(ctx, d)
			}
		}()
	}
	go func() {
		defer close(work)
		for _, d := range descriptors {
			work <- d
		}
	}()
	go func() {
		wg.Wait()
		close(events)
	}()

	results := make([]crawler.EntityResult, 0, len(descriptors))
	for ev := range events {
		results = append(results, ev.Result)
		if onComplete != nil {
			onComplete(ev)
		}
	}
	return results
}

// crawlOne never lets an error or panic escape; both become an empty result carrying the message.
func (p *Pool) crawlOne(ctx context.Context, d crawler.EntityDescriptor) (c Completion) {
	start := time.Now()
	metrics.IncActiveWorkers()
	c.Result = crawler.EntityResult{Descriptor: d, SubRecords: []crawler.SubRecord{}}

	defer func() {
		metrics.DecActiveWorkers()
		if r := recover(); r != nil {
			c.Result.SubRecords = []crawler.SubRecord{}
			c.Result.Error = fmt.Sprintf("panic: %v", r)
			p.logger.Error("entity crawl panicked", zap.String("entity_id", d.ID), zap.Any("panic", r))
		}
		c.Duration = time.Since(start)
		outcome := "ok"
		if c.Failed() {
			outcome = "error"
		}
		metrics.ObserveEntity(outcome)
	}()

	subs, err := p.crawl(ctx, d)
	if err != nil {
		c.Result.Error = err.Error()
		p.logger.Warn("entity crawl failed", zap.String("entity_id", d.ID), zap.Error(err))
		return c
	}
	if subs != nil {
		c.Result.SubRecords = subs
	}
	return c
}
