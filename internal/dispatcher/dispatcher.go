// Package dispatcher pulls queued jobs and runs a bounded number at once.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/athlete-results-crawler/internal/crawler"
	"github.com/JakeFAU/athlete-results-crawler/internal/queue"
)

// JobRunner executes one job to completion.
type JobRunner interface {
	Run(ctx context.Context, jobID string) error
}

// Dispatcher fans queued jobs out to a fixed number of slots.
type Dispatcher struct {
	queue  crawler.Queue
	runner JobRunner
	slots  int
	logger *zap.Logger
}

// New creates a Dispatcher. slots below one means one.
func New(q crawler.Queue, runner JobRunner, slots int, logger *zap.Logger) *Dispatcher {
	if slots < 1 {
		slots = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{queue: q, runner: runner, slots: slots, logger: logger}
}

// Run blocks until ctx ends or the queue closes, and every started job has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.slots; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			d.loop(ctx, d.logger.With(zap.Int("slot", slot)))
		}(i)
	}
	wg.Wait()
}

func (d *Dispatcher) loop(ctx context.Context, logger *zap.Logger) {
	for {
		item, err := d.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			logger.Warn("dequeue failed", zap.Error(err))
			continue
		}
		logger.Info("job dequeued", zap.String("job_id", item.JobID))
		if err := d.runner.Run(ctx, item.JobID); err != nil {
			logger.Warn("job ended with error", zap.String("job_id", item.JobID), zap.Error(err))
		}
	}
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
