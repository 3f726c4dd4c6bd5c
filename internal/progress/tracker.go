package progress

import (
	"math"
	"sync"
	"time"

	"github.com/JakeFAU/athlete-results-crawler/internal/crawler"
)

const minElapsed = time.Millisecond

// Tracker counts completions against a fixed total. It is safe for concurrent use.
type Tracker struct {
	mu    sync.Mutex
	total int
	done  int
	start time.Time
	now   func() time.Time
}

// NewTracker starts tracking total units of work at start. A nil now uses time.Now.
func NewTracker(total int, start time.Time, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	if total < 0 {
		total = 0
	}
	return &Tracker{total: total, start: start, now: now}
}

// Complete records one finished unit and returns the updated snapshot.
// done never exceeds total.
func (t *Tracker) Complete() crawler.Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done < t.total {
		t.done++
	}
	return t.snapshotLocked()
}

// Snapshot returns the current progress without changing it.
func (t *Tracker) Snapshot() crawler.Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() crawler.Progress {
	return crawler.Progress{
		Total:      t.total,
		Done:       t.done,
		ETASeconds: ETA(t.total, t.done, t.now().Sub(t.start)),
	}
}

// ETA estimates the seconds remaining from the average pace so far, rounded to 0.1s.
// It is nil until something has completed.
func ETA(total, done int, elapsed time.Duration) *float64 {
	if done <= 0 {
		return nil
	}
	if elapsed < minElapsed {
		elapsed = minElapsed
	}
	remaining := total - done
	if remaining < 0 {
		remaining = 0
	}
	rate := float64(done) / elapsed.Seconds()
	eta := math.Round(float64(remaining)/rate*10) / 10
	return &eta
}
