package progress

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestETA(t *testing.T) {
	t.Parallel()

	require.Nil(t, ETA(10, 0, time.Minute))

	eta := ETA(10, 4, 20*time.Second)
	require.NotNil(t, eta)
	require.InDelta(t, 30.0, *eta, 1e-9)

	eta = ETA(3, 1, 10*time.Second)
	require.InDelta(t, 20.0, *eta, 1e-9)

	eta = ETA(7, 3, 10*time.Second)
	require.InDelta(t, 13.3, *eta, 1e-9)

	eta = ETA(5, 5, time.Second)
	require.InDelta(t, 0.0, *eta, 1e-9)
}

func TestETAClampsTinyElapsed(t *testing.T) {
	t.Parallel()

	eta := ETA(2, 1, 0)
	require.NotNil(t, eta)
	require.InDelta(t, 0.0, *eta, 1e-9)
}

func TestTrackerCompleteIsMonotonicAndBounded(t *testing.T) {
	t.Parallel()

	start := time.Unix(1_700_000_000, 0)
	now := start
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	tr := NewTracker(3, start, clock)

	snap := tr.Snapshot()
	require.Equal(t, 3, snap.Total)
	require.Zero(t, snap.Done)
	require.Nil(t, snap.ETASeconds)

	mu.Lock()
	now = start.Add(10 * time.Second)
	mu.Unlock()
	snap = tr.Complete()
	require.Equal(t, 1, snap.Done)
	require.InDelta(t, 20.0, *snap.ETASeconds, 1e-9)

	tr.Complete()
	tr.Complete()
	snap = tr.Complete()
	require.Equal(t, 3, snap.Done)
}

func TestTrackerConcurrentCompletes(t *testing.T) {
	t.Parallel()

	tr := NewTracker(50, time.Now(), nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Complete()
		}()
	}
	wg.Wait()
	require.Equal(t, 50, tr.Snapshot().Done)
}
