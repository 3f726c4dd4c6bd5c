package crawler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from, to JobStatus
		want     bool
	}{
		{JobStatusQueued, JobStatusRunning, true},
		{JobStatusQueued, JobStatusError, true},
		{JobStatusQueued, JobStatusFinished, false},
		{JobStatusRunning, JobStatusFinished, true},
		{JobStatusRunning, JobStatusError, true},
		{JobStatusRunning, JobStatusInterrupted, false},
		{JobStatusRunning, JobStatusQueued, false},
		{JobStatusFinished, JobStatusRunning, false},
		{JobStatusError, JobStatusFinished, false},
		{JobStatusInterrupted, JobStatusRunning, false},
		{JobStatusRunning, JobStatusRunning, true},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTerminal(t *testing.T) {
	t.Parallel()

	require.False(t, JobStatusQueued.Terminal())
	require.False(t, JobStatusRunning.Terminal())
	require.True(t, JobStatusFinished.Terminal())
	require.True(t, JobStatusError.Terminal())
	require.True(t, JobStatusInterrupted.Terminal())
}

func TestJobCloneIsDeep(t *testing.T) {
	t.Parallel()

	started := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	eta := 12.5
	orig := Job{
		ID:         "job-1",
		Status:     JobStatusRunning,
		Started:    &started,
		Parameters: JobParameters{Years: []int{2025}, Countries: []string{"ESP"}},
		Logs:       []string{"[08:00:00] Job started"},
		Progress:   Progress{Total: 4, Done: 1, ETASeconds: &eta},
		Summary:    &Summary{TotalEntities: 4},
	}

	cp := orig.Clone()
	cp.Parameters.Years[0] = 1999
	cp.Parameters.Countries[0] = "CAN"
	cp.Logs[0] = "changed"
	*cp.Started = started.Add(time.Hour)
	*cp.Progress.ETASeconds = 1
	cp.Summary.TotalEntities = 0

	require.Equal(t, 2025, orig.Parameters.Years[0])
	require.Equal(t, "ESP", orig.Parameters.Countries[0])
	require.Equal(t, "[08:00:00] Job started", orig.Logs[0])
	require.Equal(t, started, *orig.Started)
	require.InDelta(t, 12.5, *orig.Progress.ETASeconds, 1e-9)
	require.Equal(t, 4, orig.Summary.TotalEntities)
}

func TestRequestDelay(t *testing.T) {
	t.Parallel()

	require.Equal(t, 500*time.Millisecond, JobParameters{RequestDelaySeconds: 0.5}.RequestDelay())
	require.Zero(t, JobParameters{}.RequestDelay())
}

func TestLeafCount(t *testing.T) {
	t.Parallel()

	res := EntityResult{SubRecords: []SubRecord{
		{Children: []LeafRecord{{ID: "heat_1"}, {ID: "heat_2"}}},
		{Children: nil},
		{Children: []LeafRecord{{ID: "heat_3"}}},
	}}
	require.Equal(t, 3, res.LeafCount())
	require.Zero(t, EntityResult{}.LeafCount())
}
