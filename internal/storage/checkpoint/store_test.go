package checkpoint_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/athlete-results-crawler/internal/crawler"
	"github.com/JakeFAU/athlete-results-crawler/internal/storage/checkpoint"
	"github.com/JakeFAU/athlete-results-crawler/internal/storage/local"
	"github.com/JakeFAU/athlete-results-crawler/internal/storage/memory"
)

func sampleJobs() []crawler.Job {
	submitted := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	started := submitted.Add(time.Second)
	eta := 12.5
	return []crawler.Job{
		{
			ID:         "job-a",
			Status:     crawler.JobStatusRunning,
			Submitted:  submitted,
			Started:    &started,
			Parameters: crawler.JobParameters{Years: []int{2025}, Countries: []string{"ESP"}, MaxWorkers: 5, RequestDelaySeconds: 0.5},
			Logs:       []string{"[10:00:01] Job started"},
			Progress:   crawler.Progress{Total: 4, Done: 1, ETASeconds: &eta},
		},
		{
			ID:        "job-b",
			Status:    crawler.JobStatusQueued,
			Submitted: submitted.Add(time.Minute),
		},
	}
}

func TestJobsRoundTripOnLocalDisk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	backend, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	store, err := checkpoint.New(backend)
	require.NoError(t, err)
	ctx := context.Background()

	jobs := sampleJobs()
	require.NoError(t, store.SaveJobs(ctx, jobs, "job-a"))

	loaded, err := store.LoadJobs(ctx)
	require.NoError(t, err)
	require.Equal(t, jobs, loaded)

	raw, err := os.ReadFile(filepath.Join(dir, "checkpoints", "jobs", "job-a.json"))
	require.NoError(t, err)
	var single crawler.Job
	require.NoError(t, json.Unmarshal(raw, &single))
	require.Equal(t, "job-a", single.ID)
	require.NoFileExists(t, filepath.Join(dir, "checkpoints", "jobs", "job-b.json"))
}

func TestLoadMissingIsNotFound(t *testing.T) {
	t.Parallel()

	store, err := checkpoint.New(memory.NewBlobStore())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.LoadJobs(ctx)
	require.ErrorIs(t, err, crawler.ErrNotFound)
	_, err = store.LoadOptions(ctx)
	require.ErrorIs(t, err, crawler.ErrNotFound)
	_, err = store.LoadRun(ctx)
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestOptionsAndRunRoundTrip(t *testing.T) {
	t.Parallel()

	store, err := checkpoint.New(memory.NewBlobStore())
	require.NoError(t, err)
	ctx := context.Background()

	opts := crawler.OptionSet{
		Years:     []int{2024, 2025},
		Tours:     []string{"CT", "QS"},
		Locations: []string{"Bells Beach"},
		Entities:  []crawler.EntityDescriptor{{ID: "1", DisplayName: "Ana", Category: "Spain"}},
		UpdatedAt: time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.SaveOptions(ctx, opts))
	gotOpts, err := store.LoadOptions(ctx)
	require.NoError(t, err)
	require.Equal(t, opts, gotOpts)

	manifest := crawler.RunManifest{
		JobID:       "job-a",
		RunDir:      "runs/20250602_000000",
		GeneratedAt: opts.UpdatedAt,
		Artifacts:   []crawler.ArtifactRef{{Name: "leaf_records.csv", URI: "memory://runs/20250602_000000/leaf_records.csv", SHA256: "abc", Rows: 10, Bytes: 512}},
		Summary:     crawler.Summary{TotalEntities: 5, TotalSubRecords: 5, TotalLeafRecords: 10},
	}
	require.NoError(t, store.SaveRun(ctx, manifest))
	gotRun, err := store.LoadRun(ctx)
	require.NoError(t, err)
	require.Equal(t, manifest.Artifacts, gotRun.Artifacts)
	require.Equal(t, manifest.Summary, gotRun.Summary)
}

func TestNewRequiresBackend(t *testing.T) {
	t.Parallel()

	_, err := checkpoint.New(nil)
	require.Error(t, err)
}
