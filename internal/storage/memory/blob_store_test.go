package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/athlete-results-crawler/internal/crawler"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "entities/1_Ana.json", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://entities/1_Ana.json", uri)

	payload[0] = 'C'
	got, err := store.GetObject(context.Background(), "entities/1_Ana.json")
	require.NoError(t, err)
	require.Equal(t, "content", string(got))

	got[0] = 'X'
	again, err := store.GetObject(context.Background(), "entities/1_Ana.json")
	require.NoError(t, err)
	require.Equal(t, "content", string(again))
	require.Equal(t, "application/json", store.ContentType("entities/1_Ana.json"))
}

func TestBlobStoreGetMissing(t *testing.T) {
	t.Parallel()

	_, err := NewBlobStore().GetObject(context.Background(), "checkpoints/jobs_latest.json")
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestBlobStorePaths(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	for _, p := range []string{"latest/b.csv", "latest/a.json", "runs/x/a.json"} {
		_, err := store.PutObject(context.Background(), p, "", bytes.NewReader(nil))
		require.NoError(t, err)
	}
	require.Equal(t, []string{"latest/a.json", "latest/b.csv"}, store.Paths("latest/"))
	require.Len(t, store.Paths(""), 3)

	_, err := store.PutObject(context.Background(), " ", "", bytes.NewReader(nil))
	require.Error(t, err)
}
