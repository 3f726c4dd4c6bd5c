package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newFakeClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func TestPublishSendsJSON(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client, srv := newFakeClient(t)
	_, err := client.CreateTopic(ctx, "crawl-runs")
	require.NoError(t, err)

	pub := NewWithClient(client)
	id, err := pub.Publish(ctx, "crawl-runs", map[string]any{"job_id": "job-1", "run_dir": "runs/20250602_093000"})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.NoError(t, pub.Close())

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "application/json", msgs[0].Attributes["content_type"])
	var got map[string]string
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, "job-1", got["job_id"])
}

func TestPublishMissingTopic(t *testing.T) {
	t.Parallel()

	client, _ := newFakeClient(t)
	pub := NewWithClient(client)
	_, err := pub.Publish(context.Background(), "absent", map[string]string{"k": "v"})
	require.Error(t, err)
	require.NoError(t, pub.Close())
}

func TestPublishValidation(t *testing.T) {
	t.Parallel()

	var nilPub *Publisher
	_, err := nilPub.Publish(context.Background(), "t", nil)
	require.Error(t, err)

	client, _ := newFakeClient(t)
	pub := NewWithClient(client)
	_, err = pub.Publish(context.Background(), "", nil)
	require.Error(t, err)
	_, err = pub.Publish(context.Background(), "t", func() {})
	require.Error(t, err)

	_, err = New(context.Background(), "")
	require.Error(t, err)
}
