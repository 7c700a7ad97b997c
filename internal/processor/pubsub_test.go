package processor

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/fraser-isbester/kingfisher/pkg/types"
)

// newFakeClient returns a client connected to an in-process Pub/Sub server.
func newFakeClient(t *testing.T) (*pstest.Server, *pubsub.Client) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { srv.Close() })

	conn, err := grpc.Dial(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	client, err := pubsub.NewClient(context.Background(), "kf-test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	return srv, client
}

func TestPubSubPublisher_Publish(t *testing.T) {
	srv, client := newFakeClient(t)
	pub := NewPubSubPublisherWithClient(DefaultPubSubConfig(), client)
	defer pub.Stop()

	msg := &types.ReadyMessage{
		MessageID: "m-1",
		Action:    "updated",
		Webhook:   types.Webhook{ID: 10, TargetURL: "https://x/hook"},
		Payload:   `{"object_type":"Defect"}`,
		Eligible:  types.EligibleNow,
	}
	id, err := pub.Publish(context.Background(), "kf-webhook-ready", msg)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	got := msgs[0]
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "kingfisher", got.Attributes["ce-source"])
	assert.Equal(t, "kingfisher.kf-webhook-ready", got.Attributes["ce-type"])
	assert.Equal(t, "1.0", got.Attributes["ce-specversion"])
	assert.NotEmpty(t, got.Attributes["ce-id"])
	assert.Equal(t, "application/json", got.Attributes["content-type"])

	var wire map[string]any
	require.NoError(t, json.Unmarshal(got.Data, &wire))
	assert.Equal(t, "m-1", wire["message_id"])
	assert.Equal(t, float64(1000), wire["eligible"])
	assert.Equal(t, float64(0), wire["attempts"])
}

func TestPubSubPublisher_ReusesTopics(t *testing.T) {
	srv, client := newFakeClient(t)
	pub := NewPubSubPublisherWithClient(DefaultPubSubConfig(), client)
	defer pub.Stop()

	for i := 0; i < 3; i++ {
		_, err := pub.Publish(context.Background(), "kf-webhook-nogo", map[string]int{"n": i})
		require.NoError(t, err)
	}
	assert.Len(t, srv.Messages(), 3)
	assert.Len(t, pub.topics, 1)
}

func TestPubSubPublisher_MissingTopic(t *testing.T) {
	_, client := newFakeClient(t)
	cfg := DefaultPubSubConfig()
	cfg.CreateTopics = false
	pub := NewPubSubPublisherWithClient(cfg, client)
	defer pub.Stop()

	_, err := pub.Publish(context.Background(), "absent", map[string]string{})
	assert.ErrorContains(t, err, "does not exist")
}

func TestPubSubPublisher_NilMessage(t *testing.T) {
	_, client := newFakeClient(t)
	pub := NewPubSubPublisherWithClient(DefaultPubSubConfig(), client)
	defer pub.Stop()

	_, err := pub.Publish(context.Background(), "t", nil)
	assert.Error(t, err)
}
