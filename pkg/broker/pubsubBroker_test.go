package broker

import (
	"context"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoff-tech/go-imagepipeline/pkg/config"
)

func TestPubSubBroker_Publish(t *testing.T) {
	srv := pstest.NewServer()
	defer srv.Close()
	t.Setenv("PUBSUB_EMULATOR_HOST", srv.Addr)

	ctx := context.Background()
	admin, err := pubsub.NewClient(ctx, "test-project")
	require.NoError(t, err)
	defer admin.Close()
	_, err = admin.CreateTopic(ctx, "product-images")
	require.NoError(t, err)

	broker, err := NewPubSubClient(ctx, &config.BrokerSettings{Type: "gcp-pubsub", ProjectID: "test-project"})
	require.NoError(t, err)

	err = broker.Publish(ctx, &Message{
		Topic:   "product-images",
		Key:     "p-1",
		Payload: []byte(`{"ok":true}`),
		Headers: map[string]string{HeaderEventID: "e-1"},
	})
	require.NoError(t, err)
	require.NoError(t, broker.Close())

	messages := srv.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, []byte(`{"ok":true}`), messages[0].Data)
	assert.Equal(t, "e-1", messages[0].Attributes[HeaderEventID])
	assert.Equal(t, "p-1", messages[0].OrderingKey)
}
