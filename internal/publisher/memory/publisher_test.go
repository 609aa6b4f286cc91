package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "harvest-done", map[string]int{"records": 3})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "harvest-done", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "payload", msgs[1].Payload)

	msgs[0].Topic = "modified"
	require.Equal(t, "harvest-done", pub.Messages()[0].Topic)
}

func TestPublisherErrors(t *testing.T) {
	t.Parallel()

	pub := &Publisher{Err: errors.New("unavailable")}
	_, err := pub.Publish(context.Background(), "t", nil)
	require.ErrorContains(t, err, "unavailable")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = New().Publish(ctx, "t", nil)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, pub.Messages())
}
