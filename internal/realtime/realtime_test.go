package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub Subscription) []byte {
	t.Helper()
	select {
	case msg, ok := <-sub.C():
		require.True(t, ok, "subscription closed")
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func TestMemoryBroker_DeliversToTopicSubscribers(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()

	a, err := b.Subscribe(ctx, StatsTopic("e1"))
	require.NoError(t, err)
	other, err := b.Subscribe(ctx, StatsTopic("e2"))
	require.NoError(t, err)
	defer other.Close()

	require.NoError(t, b.Publish(ctx, StatsTopic("e1"), []byte("hello")))

	assert.Equal(t, []byte("hello"), receive(t, a))
	select {
	case <-other.C():
		t.Fatal("message leaked to another topic")
	default:
	}
}

func TestMemoryBroker_CloseIsIdempotent(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "topic")
	require.NoError(t, err)
	assert.Equal(t, 1, b.Subscribers("topic"))

	assert.NoError(t, sub.Close())
	assert.NoError(t, sub.Close())
	assert.Equal(t, 0, b.Subscribers("topic"))

	_, ok := <-sub.C()
	assert.False(t, ok)

	// Publishing after close must not panic on the closed channel.
	assert.NoError(t, b.Publish(ctx, "topic", []byte("late")))
}

func TestMemoryBroker_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "topic")
	require.NoError(t, err)
	defer sub.Close()

	for i := 0; i < subscriberBuffer*2; i++ {
		require.NoError(t, b.Publish(ctx, "topic", []byte{byte(i)}))
	}
	assert.Len(t, sub.C(), subscriberBuffer)
}

func TestRedisBroker_Publish(t *testing.T) {
	db, mock := redismock.NewClientMock()
	b := NewRedisBroker(db)

	mock.ExpectPublish("stats:e1", []byte(`{"scanned_count":1}`)).SetVal(1)

	err := b.Publish(context.Background(), StatsTopic("e1"), []byte(`{"scanned_count":1}`))

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsTopic(t *testing.T) {
	assert.Equal(t, "stats:e1", StatsTopic("e1"))
}
