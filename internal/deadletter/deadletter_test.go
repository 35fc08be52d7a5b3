package deadletter

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventhub/chat-moderation/internal/chat"
)

func TestRedisSink_CappedNewestFirst(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 9})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	sink := NewRedisSink(client)
	sink.key = "test:deadletter"
	sink.maxLen = 2
	client.Del(ctx, sink.key)
	t.Cleanup(func() { client.Del(ctx, sink.key) })

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, sink.Record(ctx, Letter{
			Item:     chat.WorkItem{MessageID: id, Channel: chat.ChannelJudge},
			Error:    "boom",
			FailedAt: time.Now().UTC(),
		}))
	}

	got, err := sink.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].Item.MessageID)
	assert.Equal(t, "b", got[1].Item.MessageID)
	assert.Equal(t, "boom", got[0].Error)
}

func TestMemorySink(t *testing.T) {
	sink := NewMemorySink()
	require.NoError(t, sink.Record(context.Background(), Letter{Item: chat.WorkItem{MessageID: "x"}}))
	letters := sink.Letters()
	require.Len(t, letters, 1)
	assert.Equal(t, "x", letters[0].Item.MessageID)

	require.NoError(t, sink.Record(context.Background(), Letter{Item: chat.WorkItem{MessageID: "y"}}))
	recent, err := sink.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "y", recent[0].Item.MessageID)
}
