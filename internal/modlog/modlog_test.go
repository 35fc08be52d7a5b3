package modlog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventhub/chat-moderation/internal/chat"
	"github.com/eventhub/chat-moderation/internal/pgtest"
)

// exerciseStore runs the same contract checks against any Store.
func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Add(ctx, Entry{
		MessageID: "m1", UserID: "u1", Channel: chat.ChannelJudge,
		Risk: 0.6, Tags: []string{"insult"}, ActionTaken: "Hold", Penalty: 4, CreatedAt: base,
	}))
	require.NoError(t, s.Add(ctx, Entry{
		MessageID: "m2", UserID: "u2", Channel: chat.ChannelJudge,
		Risk: 0.05, ActionTaken: "Publish", CreatedAt: base.Add(time.Second),
	}))
	require.NoError(t, s.Add(ctx, Entry{
		MessageID: "m3", UserID: "u1", Channel: chat.ChannelAdmin,
		Risk: 0.9, Tags: []string{"self-harm"}, ActionTaken: "BlockAndReport", Penalty: 10, CreatedAt: base,
	}))

	judge, err := s.Query(ctx, chat.ChannelJudge)
	require.NoError(t, err)
	require.Len(t, judge, 2)
	assert.Equal(t, "m1", judge[0].MessageID)
	assert.Equal(t, "m2", judge[1].MessageID)
	assert.NotEmpty(t, judge[0].ID)
	assert.Equal(t, []string{}, judge[1].Tags)

	empty, err := s.Query(ctx, chat.ChannelMentor)
	require.NoError(t, err)
	assert.Empty(t, empty)

	e, err := s.GetByMessageID(ctx, "m3")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "BlockAndReport", e.ActionTaken)
	assert.Equal(t, 10, e.Penalty)
	assert.Equal(t, []string{"self-harm"}, e.Tags)
	assert.True(t, base.Equal(e.CreatedAt))

	missing, err := s.GetByMessageID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestPostgresStore(t *testing.T) {
	exerciseStore(t, NewPostgresStore(pgtest.Pool(t)))
}

func TestNewID_Ordered(t *testing.T) {
	a := NewID(time.Unix(100, 0))
	b := NewID(time.Unix(200, 0))
	assert.Len(t, a, 26)
	assert.Less(t, a, b)
}
