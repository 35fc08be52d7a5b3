package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventhub/chat-moderation/internal/chat"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryLimiter_QuotaThenRecovery(t *testing.T) {
	clock := newFakeClock()
	l := NewMemoryLimiter(nil, WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < QuotaParticipant.MaxMessages; i++ {
		res, err := l.CheckQuota(ctx, "user-1", chat.ChannelParticipant)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "send %d should be admitted", i+1)
		clock.Advance(time.Second)
	}

	res, err := l.CheckQuota(ctx, "user-1", chat.ChannelParticipant)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
	// The oldest send was 15s ago.
	assert.Equal(t, DefaultWindow-15*time.Second, res.RetryAfter)
	assert.Equal(t, "rate limit exceeded for participant channel; retry in 285s", res.Message)

	clock.Advance(DefaultWindow)
	res, err = l.CheckQuota(ctx, "user-1", chat.ChannelParticipant)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestMemoryLimiter_PerChannelQuotas(t *testing.T) {
	clock := newFakeClock()
	l := NewMemoryLimiter(nil, WithClock(clock.Now))
	ctx := context.Background()

	for ch, quota := range DefaultQuotas() {
		for i := 0; i < quota.MaxMessages; i++ {
			res, _ := l.CheckQuota(ctx, "user-1", ch)
			require.True(t, res.Allowed, "%s send %d", ch, i+1)
		}
		res, _ := l.CheckQuota(ctx, "user-1", ch)
		assert.False(t, res.Allowed, "%s should reject after %d", ch, quota.MaxMessages)
	}
}

func TestMemoryLimiter_KeysAreIndependent(t *testing.T) {
	l := NewMemoryLimiter(Quotas{chat.ChannelJudge: {MaxMessages: 1, Window: time.Minute}})
	ctx := context.Background()

	res, _ := l.CheckQuota(ctx, "a", chat.ChannelJudge)
	assert.True(t, res.Allowed)
	res, _ = l.CheckQuota(ctx, "a", chat.ChannelJudge)
	assert.False(t, res.Allowed)

	res, _ = l.CheckQuota(ctx, "b", chat.ChannelJudge)
	assert.True(t, res.Allowed)
}

func TestMemoryLimiter_BoundaryEviction(t *testing.T) {
	clock := newFakeClock()
	l := NewMemoryLimiter(Quotas{chat.ChannelAdmin: {MaxMessages: 1, Window: time.Minute}}, WithClock(clock.Now))
	ctx := context.Background()

	res, _ := l.CheckQuota(ctx, "u", chat.ChannelAdmin)
	require.True(t, res.Allowed)

	clock.Advance(time.Minute - time.Millisecond)
	res, _ = l.CheckQuota(ctx, "u", chat.ChannelAdmin)
	assert.False(t, res.Allowed)
	assert.Equal(t, time.Millisecond, res.RetryAfter)
	assert.Equal(t, 1, res.RetryAfterSeconds())

	// A timestamp exactly one window old is evicted.
	clock.Advance(time.Millisecond)
	res, _ = l.CheckQuota(ctx, "u", chat.ChannelAdmin)
	assert.True(t, res.Allowed)
}

func TestMemoryLimiter_ConcurrentLastSlot(t *testing.T) {
	const max = 10
	l := NewMemoryLimiter(Quotas{chat.ChannelMentor: {MaxMessages: max, Window: time.Hour}})
	ctx := context.Background()

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, _ := l.CheckQuota(ctx, "racer", chat.ChannelMentor)
			if res.Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(max), admitted.Load())
}

func TestMemoryLimiter_Sweep(t *testing.T) {
	clock := newFakeClock()
	l := NewMemoryLimiter(Quotas{
		chat.ChannelJudge:    {MaxMessages: 5, Window: time.Minute},
		chat.ChannelInvestor: {MaxMessages: 5, Window: time.Hour},
	}, WithClock(clock.Now))
	ctx := context.Background()

	_, _ = l.CheckQuota(ctx, "a", chat.ChannelJudge)
	_, _ = l.CheckQuota(ctx, "b", chat.ChannelInvestor)
	require.Equal(t, 2, l.Len())

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, l.Sweep())
	assert.Equal(t, 1, l.Len())
}

func TestResult_RetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 0, Result{Allowed: true}.RetryAfterSeconds())
	assert.Equal(t, 1, Result{RetryAfter: 0}.RetryAfterSeconds())
	assert.Equal(t, 2, Result{RetryAfter: 1500 * time.Millisecond}.RetryAfterSeconds())
}
