package ratelimit

import (
	"context"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/eventhub/chat-moderation/internal/chat"
)

// MemoryLimiter keeps the sliding windows in process memory. State is lost
// on restart.
type MemoryLimiter struct {
	quotas  Quotas
	now     func() time.Time
	windows *xsync.MapOf[string, []time.Time]
}

// MemoryOption configures a MemoryLimiter.
type MemoryOption func(*MemoryLimiter)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(l *MemoryLimiter) { l.now = now }
}

// NewMemoryLimiter creates a limiter enforcing quotas. A nil table means
// DefaultQuotas.
func NewMemoryLimiter(quotas Quotas, opts ...MemoryOption) *MemoryLimiter {
	if quotas == nil {
		quotas = DefaultQuotas()
	}
	l := &MemoryLimiter{
		quotas:  quotas,
		now:     time.Now,
		windows: xsync.NewMapOf[string, []time.Time](),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func windowKey(userID string, ch chat.Channel) string {
	return string(ch) + ":" + userID
}

// CheckQuota evicts expired timestamps for (userID, ch) and admits the send
// if the window still has room. The whole check-and-record step runs inside
// Compute, so two callers racing for the last slot cannot both win.
func (l *MemoryLimiter) CheckQuota(_ context.Context, userID string, ch chat.Channel) (Result, error) {
	quota := l.quotas.For(ch)
	now := l.now()
	cutoff := now.Add(-quota.Window)

	var res Result
	l.windows.Compute(windowKey(userID, ch), func(stamps []time.Time, _ bool) ([]time.Time, bool) {
		stamps = evict(stamps, cutoff)
		if len(stamps) >= quota.MaxMessages {
			retry := quota.Window
			if len(stamps) > 0 {
				retry -= now.Sub(stamps[0])
			}
			res = rejected(ch, retry)
			return stamps, len(stamps) == 0
		}
		res = allowed()
		return append(stamps, now), false
	})
	return res, nil
}

// evict drops timestamps at or before cutoff from the front. Timestamps are
// appended in order, so the first survivor ends the scan.
func evict(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return stamps
	}
	return append(stamps[:0:0], stamps[i:]...)
}

// Sweep removes keys whose windows are empty at the current time and returns
// how many were dropped.
func (l *MemoryLimiter) Sweep() int {
	now := l.now()
	removed := 0
	l.windows.Range(func(key string, _ []time.Time) bool {
		name, _, _ := strings.Cut(key, ":")
		ch := chat.Channel(name)
		cutoff := now.Add(-l.quotas.For(ch).Window)
		l.windows.Compute(key, func(stamps []time.Time, loaded bool) ([]time.Time, bool) {
			if !loaded {
				return nil, true
			}
			stamps = evict(stamps, cutoff)
			if len(stamps) == 0 {
				removed++
				return nil, true
			}
			return stamps, false
		})
		return true
	})
	return removed
}

// RunSweeper calls Sweep every interval until ctx is cancelled.
func (l *MemoryLimiter) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

// Len returns the number of tracked (user, channel) keys.
func (l *MemoryLimiter) Len() int {
	return l.windows.Size()
}
