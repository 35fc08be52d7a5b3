package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eventhub/chat-moderation/internal/chat"
)

// KeyPrefix namespaces the per-(channel, user) sorted sets.
const KeyPrefix = "rl:chat:" // + <channel>:<user_id> -> Sorted set, score = send time (ms)

// RedisLimiter runs the sliding window in Redis so that several chat server
// processes share one view of each user's sends.
type RedisLimiter struct {
	client *redis.Client
	quotas Quotas
	now    func() time.Time
	script *redis.Script
	log    zerolog.Logger
}

// NewRedisLimiter creates a RedisLimiter. A nil table means DefaultQuotas.
func NewRedisLimiter(client *redis.Client, quotas Quotas, logger zerolog.Logger) *RedisLimiter {
	if quotas == nil {
		quotas = DefaultQuotas()
	}
	return &RedisLimiter{
		client: client,
		quotas: quotas,
		now:    time.Now,
		script: redis.NewScript(slidingWindowLua),
		log:    logger.With().Str("component", "ratelimit").Logger(),
	}
}

// CheckQuota evaluates the window atomically in Redis. On Redis errors the
// method fails open (allowed, with the error returned) so that a Redis outage
// does not block legitimate traffic.
func (l *RedisLimiter) CheckQuota(ctx context.Context, userID string, ch chat.Channel) (Result, error) {
	quota := l.quotas.For(ch)
	key := KeyPrefix + windowKey(userID, ch)
	now := l.now()

	vals, err := l.script.Run(ctx, l.client, []string{key},
		now.UnixMilli(),
		quota.Window.Milliseconds(),
		quota.MaxMessages,
		fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString()),
	).Int64Slice()
	if err != nil {
		l.log.Error().Err(err).Str("key", key).Msg("sliding window script failed, failing open")
		return allowed(), err
	}
	if len(vals) != 2 {
		l.log.Error().Str("key", key).Int("len", len(vals)).Msg("unexpected script reply, failing open")
		return allowed(), fmt.Errorf("ratelimit: unexpected script reply length %d", len(vals))
	}

	if vals[0] == 1 {
		return allowed(), nil
	}
	return rejected(ch, time.Duration(vals[1])*time.Millisecond), nil
}

// slidingWindowLua evicts scores <= now-window, then admits and records now
// or rejects with the time until the oldest remaining send leaves the window.
//
//	KEYS[1] = window key
//	ARGV    = now_ms, window_ms, max, member
//	returns {1, 0} when admitted, {0, retry_after_ms} when rejected
const slidingWindowLua = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

local count = redis.call('ZCARD', key)
if count >= max then
    local retry = window
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    if oldest[2] then
        retry = window - (now - tonumber(oldest[2]))
    end
    return {0, retry}
end

redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return {1, 0}
`
