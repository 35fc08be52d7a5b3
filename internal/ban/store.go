// Package ban provides per-channel chat mutes backed by Redis. A user whose
// discipline balance sinks too far is muted on that channel for an escalating
// duration:
//
//	Key:   mute:<channel>:<user_id>
//	Value: <reason>
//	TTL:   mute duration
package ban

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eventhub/chat-moderation/internal/chat"
)

const (
	// MutePrefix is the Redis key prefix for mute records.
	MutePrefix = "mute:"

	// OffensesPrefix is the Redis key prefix for escalation counters.
	OffensesPrefix = "offenses:"

	// Escalating mute durations.
	Mute15Min  = 15 * time.Minute // 1st offense
	Mute1Hour  = 1 * time.Hour    // 2nd offense
	Mute24Hour = 24 * time.Hour   // 3rd+ offense

	// OffensesTTL is how long the offense counter lives. After 24h without a
	// new offense the next mute starts from the shortest duration again.
	OffensesTTL = 24 * time.Hour
)

// Mute describes an active mute.
type Mute struct {
	Reason    string
	Remaining time.Duration
}

// Store manages mute records in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a new mute store using the provided Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

func key(prefix, userID string, ch chat.Channel) string {
	return prefix + string(ch) + ":" + userID
}

// IsMuted returns the active mute for (userID, ch), or nil when the user may
// post. Redis errors are returned so callers can choose to fail open.
func (s *Store) IsMuted(ctx context.Context, userID string, ch chat.Channel) (*Mute, error) {
	k := key(MutePrefix, userID, ch)

	reason, err := s.client.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ban: get mute: %w", err)
	}

	// The mute exists even if its TTL cannot be read.
	ttl, err := s.client.TTL(ctx, k).Result()
	if err != nil || ttl < 0 {
		ttl = 0
	}
	return &Mute{Reason: reason, Remaining: ttl}, nil
}

// Mute silences userID on ch for duration.
func (s *Store) Mute(ctx context.Context, userID string, ch chat.Channel, duration time.Duration, reason string) error {
	if err := s.client.Set(ctx, key(MutePrefix, userID, ch), reason, duration).Err(); err != nil {
		return fmt.Errorf("ban: mute: %w", err)
	}
	return nil
}

// Unmute lifts a mute immediately.
func (s *Store) Unmute(ctx context.Context, userID string, ch chat.Channel) error {
	if err := s.client.Del(ctx, key(MutePrefix, userID, ch)).Err(); err != nil {
		return fmt.Errorf("ban: unmute: %w", err)
	}
	return nil
}

// escalationDuration returns the mute duration for a given offense count.
func escalationDuration(offenseCount int) time.Duration {
	switch {
	case offenseCount <= 1:
		return Mute15Min
	case offenseCount == 2:
		return Mute1Hour
	default:
		return Mute24Hour
	}
}

// OffenseCount returns the current offense counter, 0 when none is recorded
// or the counter expired.
func (s *Store) OffenseCount(ctx context.Context, userID string, ch chat.Channel) (int, error) {
	val, err := s.client.Get(ctx, key(OffensesPrefix, userID, ch)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ban: offense count: %w", err)
	}
	return val, nil
}

// Escalate records an offense and applies a mute whose duration grows with
// the number of offenses in the last OffensesTTL:
//
//	1st offense  -> 15 minutes
//	2nd offense  -> 1 hour
//	3rd+ offense -> 24 hours
//
// Returns the mute duration that was applied.
func (s *Store) Escalate(ctx context.Context, userID string, ch chat.Channel, reason string) (time.Duration, error) {
	k := key(OffensesPrefix, userID, ch)

	count, err := s.client.Incr(ctx, k).Result()
	if err != nil {
		return 0, fmt.Errorf("ban: escalate incr: %w", err)
	}

	// TTL only on first increment so the window doesn't slide.
	if count == 1 {
		if err := s.client.Expire(ctx, k, OffensesTTL).Err(); err != nil {
			return 0, fmt.Errorf("ban: escalate expire: %w", err)
		}
	}

	duration := escalationDuration(int(count))
	if err := s.Mute(ctx, userID, ch, duration, reason); err != nil {
		return 0, err
	}
	return duration, nil
}
