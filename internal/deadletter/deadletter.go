// Package deadletter records moderation work items that failed processing.
// Failed items are never retried automatically; the record lets an operator
// find messages left in the held state and re-drive them by hand.
package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eventhub/chat-moderation/internal/chat"
)

// DefaultKey is the Redis list holding dead letters, newest first.
const DefaultKey = "chatmod:deadletter"

// DefaultMaxLen caps the list so a failure storm cannot fill Redis.
const DefaultMaxLen = 10000

// Letter is one failed work item.
type Letter struct {
	Item     chat.WorkItem `json:"item"`
	Error    string        `json:"error"`
	FailedAt time.Time     `json:"failed_at"`
}

// Sink accepts dead letters.
type Sink interface {
	Record(ctx context.Context, l Letter) error
}

// Reader lists recorded letters, newest first.
type Reader interface {
	Recent(ctx context.Context, n int64) ([]Letter, error)
}

// Store records and lists dead letters.
type Store interface {
	Sink
	Reader
}

// RedisSink keeps letters in a capped Redis list.
type RedisSink struct {
	client *redis.Client
	key    string
	maxLen int64
}

// NewRedisSink creates a sink writing to DefaultKey.
func NewRedisSink(client *redis.Client) *RedisSink {
	return &RedisSink{client: client, key: DefaultKey, maxLen: DefaultMaxLen}
}

func (s *RedisSink) Record(ctx context.Context, l Letter) error {
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("deadletter: marshal: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, s.key, data)
	pipe.LTrim(ctx, s.key, 0, s.maxLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deadletter: record: %w", err)
	}
	return nil
}

// Recent returns up to n letters, newest first.
func (s *RedisSink) Recent(ctx context.Context, n int64) ([]Letter, error) {
	raw, err := s.client.LRange(ctx, s.key, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("deadletter: recent: %w", err)
	}
	out := make([]Letter, 0, len(raw))
	for _, r := range raw {
		var l Letter
		if err := json.Unmarshal([]byte(r), &l); err != nil {
			return nil, fmt.Errorf("deadletter: unmarshal: %w", err)
		}
		out = append(out, l)
	}
	return out, nil
}

// MemorySink keeps letters in memory.
type MemorySink struct {
	mu      sync.Mutex
	letters []Letter
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Record(_ context.Context, l Letter) error {
	s.mu.Lock()
	s.letters = append(s.letters, l)
	s.mu.Unlock()
	return nil
}

func (s *MemorySink) Recent(_ context.Context, n int64) ([]Letter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Letter, 0, min(int64(len(s.letters)), max(n, 0)))
	for i := len(s.letters) - 1; i >= 0 && int64(len(out)) < n; i-- {
		out = append(out, s.letters[i])
	}
	return out, nil
}

// Letters returns every recorded letter, oldest first.
func (s *MemorySink) Letters() []Letter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.letters)
}
