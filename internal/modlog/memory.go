package modlog

import (
	"context"
	"slices"
	"sync"

	"github.com/eventhub/chat-moderation/internal/chat"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Add(_ context.Context, e Entry) error {
	e = prepare(e)
	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Query(_ context.Context, ch chat.Channel) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []Entry{}
	for _, e := range s.entries {
		if e.Channel == ch {
			e.Tags = slices.Clone(e.Tags)
			out = append(out, e)
		}
	}
	return out, nil
}

// GetByMessageID returns the most recent entry for the message.
func (s *MemoryStore) GetByMessageID(_ context.Context, messageID string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].MessageID == messageID {
			e := s.entries[i]
			e.Tags = slices.Clone(e.Tags)
			return &e, nil
		}
	}
	return nil, nil
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
