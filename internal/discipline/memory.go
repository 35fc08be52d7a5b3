package discipline

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/eventhub/chat-moderation/internal/chat"
)

type ledgerKey struct {
	userID  string
	channel chat.Channel
}

// MemoryStore is an in-process Store guarded by a single mutex.
type MemoryStore struct {
	mu      sync.Mutex
	ledgers map[ledgerKey]*UserDiscipline
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ledgers: make(map[ledgerKey]*UserDiscipline),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) UpdateScore(_ context.Context, userID string, ch chat.Channel, delta int, reason, messageID string) (*UserDiscipline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := ledgerKey{userID, ch}
	d, ok := s.ledgers[k]
	if !ok {
		d = empty(userID, ch)
		s.ledgers[k] = d
	}
	d.ScoreBalance += delta
	d.History = append(d.History, Event{
		Delta:     delta,
		Reason:    reason,
		MessageID: messageID,
		CreatedAt: s.now(),
	})
	return snapshot(d), nil
}

func (s *MemoryStore) Get(_ context.Context, userID string, ch chat.Channel) (*UserDiscipline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d, ok := s.ledgers[ledgerKey{userID, ch}]; ok {
		return snapshot(d), nil
	}
	return empty(userID, ch), nil
}

func snapshot(d *UserDiscipline) *UserDiscipline {
	c := *d
	c.History = slices.Clone(d.History)
	return &c
}
