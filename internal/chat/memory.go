package chat

import (
	"context"
	"fmt"
	"sync"
)

// MemoryRepository is a goroutine-safe in-process Repository. Messages are
// kept per channel in insertion order.
type MemoryRepository struct {
	mu        sync.RWMutex
	byID      map[string]*Message
	byChannel map[Channel][]string
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:      make(map[string]*Message),
		byChannel: make(map[Channel][]string),
	}
}

func (r *MemoryRepository) AddMessage(_ context.Context, m *Message) error {
	if m == nil || m.ID == "" {
		return fmt.Errorf("chat: add message: missing id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[m.ID]; exists {
		return fmt.Errorf("chat: add message: duplicate id %s", m.ID)
	}
	r.byID[m.ID] = m.clone()
	r.byChannel[m.Channel] = append(r.byChannel[m.Channel], m.ID)
	return nil
}

func (r *MemoryRepository) GetMessages(_ context.Context, channel Channel) ([]Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byChannel[channel]
	out := make([]Message, 0, len(ids))
	for _, id := range ids {
		if m, ok := r.byID[id]; ok {
			out = append(out, *m.clone())
		}
	}
	return out, nil
}

func (r *MemoryRepository) GetMessage(_ context.Context, id string) (*Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	return m.clone(), nil
}

func (r *MemoryRepository) UpdateMessageModeration(_ context.Context, id string, u ModerationUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if m.Moderated {
		return fmt.Errorf("%w: %s", ErrAlreadyModerated, id)
	}
	u.apply(m)
	return nil
}

// Delete removes a message. The moderation pipeline never deletes messages;
// this exists for administrative removal from outside the pipeline.
func (r *MemoryRepository) Delete(_ context.Context, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	ids := r.byChannel[m.Channel]
	for i, v := range ids {
		if v == id {
			r.byChannel[m.Channel] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
}
