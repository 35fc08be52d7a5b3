// Package modlog keeps the append-only audit trail of moderation decisions,
// one entry per evaluated message.
package modlog

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/eventhub/chat-moderation/internal/chat"
)

// Entry is one audit record.
type Entry struct {
	ID          string       `json:"id"`
	MessageID   string       `json:"message_id"`
	UserID      string       `json:"user_id"`
	Channel     chat.Channel `json:"channel"`
	Risk        float64      `json:"risk"`
	Tags        []string     `json:"tags"`
	ActionTaken string       `json:"action_taken"`
	Penalty     int          `json:"penalty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Store persists entries. Query returns a channel's entries oldest first;
// GetByMessageID returns nil, nil when the message has no entry.
type Store interface {
	Add(ctx context.Context, e Entry) error
	Query(ctx context.Context, ch chat.Channel) ([]Entry, error)
	GetByMessageID(ctx context.Context, messageID string) (*Entry, error)
}

// NewID returns a time-ordered identifier for an entry.
func NewID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}

// prepare fills in the ID and timestamp when the caller left them empty.
func prepare(e Entry) Entry {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.ID == "" {
		e.ID = NewID(e.CreatedAt)
	}
	e.Tags = chat.NormalizeTags(e.Tags)
	return e
}
