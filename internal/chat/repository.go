package chat

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a message id does not exist.
	ErrNotFound = errors.New("chat: message not found")

	// ErrAlreadyModerated is returned when a second moderation update is
	// attempted for the same message.
	ErrAlreadyModerated = errors.New("chat: message already moderated")
)

// Repository persists chat messages.
//
// GetMessage returns (nil, nil) when the message does not exist, so callers
// can distinguish a race with an external delete from a storage failure.
type Repository interface {
	AddMessage(ctx context.Context, m *Message) error
	GetMessages(ctx context.Context, channel Channel) ([]Message, error)
	GetMessage(ctx context.Context, id string) (*Message, error)
	UpdateMessageModeration(ctx context.Context, id string, u ModerationUpdate) error
}
