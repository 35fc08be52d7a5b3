// Package discipline maintains the per-user, per-channel penalty ledger. A
// ledger's balance is always the sum of the deltas in its history, and the
// history only grows.
package discipline

import (
	"context"
	"time"

	"github.com/eventhub/chat-moderation/internal/chat"
)

// Event is one balance change.
type Event struct {
	Delta     int       `json:"delta"`
	Reason    string    `json:"reason"`
	MessageID string    `json:"message_id"`
	CreatedAt time.Time `json:"created_at"`
}

// UserDiscipline is the ledger for one (user, channel) pair. More negative
// balances mean more penalised users.
type UserDiscipline struct {
	UserID       string       `json:"user_id"`
	Channel      chat.Channel `json:"channel"`
	ScoreBalance int          `json:"score_balance"`
	History      []Event      `json:"history"`
}

// Store applies and reads ledgers. Get returns an empty ledger, not nil, for
// pairs that were never penalised.
type Store interface {
	UpdateScore(ctx context.Context, userID string, ch chat.Channel, delta int, reason, messageID string) (*UserDiscipline, error)
	Get(ctx context.Context, userID string, ch chat.Channel) (*UserDiscipline, error)
}

func empty(userID string, ch chat.Channel) *UserDiscipline {
	return &UserDiscipline{UserID: userID, Channel: ch, History: []Event{}}
}
