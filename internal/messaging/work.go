package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/eventhub/chat-moderation/internal/chat"
	"github.com/eventhub/chat-moderation/internal/queue"
)

// Publisher is the slice of NATSClient the work publisher needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// WorkPublisher hands work items to moderator processes over NATS. It
// satisfies queue.Enqueuer, so the send path does not care whether
// moderation runs in-process or elsewhere.
type WorkPublisher struct {
	pub Publisher
}

var _ queue.Enqueuer = (*WorkPublisher)(nil)

func NewWorkPublisher(pub Publisher) *WorkPublisher {
	return &WorkPublisher{pub: pub}
}

func (p *WorkPublisher) Enqueue(ctx context.Context, item chat.WorkItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("messaging: marshal work item: %w", err)
	}
	if err := p.pub.Publish(SubjectModerationWork, data); err != nil {
		return fmt.Errorf("messaging: publish work item: %w", err)
	}
	return nil
}

// ConsumeWork joins the moderators queue group and feeds every received work
// item into q. The NATS handler blocks while q is full, which pushes
// backpressure onto the subscription instead of dropping items.
func ConsumeWork(ctx context.Context, c *NATSClient, q queue.Enqueuer, logger zerolog.Logger) error {
	log := logger.With().Str("component", "work-consumer").Logger()
	return c.QueueSubscribe(SubjectModerationWork, QueueModerators, func(msg *nats.Msg) {
		item, err := DecodeWorkItem(msg.Data)
		if err != nil {
			log.Error().Err(err).Msg("dropping malformed work item")
			return
		}
		if err := q.Enqueue(ctx, item); err != nil {
			log.Error().Err(err).Str("message_id", item.MessageID).Msg("enqueue failed")
		}
	})
}

// DecodeWorkItem parses and checks a work item received over the wire.
func DecodeWorkItem(data []byte) (chat.WorkItem, error) {
	var item chat.WorkItem
	if err := json.Unmarshal(data, &item); err != nil {
		return chat.WorkItem{}, fmt.Errorf("messaging: decode work item: %w", err)
	}
	if item.MessageID == "" || item.SenderID == "" {
		return chat.WorkItem{}, fmt.Errorf("messaging: work item missing ids")
	}
	if !item.Channel.Valid() {
		return chat.WorkItem{}, fmt.Errorf("messaging: %w: %q", chat.ErrInvalidChannel, item.Channel)
	}
	return item, nil
}
