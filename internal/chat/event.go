package chat

// EventMessageUpdated is the realtime event type pushed whenever a message's
// moderation outcome is known.
const EventMessageUpdated = "message_updated"

// MessageEvent is the payload pushed to realtime subscribers, either to the
// sender alone or to every member of the channel group.
type MessageEvent struct {
	Event   string  `json:"event"`
	Message Message `json:"message"`
}

// NewMessageEvent snapshots m into a message_updated event.
func NewMessageEvent(m *Message) MessageEvent {
	return MessageEvent{Event: EventMessageUpdated, Message: *m.clone()}
}
