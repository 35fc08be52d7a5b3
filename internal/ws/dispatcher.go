package ws

import (
	"github.com/rs/zerolog"

	"github.com/eventhub/chat-moderation/internal/chat"
	"github.com/eventhub/chat-moderation/internal/protocol"
)

// Dispatcher handles the frames a client may send: channel subscriptions and
// application-level pings.
type Dispatcher struct {
	hub *Hub
	log zerolog.Logger
}

func NewDispatcher(hub *Hub, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{hub: hub, log: logger.With().Str("component", "ws-dispatch").Logger()}
}

// Dispatch parses one client frame and answers it on c.
func (d *Dispatcher) Dispatch(c *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		d.log.Debug().Err(err).Str("conn_id", c.ID).Str("type", msgType).Msg("rejected client frame")
		d.reply(c, protocol.Error(protocol.CodeBadRequest, "invalid or unsupported message"))
		return
	}

	switch m := msg.(type) {
	case protocol.PingMsg:
		d.send(c, protocol.TypePong, protocol.PongMsg{})

	case protocol.SubscribeMsg:
		ch, err := chat.ParseChannel(m.Channel)
		if err != nil {
			d.reply(c, protocol.Error(protocol.CodeInvalidChannel, "unknown channel"))
			return
		}
		if !d.hub.Join(c, ch.Group()) {
			return
		}
		d.log.Debug().Str("conn_id", c.ID).Str("user_id", c.UserID).Str("group", ch.Group()).Msg("subscribed")
		d.send(c, protocol.TypeSubscribed, protocol.SubscribedMsg{Channel: string(ch), Group: ch.Group()})

	case protocol.UnsubscribeMsg:
		ch, err := chat.ParseChannel(m.Channel)
		if err != nil {
			d.reply(c, protocol.Error(protocol.CodeInvalidChannel, "unknown channel"))
			return
		}
		d.hub.Leave(c, ch.Group())
		d.send(c, protocol.TypeUnsubscribed, protocol.UnsubscribedMsg{Channel: string(ch)})
	}
}

func (d *Dispatcher) send(c *Connection, msgType string, payload any) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		d.log.Error().Err(err).Str("type", msgType).Msg("encode reply failed")
		return
	}
	d.reply(c, data)
}

func (d *Dispatcher) reply(c *Connection, data []byte) {
	if err := c.WriteMessage(data); err != nil {
		d.log.Debug().Err(err).Str("conn_id", c.ID).Msg("reply write failed")
	}
}
