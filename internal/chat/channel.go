package chat

import (
	"errors"
	"fmt"
	"strings"
)

// Channel identifies one of the role-scoped chat audiences of an event. Each
// channel has its own message stream and its own rate-limit quota.
type Channel string

const (
	ChannelParticipant Channel = "participant"
	ChannelJudge       Channel = "judge"
	ChannelMentor      Channel = "mentor"
	ChannelInvestor    Channel = "investor"
	ChannelAdmin       Channel = "admin"
)

// GroupPrefix is prepended to the lower-cased channel name to form the
// realtime subscription group for that channel.
const GroupPrefix = "chat-"

// ErrInvalidChannel is returned by ParseChannel for unknown channel names.
var ErrInvalidChannel = errors.New("chat: invalid channel")

var allChannels = []Channel{
	ChannelParticipant,
	ChannelJudge,
	ChannelMentor,
	ChannelInvestor,
	ChannelAdmin,
}

// Channels returns every channel in a fixed order.
func Channels() []Channel {
	out := make([]Channel, len(allChannels))
	copy(out, allChannels)
	return out
}

// ParseChannel maps a case-insensitive name to a Channel.
func ParseChannel(s string) (Channel, error) {
	c := Channel(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidChannel, s)
	}
	return c, nil
}

// Valid reports whether c is one of the known channels.
func (c Channel) Valid() bool {
	for _, known := range allChannels {
		if c == known {
			return true
		}
	}
	return false
}

// Group returns the realtime group name subscribers of this channel join.
func (c Channel) Group() string {
	return GroupPrefix + strings.ToLower(string(c))
}

func (c Channel) String() string {
	return string(c)
}
