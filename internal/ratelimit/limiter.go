// Package ratelimit provides per-user, per-channel sliding-window admission
// control for the chat send path. Each (user, channel) pair keeps the send
// timestamps that fall inside the channel's window; a send is admitted while
// fewer than the channel's quota remain in the window.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/eventhub/chat-moderation/internal/chat"
)

// DefaultWindow is the rolling window shared by all default quotas.
const DefaultWindow = 5 * time.Minute

// Quota defines a rate limiting policy: the maximum number of messages
// allowed inside the window.
type Quota struct {
	MaxMessages int
	Window      time.Duration
}

// Quotas maps each channel to its policy.
type Quotas map[chat.Channel]Quota

// Default per-channel quotas.
var (
	QuotaParticipant = Quota{MaxMessages: 15, Window: DefaultWindow}
	QuotaJudge       = Quota{MaxMessages: 30, Window: DefaultWindow}
	QuotaMentor      = Quota{MaxMessages: 25, Window: DefaultWindow}
	QuotaInvestor    = Quota{MaxMessages: 20, Window: DefaultWindow}
	QuotaAdmin       = Quota{MaxMessages: 40, Window: DefaultWindow}
)

// DefaultQuotas returns a fresh copy of the default quota table.
func DefaultQuotas() Quotas {
	return Quotas{
		chat.ChannelParticipant: QuotaParticipant,
		chat.ChannelJudge:       QuotaJudge,
		chat.ChannelMentor:      QuotaMentor,
		chat.ChannelInvestor:    QuotaInvestor,
		chat.ChannelAdmin:       QuotaAdmin,
	}
}

// For returns the quota for ch, falling back to the participant quota for
// channels missing from the table.
func (q Quotas) For(ch chat.Channel) Quota {
	if quota, ok := q[ch]; ok {
		return quota
	}
	return QuotaParticipant
}

// Result is the outcome of one admission check. It is computed fresh per
// request and never stored.
type Result struct {
	Allowed    bool
	RetryAfter time.Duration
	Message    string
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, never below one for
// a rejection. Suitable for the Retry-After HTTP header.
func (r Result) RetryAfterSeconds() int {
	if r.Allowed {
		return 0
	}
	secs := int(math.Ceil(r.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Limiter decides whether a user may send another message on a channel.
// A rejection is reported through Result.Allowed, not through the error.
type Limiter interface {
	CheckQuota(ctx context.Context, userID string, ch chat.Channel) (Result, error)
}

func allowed() Result {
	return Result{Allowed: true}
}

func rejected(ch chat.Channel, retryAfter time.Duration) Result {
	r := Result{Allowed: false, RetryAfter: retryAfter}
	r.Message = fmt.Sprintf("rate limit exceeded for %s channel; retry in %ds", ch, r.RetryAfterSeconds())
	return r
}
