// Package realtime pushes moderated messages to live subscribers. Pushes are
// fire-and-forget: a disconnected client misses the update and re-fetches the
// channel history.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/eventhub/chat-moderation/internal/chat"
	"github.com/eventhub/chat-moderation/internal/messaging"
)

// Broadcaster addresses pushes either to one user or to every member of a
// channel group.
type Broadcaster interface {
	PushToUser(ctx context.Context, userID string, ev chat.MessageEvent) error
	PushToGroup(ctx context.Context, group string, ev chat.MessageEvent) error
}

// Publisher is the slice of the NATS client the broadcaster needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSBroadcaster publishes pushes on NATS so that whichever gateway holds
// the subscriber's socket can deliver them. Publishing runs behind a circuit
// breaker; while it is open, pushes fail fast.
type NATSBroadcaster struct {
	pub     Publisher
	breaker *gobreaker.CircuitBreaker
}

// NewNATSBroadcaster wraps pub with a breaker that opens after five
// consecutive failures and probes again after 30 seconds.
func NewNATSBroadcaster(pub Publisher, logger zerolog.Logger) *NATSBroadcaster {
	log := logger.With().Str("component", "broadcaster").Logger()
	settings := gobreaker.Settings{
		Name:        "realtime-publish",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	}
	return &NATSBroadcaster{pub: pub, breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (b *NATSBroadcaster) PushToUser(ctx context.Context, userID string, ev chat.MessageEvent) error {
	return b.publish(ctx, messaging.UserSubject(userID), ev)
}

func (b *NATSBroadcaster) PushToGroup(ctx context.Context, group string, ev chat.MessageEvent) error {
	return b.publish(ctx, messaging.GroupSubject(group), ev)
}

func (b *NATSBroadcaster) publish(ctx context.Context, subject string, ev chat.MessageEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("realtime: marshal event: %w", err)
	}
	_, err = b.breaker.Execute(func() (interface{}, error) {
		return nil, b.pub.Publish(subject, data)
	})
	if err != nil {
		return fmt.Errorf("realtime: publish %s: %w", subject, err)
	}
	return nil
}

// State reports the breaker state, for health output.
func (b *NATSBroadcaster) State() gobreaker.State {
	return b.breaker.State()
}

// Deliverer is the local fan-out a gateway offers. The ws hub implements it.
type Deliverer interface {
	DeliverToUser(userID string, ev chat.MessageEvent)
	DeliverToGroup(group string, ev chat.MessageEvent)
}

// Local pushes straight into an in-process gateway.
type Local struct {
	d Deliverer
}

func NewLocal(d Deliverer) *Local {
	return &Local{d: d}
}

func (l *Local) PushToUser(_ context.Context, userID string, ev chat.MessageEvent) error {
	l.d.DeliverToUser(userID, ev)
	return nil
}

func (l *Local) PushToGroup(_ context.Context, group string, ev chat.MessageEvent) error {
	l.d.DeliverToGroup(group, ev)
	return nil
}

// DecodeEvent parses an event received from NATS.
func DecodeEvent(data []byte) (chat.MessageEvent, error) {
	var ev chat.MessageEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return chat.MessageEvent{}, fmt.Errorf("realtime: decode event: %w", err)
	}
	return ev, nil
}

// Push is one recorded broadcast.
type Push struct {
	UserID string
	Group  string
	Event  chat.MessageEvent
}

// Recorder remembers every push. Tests use it to assert who was notified.
type Recorder struct {
	mu     sync.Mutex
	pushes []Push
	// Err, when set, is returned from every push after recording it.
	Err error
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) PushToUser(_ context.Context, userID string, ev chat.MessageEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushes = append(r.pushes, Push{UserID: userID, Event: ev})
	return r.Err
}

func (r *Recorder) PushToGroup(_ context.Context, group string, ev chat.MessageEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushes = append(r.pushes, Push{Group: group, Event: ev})
	return r.Err
}

// Pushes returns every recorded push in order.
func (r *Recorder) Pushes() []Push {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.pushes)
}

// ToUser returns the pushes addressed to userID.
func (r *Recorder) ToUser(userID string) []Push {
	return r.filter(func(p Push) bool { return p.UserID == userID })
}

// ToGroup returns the pushes addressed to group.
func (r *Recorder) ToGroup(group string) []Push {
	return r.filter(func(p Push) bool { return p.Group == group })
}

func (r *Recorder) filter(keep func(Push) bool) []Push {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Push
	for _, p := range r.pushes {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}
