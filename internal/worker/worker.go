// Package worker runs the moderation loop: it takes work items off the queue
// one at a time, scores them, persists the outcome, updates the discipline
// ledger and notifies live subscribers.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"github.com/eventhub/chat-moderation/internal/ban"
	"github.com/eventhub/chat-moderation/internal/chat"
	"github.com/eventhub/chat-moderation/internal/deadletter"
	"github.com/eventhub/chat-moderation/internal/discipline"
	"github.com/eventhub/chat-moderation/internal/moderation"
	"github.com/eventhub/chat-moderation/internal/modlog"
	"github.com/eventhub/chat-moderation/internal/queue"
	"github.com/eventhub/chat-moderation/internal/realtime"
	"github.com/eventhub/chat-moderation/internal/report"
)

// DefaultMuteThreshold is the discipline balance at or below which a user is
// muted on the channel.
const DefaultMuteThreshold = -15

// MetricsRecorder receives per-item measurements. Implementations must not
// panic.
type MetricsRecorder interface {
	RecordModeration(d time.Duration, decision moderation.Decision, risk float64)
	RecordModerationFailure()
}

// DepthRecorder is implemented by recorders that also export queue depth.
type DepthRecorder interface {
	SetQueueDepth(n int)
}

// StatusRecorder is implemented by recorders that count resulting statuses.
type StatusRecorder interface {
	RecordStatus(status string)
}

// Muter applies escalating channel mutes.
type Muter interface {
	Escalate(ctx context.Context, userID string, ch chat.Channel, reason string) (time.Duration, error)
}

// Config wires a Worker. Reports, Mutes and DeadLetters are optional.
type Config struct {
	Engine      moderation.Moderator
	Repository  chat.Repository
	Logs        modlog.Store
	Discipline  discipline.Store
	Broadcaster realtime.Broadcaster
	Metrics     MetricsRecorder

	Reports report.Filer
	Mutes   Muter
	// MuteThreshold is used as given; zero mutes on any penalty.
	MuteThreshold int
	DeadLetters   deadletter.Sink

	Logger zerolog.Logger
}

// Worker is the single consumer of the moderation queue.
type Worker struct {
	cfg Config
	log zerolog.Logger
	now func() time.Time
}

var _ Muter = (*ban.Store)(nil)

// New validates cfg and builds a Worker.
func New(cfg Config) (*Worker, error) {
	switch {
	case cfg.Engine == nil:
		return nil, errors.New("worker: engine is required")
	case cfg.Repository == nil:
		return nil, errors.New("worker: repository is required")
	case cfg.Logs == nil:
		return nil, errors.New("worker: moderation log store is required")
	case cfg.Discipline == nil:
		return nil, errors.New("worker: discipline store is required")
	case cfg.Broadcaster == nil:
		return nil, errors.New("worker: broadcaster is required")
	case cfg.Metrics == nil:
		return nil, errors.New("worker: metrics recorder is required")
	}
	return &Worker{
		cfg: cfg,
		log: cfg.Logger.With().Str("component", "worker").Logger(),
		now: time.Now,
	}, nil
}

// Run consumes q until ctx is cancelled or q is closed and drained. A failing
// item is logged, counted and dropped; it never stops the loop. Shutdown is
// not an error.
func (w *Worker) Run(ctx context.Context, q *queue.Queue) error {
	w.log.Info().Int("capacity", q.Cap()).Msg("moderation worker started")
	for item := range q.Items(ctx) {
		if err := w.safeProcess(ctx, item); err != nil {
			w.fail(ctx, item, err)
		}
		if d, ok := w.cfg.Metrics.(DepthRecorder); ok {
			d.SetQueueDepth(q.Len())
		}
	}
	w.log.Info().Msg("moderation worker stopped")
	return nil
}

// safeProcess turns a panic in any stage into an error for this item.
func (w *Worker) safeProcess(ctx context.Context, item chat.WorkItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker: panic: %v", r)
			w.log.Error().Str("message_id", item.MessageID).Bytes("stack", debug.Stack()).Msg("recovered panic")
		}
	}()
	return w.Process(ctx, item)
}

func (w *Worker) fail(ctx context.Context, item chat.WorkItem, err error) {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		w.log.Info().Str("message_id", item.MessageID).Msg("item interrupted by shutdown")
		return
	}
	w.cfg.Metrics.RecordModerationFailure()
	w.log.Error().Err(err).
		Str("message_id", item.MessageID).
		Str("user_id", item.SenderID).
		Str("channel", string(item.Channel)).
		Msg("moderation failed, dropping item")

	if w.cfg.DeadLetters == nil {
		return
	}
	letter := deadletter.Letter{Item: item, Error: err.Error(), FailedAt: w.now().UTC()}
	if dlErr := w.cfg.DeadLetters.Record(context.WithoutCancel(ctx), letter); dlErr != nil {
		w.log.Error().Err(dlErr).Str("message_id", item.MessageID).Msg("dead letter record failed")
	}
}

// StatusFor maps a decision to the message status it produces.
func StatusFor(d moderation.Decision) chat.MessageStatus {
	switch d {
	case moderation.Publish, moderation.SoftWarn:
		return chat.StatusPublished
	case moderation.Hold:
		return chat.StatusHeld
	case moderation.Block, moderation.BlockAndReport:
		return chat.StatusBlocked
	default:
		return chat.StatusBlocked
	}
}

// Process runs one work item through the pipeline. A message deleted between
// the update and the re-fetch ends processing quietly.
func (w *Worker) Process(ctx context.Context, item chat.WorkItem) error {
	start := w.now()
	log := w.log.With().
		Str("message_id", item.MessageID).
		Str("user_id", item.SenderID).
		Str("channel", string(item.Channel)).
		Logger()

	res := w.cfg.Engine.Moderate(item.SenderID, item.Channel, item.Content)
	status := StatusFor(res.Decision)

	if err := w.cfg.Repository.UpdateMessageModeration(ctx, item.MessageID, chat.ModerationUpdate{
		Status:  status,
		Risk:    res.Risk,
		Tags:    res.Tags,
		Notes:   res.Notes,
		Penalty: res.Penalty,
	}); err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			log.Warn().Msg("message disappeared before moderation update")
			return nil
		}
		return fmt.Errorf("worker: update message: %w", err)
	}

	msg, err := w.cfg.Repository.GetMessage(ctx, item.MessageID)
	if err != nil {
		return fmt.Errorf("worker: refetch message: %w", err)
	}
	if msg == nil {
		log.Warn().Msg("message disappeared after moderation update")
		return nil
	}

	if err := w.cfg.Logs.Add(ctx, modlog.Entry{
		MessageID:   msg.ID,
		UserID:      item.SenderID,
		Channel:     item.Channel,
		Risk:        res.Risk,
		Tags:        res.Tags,
		ActionTaken: res.Decision.String(),
		Penalty:     res.Penalty,
		CreatedAt:   w.now().UTC(),
	}); err != nil {
		return fmt.Errorf("worker: append moderation log: %w", err)
	}

	var balance *discipline.UserDiscipline
	if res.Penalty > 0 {
		balance, err = w.cfg.Discipline.UpdateScore(ctx, item.SenderID, item.Channel, -res.Penalty, res.Notes, msg.ID)
		if err != nil {
			return fmt.Errorf("worker: update discipline: %w", err)
		}
	}

	ev := chat.NewMessageEvent(msg)
	if err := w.cfg.Broadcaster.PushToUser(ctx, item.SenderID, ev); err != nil {
		return fmt.Errorf("worker: push to sender: %w", err)
	}
	if msg.Status == chat.StatusPublished {
		if err := w.cfg.Broadcaster.PushToGroup(ctx, item.Channel.Group(), ev); err != nil {
			return fmt.Errorf("worker: push to group: %w", err)
		}
	}

	// Reports and mutes follow the pushes so their failures never hide the
	// final status from the sender.
	var errs []error
	if res.Decision == moderation.BlockAndReport && w.cfg.Reports != nil {
		if err := w.cfg.Reports.Create(ctx, report.FromMessage(msg)); err != nil {
			errs = append(errs, fmt.Errorf("worker: file report: %w", err))
		}
	}
	if balance != nil && w.cfg.Mutes != nil && balance.ScoreBalance <= w.cfg.MuteThreshold {
		d, err := w.cfg.Mutes.Escalate(ctx, item.SenderID, item.Channel, "discipline balance exceeded")
		if err != nil {
			errs = append(errs, fmt.Errorf("worker: mute: %w", err))
		} else {
			log.Warn().Int("balance", balance.ScoreBalance).Dur("mute", d).Msg("user muted")
		}
	}

	if sr, ok := w.cfg.Metrics.(StatusRecorder); ok {
		sr.RecordStatus(string(msg.Status))
	}
	w.cfg.Metrics.RecordModeration(w.now().Sub(start), res.Decision, res.Risk)

	log.Debug().
		Str("decision", res.Decision.String()).
		Float64("risk", res.Risk).
		Int("penalty", res.Penalty).
		Strs("tags", res.Tags).
		Msg("message moderated")
	return errors.Join(errs...)
}
