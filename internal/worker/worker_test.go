package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventhub/chat-moderation/internal/chat"
	"github.com/eventhub/chat-moderation/internal/deadletter"
	"github.com/eventhub/chat-moderation/internal/discipline"
	"github.com/eventhub/chat-moderation/internal/moderation"
	"github.com/eventhub/chat-moderation/internal/modlog"
	"github.com/eventhub/chat-moderation/internal/queue"
	"github.com/eventhub/chat-moderation/internal/realtime"
	"github.com/eventhub/chat-moderation/internal/report"
)

type fakeMetrics struct {
	mu        sync.Mutex
	decisions []moderation.Decision
	failures  int
}

func (f *fakeMetrics) RecordModeration(_ time.Duration, d moderation.Decision, _ float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decisions = append(f.decisions, d)
}

func (f *fakeMetrics) RecordModerationFailure() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures++
}

func (f *fakeMetrics) snapshot() ([]moderation.Decision, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]moderation.Decision(nil), f.decisions...), f.failures
}

type fakeMuter struct {
	calls int
}

func (f *fakeMuter) Escalate(context.Context, string, chat.Channel, string) (time.Duration, error) {
	f.calls++
	return 15 * time.Minute, nil
}

type harness struct {
	repo      *chat.MemoryRepository
	logs      *modlog.MemoryStore
	disc      *discipline.MemoryStore
	bus       *realtime.Recorder
	metrics   *fakeMetrics
	reports   *report.MemoryStore
	mutes     *fakeMuter
	dead      *deadletter.MemorySink
	threshold int
	worker    *Worker
	moderator moderation.Moderator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		repo:      chat.NewMemoryRepository(),
		logs:      modlog.NewMemoryStore(),
		disc:      discipline.NewMemoryStore(),
		bus:       realtime.NewRecorder(),
		metrics:   &fakeMetrics{},
		reports:   report.NewMemoryStore(),
		mutes:     &fakeMuter{},
		dead:      deadletter.NewMemorySink(),
		moderator: moderation.NewEngine(moderation.NewTrustTable()),
		threshold: DefaultMuteThreshold,
	}
	h.build(t)
	return h
}

func (h *harness) build(t *testing.T) {
	t.Helper()
	w, err := New(Config{
		Engine:        h.moderator,
		Repository:    h.repo,
		Logs:          h.logs,
		Discipline:    h.disc,
		Broadcaster:   h.bus,
		Metrics:       h.metrics,
		Reports:       h.reports,
		Mutes:         h.mutes,
		MuteThreshold: h.threshold,
		DeadLetters:   h.dead,
		Logger:        zerolog.Nop(),
	})
	require.NoError(t, err)
	h.worker = w
}

func (h *harness) send(t *testing.T, ch chat.Channel, user, content string) chat.WorkItem {
	t.Helper()
	m := chat.NewHeldMessage(ch, user, content)
	require.NoError(t, h.repo.AddMessage(context.Background(), m))
	return chat.WorkItemFor(m)
}

// runQueue pushes items through a real queue and waits for the worker to
// drain it.
func (h *harness) runQueue(t *testing.T, items ...chat.WorkItem) {
	t.Helper()
	q := queue.New(10)
	for _, it := range items {
		require.NoError(t, q.Enqueue(context.Background(), it))
	}
	q.Close()

	done := make(chan error, 1)
	go func() { done <- h.worker.Run(context.Background(), q) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not drain the queue")
	}
}

func TestWorker_HoldEndToEnd(t *testing.T) {
	h := newHarness(t)
	item := h.send(t, chat.ChannelJudge, "user-1", "you are an idiot")

	h.runQueue(t, item)

	msg, err := h.repo.GetMessage(context.Background(), item.MessageID)
	require.NoError(t, err)
	assert.Equal(t, chat.StatusHeld, msg.Status)
	assert.Equal(t, 0.6, msg.ModerationRisk)
	assert.Equal(t, []string{moderation.TagInsult}, msg.ModerationTags)
	assert.True(t, msg.Moderated)

	entries, err := h.logs.Query(context.Background(), chat.ChannelJudge)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Hold", entries[0].ActionTaken)
	assert.Equal(t, item.MessageID, entries[0].MessageID)

	assert.Len(t, h.bus.ToUser("user-1"), 1)
	assert.Empty(t, h.bus.ToGroup(chat.ChannelJudge.Group()))

	d, _ := h.disc.Get(context.Background(), "user-1", chat.ChannelJudge)
	assert.Equal(t, -4, d.ScoreBalance)

	decisions, failures := h.metrics.snapshot()
	assert.Equal(t, []moderation.Decision{moderation.Hold}, decisions)
	assert.Zero(t, failures)
}

func TestWorker_PublishEndToEnd(t *testing.T) {
	h := newHarness(t)
	item := h.send(t, chat.ChannelMentor, "user-2", "Great session today")

	h.runQueue(t, item)

	msg, _ := h.repo.GetMessage(context.Background(), item.MessageID)
	assert.Equal(t, chat.StatusPublished, msg.Status)
	assert.Equal(t, 0.05, msg.ModerationRisk)

	toUser := h.bus.ToUser("user-2")
	require.Len(t, toUser, 1)
	assert.Equal(t, chat.StatusPublished, toUser[0].Event.Message.Status)
	assert.Len(t, h.bus.ToGroup("chat-mentor"), 1)

	d, _ := h.disc.Get(context.Background(), "user-2", chat.ChannelMentor)
	assert.Zero(t, d.ScoreBalance)
	assert.Empty(t, d.History, "penalty 0 must not touch the ledger")

	e, _ := h.logs.GetByMessageID(context.Background(), item.MessageID)
	require.NotNil(t, e)
	assert.Equal(t, "Publish", e.ActionTaken)
}

func TestWorker_SoftWarnIsPublished(t *testing.T) {
	h := newHarness(t)
	item := h.send(t, chat.ChannelInvestor, "user-3", "dm me later")

	require.NoError(t, h.worker.Process(context.Background(), item))

	msg, _ := h.repo.GetMessage(context.Background(), item.MessageID)
	assert.Equal(t, chat.StatusPublished, msg.Status)
	assert.Len(t, h.bus.ToGroup("chat-investor"), 1)

	d, _ := h.disc.Get(context.Background(), "user-3", chat.ChannelInvestor)
	assert.Equal(t, -1, d.ScoreBalance)
}

func TestWorker_BlockAndReport(t *testing.T) {
	h := newHarness(t)
	item := h.send(t, chat.ChannelParticipant, "user-4", "خودکشی")

	require.NoError(t, h.worker.Process(context.Background(), item))

	msg, _ := h.repo.GetMessage(context.Background(), item.MessageID)
	assert.Equal(t, chat.StatusBlocked, msg.Status)
	assert.Equal(t, 10, msg.PenaltyPoints)
	assert.Empty(t, h.bus.ToGroup("chat-participant"))
	assert.Len(t, h.bus.ToUser("user-4"), 1)

	reports := h.reports.All()
	require.Len(t, reports, 1)
	assert.Equal(t, report.ReasonSelfHarm, reports[0].Reason)
	assert.Equal(t, item.MessageID, reports[0].MessageID)
}

func TestWorker_MutesAfterThreshold(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// -10 then -10 crosses the default -15 threshold on the second message.
	first := h.send(t, chat.ChannelAdmin, "user-5", "suicide")
	require.NoError(t, h.worker.Process(ctx, first))
	assert.Equal(t, 0, h.mutes.calls)

	second := h.send(t, chat.ChannelAdmin, "user-5", "suicide again")
	require.NoError(t, h.worker.Process(ctx, second))
	assert.Equal(t, 1, h.mutes.calls)
}

func TestWorker_ZeroMuteThreshold(t *testing.T) {
	h := newHarness(t)
	h.threshold = 0
	h.build(t)

	item := h.send(t, chat.ChannelMentor, "user-12", "dm me later")
	require.NoError(t, h.worker.Process(context.Background(), item))
	assert.Equal(t, 1, h.mutes.calls, "a zero threshold mutes on the first penalty")
}

type failingFiler struct{}

func (failingFiler) Create(context.Context, *report.Report) error {
	return errors.New("db down")
}

type failingMuter struct{}

func (failingMuter) Escalate(context.Context, string, chat.Channel, string) (time.Duration, error) {
	return 0, errors.New("redis down")
}

func TestWorker_SenderNotifiedWhenReportAndMuteFail(t *testing.T) {
	h := newHarness(t)
	w, err := New(Config{
		Engine:        h.moderator,
		Repository:    h.repo,
		Logs:          h.logs,
		Discipline:    h.disc,
		Broadcaster:   h.bus,
		Metrics:       h.metrics,
		Reports:       failingFiler{},
		Mutes:         failingMuter{},
		MuteThreshold: -5,
		DeadLetters:   h.dead,
		Logger:        zerolog.Nop(),
	})
	require.NoError(t, err)

	item := h.send(t, chat.ChannelParticipant, "user-13", "خودکشی")
	err = w.Process(context.Background(), item)
	require.Error(t, err)
	assert.ErrorContains(t, err, "file report: db down")
	assert.ErrorContains(t, err, "mute: redis down")

	pushes := h.bus.ToUser("user-13")
	require.Len(t, pushes, 1)
	assert.Equal(t, chat.StatusBlocked, pushes[0].Event.Message.Status)
	assert.Empty(t, h.bus.ToGroup(chat.ChannelParticipant.Group()))
	assert.Equal(t, 1, h.logs.Len())
}

func TestWorker_MessageMissingAtUpdate(t *testing.T) {
	h := newHarness(t)
	item := h.send(t, chat.ChannelJudge, "user-6", "hello")
	h.repo.Delete(context.Background(), item.MessageID)

	err := h.worker.Process(context.Background(), item)
	assert.NoError(t, err)
	assert.Zero(t, h.logs.Len())
	assert.Empty(t, h.bus.Pushes())
}

type vanishingRepo struct {
	*chat.MemoryRepository
}

func (v vanishingRepo) GetMessage(context.Context, string) (*chat.Message, error) {
	return nil, nil
}

func TestWorker_MessageVanishesAfterUpdate(t *testing.T) {
	h := newHarness(t)
	item := h.send(t, chat.ChannelJudge, "user-7", "hello")

	w, err := New(Config{
		Engine:      h.moderator,
		Repository:  vanishingRepo{h.repo},
		Logs:        h.logs,
		Discipline:  h.disc,
		Broadcaster: h.bus,
		Metrics:     h.metrics,
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)

	assert.NoError(t, w.Process(context.Background(), item))
	assert.Zero(t, h.logs.Len())
	assert.Empty(t, h.bus.Pushes())
}

type panickyModerator struct{}

func (panickyModerator) Moderate(string, chat.Channel, string) moderation.Result {
	panic("classifier exploded")
}

func TestWorker_FailureIsolation(t *testing.T) {
	h := newHarness(t)
	h.bus.Err = errors.New("broadcast down")

	bad := h.send(t, chat.ChannelJudge, "user-8", "hello")
	missing := chat.WorkItem{MessageID: "gone", SenderID: "user-8", Channel: chat.ChannelJudge, Content: "x"}
	h.runQueue(t, bad, missing)

	_, failures := h.metrics.snapshot()
	assert.Equal(t, 1, failures, "broadcast failure counts once; a missing message is not a failure")
	letters := h.dead.Letters()
	require.Len(t, letters, 1)
	assert.Equal(t, bad.MessageID, letters[0].Item.MessageID)
	assert.Contains(t, letters[0].Error, "broadcast down")

	// The engine panicking on one item must not stop the next.
	h.bus.Err = nil
	h.moderator = panickyModerator{}
	h.build(t)
	boom := h.send(t, chat.ChannelJudge, "user-9", "hello")
	h.runQueue(t, boom)
	_, failures = h.metrics.snapshot()
	assert.Equal(t, 2, failures)
	assert.Len(t, h.dead.Letters(), 2)
}

func TestWorker_SecondDeliveryFails(t *testing.T) {
	h := newHarness(t)
	item := h.send(t, chat.ChannelJudge, "user-10", "hello")
	require.NoError(t, h.worker.Process(context.Background(), item))

	err := h.worker.Process(context.Background(), item)
	assert.ErrorIs(t, err, chat.ErrAlreadyModerated)
	assert.Equal(t, 1, h.logs.Len())
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	q := queue.New(1)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.worker.Run(ctx, q) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on cancel")
	}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, chat.StatusPublished, StatusFor(moderation.Publish))
	assert.Equal(t, chat.StatusPublished, StatusFor(moderation.SoftWarn))
	assert.Equal(t, chat.StatusHeld, StatusFor(moderation.Hold))
	assert.Equal(t, chat.StatusBlocked, StatusFor(moderation.Block))
	assert.Equal(t, chat.StatusBlocked, StatusFor(moderation.BlockAndReport))
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
