// Package report files abuse reports for messages the moderation engine
// blocks and escalates. Each report carries a snapshot of the offending
// message for human review.
package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/eventhub/chat-moderation/internal/chat"
)

// Report reasons, matching the CHECK constraint on the abuse_reports table.
const (
	ReasonSelfHarm = "self-harm"
	ReasonThreat   = "threat"
	ReasonFraud    = "fraud"
	ReasonPolicy   = "policy"
	ReasonOther    = "other"
)

var validReasons = map[string]bool{
	ReasonSelfHarm: true,
	ReasonThreat:   true,
	ReasonFraud:    true,
	ReasonPolicy:   true,
	ReasonOther:    true,
}

// ErrNotFound is returned when resolving an unknown report.
var ErrNotFound = errors.New("report: not found")

// Report status values.
const (
	StatusOpen     = "open"
	StatusResolved = "resolved"
)

// Report is one abuse report.
type Report struct {
	ID             int64          `json:"id"`
	MessageID      string         `json:"message_id"`
	ReportedUserID string         `json:"reported_user_id"`
	Channel        chat.Channel   `json:"channel"`
	Reason         string         `json:"reason"`
	Risk           float64        `json:"risk"`
	Tags           []string       `json:"tags"`
	Messages       []MessageEntry `json:"messages"`
	Status         string         `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
}

// MessageEntry is one message in the snapshot attached to a report.
type MessageEntry struct {
	ID     string `json:"id"`
	From   string `json:"from"`
	Text   string `json:"text"`
	Status string `json:"status"`
	Ts     int64  `json:"ts"`
}

// Filer is what the moderation worker needs to escalate a message.
type Filer interface {
	Create(ctx context.Context, r *Report) error
}

// Reviewer is the operator side of the report queue.
type Reviewer interface {
	ListOpen(ctx context.Context, limit int) ([]Report, error)
	Resolve(ctx context.Context, id int64) error
	CountRecent(ctx context.Context, userID string, window time.Duration) (int, error)
}

// Archive files and reviews reports.
type Archive interface {
	Filer
	Reviewer
}

// ReasonForTags picks the most serious reason implied by policy tags.
func ReasonForTags(tags []string) string {
	switch {
	case slices.Contains(tags, "self-harm"):
		return ReasonSelfHarm
	case slices.Contains(tags, "threat"):
		return ReasonThreat
	case slices.Contains(tags, "fraud"), slices.Contains(tags, "investment scam"):
		return ReasonFraud
	case len(tags) > 0:
		return ReasonPolicy
	default:
		return ReasonOther
	}
}

// FromMessage builds a report for m with a one-message snapshot.
func FromMessage(m *chat.Message) *Report {
	return &Report{
		MessageID:      m.ID,
		ReportedUserID: m.SenderID,
		Channel:        m.Channel,
		Reason:         ReasonForTags(m.ModerationTags),
		Risk:           m.ModerationRisk,
		Tags:           slices.Clone(m.ModerationTags),
		Messages: []MessageEntry{{
			ID:     m.ID,
			From:   m.SenderID,
			Text:   m.Content,
			Status: string(m.Status),
			Ts:     m.CreatedAt.UnixMilli(),
		}},
		Status: StatusOpen,
	}
}

// Store manages abuse reports in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a new report store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts r and fills in its ID, status and creation time. The reason
// is validated before insertion.
func (s *Store) Create(ctx context.Context, r *Report) error {
	if !validReasons[r.Reason] {
		return fmt.Errorf("report: invalid reason %q", r.Reason)
	}

	var messagesJSON []byte
	if len(r.Messages) > 0 {
		var err error
		messagesJSON, err = json.Marshal(r.Messages)
		if err != nil {
			return fmt.Errorf("report: marshal messages: %w", err)
		}
	}

	const query = `
		INSERT INTO abuse_reports (message_id, reported_user_id, channel, reason, risk, tags, messages)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, status, created_at`

	err := s.db.QueryRowContext(ctx, query,
		r.MessageID,
		r.ReportedUserID,
		string(r.Channel),
		r.Reason,
		r.Risk,
		pq.Array(chat.NormalizeTags(r.Tags)),
		messagesJSON,
	).Scan(&r.ID, &r.Status, &r.CreatedAt)
	if err != nil {
		return fmt.Errorf("report: insert: %w", err)
	}
	return nil
}

// CountRecent returns the number of reports filed against a user within the
// given window.
func (s *Store) CountRecent(ctx context.Context, userID string, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM abuse_reports
		WHERE reported_user_id = $1
		  AND created_at >= NOW() - $2::interval`

	var count int
	err := s.db.QueryRowContext(ctx, query, userID, window.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("report: count recent: %w", err)
	}
	return count, nil
}

// ListOpen returns up to limit unresolved reports, oldest first.
func (s *Store) ListOpen(ctx context.Context, limit int) ([]Report, error) {
	const query = `
		SELECT id, message_id, reported_user_id, channel, reason, risk, tags, messages, status, created_at
		FROM abuse_reports
		WHERE status = 'open'
		ORDER BY created_at ASC, id ASC
		LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("report: list open: %w", err)
	}
	defer rows.Close()

	out := []Report{}
	for rows.Next() {
		var (
			r        Report
			channel  string
			messages []byte
		)
		if err := rows.Scan(&r.ID, &r.MessageID, &r.ReportedUserID, &channel, &r.Reason,
			&r.Risk, pq.Array(&r.Tags), &messages, &r.Status, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("report: scan: %w", err)
		}
		r.Channel = chat.Channel(channel)
		if len(messages) > 0 {
			if err := json.Unmarshal(messages, &r.Messages); err != nil {
				return nil, fmt.Errorf("report: unmarshal messages: %w", err)
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("report: list open: %w", err)
	}
	return out, nil
}

// Resolve marks a report as handled.
func (s *Store) Resolve(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE abuse_reports SET status = 'resolved' WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("report: resolve: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}

// MemoryStore keeps reports in process memory, for deployments without
// Postgres and for tests.
type MemoryStore struct {
	mu      sync.Mutex
	reports []Report
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (s *MemoryStore) Create(_ context.Context, r *Report) error {
	if !validReasons[r.Reason] {
		return fmt.Errorf("report: invalid reason %q", r.Reason)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r.ID = int64(len(s.reports) + 1)
	r.Status = StatusOpen
	r.CreatedAt = s.now().UTC()
	s.reports = append(s.reports, *r)
	return nil
}

func (s *MemoryStore) CountRecent(_ context.Context, userID string, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-window)
	n := 0
	for _, r := range s.reports {
		if r.ReportedUserID == userID && !r.CreatedAt.Before(cutoff) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ListOpen(_ context.Context, limit int) ([]Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []Report{}
	for _, r := range s.reports {
		if len(out) == limit {
			break
		}
		if r.Status == StatusOpen {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) Resolve(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.reports {
		if s.reports[i].ID == id {
			s.reports[i].Status = StatusResolved
			return nil
		}
	}
	return fmt.Errorf("%w: %d", ErrNotFound, id)
}

// All returns a copy of every filed report.
func (s *MemoryStore) All() []Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.reports)
}
