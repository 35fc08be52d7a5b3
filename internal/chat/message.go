// Package chat holds the chat message model shared by the ingestion path, the
// moderation worker and the realtime gateway, together with the repository
// that persists messages.
package chat

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// MessageStatus is the visibility state of a chat message.
type MessageStatus string

const (
	StatusPublished MessageStatus = "published"
	StatusHeld      MessageStatus = "held"
	StatusBlocked   MessageStatus = "blocked"
)

// Message is one chat message. It is created in StatusHeld by the send path
// and its moderation fields are written exactly once by the moderation worker.
type Message struct {
	ID              string        `json:"id"`
	Channel         Channel       `json:"channel"`
	SenderID        string        `json:"sender_id"`
	Content         string        `json:"content"`
	CreatedAt       time.Time     `json:"created_at"`
	Status          MessageStatus `json:"status"`
	ModerationRisk  float64       `json:"moderation_risk"`
	ModerationTags  []string      `json:"moderation_tags"`
	ModerationNotes string        `json:"moderation_notes,omitempty"`
	PenaltyPoints   int           `json:"penalty_points"`
	Moderated       bool          `json:"moderated"`
}

// NewHeldMessage builds a freshly accepted message awaiting moderation.
func NewHeldMessage(channel Channel, senderID, content string) *Message {
	return &Message{
		ID:             uuid.New().String(),
		Channel:        channel,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
		Status:         StatusHeld,
		ModerationTags: []string{},
	}
}

// VisibleTo reports whether viewerID may see the message. Other channel
// members only ever see published content; senders always see their own.
func (m *Message) VisibleTo(viewerID string) bool {
	return m.Status == StatusPublished || m.SenderID == viewerID
}

// WorkItem is the immutable unit of work handed from the send path to the
// moderation worker.
type WorkItem struct {
	MessageID string  `json:"message_id"`
	SenderID  string  `json:"sender_id"`
	Channel   Channel `json:"channel"`
	Content   string  `json:"content"`
}

// WorkItemFor captures the moderation work for m.
func WorkItemFor(m *Message) WorkItem {
	return WorkItem{
		MessageID: m.ID,
		SenderID:  m.SenderID,
		Channel:   m.Channel,
		Content:   m.Content,
	}
}

// ModerationUpdate is the set of moderation fields the worker writes back.
type ModerationUpdate struct {
	Status  MessageStatus
	Risk    float64
	Tags    []string
	Notes   string
	Penalty int
}

// apply copies the update onto m. Tags are copied, sorted and deduplicated.
func (u ModerationUpdate) apply(m *Message) {
	m.Status = u.Status
	m.ModerationRisk = u.Risk
	m.ModerationTags = NormalizeTags(u.Tags)
	m.ModerationNotes = u.Notes
	m.PenaltyPoints = u.Penalty
	m.Moderated = true
}

// NormalizeTags returns a sorted copy of tags without duplicates or blanks.
// The result is never nil.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (m *Message) clone() *Message {
	c := *m
	c.ModerationTags = append([]string{}, m.ModerationTags...)
	return &c
}
