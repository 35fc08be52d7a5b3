package modlog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eventhub/chat-moderation/internal/chat"
)

// PostgresStore keeps entries in the moderation_logs table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing pool. The pool is owned by the caller.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Add(ctx context.Context, e Entry) error {
	e = prepare(e)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO moderation_logs (id, message_id, user_id, channel, risk, tags, action_taken, penalty, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.MessageID, e.UserID, string(e.Channel), e.Risk, e.Tags, e.ActionTaken, e.Penalty, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("modlog: insert: %w", err)
	}
	return nil
}

func (s *PostgresStore) Query(ctx context.Context, ch chat.Channel) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, message_id, user_id, channel, risk, tags, action_taken, penalty, created_at
		FROM moderation_logs
		WHERE channel = $1
		ORDER BY created_at ASC, id ASC
	`, string(ch))
	if err != nil {
		return nil, fmt.Errorf("modlog: query: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("modlog: query: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("modlog: query: %w", err)
	}
	return entries, nil
}

func (s *PostgresStore) GetByMessageID(ctx context.Context, messageID string) (*Entry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, message_id, user_id, channel, risk, tags, action_taken, penalty, created_at
		FROM moderation_logs
		WHERE message_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, messageID)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("modlog: get by message: %w", err)
	}
	return e, nil
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var (
		e       Entry
		channel string
	)
	if err := row.Scan(&e.ID, &e.MessageID, &e.UserID, &channel, &e.Risk, &e.Tags,
		&e.ActionTaken, &e.Penalty, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Channel = chat.Channel(channel)
	if e.Tags == nil {
		e.Tags = []string{}
	}
	return &e, nil
}
