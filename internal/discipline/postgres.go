package discipline

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eventhub/chat-moderation/internal/chat"
)

// PostgresStore keeps ledgers in user_discipline with their history in
// discipline_events.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing pool. The pool is owned by the caller.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// UpdateScore upserts the balance and appends the event in one transaction.
// The upsert takes the row lock, so concurrent updates for the same pair
// serialise instead of losing deltas.
func (s *PostgresStore) UpdateScore(ctx context.Context, userID string, ch chat.Channel, delta int, reason, messageID string) (*UserDiscipline, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("discipline: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO user_discipline (user_id, channel, score_balance, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, channel)
		DO UPDATE SET score_balance = user_discipline.score_balance + EXCLUDED.score_balance,
		              updated_at = NOW()
	`, userID, string(ch), delta); err != nil {
		return nil, fmt.Errorf("discipline: update balance: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO discipline_events (user_id, channel, delta, reason, message_id)
		VALUES ($1, $2, $3, $4, $5)
	`, userID, string(ch), delta, reason, messageID); err != nil {
		return nil, fmt.Errorf("discipline: append event: %w", err)
	}

	d, err := load(ctx, tx, userID, ch)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("discipline: commit: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) Get(ctx context.Context, userID string, ch chat.Channel) (*UserDiscipline, error) {
	return load(ctx, s.pool, userID, ch)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func load(ctx context.Context, q querier, userID string, ch chat.Channel) (*UserDiscipline, error) {
	d := empty(userID, ch)

	err := q.QueryRow(ctx, `
		SELECT score_balance FROM user_discipline WHERE user_id = $1 AND channel = $2
	`, userID, string(ch)).Scan(&d.ScoreBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		return d, nil
	}
	if err != nil {
		return nil, fmt.Errorf("discipline: get balance: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT delta, reason, message_id, created_at
		FROM discipline_events
		WHERE user_id = $1 AND channel = $2
		ORDER BY id ASC
	`, userID, string(ch))
	if err != nil {
		return nil, fmt.Errorf("discipline: get history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.Delta, &e.Reason, &e.MessageID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("discipline: scan event: %w", err)
		}
		d.History = append(d.History, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("discipline: get history: %w", err)
	}
	return d, nil
}
