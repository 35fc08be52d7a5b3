// Package pgtest connects tests to a disposable Postgres database named by
// TEST_DATABASE_URL. Tests skip when the variable is unset or the server is
// unreachable.
package pgtest

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"

	"github.com/eventhub/chat-moderation/internal/migrations"
)

const truncateAll = `TRUNCATE moderation_logs, discipline_events, user_discipline, abuse_reports RESTART IDENTITY`

func databaseURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	if err := migrations.Up(url); err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	return url
}

// Pool returns a pgx pool on a freshly truncated schema.
func Pool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := databaseURL(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	if _, err := pool.Exec(ctx, truncateAll); err != nil {
		pool.Close()
		t.Fatalf("truncate: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

// DB returns a database/sql handle using the lib/pq driver on a freshly
// truncated schema.
func DB(t *testing.T) *sql.DB {
	t.Helper()
	url := databaseURL(t)

	db, err := sql.Open("postgres", url)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	if _, err := db.Exec(truncateAll); err != nil {
		db.Close()
		t.Fatalf("truncate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
