// Package infra opens the connections to the backing services, retrying with
// exponential backoff while they come up.
package infra

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq" // database/sql driver for the report store
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eventhub/chat-moderation/internal/messaging"
)

// DefaultMaxElapsed bounds how long startup waits for a dependency.
const DefaultMaxElapsed = 30 * time.Second

// Retry runs op until it succeeds, ctx ends or maxElapsed passes.
func Retry(ctx context.Context, log zerolog.Logger, name string, maxElapsed time.Duration, op func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = maxElapsed

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		return op(ctx)
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		log.Warn().Err(err).
			Str("dependency", name).
			Int("attempt", attempt).
			Dur("retry_in", wait).
			Msg("dependency not ready")
	})
}

// ConnectRedis returns a client once Redis answers PING.
func ConnectRedis(ctx context.Context, addr string, log zerolog.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	err := Retry(ctx, log, "redis", DefaultMaxElapsed, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return client.Ping(pingCtx).Err()
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("infra: redis %s: %w", addr, err)
	}
	return client, nil
}

// ConnectPostgres returns a pgx pool once the database accepts connections.
func ConnectPostgres(ctx context.Context, url string, log zerolog.Logger) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("infra: postgres config: %w", err)
	}
	err = Retry(ctx, log, "postgres", DefaultMaxElapsed, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return pool.Ping(pingCtx)
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("infra: postgres: %w", err)
	}
	return pool, nil
}

// OpenSQL opens a database/sql handle on the lib/pq driver.
func OpenSQL(ctx context.Context, url string, log zerolog.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("infra: sql open: %w", err)
	}
	err = Retry(ctx, log, "postgres-sql", DefaultMaxElapsed, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("infra: sql: %w", err)
	}
	return db, nil
}

// ConnectNATS returns a messaging client once the server accepts the
// connection.
func ConnectNATS(ctx context.Context, cfg messaging.NATSConfig, log zerolog.Logger) (*messaging.NATSClient, error) {
	var client *messaging.NATSClient
	err := Retry(ctx, log, "nats", DefaultMaxElapsed, func(context.Context) error {
		c, err := messaging.NewNATSClient(cfg, log)
		if err != nil {
			return err
		}
		client = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("infra: nats %s: %w", cfg.URL, err)
	}
	return client, nil
}
