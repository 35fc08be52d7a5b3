// Package app assembles the storage backends and the moderation worker from
// configuration. Both processes share it so their wiring cannot drift.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eventhub/chat-moderation/internal/api"
	"github.com/eventhub/chat-moderation/internal/ban"
	"github.com/eventhub/chat-moderation/internal/chat"
	"github.com/eventhub/chat-moderation/internal/config"
	"github.com/eventhub/chat-moderation/internal/deadletter"
	"github.com/eventhub/chat-moderation/internal/discipline"
	"github.com/eventhub/chat-moderation/internal/infra"
	"github.com/eventhub/chat-moderation/internal/metrics"
	"github.com/eventhub/chat-moderation/internal/migrations"
	"github.com/eventhub/chat-moderation/internal/moderation"
	"github.com/eventhub/chat-moderation/internal/modlog"
	"github.com/eventhub/chat-moderation/internal/ratelimit"
	"github.com/eventhub/chat-moderation/internal/realtime"
	"github.com/eventhub/chat-moderation/internal/report"
	"github.com/eventhub/chat-moderation/internal/worker"
)

// Backends holds the stores selected by STORE_BACKEND and
// RATE_LIMIT_BACKEND, plus the connections behind them.
type Backends struct {
	Redis *redis.Client
	Pool  *pgxpool.Pool
	SQL   *sql.DB

	Repository  chat.Repository
	Logs        modlog.Store
	Discipline  discipline.Store
	Reports     report.Archive
	DeadLetters deadletter.Store
	Limiter     ratelimit.Limiter
	Mutes       *ban.Store // nil without Redis

	sweeper *ratelimit.MemoryLimiter
}

// Open connects to whatever cfg requires and builds the stores. With the
// memory backends nothing external is touched.
func Open(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Backends, error) {
	b := &Backends{}
	fail := func(err error) (*Backends, error) {
		b.Close()
		return nil, err
	}

	if cfg.NeedsRedis() {
		client, err := infra.ConnectRedis(ctx, cfg.RedisAddr, log)
		if err != nil {
			return fail(err)
		}
		b.Redis = client
		b.Mutes = ban.NewStore(client)
	}

	if cfg.RateLimitBackend == config.BackendRedis {
		b.Limiter = ratelimit.NewRedisLimiter(b.Redis, cfg.Quotas(), log)
	} else {
		mem := ratelimit.NewMemoryLimiter(cfg.Quotas())
		b.Limiter = mem
		b.sweeper = mem
	}

	if cfg.StoreBackend != config.BackendDurable {
		b.Repository = chat.NewMemoryRepository()
		b.Logs = modlog.NewMemoryStore()
		b.Discipline = discipline.NewMemoryStore()
		b.Reports = report.NewMemoryStore()
		b.DeadLetters = deadletter.NewMemorySink()
		return b, nil
	}

	log.Info().Msg("applying database migrations")
	if err := infra.Retry(ctx, log, "migrations", infra.DefaultMaxElapsed, func(context.Context) error {
		return migrations.Up(cfg.DatabaseURL)
	}); err != nil {
		return fail(fmt.Errorf("app: migrate: %w", err))
	}

	pool, err := infra.ConnectPostgres(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return fail(err)
	}
	b.Pool = pool
	db, err := infra.OpenSQL(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return fail(err)
	}
	b.SQL = db

	b.Repository = chat.NewRedisRepository(b.Redis)
	b.Logs = modlog.NewPostgresStore(pool)
	b.Discipline = discipline.NewPostgresStore(pool)
	b.Reports = report.NewStore(db)
	b.DeadLetters = deadletter.NewRedisSink(b.Redis)
	return b, nil
}

// RunSweeper evicts idle in-memory rate limit windows until ctx ends. It is a
// no-op for the Redis limiter, whose keys expire on their own.
func (b *Backends) RunSweeper(ctx context.Context, every time.Duration) {
	if b.sweeper != nil {
		b.sweeper.RunSweeper(ctx, every)
	}
}

// MuteChecker returns the mute store for the send path, or nil.
func (b *Backends) MuteChecker() api.MuteChecker {
	if b.Mutes == nil {
		return nil
	}
	return b.Mutes
}

// MuteAdmin returns the mute store for the admin routes, or nil.
func (b *Backends) MuteAdmin() api.MuteAdmin {
	if b.Mutes == nil {
		return nil
	}
	return b.Mutes
}

// Checks returns a health probe per open connection.
func (b *Backends) Checks() map[string]api.HealthCheck {
	checks := make(map[string]api.HealthCheck)
	if b.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return b.Redis.Ping(ctx).Err() }
	}
	if b.Pool != nil {
		checks["postgres"] = b.Pool.Ping
	}
	return checks
}

// Close releases every open connection.
func (b *Backends) Close() {
	if b.SQL != nil {
		_ = b.SQL.Close()
	}
	if b.Pool != nil {
		b.Pool.Close()
	}
	if b.Redis != nil {
		_ = b.Redis.Close()
	}
}

// NewWorker builds the moderation worker over b, publishing outcomes through
// broadcaster.
func NewWorker(cfg *config.Config, b *Backends, broadcaster realtime.Broadcaster, log zerolog.Logger) (*worker.Worker, error) {
	wc := worker.Config{
		Engine:        moderation.NewEngine(moderation.NewTrustTable()),
		Repository:    b.Repository,
		Logs:          b.Logs,
		Discipline:    b.Discipline,
		Broadcaster:   broadcaster,
		Metrics:       metrics.NewRecorder(),
		Reports:       b.Reports,
		MuteThreshold: cfg.MuteThreshold,
		DeadLetters:   b.DeadLetters,
		Logger:        log,
	}
	if b.Mutes != nil {
		wc.Mutes = b.Mutes
	}
	return worker.New(wc)
}
