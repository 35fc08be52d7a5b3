// Package config loads process configuration from the environment, with an
// optional .env file for development.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/eventhub/chat-moderation/internal/chat"
	"github.com/eventhub/chat-moderation/internal/queue"
	"github.com/eventhub/chat-moderation/internal/ratelimit"
	"github.com/eventhub/chat-moderation/internal/worker"
)

// Moderation modes.
const (
	ModeLocal = "local" // in-process queue and worker
	ModeNATS  = "nats"  // work items published to moderator processes
)

// Backends.
const (
	BackendMemory  = "memory"
	BackendRedis   = "redis"
	BackendDurable = "durable"
)

// Config holds all configuration for the chat server and moderator
// processes.
type Config struct {
	Env         string
	LogLevel    string
	ListenAddr  string
	DatabaseURL string
	RedisAddr   string
	NATSURL     string

	ModerationMode string
	QueueCapacity  int
	EnqueueTimeout time.Duration

	RateLimitBackend string
	RateLimitWindow  time.Duration
	RateLimits       map[chat.Channel]int

	MuteThreshold int
	StoreBackend  string

	ShutdownTimeout time.Duration
}

// DefaultConfig returns a development configuration that needs no external
// services.
func DefaultConfig() *Config {
	limits := make(map[chat.Channel]int)
	for ch, q := range ratelimit.DefaultQuotas() {
		limits[ch] = q.MaxMessages
	}
	return &Config{
		Env:              "development",
		LogLevel:         "info",
		ListenAddr:       ":8080",
		RedisAddr:        "localhost:6379",
		NATSURL:          "nats://localhost:4222",
		ModerationMode:   ModeLocal,
		QueueCapacity:    queue.DefaultCapacity,
		EnqueueTimeout:   2 * time.Second,
		RateLimitBackend: BackendMemory,
		RateLimitWindow:  ratelimit.DefaultWindow,
		RateLimits:       limits,
		MuteThreshold:    worker.DefaultMuteThreshold,
		StoreBackend:     BackendMemory,
		ShutdownTimeout:  15 * time.Second,
	}
}

// Load reads .env if present, then overrides the defaults from environment
// variables. Every malformed value is reported.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from lookup, which has the signature of
// os.LookupEnv.
func FromEnv(lookup func(string) (string, bool)) (*Config, error) {
	cfg := DefaultConfig()
	r := reader{lookup: lookup}

	r.str("ENV", &cfg.Env)
	r.str("LOG_LEVEL", &cfg.LogLevel)
	r.str("LISTEN_ADDR", &cfg.ListenAddr)
	r.str("DATABASE_URL", &cfg.DatabaseURL)
	r.str("REDIS_ADDR", &cfg.RedisAddr)
	r.str("NATS_URL", &cfg.NATSURL)
	r.oneOf("MODERATION_MODE", &cfg.ModerationMode, ModeLocal, ModeNATS)
	r.positive("QUEUE_CAPACITY", &cfg.QueueCapacity)
	r.duration("ENQUEUE_TIMEOUT", &cfg.EnqueueTimeout)
	r.oneOf("RATE_LIMIT_BACKEND", &cfg.RateLimitBackend, BackendMemory, BackendRedis)
	r.duration("RATE_LIMIT_WINDOW", &cfg.RateLimitWindow)
	for _, ch := range chat.Channels() {
		n := cfg.RateLimits[ch]
		r.positive("RATE_LIMIT_"+strings.ToUpper(string(ch)), &n)
		cfg.RateLimits[ch] = n
	}
	r.integer("MUTE_THRESHOLD", &cfg.MuteThreshold)
	r.oneOf("STORE_BACKEND", &cfg.StoreBackend, BackendMemory, BackendDurable)
	r.duration("SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout)

	if cfg.IsProduction() {
		if cfg.DatabaseURL == "" {
			r.errs = append(r.errs, errors.New("DATABASE_URL is required in production"))
		}
		if _, ok := lookup("REDIS_ADDR"); !ok {
			r.errs = append(r.errs, errors.New("REDIS_ADDR is required in production"))
		}
	}
	if cfg.ModerationMode == ModeNATS && cfg.StoreBackend != BackendDurable {
		r.errs = append(r.errs, errors.New("MODERATION_MODE=nats needs STORE_BACKEND=durable"))
	}
	if cfg.StoreBackend == BackendDurable && cfg.DatabaseURL == "" {
		r.errs = append(r.errs, errors.New("STORE_BACKEND=durable needs DATABASE_URL"))
	}

	if err := errors.Join(r.errs...); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// NeedsRedis reports whether any configured component is backed by Redis.
func (c *Config) NeedsRedis() bool {
	return c.StoreBackend == BackendDurable || c.RateLimitBackend == BackendRedis
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Quotas returns the per-channel limiter quotas.
func (c *Config) Quotas() ratelimit.Quotas {
	q := make(ratelimit.Quotas, len(c.RateLimits))
	for ch, n := range c.RateLimits {
		q[ch] = ratelimit.Quota{MaxMessages: n, Window: c.RateLimitWindow}
	}
	return q
}

type reader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *reader) get(key string) (string, bool) {
	v, ok := r.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (r *reader) str(key string, dst *string) {
	if v, ok := r.get(key); ok {
		*dst = v
	}
}

func (r *reader) oneOf(key string, dst *string, allowed ...string) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	v = strings.ToLower(v)
	for _, a := range allowed {
		if v == a {
			*dst = v
			return
		}
	}
	r.errs = append(r.errs, fmt.Errorf("%s: %q is not one of %s", key, v, strings.Join(allowed, "|")))
}

func (r *reader) integer(key string, dst *int) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

func (r *reader) positive(key string, dst *int) {
	n := *dst
	r.integer(key, &n)
	if n <= 0 {
		r.errs = append(r.errs, fmt.Errorf("%s: must be positive, got %d", key, n))
		return
	}
	*dst = n
}

func (r *reader) duration(key string, dst *time.Duration) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	if d <= 0 {
		r.errs = append(r.errs, fmt.Errorf("%s: must be positive, got %s", key, d))
		return
	}
	*dst = d
}
