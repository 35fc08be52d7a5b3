// Command moderator runs the moderation worker as its own process. It joins
// the moderators NATS queue group, feeds received work into a bounded queue
// and publishes outcomes back to the chat servers.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/eventhub/chat-moderation/internal/app"
	"github.com/eventhub/chat-moderation/internal/config"
	"github.com/eventhub/chat-moderation/internal/infra"
	"github.com/eventhub/chat-moderation/internal/messaging"
	"github.com/eventhub/chat-moderation/internal/metrics"
	"github.com/eventhub/chat-moderation/internal/queue"
	"github.com/eventhub/chat-moderation/internal/realtime"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := config.NewLogger(cfg).With().Str("process", "moderator").Logger()

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("moderator failed")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backends.Close()

	natsCfg := messaging.DefaultNATSConfig()
	natsCfg.URL = cfg.NATSURL
	natsCfg.Name = "moderator"
	nc, err := infra.ConnectNATS(ctx, natsCfg, logger)
	if err != nil {
		return err
	}

	broadcaster := realtime.NewNATSBroadcaster(nc, logger)
	w, err := app.NewWorker(cfg, backends, broadcaster, logger)
	if err != nil {
		return err
	}

	// Consumption and the worker outlive ctx so in-flight items drain.
	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()

	q := queue.New(cfg.QueueCapacity)
	workerDone := make(chan error, 1)
	go func() { workerDone <- w.Run(workCtx, q) }()

	if err := messaging.ConsumeWork(workCtx, nc, q, logger); err != nil {
		return err
	}

	r := chi.NewRouter()
	r.Handle("/metrics", metrics.Handler())
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","queue_depth":%d,"breaker":%q}`, q.Len(), broadcaster.State().String())
	})
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	logger.Info().
		Str("nats_url", natsCfg.URL).
		Int("queue_capacity", q.Cap()).
		Str("listen_addr", cfg.ListenAddr).
		Msg("moderator running")

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Stop taking new work first, then let the worker finish what it holds.
	nc.Close()
	q.Close()
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		logger.Warn().Int("pending", q.Len()).Msg("worker did not drain before timeout")
		cancelWork()
		<-workerDone
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics server shutdown")
	}
	logger.Info().Msg("moderator stopped")
	return nil
}
