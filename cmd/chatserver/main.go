// Command chatserver serves the chat API and the realtime gateway. In local
// moderation mode it also runs the moderation queue and worker; in nats mode
// work goes to cmd/moderator and outcomes come back over NATS.
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

	"github.com/rs/zerolog"

	"github.com/eventhub/chat-moderation/internal/api"
	"github.com/eventhub/chat-moderation/internal/app"
	"github.com/eventhub/chat-moderation/internal/chat"
	"github.com/eventhub/chat-moderation/internal/config"
	"github.com/eventhub/chat-moderation/internal/infra"
	"github.com/eventhub/chat-moderation/internal/messaging"
	"github.com/eventhub/chat-moderation/internal/queue"
	"github.com/eventhub/chat-moderation/internal/realtime"
	"github.com/eventhub/chat-moderation/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := config.NewLogger(cfg)

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("chat server failed")
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
	go backends.RunSweeper(ctx, time.Minute)

	hub := ws.NewHub(logger)
	gateway := ws.NewServer(ws.DefaultServerConfig(), hub, logger)

	deps := api.Deps{
		Repository:     backends.Repository,
		Limiter:        backends.Limiter,
		Logs:           backends.Logs,
		Discipline:     backends.Discipline,
		Mutes:          backends.MuteChecker(),
		EnqueueTimeout: cfg.EnqueueTimeout,
		Checks:         backends.Checks(),
		Realtime:       gateway,
		Reports:        backends.Reports,
		MuteAdmin:      backends.MuteAdmin(),
		DeadLetters:    backends.DeadLetters,
		Logger:         logger,
	}

	// The worker outlives the request context so it can drain the queue.
	workerCtx, cancelWorker := context.WithCancel(context.Background())
	defer cancelWorker()
	var (
		q          *queue.Queue
		workerDone chan error
	)

	switch cfg.ModerationMode {
	case config.ModeNATS:
		natsCfg := messaging.DefaultNATSConfig()
		natsCfg.URL = cfg.NATSURL
		natsCfg.Name = "chatserver"
		nc, err := infra.ConnectNATS(ctx, natsCfg, logger)
		if err != nil {
			return err
		}
		defer nc.Close()
		if err := forwardPushes(nc, hub, logger); err != nil {
			return err
		}
		deps.Queue = messaging.NewWorkPublisher(nc)
		deps.Checks["nats"] = func(context.Context) error {
			if !nc.Conn().IsConnected() {
				return errors.New("not connected")
			}
			return nil
		}

	default:
		q = queue.New(cfg.QueueCapacity)
		w, err := app.NewWorker(cfg, backends, realtime.NewLocal(hub), logger)
		if err != nil {
			return err
		}
		workerDone = make(chan error, 1)
		go func() { workerDone <- w.Run(workerCtx, q) }()
		deps.Queue = q
		deps.QueueDepth = q.Len
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewRouter(api.NewHandler(deps)),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.ListenAddr).
			Str("env", cfg.Env).
			Str("moderation_mode", cfg.ModerationMode).
			Str("store_backend", cfg.StoreBackend).
			Str("rate_limit_backend", cfg.RateLimitBackend).
			Msg("starting chat server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	if err := gateway.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("gateway shutdown")
	}

	if q != nil {
		q.Close()
		select {
		case <-workerDone:
		case <-shutdownCtx.Done():
			logger.Warn().Int("pending", q.Len()).Msg("worker did not drain before timeout")
			cancelWorker()
			<-workerDone
		}
	}

	logger.Info().Msg("server stopped")
	return nil
}

// forwardPushes delivers outcomes published by moderator processes to the
// sockets held by this gateway.
func forwardPushes(nc *messaging.NATSClient, hub *ws.Hub, logger zerolog.Logger) error {
	log := logger.With().Str("component", "push-forwarder").Logger()
	decode := func(data []byte) (chat.MessageEvent, bool) {
		ev, err := realtime.DecodeEvent(data)
		if err != nil {
			log.Warn().Err(err).Msg("dropping malformed push")
			return chat.MessageEvent{}, false
		}
		return ev, true
	}

	if err := nc.SubscribeUserPushes(func(userID string, data []byte) {
		if ev, ok := decode(data); ok {
			hub.DeliverToUser(userID, ev)
		}
	}); err != nil {
		return err
	}
	return nc.SubscribeGroupPushes(func(group string, data []byte) {
		if ev, ok := decode(data); ok {
			hub.DeliverToGroup(group, ev)
		}
	})
}
