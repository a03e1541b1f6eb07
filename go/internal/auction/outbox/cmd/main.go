package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/gavel/go/internal/auction/channel"
	"github.com/mcdev12/gavel/go/internal/auction/outbox"
	"github.com/mcdev12/gavel/go/internal/config"
	"github.com/mcdev12/gavel/go/internal/dbconfig"
)

func main() {
	config.LoadDotEnv()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	if lvl, err := zerolog.ParseLevel(config.GetEnv("LOG_LEVEL", "debug")); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	cfg := dbconfig.NewConfigFromEnv()
	dsn := cfg.DSN()
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("ping database")
	}
	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Msg("connected to database")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	natsCfg := channel.DefaultNATSConfig()
	natsCfg.Name = "gavel-outbox"
	natsCfg.URL = config.GetEnv("NATS_URL", natsCfg.URL)
	transport, err := channel.ConnectNATS(ctx, natsCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to NATS")
	}
	defer func() {
		if err := transport.Close(); err != nil {
			log.Error().Err(err).Msg("close NATS")
		}
	}()

	streamCfg := outbox.DefaultStreamConfig()
	streamCfg.Name = config.GetEnv("OUTBOX_STREAM", streamCfg.Name)
	publisher, err := outbox.NewJetStreamPublisher(ctx, transport.Conn(), streamCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("create JetStream publisher")
	}

	ltCfg := outbox.DefaultListenerConfig()
	ltCfg.DatabaseURL = dsn
	ltCfg.FallbackInterval = config.GetEnvAsDuration("FALLBACK_INTERVAL", ltCfg.FallbackInterval)
	ltCfg.BatchSize = config.GetEnvAsInt("OUTBOX_BATCH_SIZE", ltCfg.BatchSize)

	notifier, err := outbox.NewPQNotifier(ltCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("create outbox notifier")
	}

	repo := outbox.NewRepository(db)
	listener := outbox.NewListener(repo, notifier, publisher, nil, ltCfg)
	health := outbox.NewHealthChecker(listener, repo, publisher.Connected, nil,
		config.GetEnvAsDuration("OUTBOX_STALL_THRESHOLD", 5*time.Minute))

	mux := http.NewServeMux()
	mux.Handle("GET /health", health)
	healthServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", config.GetEnvAsInt("OUTBOX_HEALTH_PORT", 8082)),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", healthServer.Addr).Msg("health endpoint listening")
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("health server failed")
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Msg("starting outbox relay")
		errCh <- listener.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
		if err := <-errCh; err != nil {
			log.Error().Err(err).Msg("listener stop")
		}
	case err := <-errCh:
		log.Error().Err(err).Msg("listener exited unexpectedly")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server shutdown")
	}
	log.Info().Msg("graceful shutdown complete")
}
