package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/gavel/go/internal/config"
)

func main() {
	config.LoadDotEnv()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	if lvl, err := zerolog.ParseLevel(config.GetEnv("LOG_LEVEL", "info")); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	cfg, err := loadServerConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Token == "" {
		log.Warn().Msg("AUTHORITY_TOKEN is empty; the authority accepts unauthenticated calls")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := setupDatabase(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup database")
	}
	defer pool.Close()

	s, err := setupStore(ctx, pool, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup store")
	}

	server := setupServer(s, cfg)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("auction authority listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
}
