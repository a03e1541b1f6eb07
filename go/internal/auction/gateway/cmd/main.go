package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/gavel/go/internal/auction/channel"
	"github.com/mcdev12/gavel/go/internal/auction/gateway"
	"github.com/mcdev12/gavel/go/internal/auction/seed"
	"github.com/mcdev12/gavel/go/internal/auction/store"
	"github.com/mcdev12/gavel/go/internal/auction/store/memstore"
	"github.com/mcdev12/gavel/go/internal/auction/store/rpcstore"
	"github.com/mcdev12/gavel/go/internal/config"
)

func main() {
	config.LoadDotEnv()

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	level, err := zerolog.ParseLevel(config.GetEnv("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	policy, err := config.Load(config.GetEnv("POLICY_FILE", ""))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load policy")
	}

	port := config.GetEnv("GATEWAY_PORT", "8081")
	mode := config.GetEnv("STORE_MODE", "rpc")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewRealClock()
	opts := policy.SessionOptions(clock)

	var closeTransport func() error
	switch mode {
	case "rpc":
		authorityURL := config.GetEnv("AUTHORITY_URL", "http://localhost:8080")
		client := rpcstore.NewClient(&http.Client{Timeout: policy.CommandTimeout}, authorityURL, os.Getenv("AUTHORITY_TOKEN"))
		opts.Store = store.NewRetrying(client, policy.Retry)

		natsCfg := channel.DefaultNATSConfig()
		natsCfg.URL = config.GetEnv("NATS_URL", natsCfg.URL)
		transport, err := channel.ConnectNATS(ctx, natsCfg)
		if err != nil {
			log.Fatal().Err(err).Str("nats_url", natsCfg.URL).Msg("failed to connect to NATS")
		}
		opts.Transport = transport
		closeTransport = transport.Close

		log.Info().Str("authority_url", authorityURL).Str("nats_url", natsCfg.URL).Msg("using remote authority")

	case "memory":
		local := channel.NewLocal()
		mem := memstore.New(memstore.Options{
			Clock:               clock,
			Validator:           opts.Validator,
			Resolver:            opts.Resolver,
			KickReasonMinLength: policy.KickReasonMinLength,
			Emit:                local.PublishEnvelope,
		})
		if path := os.Getenv("SEED_FILE"); path != "" {
			f, err := seed.Load(path)
			if err != nil {
				log.Fatal().Err(err).Msg("failed to load seed file")
			}
			counts, err := f.Apply(ctx, seed.Memory(mem), clock.Now())
			if err != nil {
				log.Fatal().Err(err).Msg("failed to apply seed file")
			}
			log.Info().Int("sessions", counts.Sessions).Int("participants", counts.Participants).Msg("seeded in-memory authority")
		}
		opts.Store = mem
		opts.Transport = local
		closeTransport = local.Close

		log.Warn().Msg("using in-memory authority, state is lost on exit")

	default:
		log.Fatal().Str("store_mode", mode).Msg("STORE_MODE must be rpc or memory")
	}

	gatewayConfig := gateway.DefaultConfig()
	gatewayConfig.AllowQueryIdentity = config.GetEnvAsBool("ALLOW_QUERY_IDENTITY", mode == "memory")
	gatewayService := gateway.NewService(gatewayConfig, opts)

	mux := http.NewServeMux()
	gatewayService.RegisterRoutes(mux)

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", port),
		Handler:     c.Handler(mux),
		ReadTimeout: 10 * time.Second,
		// Command requests wait for the authority; leave room beyond the command timeout.
		WriteTimeout: policy.CommandTimeout + 5*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		if err := gatewayService.Start(ctx); err != nil {
			log.Error().Err(err).Msg("gateway service failed")
		}
	}()

	go func() {
		log.Info().Str("addr", server.Addr).Str("store_mode", mode).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	cancel()
	if err := gatewayService.Stop(); err != nil {
		log.Error().Err(err).Msg("gateway service stop failed")
	}
	if err := closeTransport(); err != nil {
		log.Error().Err(err).Msg("failed to close transport")
	}

	log.Info().Msg("session gateway shutdown complete")
}
