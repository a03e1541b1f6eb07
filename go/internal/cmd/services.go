package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/gavel/go/internal/auction/seed"
	"github.com/mcdev12/gavel/go/internal/auction/store/pgstore"
)

// setupStore wires the authoritative store and applies the optional seed file.
func setupStore(ctx context.Context, pool *pgxpool.Pool, cfg *serverConfig) (*pgstore.Store, error) {
	s := pgstore.New(pool, pgstore.Options{
		Validator:           cfg.Policy.Validator(),
		Resolver:            cfg.Policy.Resolver(),
		KickReasonMinLength: cfg.Policy.KickReasonMinLength,
	})

	if err := s.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	if cfg.SeedFile == "" {
		return s, nil
	}
	file, err := seed.Load(cfg.SeedFile)
	if err != nil {
		return nil, err
	}
	counts, err := file.Apply(ctx, s, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to apply seed file: %w", err)
	}
	log.Info().
		Str("file", cfg.SeedFile).
		Int("sessions", counts.Sessions).
		Int("participants", counts.Participants).
		Msg("seeded auction sessions")
	return s, nil
}
