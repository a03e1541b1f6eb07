package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/gavel/go/internal/dbconfig"
)

func setupDatabase(ctx context.Context) (*pgxpool.Pool, error) {
	dbConfig := dbconfig.NewConfigFromEnv()

	pool, err := dbConfig.NewPool(ctx)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("user", dbConfig.User).
		Str("host", dbConfig.Host).
		Int("port", dbConfig.Port).
		Str("database", dbConfig.Database).
		Int32("max_conns", pool.Config().MaxConns).
		Msg("connected to database")
	return pool, nil
}
