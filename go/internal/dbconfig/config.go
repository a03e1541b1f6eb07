// Package dbconfig reads Postgres settings shared by the authority, the
// outbox relay and the seed tool.
package dbconfig

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcdev12/gavel/go/internal/config"
)

// Config holds Postgres connection settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	// URL, from DATABASE_URL, wins over the discrete fields when set.
	URL string

	MaxConns        int
	MaxConnIdleTime time.Duration
}

// NewConfigFromEnv reads DB_* environment variables (with defaults).
func NewConfigFromEnv() Config {
	return Config{
		Host:            config.GetEnv("DB_HOST", "localhost"),
		Port:            config.GetEnvAsInt("DB_PORT", 5432),
		User:            config.GetEnv("DB_USER", "postgres"),
		Password:        config.GetEnv("DB_PASSWORD", "postgres"),
		Database:        config.GetEnv("DB_NAME", "gavel"),
		SSLMode:         config.GetEnv("DB_SSLMODE", "disable"),
		URL:             config.GetEnv("DATABASE_URL", ""),
		MaxConns:        config.GetEnvAsInt("DB_MAX_CONNS", 10),
		MaxConnIdleTime: config.GetEnvAsDuration("DB_MAX_CONN_IDLE", 5*time.Minute),
	}
}

// DSN returns the Postgres connection URL. lib/pq and pgx both accept it.
func (c Config) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

// NewPool opens a pgx pool and pings it.
func (c Config) NewPool(ctx context.Context) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(c.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if c.MaxConns > 0 {
		poolConfig.MaxConns = int32(c.MaxConns)
	}
	poolConfig.MaxConnIdleTime = c.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}
