// Package config loads the auction policy shared by the authority, the
// gateway and the operator tools: built-in defaults, then an optional YAML
// file, then GAVEL_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/gavel/go/internal/auction/bidding"
	"github.com/mcdev12/gavel/go/internal/auction/phase"
	"github.com/mcdev12/gavel/go/internal/auction/session"
	"github.com/mcdev12/gavel/go/internal/auction/store"
)

// Policy holds every tunable of the session engine.
type Policy struct {
	Bidding             bidding.Policy    `yaml:"bidding"`
	Pause               phase.PausePolicy `yaml:"pause"`
	KickReasonMinLength int               `yaml:"kick_reason_min_length"`

	OperatorPollInterval time.Duration `yaml:"operator_poll_interval"`
	BidderPollInterval   time.Duration `yaml:"bidder_poll_interval"`
	TickInterval         time.Duration `yaml:"tick_interval"`
	CommandTimeout       time.Duration `yaml:"command_timeout"`

	Retry store.RetryConfig `yaml:"retry"`
}

// Default returns the built-in policy.
func Default() Policy {
	return Policy{
		Bidding:              bidding.DefaultPolicy(),
		Pause:                phase.PausePolicy{ExtendDeadline: false},
		KickReasonMinLength:  10,
		OperatorPollInterval: 2 * time.Second,
		BidderPollInterval:   5 * time.Second,
		TickInterval:         time.Second,
		CommandTimeout:       10 * time.Second,
		Retry:                store.DefaultRetryConfig(),
	}
}

// Load builds the policy. An empty path skips the file; a path that does not
// exist is an error.
func Load(path string) (Policy, error) {
	p := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Policy{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &p); err != nil {
			return Policy{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	p.applyEnv()
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func (p *Policy) applyEnv() {
	p.Bidding.CapMultiplier = int64(GetEnvAsInt("GAVEL_BID_CAP_MULTIPLIER", int(p.Bidding.CapMultiplier)))
	p.Pause.ExtendDeadline = GetEnvAsBool("GAVEL_PAUSE_EXTENDS_DEADLINE", p.Pause.ExtendDeadline)
	p.KickReasonMinLength = GetEnvAsInt("GAVEL_KICK_REASON_MIN_LENGTH", p.KickReasonMinLength)
	p.OperatorPollInterval = GetEnvAsDuration("GAVEL_OPERATOR_POLL_INTERVAL", p.OperatorPollInterval)
	p.BidderPollInterval = GetEnvAsDuration("GAVEL_BIDDER_POLL_INTERVAL", p.BidderPollInterval)
	p.TickInterval = GetEnvAsDuration("GAVEL_TICK_INTERVAL", p.TickInterval)
	p.CommandTimeout = GetEnvAsDuration("GAVEL_COMMAND_TIMEOUT", p.CommandTimeout)
	p.Retry.MaxAttempts = GetEnvAsInt("GAVEL_RETRY_MAX_ATTEMPTS", p.Retry.MaxAttempts)
}

// Validate rejects settings the engine cannot run with.
func (p Policy) Validate() error {
	switch {
	case p.Bidding.CapMultiplier <= 0:
		return fmt.Errorf("bidding.cap_multiplier must be positive, got %d", p.Bidding.CapMultiplier)
	case p.KickReasonMinLength <= 0:
		return fmt.Errorf("kick_reason_min_length must be positive, got %d", p.KickReasonMinLength)
	case p.OperatorPollInterval <= 0 || p.BidderPollInterval <= 0:
		return fmt.Errorf("poll intervals must be positive")
	case p.TickInterval <= 0:
		return fmt.Errorf("tick_interval must be positive")
	case p.CommandTimeout <= 0:
		return fmt.Errorf("command_timeout must be positive")
	}
	return nil
}

// Validator builds the bid validator for this policy.
func (p Policy) Validator() *bidding.Validator {
	return bidding.NewValidator(p.Bidding)
}

// Resolver builds the phase resolver for this policy.
func (p Policy) Resolver() *phase.Resolver {
	return phase.NewResolver(p.Pause)
}

// SessionOptions returns view options carrying this policy. Store and
// Transport are left for the caller.
func (p Policy) SessionOptions(clock clockwork.Clock) session.Options {
	return session.Options{
		Clock:                clock,
		Resolver:             p.Resolver(),
		Validator:            p.Validator(),
		OperatorPollInterval: p.OperatorPollInterval,
		BidderPollInterval:   p.BidderPollInterval,
		TickInterval:         p.TickInterval,
		CommandTimeout:       p.CommandTimeout,
		KickReasonMinLength:  p.KickReasonMinLength,
	}
}

// LoadDotEnv loads .env if present.
func LoadDotEnv() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}
}

func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func GetEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		log.Warn().Str("key", key).Str("value", value).Msg("ignoring non-integer environment value")
	}
	return defaultValue
}

func GetEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
		log.Warn().Str("key", key).Str("value", value).Msg("ignoring non-boolean environment value")
	}
	return defaultValue
}

func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Warn().Str("key", key).Str("value", value).Msg("ignoring invalid duration environment value")
	}
	return defaultValue
}
