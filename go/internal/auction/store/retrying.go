package store

import (
	"context"
	"fmt"
	"time"

	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"github.com/felixgeelhaar/fortify/retry"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/gavel/go/internal/models"
)

// RetryConfig bounds the retries of a Retrying store.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	// BreakAfter opens the circuit after this many consecutive failures; 0 disables the breaker.
	BreakAfter   int           `yaml:"break_after"`
	BreakTimeout time.Duration `yaml:"break_timeout"`
}

// DefaultRetryConfig returns the settings used by the session views.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		BreakAfter:   5,
		BreakTimeout: 15 * time.Second,
	}
}

// Retrying decorates a Store with bounded retries of network failures and a
// circuit breaker. Validation, conflict, auth and timeout errors are
// returned immediately.
type Retrying struct {
	next    Store
	cfg     RetryConfig
	breaker circuitbreaker.CircuitBreaker[any]
}

// NewRetrying wraps next.
func NewRetrying(next Store, cfg RetryConfig) *Retrying {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	r := &Retrying{next: next, cfg: cfg}
	if cfg.BreakAfter > 0 {
		threshold := cfg.BreakAfter
		r.breaker = circuitbreaker.New[any](circuitbreaker.Config{
			MaxRequests: 1,
			Interval:    30 * time.Second,
			Timeout:     cfg.BreakTimeout,
			ReadyToTrip: func(counts circuitbreaker.Counts) bool {
				return int(counts.ConsecutiveFailures) >= threshold
			},
			OnStateChange: func(from, to circuitbreaker.State) {
				log.Warn().
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("store circuit breaker state change")
			},
		})
	}
	return r
}

func retryable(err error) bool {
	return Classify(err) == KindNetwork
}

// call runs fn under the retry policy and, when configured, the breaker.
func call[T any](ctx context.Context, r *Retrying, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	retrier := retry.New[T](retry.Config{
		MaxAttempts:   r.cfg.MaxAttempts,
		InitialDelay:  r.cfg.InitialDelay,
		MaxDelay:      r.cfg.MaxDelay,
		Multiplier:    2.0,
		BackoffPolicy: retry.BackoffExponential,
		Jitter:        true,
		IsRetryable:   retryable,
	})

	// keep the store's own error so classification survives the retrier
	var last error
	attempt := func(ctx context.Context) (T, error) {
		v, err := fn(ctx)
		last = err
		return v, err
	}
	do := func(ctx context.Context) (T, error) {
		v, err := retrier.Do(ctx, attempt)
		if err != nil && last != nil && ctx.Err() == nil {
			err = last
		}
		return v, err
	}

	if r.breaker == nil {
		return do(ctx)
	}

	out, err := r.breaker.Execute(ctx, func(ctx context.Context) (any, error) {
		v, err := do(ctx)
		if err != nil && !retryable(err) && Classify(err) != KindTimeout {
			// the authority answered; not a breaker failure
			return answered[T]{v: v, err: err}, nil
		}
		return answered[T]{v: v}, err
	})
	res, _ := out.(answered[T])
	if err == nil {
		err = res.err
	}
	if err != nil && Classify(err) == KindUnknown {
		log.Warn().Err(err).Str("op", op).Msg("store call failed")
		err = fmt.Errorf("%s: %w: %w", op, ErrNetwork, err)
	}
	return res.v, err
}

// answered carries a result through the breaker.
type answered[T any] struct {
	v   T
	err error
}

func (r *Retrying) Snapshot(ctx context.Context, sessionID uuid.UUID) (Snapshot, error) {
	return call(ctx, r, "snapshot", func(ctx context.Context) (Snapshot, error) {
		return r.next.Snapshot(ctx, sessionID)
	})
}

func (r *Retrying) PlaceBid(ctx context.Context, req PlaceBidRequest) (models.Bid, error) {
	return call(ctx, r, "place bid", func(ctx context.Context) (models.Bid, error) {
		return r.next.PlaceBid(ctx, req)
	})
}

func (r *Retrying) PauseSession(ctx context.Context, req PauseRequest) (models.AuctionSession, error) {
	return call(ctx, r, "pause session", func(ctx context.Context) (models.AuctionSession, error) {
		return r.next.PauseSession(ctx, req)
	})
}

func (r *Retrying) ResumeSession(ctx context.Context, req PauseRequest) (models.AuctionSession, error) {
	return call(ctx, r, "resume session", func(ctx context.Context) (models.AuctionSession, error) {
		return r.next.ResumeSession(ctx, req)
	})
}

func (r *Retrying) KickParticipant(ctx context.Context, req KickRequest) (models.Participant, error) {
	return call(ctx, r, "kick participant", func(ctx context.Context) (models.Participant, error) {
		return r.next.KickParticipant(ctx, req)
	})
}

func (r *Retrying) ResolveWinner(ctx context.Context, req ResolveRequest) (models.AuctionSession, error) {
	return call(ctx, r, "resolve winner", func(ctx context.Context) (models.AuctionSession, error) {
		return r.next.ResolveWinner(ctx, req)
	})
}
