package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATSConfig holds connection settings for the NATS transport.
type NATSConfig struct {
	URL                string
	Name               string
	MaxReconnects      int
	ReconnectWait      time.Duration
	MaxReconnectWait   time.Duration
	ConnectAttempts    int
	ConnectRetryWait   time.Duration
	ConnectMaxWaitTime time.Duration
}

// DefaultNATSConfig returns bounded reconnect settings.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:                nats.DefaultURL,
		Name:               "gavel-gateway",
		MaxReconnects:      60,
		ReconnectWait:      500 * time.Millisecond,
		MaxReconnectWait:   15 * time.Second,
		ConnectAttempts:    5,
		ConnectRetryWait:   time.Second,
		ConnectMaxWaitTime: 10 * time.Second,
	}
}

// ReconnectDelay is the capped exponential backoff used between reconnect attempts.
func ReconnectDelay(base, ceiling time.Duration, attempts int) time.Duration {
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	return min(d, ceiling)
}

// NATS is a Transport over a core NATS connection.
type NATS struct {
	nc *nats.Conn

	mu        sync.Mutex
	status    Status
	nextID    int
	listeners map[int]func(Status)
}

// ConnectNATS dials NATS, retrying the initial connect a bounded number of times.
func ConnectNATS(ctx context.Context, cfg NATSConfig) (*NATS, error) {
	t := &NATS{status: StatusDisconnected, listeners: make(map[int]func(Status))}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.CustomReconnectDelay(func(attempts int) time.Duration {
			return ReconnectDelay(cfg.ReconnectWait, cfg.MaxReconnectWait, attempts)
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
			if nc.IsReconnecting() {
				t.setStatus(StatusReconnecting)
			} else {
				t.setStatus(StatusDisconnected)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
			t.setStatus(StatusConnected)
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Warn().Msg("NATS connection closed")
			t.setStatus(StatusClosed)
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	connect := retry.New[*nats.Conn](retry.Config{
		MaxAttempts:   cfg.ConnectAttempts,
		InitialDelay:  cfg.ConnectRetryWait,
		MaxDelay:      cfg.ConnectMaxWaitTime,
		Multiplier:    2.0,
		BackoffPolicy: retry.BackoffExponential,
		Jitter:        true,
	})
	nc, err := connect.Do(ctx, func(ctx context.Context) (*nats.Conn, error) {
		nc, err := nats.Connect(cfg.URL, opts...)
		if err != nil {
			log.Warn().Err(err).Str("url", cfg.URL).Msg("NATS connect failed")
		}
		return nc, err
	})
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	t.nc = nc
	t.setStatus(StatusConnected)
	log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS transport connected")
	return t, nil
}

func (t *NATS) setStatus(s Status) {
	t.mu.Lock()
	if t.status == s {
		t.mu.Unlock()
		return
	}
	t.status = s
	listeners := make([]func(Status), 0, len(t.listeners))
	for _, fn := range t.listeners {
		listeners = append(listeners, fn)
	}
	t.mu.Unlock()

	for _, fn := range listeners {
		fn(s)
	}
}

func (t *NATS) Subscribe(topic string, h Handler) (Subscription, error) {
	sub, err := t.nc.Subscribe(topic, func(msg *nats.Msg) {
		h(Message{Topic: msg.Subject, Data: msg.Data})
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return sub, nil
}

func (t *NATS) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *NATS) OnStatus(fn func(Status)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	t.listeners[id] = fn
	return func() {
		t.mu.Lock()
		delete(t.listeners, id)
		t.mu.Unlock()
	}
}

// Conn exposes the underlying connection for publishers sharing it.
func (t *NATS) Conn() *nats.Conn { return t.nc }

func (t *NATS) Close() error {
	if t.nc != nil {
		if err := t.nc.Drain(); err != nil {
			t.nc.Close()
		}
	}
	return nil
}
