package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

type ListenerConfig struct {
	DatabaseURL      string        // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel    string        // Channel name to LISTEN on
	FallbackInterval time.Duration // How often to poll for missed events
	MaxRetries       int
	RetryDelay       time.Duration
	PingInterval     time.Duration
	BatchSize        int // Max events to fetch per batch
}

func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		NotifyChannel:    "auction_outbox",
		FallbackInterval: 30 * time.Second,
		MaxRetries:       5,
		RetryDelay:       200 * time.Millisecond,
		PingInterval:     90 * time.Second,
		BatchSize:        100,
	}
}

// Publisher sends one event downstream.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// EventStore is what the listener needs from the outbox table.
type EventStore interface {
	FetchByID(ctx context.Context, id uuid.UUID) (Event, error)
	FetchUnsent(ctx context.Context, limit int) ([]Event, error)
	MarkSent(ctx context.Context, id uuid.UUID) error
}

// Notifier is the LISTEN side; *pq.Listener satisfies it.
type Notifier interface {
	NotificationChannel() <-chan *pq.Notification
	Ping() error
	Close() error
}

type Listener struct {
	events    EventStore
	notifier  Notifier
	publisher Publisher
	clock     clockwork.Clock
	cfg       ListenerConfig

	mu        sync.Mutex
	running   bool
	published uint64
	failed    uint64
	lastSent  time.Time
}

// NewPQNotifier opens a lib/pq listener on cfg.NotifyChannel.
func NewPQNotifier(cfg ListenerConfig) (*pq.Listener, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
			if ev == pq.ListenerEventReconnected {
				log.Info().Msg("listener reconnected")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for notifications")
	return l, nil
}

func NewListener(events EventStore, notifier Notifier, publisher Publisher, clock clockwork.Clock, cfg ListenerConfig) *Listener {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultListenerConfig().BatchSize
	}
	return &Listener{
		events:    events,
		notifier:  notifier,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
	}
}

// Start relays until ctx is done. Unsent rows left by an earlier run are
// drained first.
func (l *Listener) Start(ctx context.Context) error {
	log.Info().
		Str("channel", l.cfg.NotifyChannel).
		Dur("ping_interval", l.cfg.PingInterval).
		Dur("fallback_interval", l.cfg.FallbackInterval).
		Msg("listener started")

	l.setRunning(true)
	defer l.setRunning(false)

	pingTicker := l.clock.NewTicker(l.cfg.PingInterval)
	fallbackTicker := l.clock.NewTicker(l.cfg.FallbackInterval)
	defer pingTicker.Stop()
	defer fallbackTicker.Stop()

	if err := l.processUnsent(ctx); err != nil {
		log.Error().Err(err).Msg("failed to process unsent events")
	}

	notifications := l.notifier.NotificationChannel()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("listener shutting down")
			return l.Stop()
		case note := <-notifications:
			if note == nil {
				// the connection was re-established; notifications may have been missed
				if err := l.processUnsent(ctx); err != nil {
					log.Error().Err(err).Msg("failed to process unsent events")
				}
				continue
			}
			if err := l.handleNotification(ctx, note.Extra); err != nil {
				log.Error().Err(err).Msg("failed to handle notification")
			}
		case <-fallbackTicker.Chan():
			if err := l.processUnsent(ctx); err != nil {
				log.Error().Err(err).Msg("failed to process unsent events")
			}
		case <-pingTicker.Chan():
			if err := l.notifier.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (l *Listener) Stop() error {
	return l.notifier.Close()
}

// Stats reports published and failed counts and the time of the last publish.
func (l *Listener) Stats() (published, failed uint64, lastSent time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.published, l.failed, l.lastSent
}

// Running reports whether Start is looping.
func (l *Listener) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *Listener) setRunning(v bool) {
	l.mu.Lock()
	l.running = v
	l.mu.Unlock()
}

// handleNotification publishes the event whose ID is the notification payload.
func (l *Listener) handleNotification(ctx context.Context, extra string) error {
	id, err := uuid.Parse(extra)
	if err != nil {
		return fmt.Errorf("invalid event ID in notification: %w", err)
	}

	event, err := l.events.FetchByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		// already relayed by the fallback poll
		log.Debug().Str("event_id", id.String()).Msg("notified event already sent")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to fetch outbox event: %w", err)
	}
	return l.relay(ctx, event)
}

// processUnsent relays every unsent row in batches.
func (l *Listener) processUnsent(ctx context.Context) error {
	for {
		unsent, err := l.events.FetchUnsent(ctx, l.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("failed to fetch unsent outbox events: %w", err)
		}

		relayed := 0
		for _, event := range unsent {
			if err := l.relay(ctx, event); err != nil {
				log.Error().Err(err).Str("event_id", event.ID.String()).Msg("failed to relay event")
				continue
			}
			relayed++
		}
		// A short or failing batch means there is nothing more to drain now.
		if len(unsent) < l.cfg.BatchSize || relayed < len(unsent) {
			return nil
		}
	}
}

func (l *Listener) relay(ctx context.Context, event Event) error {
	if err := l.publishWithRetry(ctx, event); err != nil {
		l.mu.Lock()
		l.failed++
		l.mu.Unlock()
		return fmt.Errorf("failed to publish event: %w", err)
	}
	if err := l.events.MarkSent(ctx, event.ID); err != nil {
		return err
	}

	l.mu.Lock()
	l.published++
	l.lastSent = l.clock.Now()
	l.mu.Unlock()

	log.Info().
		Str("event_id", event.ID.String()).
		Str("event_type", event.EventType).
		Str("session_id", event.SessionID.String()).
		Msg("published and marked event as sent")
	return nil
}

// publishWithRetry publishes with bounded exponential backoff.
func (l *Listener) publishWithRetry(ctx context.Context, event Event) error {
	attempt := 0
	retrier := retry.New[struct{}](retry.Config{
		MaxAttempts:   l.cfg.MaxRetries + 1,
		InitialDelay:  l.cfg.RetryDelay,
		MaxDelay:      l.cfg.RetryDelay * 16,
		Multiplier:    2.0,
		BackoffPolicy: retry.BackoffExponential,
		IsRetryable: func(err error) bool {
			return !errors.Is(err, context.Canceled)
		},
	})

	_, err := retrier.Do(ctx, func(ctx context.Context) (struct{}, error) {
		attempt++
		if err := l.publisher.Publish(ctx, event); err != nil {
			log.Warn().
				Err(err).
				Int("attempt", attempt).
				Str("event_id", event.ID.String()).
				Msg("failed to publish, retrying")
			return struct{}{}, err
		}
		return struct{}{}, nil
	})
	if err != nil {
		return fmt.Errorf("publish failed after %d attempts: %w", attempt, err)
	}
	if attempt > 1 {
		log.Info().
			Int("attempt", attempt).
			Str("event_id", event.ID.String()).
			Msg("publish succeeded after retry")
	}
	return nil
}
