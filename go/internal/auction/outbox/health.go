package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

type HealthStatus struct {
	Healthy           bool      `json:"healthy"`
	EventsPublished   uint64    `json:"events_published"`
	PublishFailures   uint64    `json:"publish_failures"`
	LastEventTime     time.Time `json:"last_event_time"`
	PendingEvents     int       `json:"pending_events"`
	DatabaseConnected bool      `json:"database_connected"`
	NATSConnected     bool      `json:"nats_connected"`
	ListenerActive    bool      `json:"listener_active"`
	Errors            []string  `json:"errors"`
}

// Database is what the health check needs from the outbox table.
type Database interface {
	Ping(ctx context.Context) error
	CountPending(ctx context.Context) (int, error)
}

// HealthChecker reports on the relay. It is unhealthy when a dependency is
// down or when rows are pending and nothing was published for threshold.
type HealthChecker struct {
	listener  *Listener
	db        Database
	connected func() bool
	clock     clockwork.Clock
	threshold time.Duration
	// pendingAlert flags a growing backlog without failing the check.
	pendingAlert int
}

func NewHealthChecker(listener *Listener, db Database, connected func() bool, clock clockwork.Clock, threshold time.Duration) *HealthChecker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &HealthChecker{
		listener:     listener,
		db:           db,
		connected:    connected,
		clock:        clock,
		threshold:    threshold,
		pendingAlert: 1000,
	}
}

func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{Healthy: true, Errors: []string{}}

	status.EventsPublished, status.PublishFailures, status.LastEventTime = h.listener.Stats()

	if err := h.db.Ping(ctx); err != nil {
		status.Healthy = false
		status.Errors = append(status.Errors, fmt.Sprintf("database ping failed: %v", err))
	} else {
		status.DatabaseConnected = true
	}

	if h.connected != nil {
		status.NATSConnected = h.connected()
		if !status.NATSConnected {
			status.Healthy = false
			status.Errors = append(status.Errors, "NATS disconnected")
		}
	}

	status.ListenerActive = h.listener.Running()
	if !status.ListenerActive {
		status.Healthy = false
		status.Errors = append(status.Errors, "listener not active")
	}

	if status.DatabaseConnected {
		pending, err := h.db.CountPending(ctx)
		if err != nil {
			status.Errors = append(status.Errors, fmt.Sprintf("failed to count pending events: %v", err))
		} else {
			status.PendingEvents = pending
			if pending > h.pendingAlert {
				status.Errors = append(status.Errors, fmt.Sprintf("high pending event count: %d", pending))
			}
		}
	}

	if status.PendingEvents > 0 && !status.LastEventTime.IsZero() {
		since := h.clock.Since(status.LastEventTime)
		if since > h.threshold {
			status.Healthy = false
			status.Errors = append(status.Errors, fmt.Sprintf("no events published for %s", since))
		}
	}

	return status
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(status); err != nil {
		log.Error().Err(err).Msg("failed to encode health status")
	}
}
