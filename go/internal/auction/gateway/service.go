// Package gateway exposes session views to UI clients: a websocket per
// viewer streaming state and accepting commands, and REST endpoints for the
// same state and commands.
package gateway

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/gavel/go/internal/auction/session"
)

// Service is the session gateway: view registry, websocket connections and
// REST handlers.
type Service struct {
	registry          *ViewRegistry
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	stateHandler      *StateHandler
}

// Config holds configuration for the gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
	// AllowQueryIdentity accepts user_id and role query parameters when the
	// identity headers are missing. Development only.
	AllowQueryIdentity bool
}

// DefaultConfig returns default configuration for the gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
	}
}

// NewService creates a gateway opening views with opts.
func NewService(config Config, opts session.Options) *Service {
	registry := NewViewRegistry(opts)
	connectionManager := NewConnectionManager(config.ConnectionConfig, registry)

	return &Service{
		registry:          registry,
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager, registry, config.AllowQueryIdentity),
		stateHandler:      NewStateHandler(registry, config.AllowQueryIdentity),
	}
}

// Start blocks until ctx is done, then stops the service.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting session gateway service")
	s.connectionManager.Start(ctx)
	return s.Stop()
}

// Stop closes every connection and view.
func (s *Service) Stop() error {
	s.connectionManager.CloseAll()
	s.registry.Close()
	log.Info().Msg("session gateway service stopped")
	return nil
}

// RegisterRoutes registers the WebSocket and REST routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.stateHandler.RegisterStateRoutes(mux)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})
	log.Info().Msg("session gateway routes registered")
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() map[string]interface{} {
	stats := s.connectionManager.GetConnectionStats()
	stats["service"] = "session_gateway"
	stats["status"] = "running"
	return stats
}
