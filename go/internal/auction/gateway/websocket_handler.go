package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles WebSocket upgrade requests for session connections
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	registry          *ViewRegistry
	allowQueryID      bool
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager, registry *ViewRegistry, allowQueryID bool) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		registry:          registry,
		allowQueryID:      allowQueryID,
	}
}

// HandleSessionConnection handles GET /ws/session?session_id=...
func (h *WebSocketHandler) HandleSessionConnection(w http.ResponseWriter, r *http.Request) {
	sessionIDStr := r.URL.Query().Get("session_id")
	if sessionIDStr == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	sessionID, err := uuid.Parse(sessionIDStr)
	if err != nil {
		http.Error(w, "invalid session_id format", http.StatusBadRequest)
		return
	}

	viewer, err := viewerFromRequest(r, h.allowQueryID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	view, release, err := h.registry.Acquire(r.Context(), sessionID, viewer)
	if err != nil {
		writeStoreError(w, err, sessionID)
		return
	}

	// The upgrader answers the client itself on failure.
	if err := h.connectionManager.UpgradeConnection(w, r, view, release); err != nil {
		log.Error().
			Err(err).
			Str("session_id", sessionID.String()).
			Str("viewer", viewer.String()).
			Msg("failed to upgrade WebSocket connection")
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	stats := h.connectionManager.GetConnectionStats()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		log.Error().Err(err).Msg("failed to encode connection stats")
	}
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/session", h.HandleSessionConnection)
	mux.HandleFunc("GET /ws/stats", h.HandleConnectionStats)
}
