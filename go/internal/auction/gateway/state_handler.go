package gateway

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/gavel/go/internal/auction/store"
)

// maxCommandBody bounds REST command bodies.
const maxCommandBody = 4096

// StateHandler serves session state and commands over plain HTTP for
// clients that do not hold a websocket.
type StateHandler struct {
	registry     *ViewRegistry
	allowQueryID bool
}

// NewStateHandler creates a new state handler
func NewStateHandler(registry *ViewRegistry, allowQueryID bool) *StateHandler {
	return &StateHandler{registry: registry, allowQueryID: allowQueryID}
}

// HandleGetSessionState handles GET /api/sessions/{id}/state
func (h *StateHandler) HandleGetSessionState(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "Invalid session ID format", http.StatusBadRequest)
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
	defer release()

	writeJSON(w, http.StatusOK, view.State())
}

// HandleCommand handles POST /api/sessions/{id}/{action}
func (h *StateHandler) HandleCommand(w http.ResponseWriter, r *http.Request) {
	name, known := commandForAction[r.PathValue("action")]
	if !known {
		http.NotFound(w, r)
		return
	}
	sessionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "Invalid session ID format", http.StatusBadRequest)
		return
	}
	viewer, err := viewerFromRequest(r, h.allowQueryID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	var cmd Command
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBody))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &cmd); err != nil {
			http.Error(w, "Malformed command body", http.StatusBadRequest)
			return
		}
	}
	cmd.Command = name

	view, release, err := h.registry.Acquire(r.Context(), sessionID, viewer)
	if err != nil {
		writeStoreError(w, err, sessionID)
		return
	}
	defer release()

	result, err := cmd.Run(r.Context(), view)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	log.Debug().
		Str("session_id", sessionID.String()).
		Str("viewer", viewer.String()).
		Str("command", string(name)).
		Bool("ok", result.OK).
		Str("reason", string(result.Reason)).
		Msg("command handled")
	writeJSON(w, http.StatusOK, result)
}

// RegisterStateRoutes registers state-related HTTP routes
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sessions/{id}/state", h.HandleGetSessionState)
	mux.HandleFunc("POST /api/sessions/{id}/{action}", h.HandleCommand)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeStoreError(w http.ResponseWriter, err error, sessionID uuid.UUID) {
	switch store.Classify(err) {
	case store.KindNotFound:
		http.Error(w, "Session not found", http.StatusNotFound)
	case store.KindAuth:
		http.Error(w, "Not allowed", http.StatusForbidden)
	case store.KindNetwork, store.KindTimeout:
		log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("authority unavailable")
		http.Error(w, "Authority unavailable", http.StatusBadGateway)
	default:
		log.Error().Err(err).Str("session_id", sessionID.String()).Msg("failed to open session view")
		http.Error(w, "Failed to load session", http.StatusInternalServerError)
	}
}
