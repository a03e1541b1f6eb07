// Package outbox relays events the authority wrote to the auction_outbox
// table onto NATS JetStream. Each row is published at least once; JetStream
// drops duplicates by event ID inside its duplicate window.
package outbox

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when an outbox row is missing or already sent.
var ErrNotFound = errors.New("outbox event not found or already sent")

// Event is one row of the outbox. Payload is the full events.Envelope JSON.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	SessionID uuid.UUID       `json:"session_id"`
	EventType string          `json:"event_type"`
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	SentAt    *time.Time      `json:"sent_at,omitempty"`
}
