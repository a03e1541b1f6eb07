package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/gavel/go/internal/models"
)

// Event payload types shared by the authority, the outbox relay and the session views.

// EventType represents the type of auction event
type EventType string

const (
	EventTypeBidPlaced          EventType = "BidPlaced"
	EventTypeParticipantUpdated EventType = "ParticipantUpdated"
	EventTypeSessionPaused      EventType = "SessionPaused"
	EventTypeSessionResumed     EventType = "SessionResumed"
	EventTypeSessionUpdated     EventType = "SessionUpdated"
	EventTypeWinnerResolved     EventType = "WinnerResolved"
)

// Envelope is the wire format of every pushed event.
type Envelope struct {
	EventID   uuid.UUID       `json:"eventId"`
	EventType EventType       `json:"eventType"`
	SessionID uuid.UUID       `json:"sessionId"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// BidPlacedPayload is the payload for a BidPlaced event
type BidPlacedPayload struct {
	Bid models.Bid `json:"bid"`
}

// ParticipantUpdatedPayload is the payload for a ParticipantUpdated event
type ParticipantUpdatedPayload struct {
	Participant models.Participant `json:"participant"`
}

// SessionPausedPayload is the payload for a SessionPaused event
type SessionPausedPayload struct {
	PausedAt time.Time `json:"paused_at"`
	PausedBy uuid.UUID `json:"paused_by"`
}

// SessionResumedPayload is the payload for a SessionResumed event
type SessionResumedPayload struct {
	ResumedAt   time.Time     `json:"resumed_at"`
	PausedTotal time.Duration `json:"paused_total"`
}

// SessionUpdatedPayload carries the full session record after any other change.
type SessionUpdatedPayload struct {
	Session models.AuctionSession `json:"session"`
}

// WinnerResolvedPayload is the payload for a WinnerResolved event
type WinnerResolvedPayload struct {
	Resolution models.WinnerResolution `json:"resolution"`
	Amount     decimal.Decimal         `json:"amount"`
}

// NewEnvelope marshals a payload into an envelope with a fresh event id.
func NewEnvelope(sessionID uuid.UUID, eventType EventType, at time.Time, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Envelope{
		EventID:   uuid.New(),
		EventType: eventType,
		SessionID: sessionID,
		Timestamp: at,
		Payload:   data,
	}, nil
}

// Decode parses raw bytes into an envelope.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.EventID == uuid.Nil || env.SessionID == uuid.Nil || env.EventType == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing id, session or type")
	}
	return env, nil
}

// ParsePayload parses the envelope payload into the matching payload struct.
// Unknown event types return (nil, nil).
func ParsePayload(env Envelope) (any, error) {
	switch env.EventType {
	case EventTypeBidPlaced:
		var payload BidPlacedPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeParticipantUpdated:
		var payload ParticipantUpdatedPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeSessionPaused:
		var payload SessionPausedPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeSessionResumed:
		var payload SessionResumedPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeSessionUpdated:
		var payload SessionUpdatedPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeWinnerResolved:
		var payload WinnerResolvedPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	default:
		return nil, nil
	}
}

const (
	topicPrefix = "auction"
	// AllUsers is the user segment operators subscribe with.
	AllUsers = "*"
)

// SessionTopic is the subject carrying session-wide events.
func SessionTopic(sessionID uuid.UUID) string {
	return fmt.Sprintf("%s.session.%s", topicPrefix, sessionID)
}

// ParticipantTopic is the subject carrying participant updates for one user.
// Pass AllUsers to cover the whole roster.
func ParticipantTopic(sessionID uuid.UUID, user string) string {
	return fmt.Sprintf("%s.participant.%s.%s", topicPrefix, sessionID, user)
}

// TopicFor returns the subject an envelope is published on.
func TopicFor(env Envelope) (string, error) {
	if env.EventType != EventTypeParticipantUpdated {
		return SessionTopic(env.SessionID), nil
	}
	var payload ParticipantUpdatedPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return "", fmt.Errorf("topic for %s: %w", env.EventID, err)
	}
	return ParticipantTopic(env.SessionID, payload.Participant.UserID.String()), nil
}

// StreamSubjects are the subjects the JetStream stream must bind.
var StreamSubjects = []string{topicPrefix + ".>"}

// SessionIDFromTopic extracts the session id segment from a subject.
func SessionIDFromTopic(topic string) (uuid.UUID, bool) {
	parts := strings.Split(topic, ".")
	if len(parts) < 3 || parts[0] != topicPrefix {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(parts[2])
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
