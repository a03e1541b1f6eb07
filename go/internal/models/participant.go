package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ParticipantStatus defines where a bidder is in the approval workflow.
type ParticipantStatus string

const (
	ParticipantStatusPending   ParticipantStatus = "PENDING"
	ParticipantStatusApproved  ParticipantStatus = "APPROVED"
	ParticipantStatusRejected  ParticipantStatus = "REJECTED"
	ParticipantStatusPaid      ParticipantStatus = "PAID"
	ParticipantStatusCompleted ParticipantStatus = "COMPLETED"
)

// Valid reports whether s is one of the known statuses.
func (s ParticipantStatus) Valid() bool {
	switch s {
	case ParticipantStatusPending, ParticipantStatusApproved, ParticipantStatusRejected,
		ParticipantStatusPaid, ParticipantStatusCompleted:
		return true
	default:
		return false
	}
}

// Participant is a bidder's registration record scoped to one session.
type Participant struct {
	ID            uuid.UUID         `json:"id"`
	SessionID     uuid.UUID         `json:"session_id"`
	UserID        uuid.UUID         `json:"user_id"`
	DepositAmount decimal.Decimal   `json:"deposit_amount"`
	Status        ParticipantStatus `json:"status"`
	Revision      int64             `json:"revision"` // bumped only by explicit overrides of a terminal status
	KickReason    *string           `json:"kick_reason,omitempty"`
	UpdatedAt     time.Time         `json:"updated_at"`
}
