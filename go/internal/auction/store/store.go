// Package store defines the contract between session views and the
// authoritative auction store, plus the error taxonomy both sides share.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/gavel/go/internal/models"
)

// Snapshot is a full read of one session.
type Snapshot struct {
	Session      models.AuctionSession `json:"session"`
	Bids         []models.Bid          `json:"bids"`
	Participants []models.Participant  `json:"participants"`
	ServerTime   time.Time             `json:"server_time"`
}

// PlaceBidRequest submits a bid. ID is generated by the caller so a retried
// submission is idempotent.
type PlaceBidRequest struct {
	ID        uuid.UUID       `json:"id"`
	SessionID uuid.UUID       `json:"session_id"`
	BidderID  uuid.UUID       `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// PauseRequest pauses or resumes a session. At is the caller's reference time;
// the authority may substitute its own clock.
type PauseRequest struct {
	SessionID uuid.UUID `json:"session_id"`
	Actor     uuid.UUID `json:"actor"`
	At        time.Time `json:"at"`
}

// KickRequest forces a participant to REJECTED.
type KickRequest struct {
	SessionID     uuid.UUID `json:"session_id"`
	ParticipantID uuid.UUID `json:"participant_id"`
	Reason        string    `json:"reason"`
	Actor         uuid.UUID `json:"actor"`
}

// ResolveRequest records the operator's winner decision.
type ResolveRequest struct {
	SessionID uuid.UUID                `json:"session_id"`
	Outcome   models.ResolutionOutcome `json:"outcome"`
	WinnerID  uuid.UUID                `json:"winner_id"`
	Reason    string                   `json:"reason,omitempty"`
	Actor     uuid.UUID                `json:"actor"`
}

// Store is the authority. Implementations return errors that Classify
// understands.
type Store interface {
	Snapshot(ctx context.Context, sessionID uuid.UUID) (Snapshot, error)
	PlaceBid(ctx context.Context, req PlaceBidRequest) (models.Bid, error)
	PauseSession(ctx context.Context, req PauseRequest) (models.AuctionSession, error)
	ResumeSession(ctx context.Context, req PauseRequest) (models.AuctionSession, error)
	KickParticipant(ctx context.Context, req KickRequest) (models.Participant, error)
	ResolveWinner(ctx context.Context, req ResolveRequest) (models.AuctionSession, error)
}
