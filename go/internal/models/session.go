package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ResolutionOutcome records how an operator settled the winner of an ended session.
type ResolutionOutcome string

const (
	ResolutionConfirmed ResolutionOutcome = "CONFIRMED"
	ResolutionRejected  ResolutionOutcome = "REJECTED"
)

// WinnerResolution is written at most once per session.
type WinnerResolution struct {
	Outcome    ResolutionOutcome `json:"outcome"`
	WinnerID   uuid.UUID         `json:"winner_id"`
	Reason     string            `json:"reason,omitempty"`
	ResolvedBy string            `json:"resolved_by,omitempty"`
	ResolvedAt time.Time         `json:"resolved_at"`
}

// AuctionSession represents one scheduled auction. Nil timestamps mean the
// schedule is incomplete.
type AuctionSession struct {
	ID              uuid.UUID         `json:"id"`
	Title           string            `json:"title,omitempty"`
	RegisterStart   *time.Time        `json:"register_start,omitempty"`
	RegisterEnd     *time.Time        `json:"register_end,omitempty"`
	CheckinTime     *time.Time        `json:"checkin_time,omitempty"`
	BidStart        *time.Time        `json:"bid_start,omitempty"`
	BidEnd          *time.Time        `json:"bid_end,omitempty"`
	BidStepAmount   decimal.Decimal   `json:"bid_step_amount"`
	StartingPrice   decimal.Decimal   `json:"starting_price"`
	Paused          bool              `json:"paused"`
	PausedAt        *time.Time        `json:"paused_at,omitempty"`
	PausedTotal     time.Duration     `json:"paused_total"` // accumulated pause time, see phase.PausePolicy
	CurrentWinnerID *uuid.UUID        `json:"current_winner_id,omitempty"`
	Resolution      *WinnerResolution `json:"resolution,omitempty"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate pointer fields safely.
func (s AuctionSession) Clone() AuctionSession {
	out := s
	out.RegisterStart = cloneTime(s.RegisterStart)
	out.RegisterEnd = cloneTime(s.RegisterEnd)
	out.CheckinTime = cloneTime(s.CheckinTime)
	out.BidStart = cloneTime(s.BidStart)
	out.BidEnd = cloneTime(s.BidEnd)
	out.PausedAt = cloneTime(s.PausedAt)
	if s.CurrentWinnerID != nil {
		id := *s.CurrentWinnerID
		out.CurrentWinnerID = &id
	}
	if s.Resolution != nil {
		r := *s.Resolution
		out.Resolution = &r
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
