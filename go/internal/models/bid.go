package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Bid is an admitted bid. Bids are append-only and never mutated.
type Bid struct {
	ID        uuid.UUID       `json:"id"`
	SessionID uuid.UUID       `json:"session_id"`
	BidderID  uuid.UUID       `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
}

// HistoryBefore reports whether b sorts before other in display order (timestamp, then id).
func (b Bid) HistoryBefore(other Bid) bool {
	if !b.Timestamp.Equal(other.Timestamp) {
		return b.Timestamp.Before(other.Timestamp)
	}
	return b.ID.String() < other.ID.String()
}

// Outranks reports whether b beats other for the highest-bid position:
// larger amount first, then the earlier bid, then the lower id.
func (b Bid) Outranks(other Bid) bool {
	if c := b.Amount.Cmp(other.Amount); c != 0 {
		return c > 0
	}
	return b.HistoryBefore(other)
}
