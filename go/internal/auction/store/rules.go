package store

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mcdev12/gavel/go/internal/auction/bidding"
	"github.com/mcdev12/gavel/go/internal/auction/ledger"
	"github.com/mcdev12/gavel/go/internal/models"
)

// Reasons the authority uses besides the bidding.Reason values.
const (
	ReasonReasonTooShort = "REASON_TOO_SHORT"
	ReasonNotEnded       = "NOT_ENDED"
	ReasonNoWinner       = "NO_WINNER"
	ReasonWinnerMismatch = "WINNER_MISMATCH"
	ReasonBadOutcome     = "BAD_OUTCOME"
)

// Admit turns the authority's validator decision into its answer. Falling
// below the minimum at the authority means another bid got in first, so it
// is reported as a conflict carrying the current highest.
func Admit(d bidding.Decision, highest decimal.Decimal) error {
	switch d.Reason {
	case bidding.ReasonNone:
		return nil
	case bidding.ReasonBelowMinimum:
		return Conflict(highest)
	default:
		return Reject(ErrValidation, string(d.Reason))
	}
}

// CheckKickReason enforces the minimum trimmed reason length.
func CheckKickReason(reason string, minLength int) error {
	if len([]rune(strings.TrimSpace(reason))) < minLength {
		return Reject(ErrValidation, ReasonReasonTooShort)
	}
	return nil
}

// Leader returns the winning bid of a set of bids, if any.
func Leader(session models.AuctionSession, bids []models.Bid) (models.Bid, bool) {
	return ledger.NewBids(session.ID, session.StartingPrice).Merge(bids...).Leader()
}
