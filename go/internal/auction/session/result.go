package session

import (
	"github.com/shopspring/decimal"

	"github.com/mcdev12/gavel/go/internal/auction/bidding"
	"github.com/mcdev12/gavel/go/internal/auction/store"
)

// Reason is the machine-readable tag of a command result. It is empty on
// success.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonNotBiddingTime  Reason = Reason(bidding.ReasonNotBiddingTime)
	ReasonNotEligible     Reason = Reason(bidding.ReasonNotEligible)
	ReasonBelowMinimum    Reason = Reason(bidding.ReasonBelowMinimum)
	ReasonAboveMaximum    Reason = Reason(bidding.ReasonAboveMaximum)
	ReasonConflict        Reason = "CONFLICT"
	ReasonUnauthorized    Reason = "UNAUTHORIZED"
	ReasonNetwork         Reason = "NETWORK"
	ReasonTimeout         Reason = "TIMEOUT"
	ReasonAlreadyResolved Reason = "ALREADY_RESOLVED"
	ReasonNotEnded        Reason = store.ReasonNotEnded
	ReasonNoWinner        Reason = store.ReasonNoWinner
	ReasonReasonTooShort  Reason = store.ReasonReasonTooShort
	ReasonNotFound        Reason = "NOT_FOUND"
	ReasonPending         Reason = "COMMAND_PENDING"
	ReasonValidation      Reason = "VALIDATION"
	ReasonUnknown         Reason = "UNKNOWN"
)

// Result is what every command returns. Failures the user can act on are
// results, not errors.
type Result struct {
	OK      bool             `json:"ok"`
	Reason  Reason           `json:"reason,omitempty"`
	Message string           `json:"message,omitempty"`
	Highest *decimal.Decimal `json:"highest,omitempty"`
	Minimum *decimal.Decimal `json:"minimum,omitempty"`
	Maximum *decimal.Decimal `json:"maximum,omitempty"`
}

func success(msg string) Result {
	return Result{OK: true, Message: msg}
}

func refused(reason Reason, msg string) Result {
	return Result{Reason: reason, Message: msg}
}

// reasonOf maps a store error to a result reason. Validation errors carry
// their own, more specific reason.
func reasonOf(err error) Reason {
	kind := store.Classify(err)
	switch kind {
	case store.KindNone:
		return ReasonNone
	case store.KindValidation:
		if r := store.ReasonOf(err); r != "" {
			return Reason(r)
		}
		return ReasonValidation
	default:
		return Reason(kind)
	}
}

func decimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}
