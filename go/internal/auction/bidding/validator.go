// Package bidding holds the client-side bid pre-check.
package bidding

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mcdev12/gavel/go/internal/auction/phase"
	"github.com/mcdev12/gavel/go/internal/models"
)

// DefaultCapMultiplier bounds a bid to currentHighest + 100 steps.
const DefaultCapMultiplier = 100

// Reason is a machine-readable rejection reason.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonNotBiddingTime Reason = "NOT_BIDDING_TIME"
	ReasonNotEligible    Reason = "NOT_ELIGIBLE"
	ReasonBelowMinimum   Reason = "BELOW_MINIMUM"
	ReasonAboveMaximum   Reason = "ABOVE_MAXIMUM"
)

// Policy is shared by every surface that validates bids.
type Policy struct {
	// CapMultiplier is the fat-finger guard: a bid may exceed the current
	// highest by at most CapMultiplier steps.
	CapMultiplier int64 `yaml:"cap_multiplier" json:"cap_multiplier"`
}

// DefaultPolicy returns the default bid policy
func DefaultPolicy() Policy {
	return Policy{CapMultiplier: DefaultCapMultiplier}
}

// Input is everything the validator looks at.
type Input struct {
	CurrentHighest    decimal.Decimal
	BidStep           decimal.Decimal
	Candidate         decimal.Decimal
	ParticipantStatus models.ParticipantStatus
	Phase             phase.Phase
}

// Decision is Accept when Reason is empty.
type Decision struct {
	Reason  Reason
	Minimum decimal.Decimal
	Maximum decimal.Decimal
}

// Accepted reports whether the candidate passed every check.
func (d Decision) Accepted() bool {
	return d.Reason == ReasonNone
}

func (d Decision) String() string {
	if d.Accepted() {
		return "accept"
	}
	return fmt.Sprintf("reject(%s)", d.Reason)
}

// Validator applies a Policy.
type Validator struct {
	policy Policy
}

// NewValidator creates a validator. A non-positive cap falls back to the default.
func NewValidator(policy Policy) *Validator {
	if policy.CapMultiplier <= 0 {
		policy.CapMultiplier = DefaultCapMultiplier
	}
	return &Validator{policy: policy}
}

// Policy returns the effective policy.
func (v *Validator) Policy() Policy {
	return v.policy
}

// MinimumNext is the smallest acceptable amount.
func (v *Validator) MinimumNext(highest, step decimal.Decimal) decimal.Decimal {
	return highest.Add(step)
}

// MaximumNext is the largest acceptable amount.
func (v *Validator) MaximumNext(highest, step decimal.Decimal) decimal.Decimal {
	return highest.Add(step.Mul(decimal.NewFromInt(v.policy.CapMultiplier)))
}

// Validate checks, in order: phase, eligibility, lower bound, upper bound.
func (v *Validator) Validate(in Input) Decision {
	d := Decision{
		Minimum: v.MinimumNext(in.CurrentHighest, in.BidStep),
		Maximum: v.MaximumNext(in.CurrentHighest, in.BidStep),
	}
	switch {
	case in.Phase != phase.BiddingOpen:
		d.Reason = ReasonNotBiddingTime
	case in.ParticipantStatus != models.ParticipantStatusApproved:
		d.Reason = ReasonNotEligible
	case in.Candidate.IsNegative() || in.Candidate.LessThan(d.Minimum):
		d.Reason = ReasonBelowMinimum
	case in.Candidate.GreaterThan(d.Maximum):
		d.Reason = ReasonAboveMaximum
	}
	return d
}
