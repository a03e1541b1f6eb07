package bidding

import (
	"testing"

	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/gavel/go/internal/auction/phase"
	"github.com/mcdev12/gavel/go/internal/models"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func input(highest, step, candidate int64) Input {
	return Input{
		CurrentHighest:    d(highest),
		BidStep:           d(step),
		Candidate:         d(candidate),
		ParticipantStatus: models.ParticipantStatusApproved,
		Phase:             phase.BiddingOpen,
	}
}

func TestValidateBounds(t *testing.T) {
	v := NewValidator(DefaultPolicy())
	tests := []struct {
		name      string
		candidate int64
		expected  Reason
	}{
		{"equal to highest rejected", 1000, ReasonBelowMinimum},
		{"one below a step rejected", 1099, ReasonBelowMinimum},
		{"exactly one step accepted", 1100, ReasonNone},
		{"exactly cap accepted", 1000 + 100*100, ReasonNone},
		{"one above cap rejected", 1000 + 100*100 + 1, ReasonAboveMaximum},
		{"negative rejected", -5, ReasonBelowMinimum},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check.Equal(t, tt.expected, v.Validate(input(1000, 100, tt.candidate)).Reason)
		})
	}
}

func TestValidateCheckOrder(t *testing.T) {
	v := NewValidator(DefaultPolicy())

	in := input(1000, 100, 1)
	in.Phase = phase.Paused
	in.ParticipantStatus = models.ParticipantStatusPending
	check.Equal(t, ReasonNotBiddingTime, v.Validate(in).Reason)

	in.Phase = phase.BiddingOpen
	check.Equal(t, ReasonNotEligible, v.Validate(in).Reason)

	for _, status := range []models.ParticipantStatus{
		models.ParticipantStatusRejected, models.ParticipantStatusPaid, models.ParticipantStatusCompleted,
	} {
		in.ParticipantStatus = status
		check.Equal(t, ReasonNotEligible, v.Validate(in).Reason)
	}
}

func TestValidateCustomCap(t *testing.T) {
	v := NewValidator(Policy{CapMultiplier: 3})
	check.True(t, v.Validate(input(1000, 100, 1300)).Accepted())
	check.Equal(t, ReasonAboveMaximum, v.Validate(input(1000, 100, 1301)).Reason)
}

func TestNonPositiveCapFallsBack(t *testing.T) {
	v := NewValidator(Policy{})
	check.Equal(t, int64(DefaultCapMultiplier), v.Policy().CapMultiplier)
}

func TestValidateDecimalPrecision(t *testing.T) {
	v := NewValidator(DefaultPolicy())
	in := Input{
		CurrentHighest:    decimal.RequireFromString("10.05"),
		BidStep:           decimal.RequireFromString("0.10"),
		Candidate:         decimal.RequireFromString("10.15"),
		ParticipantStatus: models.ParticipantStatusApproved,
		Phase:             phase.BiddingOpen,
	}
	check.True(t, v.Validate(in).Accepted())

	in.Candidate = decimal.RequireFromString("10.149999")
	check.Equal(t, ReasonBelowMinimum, v.Validate(in).Reason)
}

// Scenario: startingPrice=100,000,000 and bidStep=10,000,000.
func TestValidateStepScenario(t *testing.T) {
	v := NewValidator(DefaultPolicy())
	highest := d(100_000_000)
	step := d(10_000_000)

	submit := func(amount int64) Decision {
		dec := v.Validate(Input{
			CurrentHighest:    highest,
			BidStep:           step,
			Candidate:         d(amount),
			ParticipantStatus: models.ParticipantStatusApproved,
			Phase:             phase.BiddingOpen,
		})
		if dec.Accepted() {
			highest = d(amount)
		}
		return dec
	}

	check.True(t, submit(110_000_000).Accepted())
	check.Equal(t, "110000000", highest.String())
	check.Equal(t, ReasonBelowMinimum, submit(105_000_000).Reason)
	check.True(t, submit(120_000_000).Accepted())
	check.Equal(t, "120000000", highest.String())
}
