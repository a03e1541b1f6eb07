// Package phase derives an auction session's lifecycle phase from its
// schedule, the operator pause override and a reference time.
package phase

import (
	"time"

	"github.com/mcdev12/gavel/go/internal/models"
)

// Phase is the derived lifecycle stage of a session.
type Phase string

const (
	Unscheduled      Phase = "UNSCHEDULED"
	RegistrationOpen Phase = "REGISTRATION_OPEN"
	AwaitingCheckin  Phase = "AWAITING_CHECKIN"
	CheckinOpen      Phase = "CHECKIN_OPEN"
	BiddingOpen      Phase = "BIDDING_OPEN"
	Paused           Phase = "PAUSED"
	Ended            Phase = "ENDED"
)

// Schedule holds the boundary timestamps of a session. Any nil field makes
// the schedule incomplete.
type Schedule struct {
	RegisterStart *time.Time
	RegisterEnd   *time.Time
	CheckinTime   *time.Time
	BidStart      *time.Time
	BidEnd        *time.Time
}

// PauseState is the operator override.
type PauseState struct {
	Paused   bool
	PausedAt *time.Time
	// Total is the accumulated duration of completed pauses. Only consulted
	// when PausePolicy.ExtendDeadline is set.
	Total time.Duration
}

// PausePolicy decides whether pausing pushes the bidding deadline back.
type PausePolicy struct {
	ExtendDeadline bool `yaml:"extend_deadline" json:"extend_deadline"`
}

// Resolution is the result of resolving a schedule at a point in time.
type Resolution struct {
	Phase Phase `json:"phase"`
	// Underlying is the schedule phase at the reference time. It equals
	// Phase except while paused.
	Underlying    Phase         `json:"underlying"`
	ReferenceTime time.Time     `json:"reference_time"`
	NextBoundary  *time.Time    `json:"next_boundary,omitempty"`
	Remaining     time.Duration `json:"remaining"`
}

// RemainingSeconds rounds the remaining time up so a countdown shows 1 until
// the boundary is actually reached.
func (r Resolution) RemainingSeconds() int {
	if r.Remaining <= 0 {
		return 0
	}
	return int((r.Remaining + time.Second - 1) / time.Second)
}

// Resolver resolves phases under a fixed pause policy.
type Resolver struct {
	policy PausePolicy
}

// NewResolver creates a resolver with the given pause policy.
func NewResolver(policy PausePolicy) *Resolver {
	return &Resolver{policy: policy}
}

// Policy returns the pause policy the resolver applies.
func (r *Resolver) Policy() PausePolicy {
	return r.policy
}

// Resolve is total: every input yields exactly one phase.
func (r *Resolver) Resolve(s Schedule, pause PauseState, now time.Time) Resolution {
	ref := now
	if pause.Paused && pause.PausedAt != nil {
		ref = *pause.PausedAt
	}

	if !s.complete() || !s.consistent() {
		return Resolution{Phase: Unscheduled, Underlying: Unscheduled, ReferenceTime: ref}
	}

	bidEnd := *s.BidEnd
	if r.policy.ExtendDeadline && pause.Total > 0 {
		bidEnd = bidEnd.Add(pause.Total)
	}

	underlying, next := classify(s, bidEnd, ref)
	res := Resolution{
		Phase:         underlying,
		Underlying:    underlying,
		ReferenceTime: ref,
	}
	if next != nil {
		n := *next
		res.NextBoundary = &n
		if d := n.Sub(ref); d > 0 {
			res.Remaining = d
		}
	}
	if pause.Paused {
		res.Phase = Paused
	}
	return res
}

// Resolve resolves with the default policy (deadline not extended by pauses).
func Resolve(s Schedule, pause PauseState, now time.Time) Resolution {
	return (&Resolver{}).Resolve(s, pause, now)
}

// classify applies the boundary rules in priority order.
func classify(s Schedule, bidEnd, ref time.Time) (Phase, *time.Time) {
	switch {
	case ref.Before(*s.RegisterStart):
		return Unscheduled, s.RegisterStart
	case !ref.After(*s.RegisterEnd):
		return RegistrationOpen, s.RegisterEnd
	case ref.Before(*s.CheckinTime):
		return AwaitingCheckin, s.CheckinTime
	case ref.Before(*s.BidStart):
		return CheckinOpen, s.BidStart
	case !ref.After(bidEnd):
		return BiddingOpen, &bidEnd
	default:
		return Ended, nil
	}
}

func (s Schedule) complete() bool {
	return s.RegisterStart != nil && s.RegisterEnd != nil && s.CheckinTime != nil &&
		s.BidStart != nil && s.BidEnd != nil
}

// consistent checks the ordering the boundary rules depend on.
func (s Schedule) consistent() bool {
	if s.RegisterEnd.Before(*s.RegisterStart) {
		return false
	}
	if !s.BidEnd.After(*s.BidStart) {
		return false
	}
	if s.CheckinTime.Before(*s.RegisterEnd) || s.BidStart.Before(*s.CheckinTime) {
		return false
	}
	return true
}

// ScheduleOf extracts the schedule of a session.
func ScheduleOf(s models.AuctionSession) Schedule {
	return Schedule{
		RegisterStart: s.RegisterStart,
		RegisterEnd:   s.RegisterEnd,
		CheckinTime:   s.CheckinTime,
		BidStart:      s.BidStart,
		BidEnd:        s.BidEnd,
	}
}

// PauseOf extracts the pause override of a session.
func PauseOf(s models.AuctionSession) PauseState {
	return PauseState{Paused: s.Paused, PausedAt: s.PausedAt, Total: s.PausedTotal}
}

// ResolveSession is a convenience wrapper over Resolve for a whole session.
func (r *Resolver) ResolveSession(s models.AuctionSession, now time.Time) Resolution {
	return r.Resolve(ScheduleOf(s), PauseOf(s), now)
}
