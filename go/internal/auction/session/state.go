package session

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/gavel/go/internal/auction/channel"
	"github.com/mcdev12/gavel/go/internal/auction/notify"
	"github.com/mcdev12/gavel/go/internal/auction/phase"
	"github.com/mcdev12/gavel/go/internal/models"
)

// State is the read model a UI renders. It is a copy; mutating it does not
// affect the view.
type State struct {
	SessionID uuid.UUID `json:"session_id"`
	Title     string    `json:"title,omitempty"`
	Viewer    Viewer    `json:"viewer"`

	Phase            phase.Phase `json:"phase"`
	UnderlyingPhase  phase.Phase `json:"underlying_phase"`
	Paused           bool        `json:"paused"`
	PausedAt         *time.Time  `json:"paused_at,omitempty"`
	RemainingSeconds int         `json:"remaining_seconds"`
	NextBoundary     *time.Time  `json:"next_boundary,omitempty"`
	ReferenceTime    time.Time   `json:"reference_time"`

	StartingPrice decimal.Decimal `json:"starting_price"`
	BidStep       decimal.Decimal `json:"bid_step"`
	Highest       decimal.Decimal `json:"highest"`
	MinimumNext   decimal.Decimal `json:"minimum_next"`
	MaximumNext   decimal.Decimal `json:"maximum_next"`
	LeaderID      *uuid.UUID      `json:"leader_id,omitempty"`
	History       []models.Bid    `json:"history"`

	// Participants is filled for operators only; bidders get Me.
	Participants []models.Participant `json:"participants,omitempty"`
	Me           *models.Participant  `json:"me,omitempty"`
	Eligibility  phase.Eligibility    `json:"eligibility"`

	WinnerID   *uuid.UUID               `json:"winner_id,omitempty"`
	Resolution *models.WinnerResolution `json:"resolution,omitempty"`

	ChannelState channel.Status  `json:"channel_state"`
	Pending      []string        `json:"pending,omitempty"`
	Notices      []notify.Notice `json:"notices,omitempty"`
	LastSyncedAt time.Time       `json:"last_synced_at"`
	Version      uint64          `json:"version"`
}

// State builds the read model at the current clock time.
func (v *View) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stateLocked(v.clock.Now())
}

func (v *View) stateLocked(now time.Time) State {
	res := v.resolver.ResolveSession(v.session, now)
	highest := v.bids.Highest()
	step := v.session.BidStepAmount

	s := State{
		SessionID:        v.sessionID,
		Title:            v.session.Title,
		Viewer:           v.viewer,
		Phase:            res.Phase,
		UnderlyingPhase:  res.Underlying,
		Paused:           v.session.Paused,
		PausedAt:         copyTime(v.session.PausedAt),
		RemainingSeconds: res.RemainingSeconds(),
		NextBoundary:     res.NextBoundary,
		ReferenceTime:    res.ReferenceTime,
		StartingPrice:    v.session.StartingPrice,
		BidStep:          step,
		Highest:          highest,
		MinimumNext:      v.validator.MinimumNext(highest, step),
		MaximumNext:      v.validator.MaximumNext(highest, step),
		History:          v.bids.History(),
		ChannelState:     v.channelState,
		LastSyncedAt:     v.lastSync,
		Version:          v.version,
	}
	if leader, ok := v.bids.Leader(); ok {
		id := leader.BidderID
		s.LeaderID = &id
	}

	switch v.viewer.Role {
	case RoleOperator:
		s.Participants = v.registry.All()
	case RoleBidder:
		if me, ok := v.registry.ForUser(v.viewer.UserID); ok {
			s.Me = &me
		}
		s.Eligibility = phase.EligibilityFor(res.Phase, s.Me)
	}

	s.WinnerID = v.winnerLocked(res.Phase)
	if v.session.Resolution != nil {
		r := *v.session.Resolution
		s.Resolution = &r
	}
	for name, n := range v.pending {
		for range n {
			s.Pending = append(s.Pending, name)
		}
	}
	sort.Strings(s.Pending)
	s.Notices = append([]notify.Notice(nil), v.notices...)
	return s
}

// winnerLocked prefers the winner the authority recorded. Before it has one,
// an ended session's winner is the ledger leader.
func (v *View) winnerLocked(p phase.Phase) *uuid.UUID {
	if v.session.CurrentWinnerID != nil {
		id := *v.session.CurrentWinnerID
		return &id
	}
	if p != phase.Ended {
		return nil
	}
	if leader, ok := v.bids.Leader(); ok {
		id := leader.BidderID
		return &id
	}
	return nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
