package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/gavel/go/internal/auction/bidding"
	"github.com/mcdev12/gavel/go/internal/auction/command"
	"github.com/mcdev12/gavel/go/internal/auction/notify"
	"github.com/mcdev12/gavel/go/internal/auction/phase"
	"github.com/mcdev12/gavel/go/internal/auction/store"
	"github.com/mcdev12/gavel/go/internal/models"
)

const noPin pin = -1

// step is one optimistic command against the view. apply, settle and undo
// run under v.mu; commit runs without it. A step with a pin expects the
// caller to have claimed it; execute releases it.
type step struct {
	name   string
	pin    pin
	apply  func()
	commit func(ctx context.Context) error
	settle func()
	undo   func()
}

func (v *View) execute(ctx context.Context, s step) error {
	release := func() {
		if s.pin != noPin {
			v.pins[s.pin]--
		}
		if v.pending[s.name]--; v.pending[s.name] <= 0 {
			delete(v.pending, s.name)
		}
	}

	cmd := command.New(s.name,
		func() {
			v.mu.Lock()
			v.pending[s.name]++
			s.apply()
			v.mu.Unlock()
			v.changed()
		},
		s.commit,
		func() {
			v.mu.Lock()
			s.undo()
			release()
			v.mu.Unlock()
		},
	)

	err := command.Run(ctx, cmd, v.opts.CommandTimeout)
	if err == nil {
		v.mu.Lock()
		release()
		s.settle()
		v.mu.Unlock()
	} else {
		kind := store.Classify(err)
		if kind == store.KindTimeout || kind == store.KindNetwork {
			v.mu.Lock()
			v.noticeLocked(notify.Notice{
				Entity:  v.sessionID.String(),
				Status:  string(kind),
				Message: fmt.Sprintf("%s failed (%s), change rolled back", s.name, kind),
				At:      v.clock.Now(),
			})
			v.mu.Unlock()
		}
		// the authority may have applied it anyway
		v.poller.Trigger()
	}
	v.changed()
	return err
}

func (v *View) requireRole(role Role) (Result, bool) {
	if v.viewer.Role != role {
		return refused(ReasonUnauthorized, fmt.Sprintf("requires role %s", role)), false
	}
	return Result{}, true
}

func (v *View) failed(op string, err error) Result {
	r := refused(reasonOf(err), fmt.Sprintf("%s failed: %v", op, err))
	log.Warn().
		Err(err).
		Str("session_id", v.sessionID.String()).
		Str("viewer", v.viewer.String()).
		Str("reason", string(r.Reason)).
		Msgf("%s failed", op)
	return r
}

// Pause stops the session clock at the current time.
func (v *View) Pause(ctx context.Context) Result {
	if r, ok := v.requireRole(RoleOperator); !ok {
		return r
	}
	now := v.clock.Now()

	v.mu.Lock()
	busy, paused := v.pins[pinPause] > 0, v.session.Paused
	if !busy && !paused {
		v.pins[pinPause]++
	}
	v.mu.Unlock()
	if busy {
		return refused(ReasonPending, "a pause or resume is in flight")
	}
	if paused {
		return success("already paused")
	}

	var (
		prevPaused bool
		prevAt     *time.Time
		returned   models.AuctionSession
	)
	err := v.execute(ctx, step{
		name: "pause",
		pin:  pinPause,
		apply: func() {
			prevPaused, prevAt = v.session.Paused, copyTime(v.session.PausedAt)
			at := now
			v.session.Paused = true
			v.session.PausedAt = &at
		},
		commit: func(ctx context.Context) error {
			s, err := v.store.PauseSession(ctx, store.PauseRequest{SessionID: v.sessionID, Actor: v.viewer.UserID, At: now})
			returned = s
			return err
		},
		settle: func() { v.mergeSessionLocked(returned, false) },
		undo: func() {
			if v.session.Paused && v.session.PausedAt != nil && v.session.PausedAt.Equal(now) {
				v.session.Paused = prevPaused
				v.session.PausedAt = prevAt
			}
		},
	})
	if err != nil {
		return v.failed("pause", err)
	}
	return success("paused")
}

// Resume lifts the pause. The phase is computed from the real time again,
// so time spent paused is not given back unless the resolver extends the
// deadline.
func (v *View) Resume(ctx context.Context) Result {
	if r, ok := v.requireRole(RoleOperator); !ok {
		return r
	}
	now := v.clock.Now()

	v.mu.Lock()
	busy, paused := v.pins[pinPause] > 0, v.session.Paused
	if !busy && paused {
		v.pins[pinPause]++
	}
	v.mu.Unlock()
	if busy {
		return refused(ReasonPending, "a pause or resume is in flight")
	}
	if !paused {
		return success("not paused")
	}

	var (
		prevAt    *time.Time
		prevTotal time.Duration
		returned  models.AuctionSession
	)
	err := v.execute(ctx, step{
		name: "resume",
		pin:  pinPause,
		apply: func() {
			prevAt, prevTotal = copyTime(v.session.PausedAt), v.session.PausedTotal
			if v.resolver.Policy().ExtendDeadline && prevAt != nil && now.After(*prevAt) {
				v.session.PausedTotal += now.Sub(*prevAt)
			}
			v.session.Paused = false
			v.session.PausedAt = nil
		},
		commit: func(ctx context.Context) error {
			s, err := v.store.ResumeSession(ctx, store.PauseRequest{SessionID: v.sessionID, Actor: v.viewer.UserID, At: now})
			returned = s
			return err
		},
		settle: func() { v.mergeSessionLocked(returned, false) },
		undo: func() {
			if !v.session.Paused && v.session.PausedAt == nil {
				v.session.Paused = true
				v.session.PausedAt = prevAt
				v.session.PausedTotal = prevTotal
			}
		},
	})
	if err != nil {
		return v.failed("resume", err)
	}
	return success("resumed")
}

// Kick forces a participant to REJECTED. Kicking someone who is absent or
// already rejected succeeds without contacting the authority.
func (v *View) Kick(ctx context.Context, participantID uuid.UUID, reason string) Result {
	if r, ok := v.requireRole(RoleOperator); !ok {
		return r
	}
	if err := store.CheckKickReason(reason, v.opts.KickReasonMinLength); err != nil {
		return refused(ReasonReasonTooShort, fmt.Sprintf("reason must be at least %d characters", v.opts.KickReasonMinLength))
	}
	reason = strings.TrimSpace(reason)

	v.mu.Lock()
	current, found := v.registry.ByID(participantID)
	v.mu.Unlock()
	if !found {
		return success("participant not registered, nothing to do")
	}
	if current.Status == models.ParticipantStatusRejected {
		return success("participant already rejected")
	}

	var prev, expected, returned models.Participant
	err := v.execute(ctx, step{
		name: "kick",
		pin:  noPin,
		apply: func() {
			p, ok := v.registry.ByID(participantID)
			if !ok {
				return
			}
			prev = p
			p.Status = models.ParticipantStatusRejected
			p.KickReason = &reason
			v.registry = v.registry.Merge(p)
			expected, _ = v.registry.ByID(participantID)
		},
		commit: func(ctx context.Context) error {
			p, err := v.store.KickParticipant(ctx, store.KickRequest{
				SessionID:     v.sessionID,
				ParticipantID: participantID,
				Reason:        reason,
				Actor:         v.viewer.UserID,
			})
			returned = p
			return err
		},
		settle: func() { v.mergeParticipantsLocked([]models.Participant{returned}, false) },
		undo: func() {
			if prev.ID == uuid.Nil {
				return
			}
			if next, restored := v.registry.Restore(prev, expected); restored {
				v.registry = next
			}
		},
	})
	if err != nil {
		return v.failed("kick", err)
	}
	return success("participant rejected")
}

// ConfirmWinner records the current winner as final.
func (v *View) ConfirmWinner(ctx context.Context) Result {
	return v.resolveWinner(ctx, models.ResolutionConfirmed, "")
}

// RejectWinner records that the current winner will not be honoured.
func (v *View) RejectWinner(ctx context.Context, reason string) Result {
	return v.resolveWinner(ctx, models.ResolutionRejected, strings.TrimSpace(reason))
}

func (v *View) resolveWinner(ctx context.Context, outcome models.ResolutionOutcome, reason string) Result {
	if r, ok := v.requireRole(RoleOperator); !ok {
		return r
	}
	now := v.clock.Now()

	v.mu.Lock()
	resolved := v.session.Resolution != nil
	busy := v.pins[pinResolution] > 0
	p := v.resolver.ResolveSession(v.session, now).Phase
	winner := v.winnerLocked(p)
	claimed := !resolved && !busy && p == phase.Ended && winner != nil
	if claimed {
		v.pins[pinResolution]++
	}
	v.mu.Unlock()

	switch {
	case resolved:
		return refused(ReasonAlreadyResolved, "the winner has already been resolved")
	case busy:
		return refused(ReasonPending, "a winner resolution is in flight")
	case p != phase.Ended:
		return refused(ReasonNotEnded, fmt.Sprintf("session is %s, not ENDED", p))
	case winner == nil:
		return refused(ReasonNoWinner, "no bids were placed")
	}

	optimistic := models.WinnerResolution{
		Outcome:    outcome,
		WinnerID:   *winner,
		Reason:     reason,
		ResolvedBy: v.viewer.UserID.String(),
		ResolvedAt: now,
	}
	var returned models.AuctionSession
	err := v.execute(ctx, step{
		name: "resolve-winner",
		pin:  pinResolution,
		apply: func() {
			r := optimistic
			v.session.Resolution = &r
		},
		commit: func(ctx context.Context) error {
			s, err := v.store.ResolveWinner(ctx, store.ResolveRequest{
				SessionID: v.sessionID,
				Outcome:   outcome,
				WinnerID:  *winner,
				Reason:    reason,
				Actor:     v.viewer.UserID,
			})
			returned = s
			return err
		},
		settle: func() { v.mergeSessionLocked(returned, false) },
		undo: func() {
			if sameResolution(v.session.Resolution, optimistic) {
				v.session.Resolution = nil
			}
		},
	})
	if err != nil {
		if store.Classify(err) == store.KindAlreadyResolved {
			// pick up the resolution someone else recorded
			if rerr := v.Refresh(ctx); rerr != nil {
				log.Warn().Err(rerr).Str("session_id", v.sessionID.String()).Msg("refresh after resolution conflict failed")
			}
			return refused(ReasonAlreadyResolved, "the winner has already been resolved")
		}
		return v.failed("resolve winner", err)
	}
	return success(fmt.Sprintf("winner %s", resolutionVerb(outcome)))
}

func sameResolution(cur *models.WinnerResolution, r models.WinnerResolution) bool {
	return cur != nil &&
		cur.Outcome == r.Outcome &&
		cur.WinnerID == r.WinnerID &&
		cur.ResolvedBy == r.ResolvedBy &&
		cur.ResolvedAt.Equal(r.ResolvedAt)
}

// SubmitBid validates the amount against the local ledger and sends it. The
// bid id is generated here, so resubmitting after a network error cannot
// place the bid twice. Losing a race to another bidder is a CONFLICT result
// carrying the new highest.
func (v *View) SubmitBid(ctx context.Context, amount decimal.Decimal) Result {
	if r, ok := v.requireRole(RoleBidder); !ok {
		return r
	}
	return v.placeBid(ctx, uuid.New(), amount, false)
}

// RetryBid resubmits a bid under the id of an earlier attempt. A bid the
// view already holds is reported as accepted. Anything else goes straight to
// the authority, which knows whether the first attempt landed.
func (v *View) RetryBid(ctx context.Context, bidID uuid.UUID, amount decimal.Decimal) Result {
	if r, ok := v.requireRole(RoleBidder); !ok {
		return r
	}
	return v.placeBid(ctx, bidID, amount, true)
}

func (v *View) placeBid(ctx context.Context, bidID uuid.UUID, amt decimal.Decimal, retry bool) Result {
	now := v.clock.Now()

	v.mu.Lock()
	if b, ok := v.bids.Get(bidID); ok && b.BidderID == v.viewer.UserID && b.Amount.Equal(amt) {
		highest := v.bids.Highest()
		v.mu.Unlock()
		return Result{OK: true, Message: "bid accepted", Highest: decimalPtr(highest)}
	}
	var status models.ParticipantStatus
	if me, ok := v.registry.ForUser(v.viewer.UserID); ok {
		status = me.Status
	}
	highest := v.bids.Highest()
	d := v.validator.Validate(bidding.Input{
		CurrentHighest:    highest,
		BidStep:           v.session.BidStepAmount,
		Candidate:         amt,
		ParticipantStatus: status,
		Phase:             v.resolver.ResolveSession(v.session, now).Phase,
	})
	v.mu.Unlock()

	if !retry && !d.Accepted() {
		return Result{
			Reason:  Reason(d.Reason),
			Message: bidMessage(d),
			Highest: decimalPtr(highest),
			Minimum: decimalPtr(d.Minimum),
			Maximum: decimalPtr(d.Maximum),
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, v.opts.CommandTimeout)
	bid, err := v.store.PlaceBid(callCtx, store.PlaceBidRequest{
		ID:        bidID,
		SessionID: v.sessionID,
		BidderID:  v.viewer.UserID,
		Amount:    amt,
	})
	cancel()

	if err == nil {
		v.mu.Lock()
		v.bids = v.bids.Merge(bid)
		highest = v.bids.Highest()
		v.mu.Unlock()
		v.changed()
		log.Info().
			Str("session_id", v.sessionID.String()).
			Str("bid_id", bid.ID.String()).
			Str("amount", bid.Amount.String()).
			Msg("bid accepted")
		return Result{OK: true, Message: "bid accepted", Highest: decimalPtr(highest)}
	}

	if store.Classify(err) != store.KindConflict {
		r := v.failed("bid", err)
		r.Highest = decimalPtr(highest)
		return r
	}

	if rerr := v.Refresh(ctx); rerr != nil {
		log.Warn().Err(rerr).Str("session_id", v.sessionID.String()).Msg("refresh after bid conflict failed")
	}
	v.mu.Lock()
	highest = v.bids.Highest()
	bidStep := v.session.BidStepAmount
	v.mu.Unlock()
	if h, ok := store.HighestOf(err); ok {
		highest = decimal.Max(highest, h)
	}
	return Result{
		Reason:  ReasonConflict,
		Message: fmt.Sprintf("outbid: highest is now %s", highest),
		Highest: decimalPtr(highest),
		Minimum: decimalPtr(v.validator.MinimumNext(highest, bidStep)),
	}
}

func bidMessage(d bidding.Decision) string {
	switch d.Reason {
	case bidding.ReasonNotBiddingTime:
		return "bidding is not open"
	case bidding.ReasonNotEligible:
		return "you are not approved to bid in this session"
	case bidding.ReasonBelowMinimum:
		return fmt.Sprintf("bid must be at least %s", d.Minimum)
	case bidding.ReasonAboveMaximum:
		return fmt.Sprintf("bid may not exceed %s", d.Maximum)
	default:
		return d.String()
	}
}
