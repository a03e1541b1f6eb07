// Package memstore is an in-process authority implementing store.Store. It
// applies the same admission rules as the Postgres store and is used for
// development servers and tests.
package memstore

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/gavel/go/internal/auction/bidding"
	"github.com/mcdev12/gavel/go/internal/auction/events"
	"github.com/mcdev12/gavel/go/internal/auction/phase"
	"github.com/mcdev12/gavel/go/internal/auction/store"
	"github.com/mcdev12/gavel/go/internal/models"
)

// Options configures a Store.
type Options struct {
	Clock               clockwork.Clock
	Validator           *bidding.Validator
	Resolver            *phase.Resolver
	KickReasonMinLength int
	// Emit receives every event the store produces, after the write.
	Emit func(events.Envelope)
}

type sessionState struct {
	session      models.AuctionSession
	bids         []models.Bid
	bidIDs       map[uuid.UUID]int
	participants map[uuid.UUID]models.Participant // by participant id
}

// Store keeps sessions in memory.
type Store struct {
	mu       sync.Mutex
	opts     Options
	sessions map[uuid.UUID]*sessionState
}

var _ store.Store = (*Store)(nil)

// New creates an empty Store.
func New(opts Options) *Store {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Validator == nil {
		opts.Validator = bidding.NewValidator(bidding.DefaultPolicy())
	}
	if opts.Resolver == nil {
		opts.Resolver = phase.NewResolver(phase.PausePolicy{})
	}
	return &Store{opts: opts, sessions: make(map[uuid.UUID]*sessionState)}
}

// PutSession creates or replaces a session record.
func (s *Store) PutSession(session models.AuctionSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[session.ID]
	if !ok {
		st = &sessionState{bidIDs: map[uuid.UUID]int{}, participants: map[uuid.UUID]models.Participant{}}
		s.sessions[session.ID] = st
	}
	session.UpdatedAt = s.opts.Clock.Now()
	st.session = session.Clone()
}

// PutParticipant registers or updates a participant. Moving a record off
// REJECTED bumps its revision so clients accept the override.
func (s *Store) PutParticipant(p models.Participant) error {
	s.mu.Lock()
	st, ok := s.sessions[p.SessionID]
	if !ok {
		s.mu.Unlock()
		return store.ErrNotFound
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	for _, existing := range st.participants {
		if existing.UserID == p.UserID && existing.ID != p.ID {
			p.ID = existing.ID
		}
	}
	if existing, ok := st.participants[p.ID]; ok {
		p.Revision = existing.Revision
		if existing.Status == models.ParticipantStatusRejected && p.Status != models.ParticipantStatusRejected {
			p.Revision++
		}
	}
	p.UpdatedAt = s.opts.Clock.Now()
	st.participants[p.ID] = p
	s.mu.Unlock()

	s.emit(p.SessionID, events.EventTypeParticipantUpdated, events.ParticipantUpdatedPayload{Participant: p})
	return nil
}

func (s *Store) emit(sessionID uuid.UUID, t events.EventType, payload any) {
	if s.opts.Emit == nil {
		return
	}
	env, err := events.NewEnvelope(sessionID, t, s.opts.Clock.Now(), payload)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID.String()).Msg("failed to build event")
		return
	}
	s.opts.Emit(env)
}

func (s *Store) state(sessionID uuid.UUID) (*sessionState, error) {
	st, ok := s.sessions[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return st, nil
}

// settleWinner records the current winner once bidding has ended.
func (s *Store) settleWinner(st *sessionState) {
	res := s.opts.Resolver.ResolveSession(st.session, s.opts.Clock.Now())
	if res.Phase != phase.Ended || st.session.CurrentWinnerID != nil {
		return
	}
	if leader, ok := store.Leader(st.session, st.bids); ok {
		id := leader.BidderID
		st.session.CurrentWinnerID = &id
	}
}

func (st *sessionState) highest() decimal.Decimal {
	h := st.session.StartingPrice
	for _, b := range st.bids {
		if b.Amount.GreaterThan(h) {
			h = b.Amount
		}
	}
	return h
}

func (st *sessionState) participantFor(userID uuid.UUID) (models.Participant, bool) {
	for _, p := range st.participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return models.Participant{}, false
}

// Snapshot returns the full state of a session.
func (s *Store) Snapshot(ctx context.Context, sessionID uuid.UUID) (store.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.state(sessionID)
	if err != nil {
		return store.Snapshot{}, err
	}
	s.settleWinner(st)

	snap := store.Snapshot{
		Session:    st.session.Clone(),
		Bids:       append([]models.Bid(nil), st.bids...),
		ServerTime: s.opts.Clock.Now(),
	}
	for _, p := range st.participants {
		snap.Participants = append(snap.Participants, p)
	}
	return snap, nil
}

// PlaceBid admits a bid under the session lock. Resubmitting a known id
// returns the stored bid.
func (s *Store) PlaceBid(ctx context.Context, req store.PlaceBidRequest) (models.Bid, error) {
	s.mu.Lock()
	st, err := s.state(req.SessionID)
	if err != nil {
		s.mu.Unlock()
		return models.Bid{}, err
	}
	if i, ok := st.bidIDs[req.ID]; ok {
		b := st.bids[i]
		s.mu.Unlock()
		return b, nil
	}

	now := s.opts.Clock.Now()
	res := s.opts.Resolver.ResolveSession(st.session, now)
	var status models.ParticipantStatus
	if p, ok := st.participantFor(req.BidderID); ok {
		status = p.Status
	}
	highest := st.highest()
	decision := s.opts.Validator.Validate(bidding.Input{
		CurrentHighest:    highest,
		BidStep:           st.session.BidStepAmount,
		Candidate:         req.Amount,
		ParticipantStatus: status,
		Phase:             res.Phase,
	})
	if err := store.Admit(decision, highest); err != nil {
		s.mu.Unlock()
		log.Debug().
			Str("session_id", req.SessionID.String()).
			Str("bidder_id", req.BidderID.String()).
			Str("amount", req.Amount.String()).
			Str("decision", decision.String()).
			Msg("bid refused")
		return models.Bid{}, err
	}

	bid := models.Bid{
		ID:        req.ID,
		SessionID: req.SessionID,
		BidderID:  req.BidderID,
		Amount:    req.Amount,
		Timestamp: now,
	}
	st.bidIDs[bid.ID] = len(st.bids)
	st.bids = append(st.bids, bid)
	s.mu.Unlock()

	s.emit(req.SessionID, events.EventTypeBidPlaced, events.BidPlacedPayload{Bid: bid})
	return bid, nil
}

// PauseSession pauses a session. Pausing a paused session is a no-op.
func (s *Store) PauseSession(ctx context.Context, req store.PauseRequest) (models.AuctionSession, error) {
	s.mu.Lock()
	st, err := s.state(req.SessionID)
	if err != nil {
		s.mu.Unlock()
		return models.AuctionSession{}, err
	}
	if st.session.Paused {
		out := st.session.Clone()
		s.mu.Unlock()
		return out, nil
	}
	now := s.opts.Clock.Now()
	at := req.At
	if at.IsZero() || at.After(now) {
		at = now
	}
	st.session.Paused = true
	st.session.PausedAt = &at
	st.session.UpdatedAt = now
	out := st.session.Clone()
	s.mu.Unlock()

	s.emit(req.SessionID, events.EventTypeSessionPaused, events.SessionPausedPayload{PausedAt: at, PausedBy: req.Actor})
	return out, nil
}

// ResumeSession clears the pause and accumulates its duration.
func (s *Store) ResumeSession(ctx context.Context, req store.PauseRequest) (models.AuctionSession, error) {
	s.mu.Lock()
	st, err := s.state(req.SessionID)
	if err != nil {
		s.mu.Unlock()
		return models.AuctionSession{}, err
	}
	if !st.session.Paused {
		out := st.session.Clone()
		s.mu.Unlock()
		return out, nil
	}
	now := s.opts.Clock.Now()
	if st.session.PausedAt != nil && now.After(*st.session.PausedAt) {
		st.session.PausedTotal += now.Sub(*st.session.PausedAt)
	}
	st.session.Paused = false
	st.session.PausedAt = nil
	st.session.UpdatedAt = now
	out := st.session.Clone()
	s.mu.Unlock()

	s.emit(req.SessionID, events.EventTypeSessionResumed, events.SessionResumedPayload{ResumedAt: now, PausedTotal: out.PausedTotal})
	return out, nil
}

// KickParticipant forces a participant to REJECTED. Kicking a rejected
// participant returns it unchanged.
func (s *Store) KickParticipant(ctx context.Context, req store.KickRequest) (models.Participant, error) {
	if err := store.CheckKickReason(req.Reason, s.opts.KickReasonMinLength); err != nil {
		return models.Participant{}, err
	}
	s.mu.Lock()
	st, err := s.state(req.SessionID)
	if err != nil {
		s.mu.Unlock()
		return models.Participant{}, err
	}
	p, ok := st.participants[req.ParticipantID]
	if !ok {
		s.mu.Unlock()
		return models.Participant{}, store.ErrNotFound
	}
	if p.Status == models.ParticipantStatusRejected {
		s.mu.Unlock()
		return p, nil
	}
	reason := req.Reason
	p.Status = models.ParticipantStatusRejected
	p.KickReason = &reason
	p.UpdatedAt = s.opts.Clock.Now()
	st.participants[p.ID] = p
	s.mu.Unlock()

	s.emit(req.SessionID, events.EventTypeParticipantUpdated, events.ParticipantUpdatedPayload{Participant: p})
	return p, nil
}

// ResolveWinner records the operator decision at most once.
func (s *Store) ResolveWinner(ctx context.Context, req store.ResolveRequest) (models.AuctionSession, error) {
	if req.Outcome != models.ResolutionConfirmed && req.Outcome != models.ResolutionRejected {
		return models.AuctionSession{}, store.Reject(store.ErrValidation, store.ReasonBadOutcome)
	}
	s.mu.Lock()
	st, err := s.state(req.SessionID)
	if err != nil {
		s.mu.Unlock()
		return models.AuctionSession{}, err
	}
	if st.session.Resolution != nil {
		s.mu.Unlock()
		return models.AuctionSession{}, store.ErrAlreadyResolved
	}
	now := s.opts.Clock.Now()
	if s.opts.Resolver.ResolveSession(st.session, now).Phase != phase.Ended {
		s.mu.Unlock()
		return models.AuctionSession{}, store.Reject(store.ErrValidation, store.ReasonNotEnded)
	}
	s.settleWinner(st)
	if st.session.CurrentWinnerID == nil {
		s.mu.Unlock()
		return models.AuctionSession{}, store.Reject(store.ErrValidation, store.ReasonNoWinner)
	}
	if req.WinnerID != uuid.Nil && req.WinnerID != *st.session.CurrentWinnerID {
		s.mu.Unlock()
		return models.AuctionSession{}, store.Reject(store.ErrValidation, store.ReasonWinnerMismatch)
	}
	resolution := models.WinnerResolution{
		Outcome:    req.Outcome,
		WinnerID:   *st.session.CurrentWinnerID,
		Reason:     req.Reason,
		ResolvedBy: req.Actor.String(),
		ResolvedAt: now,
	}
	st.session.Resolution = &resolution
	st.session.UpdatedAt = now
	out := st.session.Clone()
	amount := st.highest()
	s.mu.Unlock()

	s.emit(req.SessionID, events.EventTypeWinnerResolved, events.WinnerResolvedPayload{Resolution: resolution, Amount: amount})
	return out, nil
}
