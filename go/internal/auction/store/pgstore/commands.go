package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/gavel/go/internal/auction/events"
	"github.com/mcdev12/gavel/go/internal/auction/phase"
	"github.com/mcdev12/gavel/go/internal/auction/store"
	"github.com/mcdev12/gavel/go/internal/models"
	"github.com/mcdev12/gavel/go/internal/sqlutil"
)

// PauseSession pauses a session. Pausing a paused session returns it unchanged.
func (s *Store) PauseSession(ctx context.Context, req store.PauseRequest) (models.AuctionSession, error) {
	var out models.AuctionSession
	err := sqlutil.Run(ctx, s.pool, func(tx pgx.Tx) error {
		session, err := getSession(ctx, tx, req.SessionID, true)
		if err != nil {
			return err
		}
		if session.Paused {
			out = session
			return nil
		}
		now := s.opts.Clock.Now()
		at := req.At
		if at.IsZero() || at.After(now) {
			at = now
		}
		out, err = scanSession(tx.QueryRow(ctx, `
			UPDATE auction_sessions SET paused = true, paused_at = $2, updated_at = $3
			WHERE id = $1
			RETURNING `+sessionColumns,
			req.SessionID, at, now,
		))
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		return enqueue(ctx, tx, req.SessionID, events.EventTypeSessionPaused, now,
			events.SessionPausedPayload{PausedAt: at, PausedBy: req.Actor})
	})
	if err != nil {
		return models.AuctionSession{}, fmt.Errorf("pause session %s: %w", req.SessionID, err)
	}
	log.Info().Str("session_id", req.SessionID.String()).Str("actor", req.Actor.String()).Msg("session paused")
	return out, nil
}

// ResumeSession clears the pause and adds its length to paused_total_us.
func (s *Store) ResumeSession(ctx context.Context, req store.PauseRequest) (models.AuctionSession, error) {
	var out models.AuctionSession
	err := sqlutil.Run(ctx, s.pool, func(tx pgx.Tx) error {
		session, err := getSession(ctx, tx, req.SessionID, true)
		if err != nil {
			return err
		}
		if !session.Paused {
			out = session
			return nil
		}
		now := s.opts.Clock.Now()
		total := session.PausedTotal
		if session.PausedAt != nil && now.After(*session.PausedAt) {
			total += now.Sub(*session.PausedAt)
		}
		out, err = scanSession(tx.QueryRow(ctx, `
			UPDATE auction_sessions SET paused = false, paused_at = NULL, paused_total_us = $2, updated_at = $3
			WHERE id = $1
			RETURNING `+sessionColumns,
			req.SessionID, sqlutil.ToMicros(total), now,
		))
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		return enqueue(ctx, tx, req.SessionID, events.EventTypeSessionResumed, now,
			events.SessionResumedPayload{ResumedAt: now, PausedTotal: total})
	})
	if err != nil {
		return models.AuctionSession{}, fmt.Errorf("resume session %s: %w", req.SessionID, err)
	}
	log.Info().Str("session_id", req.SessionID.String()).Str("actor", req.Actor.String()).Msg("session resumed")
	return out, nil
}

// KickParticipant forces a participant to REJECTED.
func (s *Store) KickParticipant(ctx context.Context, req store.KickRequest) (models.Participant, error) {
	if err := store.CheckKickReason(req.Reason, s.opts.KickReasonMinLength); err != nil {
		return models.Participant{}, err
	}
	var out models.Participant
	err := sqlutil.Run(ctx, s.pool, func(tx pgx.Tx) error {
		current, err := scanParticipant(tx.QueryRow(ctx,
			`SELECT `+participantColumns+` FROM auction_participants WHERE id = $1 AND session_id = $2 FOR UPDATE`,
			req.ParticipantID, req.SessionID,
		))
		if err != nil {
			return err
		}
		if current.Status == models.ParticipantStatusRejected {
			out = current
			return nil
		}
		now := s.opts.Clock.Now()
		out, err = scanParticipant(tx.QueryRow(ctx, `
			UPDATE auction_participants SET status = 'REJECTED', kick_reason = $2, updated_at = $3
			WHERE id = $1
			RETURNING `+participantColumns,
			req.ParticipantID, req.Reason, now,
		))
		if err != nil {
			return fmt.Errorf("update participant: %w", err)
		}
		return enqueueParticipant(ctx, tx, now, out)
	})
	if err != nil {
		return models.Participant{}, fmt.Errorf("kick participant %s: %w", req.ParticipantID, err)
	}
	log.Info().
		Str("session_id", req.SessionID.String()).
		Str("participant_id", req.ParticipantID.String()).
		Str("actor", req.Actor.String()).
		Msg("participant kicked")
	return out, nil
}

// ResolveWinner records the winner decision. The guarded UPDATE makes it
// at-most-once even without the row lock.
func (s *Store) ResolveWinner(ctx context.Context, req store.ResolveRequest) (models.AuctionSession, error) {
	if req.Outcome != models.ResolutionConfirmed && req.Outcome != models.ResolutionRejected {
		return models.AuctionSession{}, store.Reject(store.ErrValidation, store.ReasonBadOutcome)
	}
	var out models.AuctionSession
	err := sqlutil.Run(ctx, s.pool, func(tx pgx.Tx) error {
		session, err := getSession(ctx, tx, req.SessionID, true)
		if err != nil {
			return err
		}
		if session.Resolution != nil {
			return store.ErrAlreadyResolved
		}
		now := s.opts.Clock.Now()
		if s.opts.Resolver.ResolveSession(session, now).Phase != phase.Ended {
			return store.Reject(store.ErrValidation, store.ReasonNotEnded)
		}
		bids, err := listBids(ctx, tx, req.SessionID)
		if err != nil {
			return err
		}
		if err := s.settleWinner(ctx, tx, &session, bids); err != nil {
			return err
		}
		if session.CurrentWinnerID == nil {
			return store.Reject(store.ErrValidation, store.ReasonNoWinner)
		}
		winner := *session.CurrentWinnerID
		if req.WinnerID != uuid.Nil && req.WinnerID != winner {
			return store.Reject(store.ErrValidation, store.ReasonWinnerMismatch)
		}

		out, err = scanSession(tx.QueryRow(ctx, `
			UPDATE auction_sessions SET
				resolution_outcome = $2, resolution_winner_id = $3, resolution_reason = $4,
				resolved_by = $5, resolved_at = $6, updated_at = $6
			WHERE id = $1 AND resolution_outcome IS NULL
			RETURNING `+sessionColumns,
			req.SessionID, string(req.Outcome), winner, sqlutil.ToNullString(req.Reason), req.Actor.String(), now,
		))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return store.ErrAlreadyResolved
			}
			return fmt.Errorf("update session: %w", err)
		}
		leader, _ := store.Leader(session, bids)
		return enqueue(ctx, tx, req.SessionID, events.EventTypeWinnerResolved, now,
			events.WinnerResolvedPayload{Resolution: *out.Resolution, Amount: leader.Amount})
	})
	if err != nil {
		return models.AuctionSession{}, fmt.Errorf("resolve winner %s: %w", req.SessionID, err)
	}
	log.Info().
		Str("session_id", req.SessionID.String()).
		Str("outcome", string(req.Outcome)).
		Str("actor", req.Actor.String()).
		Msg("winner resolved")
	return out, nil
}
