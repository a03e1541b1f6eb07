// Package pgstore is the Postgres authority. Bid acceptance is serialised by
// locking the session row; every write appends an outbox row in the same
// transaction and notifies the relay.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/gavel/go/internal/auction/bidding"
	"github.com/mcdev12/gavel/go/internal/auction/phase"
	"github.com/mcdev12/gavel/go/internal/auction/store"
	"github.com/mcdev12/gavel/go/internal/models"
	"github.com/mcdev12/gavel/go/internal/sqlutil"
)

//go:embed schema.sql
var schema string

// NotifyChannel is the LISTEN channel the outbox relay waits on.
const NotifyChannel = "auction_outbox"

// Options configures a Store.
type Options struct {
	Clock               clockwork.Clock
	Validator           *bidding.Validator
	Resolver            *phase.Resolver
	KickReasonMinLength int
}

// Store implements store.Store on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
	opts Options
}

var _ store.Store = (*Store)(nil)

// New creates a Store.
func New(pool *pgxpool.Pool, opts Options) *Store {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Validator == nil {
		opts.Validator = bidding.NewValidator(bidding.DefaultPolicy())
	}
	if opts.Resolver == nil {
		opts.Resolver = phase.NewResolver(phase.PausePolicy{})
	}
	return &Store{pool: pool, opts: opts}
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Snapshot reads the session, its bids and its participants. Once bidding
// has ended the winner is recorded on first read.
func (s *Store) Snapshot(ctx context.Context, sessionID uuid.UUID) (store.Snapshot, error) {
	var snap store.Snapshot
	err := sqlutil.Run(ctx, s.pool, func(tx pgx.Tx) error {
		session, err := getSession(ctx, tx, sessionID, false)
		if err != nil {
			return err
		}
		bids, err := listBids(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		participants, err := listParticipants(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if err := s.settleWinner(ctx, tx, &session, bids); err != nil {
			return err
		}
		snap = store.Snapshot{
			Session:      session,
			Bids:         bids,
			Participants: participants,
			ServerTime:   s.opts.Clock.Now(),
		}
		return nil
	})
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("snapshot %s: %w", sessionID, err)
	}
	return snap, nil
}

func (s *Store) settleWinner(ctx context.Context, tx pgx.Tx, session *models.AuctionSession, bids []models.Bid) error {
	if session.CurrentWinnerID != nil {
		return nil
	}
	if s.opts.Resolver.ResolveSession(*session, s.opts.Clock.Now()).Phase != phase.Ended {
		return nil
	}
	leader, ok := store.Leader(*session, bids)
	if !ok {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE auction_sessions SET current_winner_id = $2
		WHERE id = $1 AND current_winner_id IS NULL`,
		session.ID, leader.BidderID,
	)
	if err != nil {
		return fmt.Errorf("record winner: %w", err)
	}
	id := leader.BidderID
	session.CurrentWinnerID = &id
	log.Info().
		Str("session_id", session.ID.String()).
		Str("winner_id", id.String()).
		Str("amount", leader.Amount.String()).
		Msg("session winner recorded")
	return nil
}

// PutSession upserts a session record. Pause and resolution state are left
// untouched on update.
func (s *Store) PutSession(ctx context.Context, session models.AuctionSession) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO auction_sessions (
			id, title, register_start, register_end, checkin_time, bid_start, bid_end,
			bid_step_amount, starting_price, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9::numeric, $10)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			register_start = EXCLUDED.register_start,
			register_end = EXCLUDED.register_end,
			checkin_time = EXCLUDED.checkin_time,
			bid_start = EXCLUDED.bid_start,
			bid_end = EXCLUDED.bid_end,
			bid_step_amount = EXCLUDED.bid_step_amount,
			starting_price = EXCLUDED.starting_price,
			updated_at = EXCLUDED.updated_at`,
		session.ID, session.Title,
		session.RegisterStart, session.RegisterEnd, session.CheckinTime, session.BidStart, session.BidEnd,
		sqlutil.ToNumeric(session.BidStepAmount), sqlutil.ToNumeric(session.StartingPrice),
		s.opts.Clock.Now(),
	)
	if err != nil {
		return fmt.Errorf("put session %s: %w", session.ID, err)
	}
	return nil
}

// PutParticipant upserts a participant keyed by (session, user). Moving a
// record off REJECTED bumps its revision.
func (s *Store) PutParticipant(ctx context.Context, p models.Participant) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if !p.Status.Valid() {
		return store.Reject(store.ErrValidation, "BAD_STATUS")
	}
	return sqlutil.Run(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := getSession(ctx, tx, p.SessionID, false); err != nil {
			return err
		}
		row := tx.QueryRow(ctx, `
			INSERT INTO auction_participants (id, session_id, user_id, deposit_amount, status, kick_reason, updated_at)
			VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)
			ON CONFLICT (session_id, user_id) DO UPDATE SET
				deposit_amount = EXCLUDED.deposit_amount,
				status = EXCLUDED.status,
				kick_reason = EXCLUDED.kick_reason,
				revision = auction_participants.revision +
					CASE WHEN auction_participants.status = 'REJECTED' AND EXCLUDED.status <> 'REJECTED' THEN 1 ELSE 0 END,
				updated_at = EXCLUDED.updated_at
			RETURNING `+participantColumns,
			p.ID, p.SessionID, p.UserID, sqlutil.ToNumeric(p.DepositAmount), string(p.Status), p.KickReason, s.opts.Clock.Now(),
		)
		saved, err := scanParticipant(row)
		if err != nil {
			return fmt.Errorf("put participant: %w", err)
		}
		return enqueueParticipant(ctx, tx, s.opts.Clock.Now(), saved)
	})
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}
