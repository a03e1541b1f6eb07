package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/gavel/go/internal/auction/bidding"
	"github.com/mcdev12/gavel/go/internal/auction/events"
	"github.com/mcdev12/gavel/go/internal/auction/store"
	"github.com/mcdev12/gavel/go/internal/models"
	"github.com/mcdev12/gavel/go/internal/sqlutil"
)

// PlaceBid admits a bid. The session row is locked for the whole decision so
// two bids cannot both clear the same minimum. A resubmitted id returns the
// stored bid.
func (s *Store) PlaceBid(ctx context.Context, req store.PlaceBidRequest) (models.Bid, error) {
	var placed models.Bid
	err := sqlutil.Run(ctx, s.pool, func(tx pgx.Tx) error {
		session, err := getSession(ctx, tx, req.SessionID, true)
		if err != nil {
			return err
		}

		existing, err := getBid(ctx, tx, req.ID)
		switch {
		case err == nil:
			placed = existing
			return nil
		case !errors.Is(err, store.ErrNotFound):
			return err
		}

		now := s.opts.Clock.Now()
		res := s.opts.Resolver.ResolveSession(session, now)

		var status string
		err = tx.QueryRow(ctx,
			`SELECT status FROM auction_participants WHERE session_id = $1 AND user_id = $2`,
			req.SessionID, req.BidderID,
		).Scan(&status)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("load participant: %w", err)
		}

		var maxAmount *string
		if err := tx.QueryRow(ctx,
			`SELECT MAX(amount)::text FROM auction_bids WHERE session_id = $1`, req.SessionID,
		).Scan(&maxAmount); err != nil {
			return fmt.Errorf("load highest: %w", err)
		}
		highest := session.StartingPrice
		if maxAmount != nil {
			m, err := sqlutil.FromNumeric(*maxAmount)
			if err != nil {
				return err
			}
			highest = decimal.Max(highest, m)
		}

		decision := s.opts.Validator.Validate(bidding.Input{
			CurrentHighest:    highest,
			BidStep:           session.BidStepAmount,
			Candidate:         req.Amount,
			ParticipantStatus: models.ParticipantStatus(status),
			Phase:             res.Phase,
		})
		if err := store.Admit(decision, highest); err != nil {
			log.Debug().
				Str("session_id", req.SessionID.String()).
				Str("bidder_id", req.BidderID.String()).
				Str("amount", req.Amount.String()).
				Str("decision", decision.String()).
				Msg("bid refused")
			return err
		}

		placed = models.Bid{
			ID:        req.ID,
			SessionID: req.SessionID,
			BidderID:  req.BidderID,
			Amount:    req.Amount,
			Timestamp: now,
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO auction_bids (id, session_id, bidder_id, amount, created_at)
			VALUES ($1, $2, $3, $4::numeric, $5)
			ON CONFLICT (id) DO NOTHING`,
			placed.ID, placed.SessionID, placed.BidderID, sqlutil.ToNumeric(placed.Amount), placed.Timestamp,
		); err != nil {
			return fmt.Errorf("insert bid: %w", err)
		}
		return enqueue(ctx, tx, req.SessionID, events.EventTypeBidPlaced, now, events.BidPlacedPayload{Bid: placed})
	})
	if err != nil {
		return models.Bid{}, fmt.Errorf("place bid %s: %w", req.ID, err)
	}

	log.Info().
		Str("session_id", placed.SessionID.String()).
		Str("bid_id", placed.ID.String()).
		Str("bidder_id", placed.BidderID.String()).
		Str("amount", placed.Amount.String()).
		Msg("bid admitted")
	return placed, nil
}
