package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mcdev12/gavel/go/internal/models"
	"github.com/mcdev12/gavel/go/internal/sqlutil"
)

const sessionColumns = `id, title, register_start, register_end, checkin_time, bid_start, bid_end,
	bid_step_amount::text, starting_price::text, paused, paused_at, paused_total_us, current_winner_id,
	resolution_outcome, resolution_winner_id, resolution_reason, resolved_by, resolved_at, updated_at`

const bidColumns = `id, session_id, bidder_id, amount::text, created_at`

const participantColumns = `id, session_id, user_id, deposit_amount::text, status, revision, kick_reason, updated_at`

func scanSession(row pgx.Row) (models.AuctionSession, error) {
	var (
		s                   models.AuctionSession
		step, starting      string
		pausedTotalUS       int64
		outcome, reason, by *string
		resolutionWinner    *uuid.UUID
		resolvedAt          *time.Time
	)
	err := row.Scan(
		&s.ID, &s.Title, &s.RegisterStart, &s.RegisterEnd, &s.CheckinTime, &s.BidStart, &s.BidEnd,
		&step, &starting, &s.Paused, &s.PausedAt, &pausedTotalUS, &s.CurrentWinnerID,
		&outcome, &resolutionWinner, &reason, &by, &resolvedAt, &s.UpdatedAt,
	)
	if err != nil {
		return models.AuctionSession{}, notFound(err)
	}
	if s.BidStepAmount, err = sqlutil.FromNumeric(step); err != nil {
		return models.AuctionSession{}, err
	}
	if s.StartingPrice, err = sqlutil.FromNumeric(starting); err != nil {
		return models.AuctionSession{}, err
	}
	s.PausedTotal = sqlutil.FromMicros(pausedTotalUS)
	if outcome != nil {
		r := models.WinnerResolution{
			Outcome:    models.ResolutionOutcome(*outcome),
			Reason:     sqlutil.FromNullString(reason, ""),
			ResolvedBy: sqlutil.FromNullString(by, ""),
		}
		if resolutionWinner != nil {
			r.WinnerID = *resolutionWinner
		}
		if resolvedAt != nil {
			r.ResolvedAt = resolvedAt.UTC()
		}
		s.Resolution = &r
	}
	normalise(&s)
	return s, nil
}

func normalise(s *models.AuctionSession) {
	s.RegisterStart = sqlutil.UTC(s.RegisterStart)
	s.RegisterEnd = sqlutil.UTC(s.RegisterEnd)
	s.CheckinTime = sqlutil.UTC(s.CheckinTime)
	s.BidStart = sqlutil.UTC(s.BidStart)
	s.BidEnd = sqlutil.UTC(s.BidEnd)
	s.PausedAt = sqlutil.UTC(s.PausedAt)
	s.UpdatedAt = s.UpdatedAt.UTC()
}

func scanBid(row pgx.Row) (models.Bid, error) {
	var (
		b      models.Bid
		amount string
	)
	if err := row.Scan(&b.ID, &b.SessionID, &b.BidderID, &amount, &b.Timestamp); err != nil {
		return models.Bid{}, notFound(err)
	}
	var err error
	if b.Amount, err = sqlutil.FromNumeric(amount); err != nil {
		return models.Bid{}, err
	}
	b.Timestamp = b.Timestamp.UTC()
	return b, nil
}

func scanParticipant(row pgx.Row) (models.Participant, error) {
	var (
		p       models.Participant
		deposit string
		status  string
	)
	if err := row.Scan(&p.ID, &p.SessionID, &p.UserID, &deposit, &status, &p.Revision, &p.KickReason, &p.UpdatedAt); err != nil {
		return models.Participant{}, notFound(err)
	}
	var err error
	if p.DepositAmount, err = sqlutil.FromNumeric(deposit); err != nil {
		return models.Participant{}, err
	}
	p.Status = models.ParticipantStatus(status)
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

// getSession loads a session row, optionally locking it for the rest of the transaction.
func getSession(ctx context.Context, q querier, id uuid.UUID, forUpdate bool) (models.AuctionSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM auction_sessions WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return scanSession(q.QueryRow(ctx, query, id))
}

func getBid(ctx context.Context, q querier, id uuid.UUID) (models.Bid, error) {
	return scanBid(q.QueryRow(ctx, `SELECT `+bidColumns+` FROM auction_bids WHERE id = $1`, id))
}

func listBids(ctx context.Context, q querier, sessionID uuid.UUID) ([]models.Bid, error) {
	rows, err := q.Query(ctx, `SELECT `+bidColumns+` FROM auction_bids WHERE session_id = $1 ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list bids: %w", err)
	}
	defer rows.Close()

	var out []models.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func listParticipants(ctx context.Context, q querier, sessionID uuid.UUID) ([]models.Participant, error) {
	rows, err := q.Query(ctx, `SELECT `+participantColumns+` FROM auction_participants WHERE session_id = $1 ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var out []models.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
