package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const eventColumns = `id, session_id, event_type, topic, payload, created_at, sent_at`

// Repository reads and marks outbox rows over database/sql with the lib/pq
// driver, the same connection family as the LISTEN side.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (Event, error) {
	var e Event
	var payload []byte
	if err := row.Scan(&e.ID, &e.SessionID, &e.EventType, &e.Topic, &payload, &e.CreatedAt, &e.SentAt); err != nil {
		return Event{}, err
	}
	e.Payload = payload
	return e, nil
}

// FetchByID returns an unsent event.
func (r *Repository) FetchByID(ctx context.Context, id uuid.UUID) (Event, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM auction_outbox WHERE id = $1 AND sent_at IS NULL`, id)
	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Event{}, ErrNotFound
		}
		return Event{}, fmt.Errorf("failed to fetch outbox event by ID: %w", err)
	}
	return e, nil
}

// FetchUnsent returns up to limit unsent events, oldest first.
func (r *Repository) FetchUnsent(ctx context.Context, limit int) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM auction_outbox WHERE sent_at IS NULL ORDER BY created_at, id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unsent outbox events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkSent stamps an event as published.
func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE auction_outbox SET sent_at = now() WHERE id = $1 AND sent_at IS NULL`, id); err != nil {
		return fmt.Errorf("failed to mark outbox event as sent: %w", err)
	}
	return nil
}

// CountPending returns the number of unsent events.
func (r *Repository) CountPending(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM auction_outbox WHERE sent_at IS NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pending outbox events: %w", err)
	}
	return n, nil
}

// Ping checks the database connection.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
