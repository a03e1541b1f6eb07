package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mcdev12/gavel/go/internal/auction/events"
	"github.com/mcdev12/gavel/go/internal/models"
)

// enqueue writes an event to the outbox and notifies the relay. Both happen
// inside tx, so the event exists iff the write committed.
func enqueue(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID, eventType events.EventType, at time.Time, payload any) error {
	env, err := events.NewEnvelope(sessionID, eventType, at, payload)
	if err != nil {
		return err
	}
	topic, err := events.TopicFor(env)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO auction_outbox (id, session_id, event_type, topic, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		env.EventID, sessionID, string(eventType), topic, data, at,
	)
	if err != nil {
		return fmt.Errorf("insert %s outbox event: %w", eventType, err)
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, env.EventID.String()); err != nil {
		return fmt.Errorf("notify outbox: %w", err)
	}
	return nil
}

func enqueueParticipant(ctx context.Context, tx pgx.Tx, at time.Time, p models.Participant) error {
	return enqueue(ctx, tx, p.SessionID, events.EventTypeParticipantUpdated, at, events.ParticipantUpdatedPayload{Participant: p})
}
