package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/gavel/go/internal/auction/events"
)

// StreamConfig describes the JetStream stream that retains relayed events.
type StreamConfig struct {
	Name            string
	MaxAge          time.Duration
	MaxMsgs         int64 // -1 for no limit
	Replicas        int
	DuplicateWindow time.Duration // dedup window for WithMsgID
}

func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Name:            "AUCTION_EVENTS",
		MaxAge:          24 * time.Hour,
		MaxMsgs:         -1,
		Replicas:        1,
		DuplicateWindow: 2 * time.Hour,
	}
}

func (c StreamConfig) jetstream() jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:        c.Name,
		Description: "Auction session events relayed from the outbox",
		Subjects:    events.StreamSubjects,
		Retention:   jetstream.LimitsPolicy,
		Storage:     jetstream.FileStorage,
		MaxAge:      c.MaxAge,
		MaxMsgs:     c.MaxMsgs,
		Replicas:    c.Replicas,
		Duplicates:  c.DuplicateWindow,
	}
}

// JetStreamPublisher publishes outbox rows on their session topics. Core NATS
// subscribers on those topics receive them as well, which is how session
// views get pushes.
type JetStreamPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream string
}

// NewJetStreamPublisher creates or updates the stream on nc and returns a
// publisher bound to it. The caller owns nc.
func NewJetStreamPublisher(ctx context.Context, nc *nats.Conn, cfg StreamConfig) (*JetStreamPublisher, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, cfg.jetstream())
	if err != nil {
		return nil, fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
	}
	info := stream.CachedInfo()
	log.Info().
		Str("stream", info.Config.Name).
		Strs("subjects", info.Config.Subjects).
		Uint64("messages", info.State.Msgs).
		Msg("JetStream stream ready")

	return &JetStreamPublisher{nc: nc, js: js, stream: cfg.Name}, nil
}

// Publish sends the stored envelope unchanged. The event ID doubles as the
// JetStream message ID, so a row relayed twice is stored once.
func (p *JetStreamPublisher) Publish(ctx context.Context, event Event) error {
	ack, err := p.js.PublishMsg(ctx, newMsg(event),
		jetstream.WithMsgID(event.ID.String()),
		jetstream.WithExpectStream(p.stream),
	)
	if err != nil {
		return fmt.Errorf("publish %s to JetStream: %w", event.Topic, err)
	}

	log.Debug().
		Str("subject", event.Topic).
		Str("event_id", event.ID.String()).
		Uint64("sequence", ack.Sequence).
		Bool("duplicate", ack.Duplicate).
		Msg("event published")
	return nil
}

func newMsg(event Event) *nats.Msg {
	msg := nats.NewMsg(event.Topic)
	msg.Data = event.Payload
	msg.Header.Set("Event-ID", event.ID.String())
	msg.Header.Set("Event-Type", event.EventType)
	msg.Header.Set("Session-ID", event.SessionID.String())
	return msg
}

// Connected reports whether the NATS connection is up.
func (p *JetStreamPublisher) Connected() bool {
	return p.nc != nil && p.nc.IsConnected()
}
