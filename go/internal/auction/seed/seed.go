// Package seed loads auction sessions and their participants from a YAML
// file into a store. Times are RFC 3339 or an offset from now such as "+10m"
// or "-48h", so a development seed stays current.
package seed

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/gavel/go/internal/auction/store/memstore"
	"github.com/mcdev12/gavel/go/internal/models"
)

// File is the seed document.
type File struct {
	Sessions []Session `yaml:"sessions"`
}

// Session mirrors models.AuctionSession with string-typed money and times.
type Session struct {
	ID            string        `yaml:"id"`
	Title         string        `yaml:"title"`
	RegisterStart string        `yaml:"register_start"`
	RegisterEnd   string        `yaml:"register_end"`
	CheckinTime   string        `yaml:"checkin_time"`
	BidStart      string        `yaml:"bid_start"`
	BidEnd        string        `yaml:"bid_end"`
	StartingPrice string        `yaml:"starting_price"`
	BidStep       string        `yaml:"bid_step"`
	Participants  []Participant `yaml:"participants"`
}

// Participant is one registration inside a seeded session.
type Participant struct {
	UserID  string `yaml:"user_id"`
	Deposit string `yaml:"deposit"`
	Status  string `yaml:"status"`
}

// Sink receives seeded records.
type Sink interface {
	PutSession(ctx context.Context, s models.AuctionSession) error
	PutParticipant(ctx context.Context, p models.Participant) error
}

// Load reads a seed file.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read seed file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("parse seed file: %w", err)
	}
	return f, nil
}

// Counts reports what Apply wrote.
type Counts struct {
	Sessions     int
	Participants int
}

// Apply converts every record relative to now and writes it to sink.
func (f File) Apply(ctx context.Context, sink Sink, now time.Time) (Counts, error) {
	var c Counts
	for i, s := range f.Sessions {
		session, participants, err := s.convert(now)
		if err != nil {
			return c, fmt.Errorf("session %d (%s): %w", i, s.Title, err)
		}
		if err := sink.PutSession(ctx, session); err != nil {
			return c, fmt.Errorf("put session %s: %w", session.ID, err)
		}
		c.Sessions++
		for _, p := range participants {
			if err := sink.PutParticipant(ctx, p); err != nil {
				return c, fmt.Errorf("put participant %s: %w", p.UserID, err)
			}
			c.Participants++
		}
	}
	return c, nil
}

func (s Session) convert(now time.Time) (models.AuctionSession, []models.Participant, error) {
	id, err := uuid.Parse(s.ID)
	if err != nil {
		return models.AuctionSession{}, nil, fmt.Errorf("id: %w", err)
	}
	out := models.AuctionSession{ID: id, Title: s.Title}

	for _, f := range []struct {
		name string
		raw  string
		dst  **time.Time
	}{
		{"register_start", s.RegisterStart, &out.RegisterStart},
		{"register_end", s.RegisterEnd, &out.RegisterEnd},
		{"checkin_time", s.CheckinTime, &out.CheckinTime},
		{"bid_start", s.BidStart, &out.BidStart},
		{"bid_end", s.BidEnd, &out.BidEnd},
	} {
		t, err := ParseWhen(f.raw, now)
		if err != nil {
			return models.AuctionSession{}, nil, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = t
	}

	if out.StartingPrice, err = parseAmount(s.StartingPrice); err != nil {
		return models.AuctionSession{}, nil, fmt.Errorf("starting_price: %w", err)
	}
	if out.BidStepAmount, err = parseAmount(s.BidStep); err != nil {
		return models.AuctionSession{}, nil, fmt.Errorf("bid_step: %w", err)
	}
	if !out.BidStepAmount.IsPositive() {
		return models.AuctionSession{}, nil, fmt.Errorf("bid_step must be positive")
	}

	participants := make([]models.Participant, 0, len(s.Participants))
	for _, p := range s.Participants {
		userID, err := uuid.Parse(p.UserID)
		if err != nil {
			return models.AuctionSession{}, nil, fmt.Errorf("participant user_id: %w", err)
		}
		deposit, err := parseAmount(p.Deposit)
		if err != nil {
			return models.AuctionSession{}, nil, fmt.Errorf("participant deposit: %w", err)
		}
		status := models.ParticipantStatus(strings.ToUpper(p.Status))
		if status == "" {
			status = models.ParticipantStatusApproved
		}
		if !status.Valid() {
			return models.AuctionSession{}, nil, fmt.Errorf("participant status %q", p.Status)
		}
		participants = append(participants, models.Participant{
			SessionID:     id,
			UserID:        userID,
			DepositAmount: deposit,
			Status:        status,
		})
	}
	return out, participants, nil
}

// ParseWhen parses an RFC 3339 timestamp or a signed offset from now. An
// empty string is an unset time.
func ParseWhen(raw string, now time.Time) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if raw[0] == '+' || raw[0] == '-' {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, err
		}
		t := now.Add(d).UTC().Truncate(time.Second)
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}

func parseAmount(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative amount %s", raw)
	}
	return d, nil
}

// Memory adapts a memstore.Store to Sink.
func Memory(m *memstore.Store) Sink {
	return memorySink{m}
}

type memorySink struct{ m *memstore.Store }

func (s memorySink) PutSession(_ context.Context, session models.AuctionSession) error {
	s.m.PutSession(session)
	return nil
}

func (s memorySink) PutParticipant(_ context.Context, p models.Participant) error {
	return s.m.PutParticipant(p)
}
