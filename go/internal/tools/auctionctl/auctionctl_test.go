package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/gavel/go/internal/auction/channel"
	"github.com/mcdev12/gavel/go/internal/auction/gateway"
	"github.com/mcdev12/gavel/go/internal/auction/phase"
	"github.com/mcdev12/gavel/go/internal/auction/session"
	"github.com/mcdev12/gavel/go/internal/auction/store/memstore"
	"github.com/mcdev12/gavel/go/internal/models"
)

type harness struct {
	url       string
	sessionID uuid.UUID
	bidder    uuid.UUID
	operator  uuid.UUID
}

// newHarness serves a gateway with one session ten minutes into bidding.
func newHarness(t *testing.T) *harness {
	t.Helper()
	bidStart := time.Date(2026, 5, 4, 14, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(bidStart.Add(10 * time.Minute))
	local := channel.NewLocal()
	mem := memstore.New(memstore.Options{Clock: clock, Emit: local.PublishEnvelope})

	ts := func(d time.Duration) *time.Time { v := bidStart.Add(d); return &v }
	s := models.AuctionSession{
		ID:            uuid.New(),
		Title:         "Lot 7",
		RegisterStart: ts(-48 * time.Hour),
		RegisterEnd:   ts(-24 * time.Hour),
		CheckinTime:   ts(-time.Hour),
		BidStart:      ts(0),
		BidEnd:        ts(time.Hour),
		StartingPrice: decimal.NewFromInt(100_000_000),
		BidStepAmount: decimal.NewFromInt(10_000_000),
	}
	mem.PutSession(s)

	h := &harness{sessionID: s.ID, bidder: uuid.New(), operator: uuid.New()}
	assert.NoError(t, mem.PutParticipant(models.Participant{
		SessionID:     s.ID,
		UserID:        h.bidder,
		DepositAmount: decimal.NewFromInt(20_000_000),
		Status:        models.ParticipantStatusApproved,
	}))

	svc := gateway.NewService(gateway.DefaultConfig(), session.Options{
		Clock:          clock,
		Store:          mem,
		Transport:      local,
		CommandTimeout: time.Second,
	})
	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(func() {
		server.Close()
		_ = svc.Stop()
		_ = local.Close()
	})
	h.url = server.URL
	return h
}

func (h *harness) run(t *testing.T, user uuid.UUID, role session.Role, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{
		"--gateway", h.url,
		"--session", h.sessionID.String(),
		"--user", user.String(),
		"--role", strings.ToLower(string(role)),
	}, args...))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestStatePrintsViewerState(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, h.bidder, session.RoleBidder, "state")
	assert.NoError(t, err)
	check.True(t, strings.Contains(out, "Lot 7"))
	check.True(t, strings.Contains(out, "Phase:     "+string(phase.BiddingOpen)))
	check.True(t, strings.Contains(out, "Next bid:  110000000 - "))
	check.True(t, strings.Contains(out, "Can bid:   true"))
}

func TestBidReportsRefusalAndSuccess(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, h.bidder, session.RoleBidder, "bid", "105000000")
	check.True(t, errors.Is(err, errRefused))
	check.True(t, strings.Contains(out, "REFUSED "+string(session.ReasonBelowMinimum)))

	out, err = h.run(t, h.bidder, session.RoleBidder, "bid", "110000000")
	assert.NoError(t, err)
	check.Equal(t, "OK\n", out)

	out, err = h.run(t, h.operator, session.RoleOperator, "--json", "state")
	assert.NoError(t, err)
	check.True(t, strings.Contains(out, `"highest": "110000000"`))

	_, err = h.run(t, h.bidder, session.RoleBidder, "bid", "lots")
	check.Error(t, err)
}

func TestOperatorCommands(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, h.bidder, session.RoleBidder, "pause")
	check.True(t, errors.Is(err, errRefused))

	out, err := h.run(t, h.operator, session.RoleOperator, "pause")
	assert.NoError(t, err)
	check.Equal(t, "OK\n", out)

	out, err = h.run(t, h.operator, session.RoleOperator, "state")
	assert.NoError(t, err)
	check.True(t, strings.Contains(out, "Phase:     "+string(phase.Paused)))

	_, err = h.run(t, h.operator, session.RoleOperator, "resume")
	assert.NoError(t, err)

	out, err = h.run(t, h.operator, session.RoleOperator, "kick", uuid.NewString(), "--reason", "short")
	check.True(t, errors.Is(err, errRefused))
	check.True(t, strings.Contains(out, string(session.ReasonReasonTooShort)))

	out, err = h.run(t, h.operator, session.RoleOperator, "confirm")
	check.True(t, errors.Is(err, errRefused))
	check.True(t, strings.Contains(out, string(session.ReasonNotEnded)))
}

func TestRejectsBadIdentity(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, uuid.Nil, "auctioneer", "state")
	check.Error(t, err)

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--gateway", h.url, "--session", "lot-7", "--user", h.bidder.String(), "state"})
	check.Error(t, cmd.Execute())
}

func TestWatchPrintsStreamedState(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, h.bidder, session.RoleBidder, "watch", "--count", "1")
	assert.NoError(t, err)
	check.True(t, strings.Contains(out, "Session:   Lot 7"))
	check.True(t, strings.HasSuffix(out, "---\n"))
}

func TestWebsocketURL(t *testing.T) {
	u, err := websocketURL("https://gavel.example.com/gw")
	assert.NoError(t, err)
	check.Equal(t, "wss://gavel.example.com/gw", u.String())

	u, err = websocketURL("http://localhost:8081")
	assert.NoError(t, err)
	check.Equal(t, "ws", u.Scheme)

	_, err = websocketURL("ftp://localhost")
	check.Error(t, err)
}
