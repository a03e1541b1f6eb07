package session

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/peterldowns/testy/assert"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/gavel/go/internal/auction/channel"
	"github.com/mcdev12/gavel/go/internal/auction/phase"
	"github.com/mcdev12/gavel/go/internal/auction/store"
	"github.com/mcdev12/gavel/go/internal/auction/store/memstore"
	"github.com/mcdev12/gavel/go/internal/models"
)

var (
	base     = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	bidStart = base.Add(48 * time.Hour)
	bidEnd   = bidStart.Add(time.Hour)
)

func at(t time.Time) *time.Time { return &t }

func millions(n int64) decimal.Decimal {
	return decimal.NewFromInt(n * 1_000_000)
}

type harness struct {
	clock    *clockwork.FakeClock
	mem      *memstore.Store
	local    *channel.Local
	resolver *phase.Resolver
	session  models.AuctionSession
	bidder   models.Participant
	rival    models.Participant
	operator Viewer
}

func newHarness(t *testing.T, now time.Time) *harness {
	return newHarnessWithPolicy(t, now, phase.PausePolicy{})
}

func newHarnessWithPolicy(t *testing.T, now time.Time, policy phase.PausePolicy) *harness {
	t.Helper()
	h := &harness{
		clock:    clockwork.NewFakeClockAt(now),
		local:    channel.NewLocal(),
		resolver: phase.NewResolver(policy),
		operator: Viewer{UserID: uuid.New(), Role: RoleOperator},
	}
	h.mem = memstore.New(memstore.Options{
		Clock:               h.clock,
		Resolver:            h.resolver,
		KickReasonMinLength: DefaultKickReasonMinLength,
		Emit:                h.local.PublishEnvelope,
	})
	h.session = models.AuctionSession{
		ID:            uuid.New(),
		Title:         "Lot 7",
		RegisterStart: at(base),
		RegisterEnd:   at(base.Add(24 * time.Hour)),
		CheckinTime:   at(base.Add(30 * time.Hour)),
		BidStart:      at(bidStart),
		BidEnd:        at(bidEnd),
		StartingPrice: millions(100),
		BidStepAmount: millions(10),
	}
	h.mem.PutSession(h.session)
	h.bidder = h.register(t)
	h.rival = h.register(t)
	return h
}

func (h *harness) register(t *testing.T) models.Participant {
	t.Helper()
	userID := uuid.New()
	assert.NoError(t, h.mem.PutParticipant(models.Participant{
		SessionID:     h.session.ID,
		UserID:        userID,
		DepositAmount: millions(20),
		Status:        models.ParticipantStatusApproved,
	}))
	snap, err := h.mem.Snapshot(context.Background(), h.session.ID)
	assert.NoError(t, err)
	for _, p := range snap.Participants {
		if p.UserID == userID {
			return p
		}
	}
	t.Fatal("participant not stored")
	return models.Participant{}
}

func (h *harness) bidderViewer() Viewer {
	return Viewer{UserID: h.bidder.UserID, Role: RoleBidder}
}

func (h *harness) options(s store.Store, transport channel.Transport) Options {
	return Options{
		Clock:          h.clock,
		Store:          s,
		Transport:      transport,
		Resolver:       h.resolver,
		CommandTimeout: time.Second,
	}
}

// open opens a view on the in-memory store wired to the local transport.
func (h *harness) open(t *testing.T, viewer Viewer) *View {
	t.Helper()
	return h.openWith(t, viewer, h.options(h.mem, h.local))
}

func (h *harness) openWith(t *testing.T, viewer Viewer, opts Options) *View {
	t.Helper()
	v, err := Open(context.Background(), h.session.ID, viewer, opts)
	assert.NoError(t, err)
	t.Cleanup(v.Close)
	return v
}

// rivalBids places a bid for the rival straight at the authority.
func (h *harness) rivalBids(t *testing.T, amount decimal.Decimal) models.Bid {
	t.Helper()
	b, err := h.mem.PlaceBid(context.Background(), store.PlaceBidRequest{
		ID:        uuid.New(),
		SessionID: h.session.ID,
		BidderID:  h.rival.UserID,
		Amount:    amount,
	})
	assert.NoError(t, err)
	return b
}

// faultyStore wraps a store and lets a test replace individual calls.
type faultyStore struct {
	store.Store
	place   func(ctx context.Context, req store.PlaceBidRequest) (models.Bid, error)
	pause   func(ctx context.Context, req store.PauseRequest) (models.AuctionSession, error)
	kick    func(ctx context.Context, req store.KickRequest) (models.Participant, error)
	resolve func(ctx context.Context, req store.ResolveRequest) (models.AuctionSession, error)
	kicks   atomic.Int32
	pauses  atomic.Int32
	polls   atomic.Int32
}

func (f *faultyStore) Snapshot(ctx context.Context, id uuid.UUID) (store.Snapshot, error) {
	f.polls.Add(1)
	return f.Store.Snapshot(ctx, id)
}

func (f *faultyStore) PlaceBid(ctx context.Context, req store.PlaceBidRequest) (models.Bid, error) {
	if f.place != nil {
		return f.place(ctx, req)
	}
	return f.Store.PlaceBid(ctx, req)
}

func (f *faultyStore) PauseSession(ctx context.Context, req store.PauseRequest) (models.AuctionSession, error) {
	f.pauses.Add(1)
	if f.pause != nil {
		return f.pause(ctx, req)
	}
	return f.Store.PauseSession(ctx, req)
}

func (f *faultyStore) KickParticipant(ctx context.Context, req store.KickRequest) (models.Participant, error) {
	f.kicks.Add(1)
	if f.kick != nil {
		return f.kick(ctx, req)
	}
	return f.Store.KickParticipant(ctx, req)
}

func (f *faultyStore) ResolveWinner(ctx context.Context, req store.ResolveRequest) (models.AuctionSession, error) {
	if f.resolve != nil {
		return f.resolve(ctx, req)
	}
	return f.Store.ResolveWinner(ctx, req)
}

func hang[T any](ctx context.Context) (T, error) {
	<-ctx.Done()
	var zero T
	return zero, ctx.Err()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(time.Millisecond)
	}
}
