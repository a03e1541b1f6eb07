package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/mcdev12/gavel/go/internal/auction/channel"
	"github.com/mcdev12/gavel/go/internal/auction/events"
	"github.com/mcdev12/gavel/go/internal/auction/phase"
	"github.com/mcdev12/gavel/go/internal/auction/poller"
	"github.com/mcdev12/gavel/go/internal/auction/store"
	"github.com/mcdev12/gavel/go/internal/models"
)

func TestOpenUnknownSession(t *testing.T) {
	h := newHarness(t, bidStart)
	_, err := Open(context.Background(), uuid.New(), h.operator, h.options(h.mem, h.local))
	assert.Error(t, err)
	check.True(t, errors.Is(err, store.ErrNotFound))

	_, err = Open(context.Background(), h.session.ID, Viewer{UserID: uuid.New(), Role: "AUCTIONEER"}, h.options(h.mem, h.local))
	check.Error(t, err)
}

func TestInitialState(t *testing.T) {
	h := newHarness(t, bidStart.Add(-time.Hour))
	op := h.open(t, h.operator)
	bidder := h.open(t, h.bidderViewer())

	s := op.State()
	check.Equal(t, h.session.ID, s.SessionID)
	check.Equal(t, "Lot 7", s.Title)
	check.Equal(t, phase.CheckinOpen, s.Phase)
	check.Equal(t, 3600, s.RemainingSeconds)
	check.Equal(t, millions(100).String(), s.Highest.String())
	check.Equal(t, millions(110).String(), s.MinimumNext.String())
	check.Equal(t, 2, len(s.Participants))
	check.Nil(t, s.Me)
	check.Equal(t, channel.StatusConnected, s.ChannelState)
	check.Equal(t, 0, len(s.Notices))

	b := bidder.State()
	check.Equal(t, 0, len(b.Participants))
	assert.NotNil(t, b.Me)
	check.Equal(t, h.bidder.ID, b.Me.ID)
	check.True(t, b.Eligibility.CanCheckin)
	check.False(t, b.Eligibility.CanBid)
}

func TestPushAndPollConverge(t *testing.T) {
	h := newHarness(t, bidStart.Add(time.Minute))
	v := h.open(t, h.bidderViewer())

	bid := h.rivalBids(t, millions(130))
	s := v.State()
	check.Equal(t, millions(130).String(), s.Highest.String())
	assert.Equal(t, 1, len(s.History))
	check.Equal(t, bid.ID, s.History[0].ID)

	// the same bid again by push and by poll changes nothing
	env, err := events.NewEnvelope(h.session.ID, events.EventTypeBidPlaced, h.clock.Now(), events.BidPlacedPayload{Bid: bid})
	assert.NoError(t, err)
	h.local.PublishEnvelope(env)
	assert.NoError(t, v.Refresh(context.Background()))

	s = v.State()
	check.Equal(t, millions(130).String(), s.Highest.String())
	check.Equal(t, 1, len(s.History))
}

func TestMalformedEventIsDropped(t *testing.T) {
	h := newHarness(t, bidStart.Add(time.Minute))
	v := h.open(t, h.bidderViewer())
	h.rivalBids(t, millions(130))
	before := v.State()

	topic := events.SessionTopic(h.session.ID)
	h.local.Publish(topic, []byte(`{"eventId":`))
	bad, err := json.Marshal(events.Envelope{
		EventID:   uuid.New(),
		EventType: events.EventTypeBidPlaced,
		SessionID: h.session.ID,
		Timestamp: h.clock.Now(),
		Payload:   json.RawMessage(`{"bid":"not an object"}`),
	})
	assert.NoError(t, err)
	h.local.Publish(topic, bad)

	after := v.State()
	check.Equal(t, before.Version, after.Version)
	check.Equal(t, before.Highest.String(), after.Highest.String())
}

func TestEventsForOtherSessionsAreIgnored(t *testing.T) {
	h := newHarness(t, bidStart.Add(time.Minute))
	v := h.open(t, h.operator)

	other := models.Bid{ID: uuid.New(), SessionID: uuid.New(), BidderID: uuid.New(), Amount: millions(900), Timestamp: h.clock.Now()}
	env, err := events.NewEnvelope(other.SessionID, events.EventTypeBidPlaced, h.clock.Now(), events.BidPlacedPayload{Bid: other})
	assert.NoError(t, err)
	data, err := json.Marshal(env)
	assert.NoError(t, err)
	h.local.Publish(events.SessionTopic(h.session.ID), data)

	check.Equal(t, millions(100).String(), v.State().Highest.String())
}

func TestResubscribesAfterEveryReconnect(t *testing.T) {
	h := newHarness(t, bidStart.Add(time.Minute))
	v := h.open(t, h.operator)

	for round := 1; round <= 3; round++ {
		h.local.SetStatus(channel.StatusReconnecting)
		check.Equal(t, channel.StatusReconnecting, v.State().ChannelState)

		h.local.SetStatus(channel.StatusConnected)
		check.Equal(t, channel.StatusConnected, v.State().ChannelState)

		amount := millions(100 + int64(round)*10)
		h.rivalBids(t, amount)
		check.Equal(t, amount.String(), v.State().Highest.String())
		check.Equal(t, round, len(v.State().History))
	}
	st := v.Stats()
	check.Equal(t, 3, st.Resubscribes)
	check.Equal(t, 2, len(st.Topics))
}

func TestReconnectNoticeIsShownOncePerDrop(t *testing.T) {
	h := newHarness(t, bidStart.Add(time.Minute))
	v := h.open(t, h.bidderViewer())

	h.local.SetStatus(channel.StatusReconnecting)
	h.local.SetStatus(channel.StatusDisconnected)
	s := v.State()
	check.Equal(t, channel.StatusDisconnected, s.ChannelState)
	assert.Equal(t, 1, len(s.Notices))
	check.Equal(t, string(channel.StatusReconnecting), s.Notices[0].Status)
}

func TestMissedPushIsRecoveredByPoll(t *testing.T) {
	h := newHarness(t, bidStart.Add(time.Minute))
	v := h.open(t, h.operator)

	h.local.SetStatus(channel.StatusReconnecting)
	h.rivalBids(t, millions(120)) // dropped by the transport
	check.Equal(t, millions(100).String(), v.State().Highest.String())

	assert.NoError(t, h.clock.BlockUntilContext(context.Background(), 2))
	h.clock.Advance(poller.OperatorInterval)
	waitFor(t, func() bool { return v.State().Highest.Equal(millions(120)) })
}

func TestPollerKeepsRunningWhileConnected(t *testing.T) {
	h := newHarness(t, bidStart.Add(time.Minute))
	fs := &faultyStore{Store: h.mem}
	v := h.openWith(t, h.bidderViewer(), h.options(fs, h.local))
	check.Equal(t, channel.StatusConnected, v.State().ChannelState)
	initial := fs.polls.Load()

	for i := 1; i <= 3; i++ {
		assert.NoError(t, h.clock.BlockUntilContext(context.Background(), 2))
		h.clock.Advance(poller.BidderInterval)
		want := initial + int32(i)
		waitFor(t, func() bool { return fs.polls.Load() >= want })
	}
	st := v.Stats()
	check.True(t, st.Polls >= 3)
	check.Equal(t, 0, st.PollFailures)
}

func TestCloseStopsEverything(t *testing.T) {
	h := newHarness(t, bidStart.Add(time.Minute))
	fs := &faultyStore{Store: h.mem}
	v, err := Open(context.Background(), h.session.ID, h.operator, h.options(fs, h.local))
	assert.NoError(t, err)
	ch, _ := v.Watch()
	<-ch

	assert.NoError(t, h.clock.BlockUntilContext(context.Background(), 2))
	v.Close()
	v.Close()

	_, open := <-ch
	check.False(t, open)

	// no subscriptions left on the transport
	check.Equal(t, 0, h.local.Publish(events.SessionTopic(h.session.ID), []byte(`{}`)))
	check.Equal(t, 0, h.local.Publish(events.ParticipantTopic(h.session.ID, uuid.NewString()), []byte(`{}`)))

	// no tickers left on the clock
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, h.clock.BlockUntilContext(ctx, 0))

	polls := fs.polls.Load()
	h.clock.Advance(time.Minute)
	time.Sleep(10 * time.Millisecond)
	check.Equal(t, polls, fs.polls.Load())

	// a closed view hands out closed watch channels
	ch, _ = v.Watch()
	_, open = <-ch
	check.False(t, open)
}

func TestWatchReceivesChanges(t *testing.T) {
	h := newHarness(t, bidStart.Add(time.Minute))
	v := h.open(t, h.bidderViewer())
	ch, cancel := v.Watch()
	defer cancel()

	first := <-ch
	h.rivalBids(t, millions(140))

	var latest State
	waitFor(t, func() bool {
		select {
		case latest = <-ch:
		default:
		}
		return latest.Highest.Equal(millions(140))
	})
	check.True(t, latest.Version > first.Version)
}

func TestParticipantNoticesAreDeduplicated(t *testing.T) {
	h := newHarness(t, bidStart.Add(-time.Hour))
	bidder := h.open(t, h.bidderViewer())
	op := h.open(t, h.operator)

	kicked := h.bidder
	kicked.Status = models.ParticipantStatusRejected
	reason := "identity could not be verified"
	kicked.KickReason = &reason
	assert.NoError(t, h.mem.PutParticipant(kicked))

	// push already delivered it; the poll brings the same record again
	assert.NoError(t, bidder.Refresh(context.Background()))
	assert.NoError(t, op.Refresh(context.Background()))

	b := bidder.State()
	assert.Equal(t, 1, len(b.Notices))
	check.Equal(t, string(models.ParticipantStatusRejected), b.Notices[0].Status)
	check.Equal(t, "You were removed from this session: "+reason, b.Notices[0].Message)

	check.Equal(t, 1, len(op.State().Notices))

	// the rival's own changes are not the bidder's business
	rival := h.rival
	rival.Status = models.ParticipantStatusPaid
	assert.NoError(t, h.mem.PutParticipant(rival))
	assert.NoError(t, bidder.Refresh(context.Background()))
	check.Equal(t, 1, len(bidder.State().Notices))
	check.Equal(t, 2, len(op.State().Notices))
}

func TestReinstatedParticipantIsAnnouncedAgain(t *testing.T) {
	h := newHarness(t, bidStart.Add(-time.Hour))
	bidder := h.open(t, h.bidderViewer())

	rejected := h.bidder
	rejected.Status = models.ParticipantStatusRejected
	assert.NoError(t, h.mem.PutParticipant(rejected))
	assert.NoError(t, h.mem.PutParticipant(h.bidder))
	assert.NoError(t, h.mem.PutParticipant(rejected))

	notices := bidder.State().Notices
	assert.Equal(t, 3, len(notices))
	check.Equal(t, string(models.ParticipantStatusRejected), notices[0].Status)
	check.Equal(t, string(models.ParticipantStatusApproved), notices[1].Status)
	check.Equal(t, string(models.ParticipantStatusRejected), notices[2].Status)

	// the poll brings nothing new
	assert.NoError(t, bidder.Refresh(context.Background()))
	check.Equal(t, 3, len(bidder.State().Notices))
}

func TestBidCollisionsAreCounted(t *testing.T) {
	h := newHarness(t, bidStart.Add(time.Minute))
	v := h.open(t, h.bidderViewer())
	check.Equal(t, 0, v.Stats().BidCollisions)

	b := h.rivalBids(t, millions(150))
	b.Amount = millions(160)
	env, err := events.NewEnvelope(h.session.ID, events.EventTypeBidPlaced, h.clock.Now(), events.BidPlacedPayload{Bid: b})
	assert.NoError(t, err)
	h.local.PublishEnvelope(env)

	check.Equal(t, 1, v.Stats().BidCollisions)
	check.Equal(t, 1, len(v.State().History))
}

func TestPauseFromAnotherOperatorIsAnnounced(t *testing.T) {
	h := newHarness(t, bidStart.Add(time.Minute))
	op := h.open(t, h.operator)
	bidder := h.open(t, h.bidderViewer())

	assert.True(t, op.Pause(context.Background()).OK)
	assert.NoError(t, bidder.Refresh(context.Background()))

	s := bidder.State()
	check.Equal(t, phase.Paused, s.Phase)
	check.False(t, s.Eligibility.CanBid)
	assert.Equal(t, 1, len(s.Notices))
	check.Equal(t, "PAUSED", s.Notices[0].Status)
	check.Equal(t, ReasonNotBiddingTime, bidder.SubmitBid(context.Background(), millions(110)).Reason)

	// the acting operator is not told about its own pause
	check.Equal(t, 0, len(op.State().Notices))
}

func TestStaleSnapshotDoesNotUndoNewerPush(t *testing.T) {
	h := newHarness(t, bidStart.Add(time.Minute))
	stale, err := h.mem.Snapshot(context.Background(), h.session.ID)
	assert.NoError(t, err)
	v := h.open(t, h.bidderViewer())

	h.clock.Advance(time.Second)
	_, err = h.mem.PauseSession(context.Background(), store.PauseRequest{SessionID: h.session.ID, Actor: h.operator.UserID})
	assert.NoError(t, err)
	check.True(t, v.State().Paused)

	v.mu.Lock()
	v.applySnapshotLocked(stale, false)
	v.mu.Unlock()
	check.True(t, v.State().Paused)
}

func TestReplayedPauseAndResumeEventsAreIgnored(t *testing.T) {
	h := newHarness(t, bidStart.Add(30*time.Minute))
	var mu sync.Mutex
	sent := map[events.EventType]events.Envelope{}
	sub, err := h.local.Subscribe(events.SessionTopic(h.session.ID), func(msg channel.Message) {
		env, err := events.Decode(msg.Data)
		if err != nil {
			return
		}
		mu.Lock()
		sent[env.EventType] = env
		mu.Unlock()
	})
	assert.NoError(t, err)
	t.Cleanup(func() { _ = sub.Unsubscribe() })
	op := h.open(t, h.operator)
	bidder := h.open(t, h.bidderViewer())
	ctx := context.Background()

	assert.True(t, op.Pause(ctx).OK)
	check.Equal(t, phase.Paused, bidder.State().Phase)
	h.clock.Advance(200 * time.Second)
	assert.True(t, op.Resume(ctx).OK)
	assert.NoError(t, bidder.Refresh(ctx))
	check.Equal(t, phase.BiddingOpen, bidder.State().Phase)

	mu.Lock()
	paused, resumed := sent[events.EventTypeSessionPaused], sent[events.EventTypeSessionResumed]
	mu.Unlock()
	h.local.PublishEnvelope(paused)
	s := bidder.State()
	check.Equal(t, phase.BiddingOpen, s.Phase)
	check.True(t, s.Eligibility.CanBid)
	check.True(t, bidder.SubmitBid(ctx, millions(110)).OK)

	// a late resume must not lift a newer pause
	h.clock.Advance(time.Minute)
	assert.True(t, op.Pause(ctx).OK)
	check.Equal(t, phase.Paused, bidder.State().Phase)
	h.local.PublishEnvelope(resumed)
	check.Equal(t, phase.Paused, bidder.State().Phase)
	check.Equal(t, phase.Paused, op.State().Phase)
}

func TestWinnerFallsBackToLedgerLeader(t *testing.T) {
	h := newHarness(t, bidStart.Add(time.Minute))
	// no push and no poll before the end, so the authority's winner is unknown
	opts := h.options(h.mem, nil)
	opts.PollInterval = 24 * time.Hour
	v := h.openWith(t, h.bidderViewer(), opts)
	check.True(t, v.SubmitBid(context.Background(), millions(110)).OK)
	check.Nil(t, v.State().WinnerID)

	h.clock.Advance(2 * time.Hour)
	s := v.State()
	check.Equal(t, phase.Ended, s.Phase)
	assert.NotNil(t, s.WinnerID)
	check.Equal(t, h.bidder.UserID, *s.WinnerID)
}
