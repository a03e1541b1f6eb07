package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/gavel/go/internal/auction/bidding"
	"github.com/mcdev12/gavel/go/internal/auction/channel"
	"github.com/mcdev12/gavel/go/internal/auction/events"
	"github.com/mcdev12/gavel/go/internal/auction/ledger"
	"github.com/mcdev12/gavel/go/internal/auction/notify"
	"github.com/mcdev12/gavel/go/internal/auction/phase"
	"github.com/mcdev12/gavel/go/internal/auction/poller"
	"github.com/mcdev12/gavel/go/internal/auction/store"
	"github.com/mcdev12/gavel/go/internal/models"
)

// pin names a group of session fields an in-flight command owns.
type pin int

const (
	pinPause pin = iota
	pinResolution
)

// View is one viewer's live state of one session. It owns one ticker, one
// poller and one subscription pair, all released by Close.
type View struct {
	sessionID uuid.UUID
	viewer    Viewer
	name      string

	clock     clockwork.Clock
	store     store.Store
	resolver  *phase.Resolver
	validator *bidding.Validator
	opts      Options

	mu           sync.Mutex
	session      models.AuctionSession
	bids         ledger.Bids
	registry     ledger.Registry
	pins         map[pin]int
	pending      map[string]int
	notices      []notify.Notice
	channelState channel.Status
	lastSync     time.Time
	lastPhase    phase.Phase
	lastPausedAt time.Time
	version      uint64

	dedup *notify.Deduper

	wmu         sync.Mutex
	watchers    map[int]chan State
	nextWatcher int
	closed      bool

	subs   *channel.SubscriptionManager
	poller *poller.Poller
	cancel context.CancelFunc
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// Open loads the session and starts its background loops. The context only
// bounds the initial load; the view runs until Close.
func Open(ctx context.Context, sessionID uuid.UUID, viewer Viewer, opts Options) (*View, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("open session view: store is required")
	}
	if _, ok := ParseRole(string(viewer.Role)); !ok {
		return nil, fmt.Errorf("open session view: unknown role %q", viewer.Role)
	}
	opts = opts.withDefaults(viewer.Role)

	v := &View{
		sessionID:    sessionID,
		viewer:       viewer,
		name:         fmt.Sprintf("view:%s:%s", sessionID, viewer),
		clock:        opts.Clock,
		store:        opts.Store,
		resolver:     opts.Resolver,
		validator:    opts.Validator,
		opts:         opts,
		session:      models.AuctionSession{ID: sessionID},
		bids:         ledger.NewBids(sessionID, decimal.Zero),
		registry:     ledger.NewRegistry(sessionID),
		pins:         map[pin]int{},
		pending:      map[string]int{},
		channelState: channel.StatusDisconnected,
		dedup:        notify.NewDeduper(),
		watchers:     map[int]chan State{},
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}

	snap, err := v.store.Snapshot(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	v.mu.Lock()
	v.applySnapshotLocked(snap, true)
	v.lastPhase = v.resolver.ResolveSession(v.session, v.clock.Now()).Phase
	v.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.Background())
	v.cancel = cancel
	v.poller = poller.New(v.clock, opts.PollInterval, v.name, v.poll)

	if opts.Transport != nil {
		v.subs = channel.NewSubscriptionManager(opts.Transport, v.name)
		v.mu.Lock()
		v.channelState = v.subs.State()
		v.mu.Unlock()
		v.subs.OnState(v.handleChannelState)

		userSegment := events.AllUsers
		if viewer.Role == RoleBidder {
			userSegment = viewer.UserID.String()
		}
		for _, topic := range []string{
			events.SessionTopic(sessionID),
			events.ParticipantTopic(sessionID, userSegment),
		} {
			if err := v.subs.Subscribe(topic, v.handleMessage); err != nil {
				v.subs.Close()
				cancel()
				return nil, fmt.Errorf("subscribe %s: %w", topic, err)
			}
		}
	}

	v.poller.Start(runCtx)
	go v.tick()

	log.Info().
		Str("session_id", sessionID.String()).
		Str("viewer", viewer.String()).
		Str("channel", string(v.channelState)).
		Dur("poll_interval", opts.PollInterval).
		Msg("session view opened")
	return v, nil
}

// Close stops the ticker, the poller and both subscriptions, and closes every
// Watch channel. It is safe to call more than once.
func (v *View) Close() {
	v.once.Do(func() {
		if v.subs != nil {
			v.subs.Close()
		}
		v.poller.Stop()
		close(v.stop)
		<-v.done
		v.cancel()

		v.wmu.Lock()
		v.closed = true
		for id, ch := range v.watchers {
			close(ch)
			delete(v.watchers, id)
		}
		v.wmu.Unlock()

		log.Info().Str("session_id", v.sessionID.String()).Str("viewer", v.viewer.String()).Msg("session view closed")
	})
}

// SessionID returns the session this view follows.
func (v *View) SessionID() uuid.UUID { return v.sessionID }

// Viewer returns the identity the view was opened for.
func (v *View) Viewer() Viewer { return v.viewer }

// Watch returns a channel that receives the state after every change. The
// channel holds only the latest state; a slow reader skips intermediate ones.
func (v *View) Watch() (<-chan State, func()) {
	ch := make(chan State, 1)
	v.wmu.Lock()
	if v.closed {
		v.wmu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := v.nextWatcher
	v.nextWatcher++
	v.watchers[id] = ch
	ch <- v.State()
	v.wmu.Unlock()

	return ch, func() {
		v.wmu.Lock()
		defer v.wmu.Unlock()
		if c, ok := v.watchers[id]; ok {
			delete(v.watchers, id)
			close(c)
		}
	}
}

// Refresh fetches a snapshot now, outside the poll schedule.
func (v *View) Refresh(ctx context.Context) error {
	return v.poll(ctx)
}

// Stats are diagnostics counters of one view.
type Stats struct {
	Polls         int      `json:"polls"`
	PollFailures  int      `json:"poll_failures"`
	Resubscribes  int      `json:"resubscribes"`
	Topics        []string `json:"topics,omitempty"`
	BidCollisions int      `json:"bid_collisions"`
}

// Stats reports poller, subscription and ledger counters.
func (v *View) Stats() Stats {
	var st Stats
	st.Polls, st.PollFailures, _ = v.poller.Stats()
	if v.subs != nil {
		st.Resubscribes = v.subs.Resubscribes()
		st.Topics = v.subs.Topics()
	}
	v.mu.Lock()
	st.BidCollisions = v.bids.Collisions()
	v.mu.Unlock()
	return st
}

// changed bumps the version and pushes the new state to watchers. It must be
// called without v.mu held.
func (v *View) changed() {
	v.mu.Lock()
	v.version++
	v.mu.Unlock()
	v.publish()
}

func (v *View) publish() {
	v.wmu.Lock()
	defer v.wmu.Unlock()
	if v.closed || len(v.watchers) == 0 {
		return
	}
	s := v.State()
	for _, ch := range v.watchers {
		select {
		case ch <- s:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}

func (v *View) tick() {
	defer close(v.done)
	ticker := v.clock.NewTicker(v.opts.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-v.stop:
			return
		case <-ticker.Chan():
			v.onTick()
		}
	}
}

// onTick re-resolves the phase. Crossing into ENDED asks the poller for the
// authority's winner.
func (v *View) onTick() {
	v.mu.Lock()
	p := v.resolver.ResolveSession(v.session, v.clock.Now()).Phase
	prev := v.lastPhase
	v.lastPhase = p
	v.mu.Unlock()

	if p != prev {
		log.Info().
			Str("session_id", v.sessionID.String()).
			Str("from", string(prev)).
			Str("to", string(p)).
			Msg("session phase changed")
		if p == phase.Ended {
			v.poller.Trigger()
		}
		v.changed()
		return
	}
	v.publish()
}

func (v *View) poll(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, v.opts.CommandTimeout)
	defer cancel()
	snap, err := v.store.Snapshot(ctx, v.sessionID)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.applySnapshotLocked(snap, false)
	v.mu.Unlock()
	v.changed()
	return nil
}

func (v *View) handleChannelState(s channel.Status) {
	v.mu.Lock()
	prev := v.channelState
	v.channelState = s
	if s == channel.StatusReconnecting && prev == channel.StatusConnected {
		v.noticeLocked(notify.Notice{
			Entity:  v.sessionID.String(),
			Status:  string(s),
			Message: "Live updates interrupted, reconnecting",
			At:      v.clock.Now(),
		})
	}
	v.mu.Unlock()

	if s == channel.StatusConnected {
		// pushes sent while we were away are lost; catch up now
		v.poller.Trigger()
	}
	v.changed()
}

func (v *View) handleMessage(msg channel.Message) {
	env, err := events.Decode(msg.Data)
	if err != nil {
		log.Warn().Err(err).Str("topic", msg.Topic).Msg("dropping malformed event")
		return
	}
	if env.SessionID != v.sessionID {
		log.Warn().
			Str("topic", msg.Topic).
			Str("session_id", env.SessionID.String()).
			Msg("dropping event for another session")
		return
	}
	payload, err := events.ParsePayload(env)
	if err != nil {
		log.Warn().Err(err).Str("event_id", env.EventID.String()).Str("event_type", string(env.EventType)).Msg("dropping malformed payload")
		return
	}

	log.Debug().
		Str("session_id", v.sessionID.String()).
		Str("event_id", env.EventID.String()).
		Str("event_type", string(env.EventType)).
		Msg("applying pushed event")

	v.mu.Lock()
	switch p := payload.(type) {
	case events.BidPlacedPayload:
		v.bids = v.bids.Merge(p.Bid)
	case events.ParticipantUpdatedPayload:
		v.mergeParticipantsLocked([]models.Participant{p.Participant}, false)
	case events.SessionPausedPayload:
		if v.pins[pinPause] == 0 && !v.session.Paused && v.freshLocked(env) && p.PausedAt.After(v.lastPausedAt) {
			at := p.PausedAt
			next := v.session.Clone()
			next.Paused = true
			next.PausedAt = &at
			next.UpdatedAt = laterOf(next.UpdatedAt, env.Timestamp)
			v.replaceSessionLocked(next, false)
		}
	case events.SessionResumedPayload:
		if v.pins[pinPause] == 0 && v.session.Paused && v.freshLocked(env) &&
			(v.session.PausedAt == nil || !p.ResumedAt.Before(*v.session.PausedAt)) {
			next := v.session.Clone()
			next.Paused = false
			next.PausedAt = nil
			next.PausedTotal = p.PausedTotal
			next.UpdatedAt = laterOf(next.UpdatedAt, env.Timestamp)
			v.replaceSessionLocked(next, false)
		}
	case events.SessionUpdatedPayload:
		v.mergeSessionLocked(p.Session, false)
	case events.WinnerResolvedPayload:
		if v.pins[pinResolution] == 0 && v.session.Resolution == nil {
			r := p.Resolution
			next := v.session.Clone()
			next.Resolution = &r
			id := r.WinnerID
			next.CurrentWinnerID = &id
			next.UpdatedAt = laterOf(next.UpdatedAt, env.Timestamp)
			v.replaceSessionLocked(next, false)
		}
	default:
		log.Debug().Str("event_type", string(env.EventType)).Msg("ignoring unknown event type")
	}
	v.mu.Unlock()
	v.changed()
}

// freshLocked reports whether a pushed session event is not older than the
// session record we hold. Authority timestamps are coarse, so an event from
// the same instant still counts.
func (v *View) freshLocked(env events.Envelope) bool {
	if env.Timestamp.Before(v.session.UpdatedAt) {
		log.Debug().
			Str("session_id", v.sessionID.String()).
			Str("event_id", env.EventID.String()).
			Str("event_type", string(env.EventType)).
			Msg("ignoring stale session event")
		return false
	}
	return true
}

func (v *View) applySnapshotLocked(snap store.Snapshot, initial bool) {
	v.mergeSessionLocked(snap.Session, initial)
	v.bids = v.bids.WithStartingPrice(v.session.StartingPrice).Merge(snap.Bids...)
	v.mergeParticipantsLocked(snap.Participants, initial)
	v.lastSync = v.clock.Now()

	if v.session.CurrentWinnerID != nil {
		if leader, ok := v.bids.Leader(); ok && leader.BidderID != *v.session.CurrentWinnerID {
			log.Warn().
				Str("session_id", v.sessionID.String()).
				Str("recorded_winner", v.session.CurrentWinnerID.String()).
				Str("ledger_leader", leader.BidderID.String()).
				Msg("recorded winner differs from ledger leader")
		}
	}
}

// mergeSessionLocked takes the incoming session record unless it is older
// than ours. Fields pinned by an in-flight command keep their optimistic
// values, and a known resolution is never cleared.
func (v *View) mergeSessionLocked(in models.AuctionSession, initial bool) {
	if in.ID != v.sessionID {
		log.Warn().Str("session_id", in.ID.String()).Msg("dropping session record for another session")
		return
	}
	if in.UpdatedAt.Before(v.session.UpdatedAt) {
		log.Debug().Str("session_id", v.sessionID.String()).Msg("ignoring stale session record")
		return
	}
	next := in.Clone()
	if v.pins[pinPause] > 0 {
		next.Paused = v.session.Paused
		next.PausedAt = copyTime(v.session.PausedAt)
		next.PausedTotal = v.session.PausedTotal
	}
	if v.pins[pinResolution] > 0 || (next.Resolution == nil && v.session.Resolution != nil) {
		next.Resolution = v.session.Clone().Resolution
	}
	if next.CurrentWinnerID == nil && v.session.CurrentWinnerID != nil {
		id := *v.session.CurrentWinnerID
		next.CurrentWinnerID = &id
	}
	v.replaceSessionLocked(next, initial)
}

// replaceSessionLocked installs next and announces pause and resolution
// changes once each.
func (v *View) replaceSessionLocked(next models.AuctionSession, initial bool) {
	prev := v.session
	v.session = next
	if next.PausedAt != nil && next.PausedAt.After(v.lastPausedAt) {
		v.lastPausedAt = *next.PausedAt
	}

	entity := v.sessionID.String()
	now := v.clock.Now()
	if next.Paused && next.PausedAt != nil && (!prev.Paused || initial) {
		status := "PAUSED@" + next.PausedAt.UTC().Format(time.RFC3339)
		if initial {
			v.dedup.Seed(entity, status)
		} else if v.dedup.First(entity, status) {
			v.noticeLocked(notify.Notice{Entity: entity, Status: "PAUSED", Message: "The session was paused", At: now})
		}
	}
	if !next.Paused && prev.Paused && prev.PausedAt != nil && !initial {
		status := "RESUMED@" + prev.PausedAt.UTC().Format(time.RFC3339)
		if v.dedup.First(entity, status) {
			v.noticeLocked(notify.Notice{Entity: entity, Status: "RESUMED", Message: "The session was resumed", At: now})
		}
	}
	if next.Resolution != nil && (prev.Resolution == nil || initial) {
		status := "RESOLVED"
		if initial {
			v.dedup.Seed(entity, status)
		} else if v.dedup.First(entity, status) {
			v.noticeLocked(notify.Notice{
				Entity:  entity,
				Status:  string(next.Resolution.Outcome),
				Message: fmt.Sprintf("The winner was %s", resolutionVerb(next.Resolution.Outcome)),
				At:      now,
			})
		}
	}
}

// mergeParticipantsLocked joins records into the registry and announces each
// status change once, whichever path delivered it first. Bidders only hear
// about their own record.
func (v *View) mergeParticipantsLocked(ps []models.Participant, initial bool) {
	if len(ps) == 0 {
		return
	}
	before := v.registry
	next, report := v.registry.MergeWithReport(ps...)
	if report.Dropped > 0 {
		log.Warn().Str("session_id", v.sessionID.String()).Int("dropped", report.Dropped).Msg("dropped malformed participant records")
	}
	v.registry = next

	for _, p := range ps {
		cur, ok := next.ByID(p.ID)
		if !ok {
			continue
		}
		if v.viewer.Role == RoleBidder && cur.UserID != v.viewer.UserID {
			continue
		}
		entity := cur.ID.String()
		status := string(cur.Status)
		if initial {
			v.dedup.Seed(entity, status)
			continue
		}
		if prev, had := before.ByID(cur.ID); had {
			if cur.Revision > prev.Revision {
				// reinstated: earlier statuses may be announced again
				v.dedup.Forget(entity)
			}
			if prev.Status == cur.Status {
				continue
			}
		}
		if v.dedup.First(entity, status) {
			v.noticeLocked(notify.Notice{Entity: entity, Status: status, Message: v.participantMessage(cur), At: v.clock.Now()})
		}
	}
}

func (v *View) participantMessage(p models.Participant) string {
	own := p.UserID == v.viewer.UserID
	switch {
	case own && p.Status == models.ParticipantStatusRejected && p.KickReason != nil:
		return "You were removed from this session: " + *p.KickReason
	case own:
		return fmt.Sprintf("Your participation status is now %s", p.Status)
	default:
		return fmt.Sprintf("Participant %s is now %s", p.UserID, p.Status)
	}
}

func (v *View) noticeLocked(n notify.Notice) {
	v.notices = append(v.notices, n)
	if len(v.notices) > maxNotices {
		v.notices = append([]notify.Notice(nil), v.notices[len(v.notices)-maxNotices:]...)
	}
}

func resolutionVerb(o models.ResolutionOutcome) string {
	if o == models.ResolutionRejected {
		return "rejected"
	}
	return "confirmed"
}

func laterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
