package outbox

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

type fakeStore struct {
	mu    sync.Mutex
	order []uuid.UUID
	rows  map[uuid.UUID]Event
	sent  map[uuid.UUID]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[uuid.UUID]Event{}, sent: map[uuid.UUID]bool{}}
}

func (s *fakeStore) add(eventType string) Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := Event{
		ID:        uuid.New(),
		SessionID: uuid.New(),
		EventType: eventType,
		Topic:     "auction.session." + eventType,
		Payload:   []byte(`{"event_type":"` + eventType + `"}`),
		CreatedAt: time.Now(),
	}
	s.order = append(s.order, e.ID)
	s.rows[e.ID] = e
	return e
}

func (s *fakeStore) FetchByID(_ context.Context, id uuid.UUID) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.rows[id]
	if !ok || s.sent[id] {
		return Event{}, ErrNotFound
	}
	return e, nil
}

func (s *fakeStore) FetchUnsent(_ context.Context, limit int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, id := range s.order {
		if !s.sent[id] && len(out) < limit {
			out = append(out, s.rows[id])
		}
	}
	return out, nil
}

func (s *fakeStore) MarkSent(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent[id] = true
	return nil
}

func (s *fakeStore) isSent(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[id]
}

type fakeNotifier struct {
	ch     chan *pq.Notification
	closed atomic.Bool
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{ch: make(chan *pq.Notification, 8)}
}

func (n *fakeNotifier) NotificationChannel() <-chan *pq.Notification { return n.ch }
func (n *fakeNotifier) Ping() error                                  { return nil }
func (n *fakeNotifier) Close() error {
	n.closed.Store(true)
	return nil
}

func (n *fakeNotifier) notify(extra string) {
	n.ch <- &pq.Notification{Channel: "auction_outbox", Extra: extra}
}

type fakePublisher struct {
	mu        sync.Mutex
	published []Event
	failNext  int
	failing   atomic.Bool
}

func (p *fakePublisher) Publish(_ context.Context, e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failing.Load() {
		return errors.New("nats: no responders available for request")
	}
	if p.failNext > 0 {
		p.failNext--
		return errors.New("nats: timeout")
	}
	p.published = append(p.published, e)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

func testConfig() ListenerConfig {
	cfg := DefaultListenerConfig()
	cfg.RetryDelay = time.Millisecond
	cfg.MaxRetries = 3
	cfg.BatchSize = 2
	return cfg
}

type relay struct {
	clock     *clockwork.FakeClock
	store     *fakeStore
	notifier  *fakeNotifier
	publisher *fakePublisher
	listener  *Listener
}

func newRelay() *relay {
	r := &relay{
		clock:     clockwork.NewFakeClock(),
		store:     newFakeStore(),
		notifier:  newFakeNotifier(),
		publisher: &fakePublisher{},
	}
	r.listener = NewListener(r.store, r.notifier, r.publisher, r.clock, testConfig())
	return r
}

// start runs the listener until the test ends.
func (r *relay) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.listener.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		check.NoError(t, <-done)
		check.True(t, r.notifier.closed.Load())
		check.False(t, r.listener.Running())
	})
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	assert.NoError(t, r.clock.BlockUntilContext(waitCtx, 2))
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

func TestDrainsBacklogThenRelaysNotifications(t *testing.T) {
	r := newRelay()
	// more than one batch
	backlog := []Event{r.store.add("BID_PLACED"), r.store.add("BID_PLACED"), r.store.add("SESSION_PAUSED")}
	r.start(t)

	waitFor(t, func() bool { return r.publisher.count() == 3 })
	for _, e := range backlog {
		check.True(t, r.store.isSent(e.ID))
	}

	next := r.store.add("SESSION_RESUMED")
	r.notifier.notify(next.ID.String())
	waitFor(t, func() bool { return r.store.isSent(next.ID) })

	published, failed, last := r.listener.Stats()
	check.Equal(t, uint64(4), published)
	check.Equal(t, uint64(0), failed)
	check.Equal(t, r.clock.Now(), last)
	check.Equal(t, backlog[0].ID, r.publisher.published[0].ID)
}

func TestNotificationForSentEventIsIgnored(t *testing.T) {
	r := newRelay()
	e := r.store.add("BID_PLACED")
	r.start(t)
	waitFor(t, func() bool { return r.publisher.count() == 1 })

	r.notifier.notify(e.ID.String())
	r.notifier.notify("not-a-uuid")
	marker := r.store.add("BID_PLACED")
	r.notifier.notify(marker.ID.String())
	waitFor(t, func() bool { return r.store.isSent(marker.ID) })

	check.Equal(t, 2, r.publisher.count())
}

func TestPublishRetriesThenSucceeds(t *testing.T) {
	r := newRelay()
	r.publisher.failNext = 2
	r.start(t)

	e := r.store.add("WINNER_RESOLVED")
	r.notifier.notify(e.ID.String())
	waitFor(t, func() bool { return r.store.isSent(e.ID) })

	published, failed, _ := r.listener.Stats()
	check.Equal(t, uint64(1), published)
	check.Equal(t, uint64(0), failed)
}

func TestFallbackPollRecoversFailedPublish(t *testing.T) {
	r := newRelay()
	r.publisher.failing.Store(true)
	e := r.store.add("PARTICIPANT_UPDATED")
	r.start(t)

	waitFor(t, func() bool {
		_, failed, _ := r.listener.Stats()
		return failed == 1
	})
	check.False(t, r.store.isSent(e.ID))

	r.publisher.failing.Store(false)
	r.clock.Advance(testConfig().FallbackInterval)
	waitFor(t, func() bool { return r.store.isSent(e.ID) })
}

func TestReconnectNotificationTriggersDrain(t *testing.T) {
	r := newRelay()
	r.start(t)

	e := r.store.add("SESSION_UPDATED")
	// pq delivers nil after the connection was re-established
	r.notifier.ch <- nil
	waitFor(t, func() bool { return r.store.isSent(e.ID) })
}

func TestNewMsgCarriesEnvelopeAndHeaders(t *testing.T) {
	store := newFakeStore()
	e := store.add("BID_PLACED")
	msg := newMsg(e)
	check.Equal(t, e.Topic, msg.Subject)
	check.Equal(t, string(e.Payload), string(msg.Data))
	check.Equal(t, e.ID.String(), msg.Header.Get("Event-ID"))
	check.Equal(t, e.SessionID.String(), msg.Header.Get("Session-ID"))
	check.Equal(t, "BID_PLACED", msg.Header.Get("Event-Type"))
}

type fakeDatabase struct {
	pingErr error
	pending int
}

func (d fakeDatabase) Ping(context.Context) error                { return d.pingErr }
func (d fakeDatabase) CountPending(context.Context) (int, error) { return d.pending, nil }

func TestHealthCheck(t *testing.T) {
	r := newRelay()
	connected := true
	h := NewHealthChecker(r.listener, fakeDatabase{}, func() bool { return connected }, r.clock, time.Minute)

	status := h.Check(context.Background())
	check.False(t, status.Healthy)
	check.False(t, status.ListenerActive)

	r.start(t)
	status = h.Check(context.Background())
	check.True(t, status.Healthy)
	check.True(t, status.DatabaseConnected)
	check.True(t, status.NATSConnected)

	connected = false
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	check.Equal(t, http.StatusServiceUnavailable, rec.Code)

	connected = true
	h.db = fakeDatabase{pingErr: errors.New("connection refused")}
	status = h.Check(context.Background())
	check.False(t, status.Healthy)
	check.False(t, status.DatabaseConnected)
	check.Equal(t, 1, len(status.Errors))
}
