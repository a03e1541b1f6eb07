package channel

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/gavel/go/internal/auction/events"
)

// Local is an in-process transport. Publish delivers synchronously to every
// matching subscription while connected and drops messages otherwise. It
// backs single-process deployments on the in-memory store and tests that
// need to cut the connection.
type Local struct {
	mu        sync.Mutex
	status    Status
	nextID    int
	subs      map[int]localSub
	listeners map[int]func(Status)
}

type localSub struct {
	pattern string
	handler Handler
}

type localSubscription struct {
	l  *Local
	id int
}

func (s localSubscription) Unsubscribe() error {
	s.l.mu.Lock()
	delete(s.l.subs, s.id)
	s.l.mu.Unlock()
	return nil
}

// NewLocal creates a connected Local transport.
func NewLocal() *Local {
	return &Local{
		status:    StatusConnected,
		subs:      make(map[int]localSub),
		listeners: make(map[int]func(Status)),
	}
}

func (l *Local) Subscribe(topic string, h Handler) (Subscription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status == StatusClosed {
		return nil, ErrClosed
	}
	l.nextID++
	l.subs[l.nextID] = localSub{pattern: topic, handler: h}
	return localSubscription{l: l, id: l.nextID}, nil
}

func (l *Local) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

func (l *Local) OnStatus(fn func(Status)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	id := l.nextID
	l.listeners[id] = fn
	return func() {
		l.mu.Lock()
		delete(l.listeners, id)
		l.mu.Unlock()
	}
}

// SetStatus changes the connection state. Going down drops every live
// subscription, as a real broker connection loss would.
func (l *Local) SetStatus(s Status) {
	l.mu.Lock()
	if l.status == s || l.status == StatusClosed {
		l.mu.Unlock()
		return
	}
	l.status = s
	if s != StatusConnected {
		l.subs = make(map[int]localSub)
	}
	listeners := make([]func(Status), 0, len(l.listeners))
	for _, fn := range l.listeners {
		listeners = append(listeners, fn)
	}
	l.mu.Unlock()

	for _, fn := range listeners {
		fn(s)
	}
}

// Publish delivers data to matching subscriptions. It reports how many
// handlers received it.
func (l *Local) Publish(topic string, data []byte) int {
	l.mu.Lock()
	if l.status != StatusConnected {
		l.mu.Unlock()
		log.Debug().Str("topic", topic).Msg("local transport down, message dropped")
		return 0
	}
	var handlers []Handler
	for _, s := range l.subs {
		if Match(s.pattern, topic) {
			handlers = append(handlers, s.handler)
		}
	}
	l.mu.Unlock()

	msg := Message{Topic: topic, Data: data}
	for _, h := range handlers {
		h(msg)
	}
	return len(handlers)
}

// PublishEnvelope encodes an event and publishes it on its topic. It has the
// signature memstore.Options.Emit expects, which makes a single-process
// deployment: the in-memory authority feeding views through this transport.
func (l *Local) PublishEnvelope(env events.Envelope) {
	topic, err := events.TopicFor(env)
	if err != nil {
		log.Warn().Err(err).Str("event_id", env.EventID.String()).Msg("event has no topic")
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("event_id", env.EventID.String()).Msg("failed to encode event")
		return
	}
	l.Publish(topic, data)
}

func (l *Local) Close() error {
	l.SetStatus(StatusClosed)
	return nil
}

// Match reports whether a subject matches a NATS-style pattern where "*"
// matches one token and ">" matches the rest.
func Match(pattern, subject string) bool {
	p := strings.Split(pattern, ".")
	s := strings.Split(subject, ".")
	for i, tok := range p {
		if tok == ">" {
			return len(s) > i
		}
		if i >= len(s) {
			return false
		}
		if tok != "*" && tok != s[i] {
			return false
		}
	}
	return len(p) == len(s)
}
