package channel

import (
	"slices"
	"sync"

	"github.com/rs/zerolog/log"
)

type desired struct {
	handler Handler
	sub     Subscription
}

// SubscriptionManager keeps the topic set one view wants and re-issues every
// subscription each time the transport comes back, whether or not the
// transport claims to restore them itself.
type SubscriptionManager struct {
	transport Transport
	name      string

	mu           sync.Mutex
	topics       map[string]*desired
	state        Status
	listeners    []func(Status)
	resubscribes int
	closed       bool
	removeStatus func()
}

// NewSubscriptionManager starts tracking transport status for one owner.
func NewSubscriptionManager(t Transport, name string) *SubscriptionManager {
	m := &SubscriptionManager{
		transport: t,
		name:      name,
		topics:    make(map[string]*desired),
		state:     t.Status(),
	}
	m.removeStatus = t.OnStatus(m.handleStatus)
	return m
}

// Subscribe adds a topic. If the transport is down the topic is remembered
// and subscribed on the next reconnect.
func (m *SubscriptionManager) Subscribe(topic string, h Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if old, ok := m.topics[topic]; ok && old.sub != nil {
		_ = old.sub.Unsubscribe()
	}
	d := &desired{handler: h}
	m.topics[topic] = d
	if m.state != StatusConnected {
		log.Debug().Str("owner", m.name).Str("topic", topic).Msg("transport down, subscription deferred")
		return nil
	}
	sub, err := m.transport.Subscribe(topic, h)
	if err != nil {
		log.Warn().Err(err).Str("owner", m.name).Str("topic", topic).Msg("subscribe failed, will retry on reconnect")
		return nil
	}
	d.sub = sub
	return nil
}

// Unsubscribe drops a topic.
func (m *SubscriptionManager) Unsubscribe(topic string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.topics[topic]
	if !ok {
		return
	}
	delete(m.topics, topic)
	if d.sub != nil {
		if err := d.sub.Unsubscribe(); err != nil {
			log.Debug().Err(err).Str("topic", topic).Msg("unsubscribe failed")
		}
	}
}

// Topics returns the desired topic set, sorted.
func (m *SubscriptionManager) Topics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.topics))
	for t := range m.topics {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// State returns the last transport status seen.
func (m *SubscriptionManager) State() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Resubscribes counts completed resubscription rounds.
func (m *SubscriptionManager) Resubscribes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resubscribes
}

// OnState registers a listener for status changes seen by this manager.
func (m *SubscriptionManager) OnState(fn func(Status)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

func (m *SubscriptionManager) handleStatus(s Status) {
	m.mu.Lock()
	if m.closed || s == m.state {
		m.mu.Unlock()
		return
	}
	prev := m.state
	m.state = s
	if s == StatusConnected {
		m.resubscribeLocked()
	}
	listeners := append([]func(Status){}, m.listeners...)
	m.mu.Unlock()

	log.Info().Str("owner", m.name).Str("from", string(prev)).Str("to", string(s)).Msg("channel state changed")
	for _, fn := range listeners {
		fn(s)
	}
}

func (m *SubscriptionManager) resubscribeLocked() {
	for topic, d := range m.topics {
		if d.sub != nil {
			_ = d.sub.Unsubscribe()
			d.sub = nil
		}
		sub, err := m.transport.Subscribe(topic, d.handler)
		if err != nil {
			log.Warn().Err(err).Str("owner", m.name).Str("topic", topic).Msg("resubscribe failed")
			continue
		}
		d.sub = sub
	}
	m.resubscribes++
	log.Debug().Str("owner", m.name).Int("topics", len(m.topics)).Msg("resubscribed after reconnect")
}

// Close unsubscribes every topic and detaches from the transport.
func (m *SubscriptionManager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for topic, d := range m.topics {
		if d.sub != nil {
			_ = d.sub.Unsubscribe()
		}
		delete(m.topics, topic)
	}
	remove := m.removeStatus
	m.mu.Unlock()
	if remove != nil {
		remove()
	}
}
