package channel

import (
	"sort"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func collect() (*[]string, Handler) {
	var got []string
	return &got, func(m Message) { got = append(got, string(m.Data)) }
}

func TestManagerResubscribesAfterReconnect(t *testing.T) {
	bus := NewLocal()
	m := NewSubscriptionManager(bus, "view-1")
	defer m.Close()

	sessionMsgs, onSession := collect()
	participantMsgs, onParticipant := collect()
	assert.NoError(t, m.Subscribe("auction.session.s1", onSession))
	assert.NoError(t, m.Subscribe("auction.participant.s1.*", onParticipant))

	check.Equal(t, 1, bus.Publish("auction.session.s1", []byte("a")))

	bus.SetStatus(StatusReconnecting)
	check.Equal(t, StatusReconnecting, m.State())
	check.Equal(t, 0, bus.Publish("auction.session.s1", []byte("lost")))

	bus.SetStatus(StatusConnected)
	check.Equal(t, StatusConnected, m.State())
	check.Equal(t, 1, m.Resubscribes())

	check.Equal(t, 1, bus.Publish("auction.session.s1", []byte("b")))
	check.Equal(t, 1, bus.Publish("auction.participant.s1.u9", []byte("p")))
	check.Equal(t, []string{"a", "b"}, *sessionMsgs)
	check.Equal(t, []string{"p"}, *participantMsgs)
}

func TestManagerResubscribesOnEveryReconnect(t *testing.T) {
	bus := NewLocal()
	m := NewSubscriptionManager(bus, "view-1")
	defer m.Close()
	got, h := collect()
	assert.NoError(t, m.Subscribe("auction.session.s1", h))

	for i := 0; i < 3; i++ {
		bus.SetStatus(StatusDisconnected)
		bus.SetStatus(StatusConnected)
	}
	check.Equal(t, 3, m.Resubscribes())

	// one subscription, not one per reconnect
	check.Equal(t, 1, bus.Publish("auction.session.s1", []byte("x")))
	check.Equal(t, []string{"x"}, *got)
}

func TestManagerDefersSubscribeWhileDown(t *testing.T) {
	bus := NewLocal()
	bus.SetStatus(StatusReconnecting)
	m := NewSubscriptionManager(bus, "view-1")
	defer m.Close()

	got, h := collect()
	assert.NoError(t, m.Subscribe("auction.session.s1", h))
	check.Equal(t, []string{"auction.session.s1"}, m.Topics())

	bus.SetStatus(StatusConnected)
	bus.Publish("auction.session.s1", []byte("late"))
	check.Equal(t, []string{"late"}, *got)
}

func TestManagerCloseUnsubscribesEverything(t *testing.T) {
	bus := NewLocal()
	m := NewSubscriptionManager(bus, "view-1")
	_, h := collect()
	assert.NoError(t, m.Subscribe("auction.session.s1", h))
	assert.NoError(t, m.Subscribe("auction.participant.s1.*", h))

	var states []Status
	m.OnState(func(s Status) { states = append(states, s) })

	m.Close()
	check.Equal(t, 0, bus.Publish("auction.session.s1", []byte("x")))
	check.Equal(t, 0, bus.Publish("auction.participant.s1.u1", []byte("x")))
	check.Error(t, m.Subscribe("auction.session.s1", h))

	// detached from the transport
	bus.SetStatus(StatusDisconnected)
	check.Equal(t, 0, len(states))
}

func TestUnsubscribe(t *testing.T) {
	bus := NewLocal()
	m := NewSubscriptionManager(bus, "view-1")
	defer m.Close()
	_, h := collect()
	assert.NoError(t, m.Subscribe("a.b", h))
	assert.NoError(t, m.Subscribe("a.c", h))
	m.Unsubscribe("a.b")

	topics := m.Topics()
	sort.Strings(topics)
	check.Equal(t, []string{"a.c"}, topics)
	check.Equal(t, 0, bus.Publish("a.b", nil))
}

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern, subject string
		want             bool
	}{
		{"auction.session.s1", "auction.session.s1", true},
		{"auction.session.s1", "auction.session.s2", false},
		{"auction.participant.s1.*", "auction.participant.s1.u1", true},
		{"auction.participant.s1.*", "auction.participant.s1", false},
		{"auction.>", "auction.session.s1", true},
		{"auction.>", "auction", false},
		{"auction.session", "auction.session.s1", false},
	}
	for _, tt := range tests {
		check.Equal(t, tt.want, Match(tt.pattern, tt.subject))
	}
}

func TestReconnectDelayIsCappedExponential(t *testing.T) {
	base, ceiling := 500*time.Millisecond, 4*time.Second
	check.Equal(t, 500*time.Millisecond, ReconnectDelay(base, ceiling, 1))
	check.Equal(t, time.Second, ReconnectDelay(base, ceiling, 2))
	check.Equal(t, 2*time.Second, ReconnectDelay(base, ceiling, 3))
	check.Equal(t, 4*time.Second, ReconnectDelay(base, ceiling, 4))
	check.Equal(t, 4*time.Second, ReconnectDelay(base, ceiling, 50))
}
