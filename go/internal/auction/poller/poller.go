// Package poller runs the periodic full-state reconciliation of a session
// view. It keeps running for the life of the view regardless of push health.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	// OperatorInterval is the default poll interval for operator views.
	OperatorInterval = 2 * time.Second
	// BidderInterval is the default poll interval for bidder views.
	BidderInterval = 5 * time.Second
)

// PollFunc fetches and applies a snapshot.
type PollFunc func(ctx context.Context) error

// Poller calls a PollFunc on a fixed interval.
type Poller struct {
	clock    clockwork.Clock
	interval time.Duration
	poll     PollFunc
	name     string

	trigger chan struct{}
	stop    chan struct{}
	done    chan struct{}

	mu       sync.Mutex
	started  bool
	stopped  bool
	polls    int
	failures int
	lastErr  error
}

// New creates a stopped Poller.
func New(clock clockwork.Clock, interval time.Duration, name string, poll PollFunc) *Poller {
	return &Poller{
		clock:    clock,
		interval: interval,
		poll:     poll,
		name:     name,
		trigger:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins polling until ctx is done or Stop is called.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go p.run(ctx)
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	log.Debug().Str("poller", p.name).Dur("interval", p.interval).Msg("poller started")
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("poller", p.name).Msg("poller stopped by context")
			return
		case <-p.stop:
			log.Debug().Str("poller", p.name).Msg("poller stopped")
			return
		case <-ticker.Chan():
			p.once(ctx)
		case <-p.trigger:
			p.once(ctx)
		}
	}
}

func (p *Poller) once(ctx context.Context) {
	err := p.poll(ctx)
	p.mu.Lock()
	p.polls++
	p.lastErr = err
	if err != nil {
		p.failures++
	}
	p.mu.Unlock()
	if err != nil {
		log.Warn().Err(err).Str("poller", p.name).Msg("poll failed, keeping last known state")
	}
}

// Trigger requests an immediate poll without waiting for the next tick.
// Requests coalesce.
func (p *Poller) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Stop halts the poller and waits for an in-flight poll to return.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	started := p.started
	p.mu.Unlock()

	close(p.stop)
	if started {
		<-p.done
	}
}

// Stats returns the number of polls run, how many failed, and the last error.
func (p *Poller) Stats() (polls, failures int, lastErr error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.polls, p.failures, p.lastErr
}

// Running reports whether the poller is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started && !p.stopped
}
