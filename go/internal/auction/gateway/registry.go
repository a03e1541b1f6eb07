package gateway

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/gavel/go/internal/auction/session"
)

type viewKey struct {
	sessionID uuid.UUID
	viewer    session.Viewer
}

type viewEntry struct {
	view  *session.View
	err   error
	refs  int
	ready chan struct{}
}

// ViewRegistry shares one session.View per (session, viewer) between every
// connection and request of that viewer. The view is opened by the first
// Acquire and closed when the last holder releases it.
type ViewRegistry struct {
	opts  session.Options
	mu    sync.Mutex
	views map[viewKey]*viewEntry
}

// NewViewRegistry creates a registry opening views with opts. PollInterval is
// left to the role default unless set.
func NewViewRegistry(opts session.Options) *ViewRegistry {
	return &ViewRegistry{
		opts:  opts,
		views: make(map[viewKey]*viewEntry),
	}
}

// Acquire returns the shared view and a release func that must be called
// exactly once when the caller is done with it.
func (r *ViewRegistry) Acquire(ctx context.Context, sessionID uuid.UUID, viewer session.Viewer) (*session.View, func(), error) {
	key := viewKey{sessionID: sessionID, viewer: viewer}

	r.mu.Lock()
	e, exists := r.views[key]
	if exists {
		e.refs++
		r.mu.Unlock()
		select {
		case <-e.ready:
		case <-ctx.Done():
			r.release(key, e)
			return nil, nil, ctx.Err()
		}
		if e.err != nil {
			r.release(key, e)
			return nil, nil, e.err
		}
		return e.view, r.releaser(key, e), nil
	}
	e = &viewEntry{refs: 1, ready: make(chan struct{})}
	r.views[key] = e
	r.mu.Unlock()

	v, err := session.Open(ctx, sessionID, viewer, r.opts)
	e.view, e.err = v, err
	close(e.ready)
	if err != nil {
		r.mu.Lock()
		if r.views[key] == e {
			delete(r.views, key)
		}
		r.mu.Unlock()
		r.release(key, e)
		return nil, nil, err
	}
	return v, r.releaser(key, e), nil
}

func (r *ViewRegistry) releaser(key viewKey, e *viewEntry) func() {
	var once sync.Once
	return func() { once.Do(func() { r.release(key, e) }) }
}

func (r *ViewRegistry) release(key viewKey, e *viewEntry) {
	r.mu.Lock()
	e.refs--
	last := e.refs == 0
	if last && r.views[key] == e {
		delete(r.views, key)
	}
	r.mu.Unlock()

	if last && e.view != nil {
		e.view.Close()
		log.Debug().
			Str("session_id", key.sessionID.String()).
			Str("viewer", key.viewer.String()).
			Msg("session view released")
	}
}

// Len reports the number of open views.
func (r *ViewRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.views)
}

// Stats sums the counters of every open view.
func (r *ViewRegistry) Stats() session.Stats {
	r.mu.Lock()
	views := make([]*session.View, 0, len(r.views))
	for _, e := range r.views {
		select {
		case <-e.ready:
			if e.view != nil {
				views = append(views, e.view)
			}
		default:
		}
	}
	r.mu.Unlock()

	var total session.Stats
	for _, v := range views {
		st := v.Stats()
		total.Polls += st.Polls
		total.PollFailures += st.PollFailures
		total.Resubscribes += st.Resubscribes
		total.BidCollisions += st.BidCollisions
	}
	return total
}

// Close closes every open view regardless of outstanding holders.
func (r *ViewRegistry) Close() {
	r.mu.Lock()
	entries := make([]*viewEntry, 0, len(r.views))
	for k, e := range r.views {
		entries = append(entries, e)
		delete(r.views, k)
	}
	r.mu.Unlock()

	for _, e := range entries {
		<-e.ready
		if e.view != nil {
			e.view.Close()
		}
	}
}
