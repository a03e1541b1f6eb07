// Package notify suppresses repeated user-facing notices. A participant
// status change reaches a view by push and again by the next poll; the
// notice for it must be shown once.
package notify

import (
	"sync"
	"time"
)

type key struct {
	entity string
	status string
}

// Notice is a user-facing message produced by a view.
type Notice struct {
	Entity  string    `json:"entity"`
	Status  string    `json:"status"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Deduper remembers which (entity, status) pairs have already been announced.
type Deduper struct {
	mu   sync.Mutex
	seen map[key]struct{}
}

// NewDeduper creates an empty Deduper.
func NewDeduper() *Deduper {
	return &Deduper{seen: make(map[key]struct{})}
}

// First reports whether this is the first time the pair is seen and records it.
func (d *Deduper) First(entity, status string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := key{entity: entity, status: status}
	if _, ok := d.seen[k]; ok {
		return false
	}
	d.seen[k] = struct{}{}
	return true
}

// Seed marks pairs as already announced without producing notices, used for
// the state present at initial load.
func (d *Deduper) Seed(entity, status string) {
	d.mu.Lock()
	d.seen[key{entity: entity, status: status}] = struct{}{}
	d.mu.Unlock()
}

// Forget clears every recorded status of an entity.
func (d *Deduper) Forget(entity string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k := range d.seen {
		if k.entity == entity {
			delete(d.seen, k)
		}
	}
}
