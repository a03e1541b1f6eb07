// Package ledger holds the merge-convergent collections a session view is
// built from: the bid ledger and the participant registry.
//
// Both are immutable values. Merge returns a new value and never mutates the
// receiver, so a snapshot handed to a reader stays valid while later merges
// happen.
package ledger

import (
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/gavel/go/internal/models"
)

// Bids is the admitted bids of one session keyed by bid id.
type Bids struct {
	sessionID     uuid.UUID
	startingPrice decimal.Decimal
	byID          map[uuid.UUID]models.Bid
	highest       decimal.Decimal
	leader        *models.Bid
	collisions    int
}

// MergeReport summarises a merge call.
type MergeReport struct {
	Added      int
	Replaced   int
	Duplicates int
	Dropped    int
	Collisions int
}

// Changed reports whether the merge altered the ledger.
func (r MergeReport) Changed() bool {
	return r.Added > 0 || r.Replaced > 0
}

// NewBids creates an empty ledger for a session.
func NewBids(sessionID uuid.UUID, startingPrice decimal.Decimal) Bids {
	return Bids{
		sessionID:     sessionID,
		startingPrice: startingPrice,
		byID:          map[uuid.UUID]models.Bid{},
		highest:       startingPrice,
	}
}

// Merge folds incoming bids into the ledger. It is idempotent, commutative
// for disjoint ids, and on an id collision keeps the record with the larger
// amount.
func (l Bids) Merge(incoming ...models.Bid) Bids {
	out, _ := l.MergeWithReport(incoming...)
	return out
}

// MergeWithReport is Merge plus a summary of what happened.
func (l Bids) MergeWithReport(incoming ...models.Bid) (Bids, MergeReport) {
	var report MergeReport
	if len(incoming) == 0 {
		return l, report
	}

	next := l.clone()
	for _, b := range incoming {
		if !l.accepts(b) {
			report.Dropped++
			continue
		}
		existing, ok := next.byID[b.ID]
		switch {
		case !ok:
			next.byID[b.ID] = b
			report.Added++
		case sameBid(existing, b):
			report.Duplicates++
		default:
			report.Collisions++
			next.collisions++
			winner := preferred(existing, b)
			log.Warn().
				Str("session_id", l.sessionID.String()).
				Str("bid_id", b.ID.String()).
				Str("existing_amount", existing.Amount.String()).
				Str("incoming_amount", b.Amount.String()).
				Str("kept_amount", winner.Amount.String()).
				Msg("bid id collision with differing records")
			if !sameBid(existing, winner) {
				next.byID[b.ID] = winner
				report.Replaced++
			}
		}
	}

	if !report.Changed() {
		// keep the collision counter but avoid recomputing views
		l.collisions = next.collisions
		return l, report
	}
	next.recompute()
	return next, report
}

// accepts drops records that cannot belong to this ledger.
func (l Bids) accepts(b models.Bid) bool {
	if b.ID == uuid.Nil {
		log.Warn().Str("session_id", l.sessionID.String()).Msg("dropping bid without id")
		return false
	}
	if l.sessionID != uuid.Nil && b.SessionID != l.sessionID {
		log.Warn().
			Str("session_id", l.sessionID.String()).
			Str("bid_session_id", b.SessionID.String()).
			Str("bid_id", b.ID.String()).
			Msg("dropping bid for another session")
		return false
	}
	if b.Amount.IsNegative() {
		log.Warn().Str("bid_id", b.ID.String()).Str("amount", b.Amount.String()).Msg("dropping bid with negative amount")
		return false
	}
	return true
}

func (l Bids) clone() Bids {
	next := l
	next.byID = make(map[uuid.UUID]models.Bid, len(l.byID)+1)
	for id, b := range l.byID {
		next.byID[id] = b
	}
	return next
}

// recompute refreshes highest and leader from scratch.
func (l *Bids) recompute() {
	l.highest = l.startingPrice
	l.leader = nil
	for _, b := range l.byID {
		if l.leader == nil || b.Outranks(*l.leader) {
			bid := b
			l.leader = &bid
		}
	}
	if l.leader != nil && l.leader.Amount.GreaterThan(l.highest) {
		l.highest = l.leader.Amount
	}
}

// WithStartingPrice returns the ledger re-based on a new starting price.
func (l Bids) WithStartingPrice(p decimal.Decimal) Bids {
	if p.Equal(l.startingPrice) {
		return l
	}
	next := l.clone()
	next.startingPrice = p
	next.recompute()
	return next
}

// SessionID returns the session the ledger belongs to.
func (l Bids) SessionID() uuid.UUID { return l.sessionID }

// StartingPrice returns the floor used by Highest.
func (l Bids) StartingPrice() decimal.Decimal { return l.startingPrice }

// Highest is max(startingPrice, max(amounts)).
func (l Bids) Highest() decimal.Decimal {
	if l.byID == nil {
		return l.startingPrice
	}
	return l.highest
}

// Leader returns the top bid: largest amount, then earliest, then lowest id.
func (l Bids) Leader() (models.Bid, bool) {
	if l.leader == nil {
		return models.Bid{}, false
	}
	return *l.leader, true
}

// Len returns the number of bids.
func (l Bids) Len() int { return len(l.byID) }

// Collisions returns how many conflicting id collisions have been seen.
func (l Bids) Collisions() int { return l.collisions }

// Get looks a bid up by id.
func (l Bids) Get(id uuid.UUID) (models.Bid, bool) {
	b, ok := l.byID[id]
	return b, ok
}

// History returns the bids ordered by (timestamp, id).
func (l Bids) History() []models.Bid {
	out := make([]models.Bid, 0, len(l.byID))
	for _, b := range l.byID {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HistoryBefore(out[j]) })
	return out
}

// Equal compares the bid sets and starting price.
func (l Bids) Equal(other Bids) bool {
	if l.sessionID != other.sessionID || !l.startingPrice.Equal(other.startingPrice) {
		return false
	}
	if len(l.byID) != len(other.byID) {
		return false
	}
	for id, b := range l.byID {
		o, ok := other.byID[id]
		if !ok || !sameBid(b, o) {
			return false
		}
	}
	return true
}

func sameBid(a, b models.Bid) bool {
	return a.ID == b.ID &&
		a.SessionID == b.SessionID &&
		a.BidderID == b.BidderID &&
		a.Amount.Equal(b.Amount) &&
		a.Timestamp.Equal(b.Timestamp)
}

// preferred picks deterministically between two records sharing an id so the
// outcome does not depend on arrival order.
func preferred(a, b models.Bid) models.Bid {
	if c := a.Amount.Cmp(b.Amount); c != 0 {
		if c > 0 {
			return a
		}
		return b
	}
	if !a.Timestamp.Equal(b.Timestamp) {
		if a.Timestamp.Before(b.Timestamp) {
			return a
		}
		return b
	}
	if a.BidderID.String() <= b.BidderID.String() {
		return a
	}
	return b
}
