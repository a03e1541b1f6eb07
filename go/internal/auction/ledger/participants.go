package ledger

import (
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/gavel/go/internal/models"
)

// statusRank orders statuses for the lattice join. REJECTED is terminal and
// sits on top; only a higher Revision moves a record off it.
var statusRank = map[models.ParticipantStatus]int{
	models.ParticipantStatusPending:   1,
	models.ParticipantStatusApproved:  2,
	models.ParticipantStatusPaid:      3,
	models.ParticipantStatusCompleted: 4,
	models.ParticipantStatusRejected:  5,
}

// Rank exposes the precedence of a status. Unknown statuses rank 0.
func Rank(s models.ParticipantStatus) int {
	return statusRank[s]
}

// Registry is the participant roster of one session, at most one record per user.
type Registry struct {
	sessionID uuid.UUID
	byUser    map[uuid.UUID]models.Participant
	userOf    map[uuid.UUID]uuid.UUID // participant id -> user id
}

// NewRegistry creates an empty registry for a session.
func NewRegistry(sessionID uuid.UUID) Registry {
	return Registry{
		sessionID: sessionID,
		byUser:    map[uuid.UUID]models.Participant{},
		userOf:    map[uuid.UUID]uuid.UUID{},
	}
}

// Merge joins incoming records into the registry. The join takes the higher
// Revision, then the higher status rank, so the result does not depend on
// whether a poll or a push arrived first.
func (r Registry) Merge(incoming ...models.Participant) Registry {
	out, _ := r.MergeWithReport(incoming...)
	return out
}

// MergeWithReport is Merge plus a summary. Replaced counts upgraded records.
func (r Registry) MergeWithReport(incoming ...models.Participant) (Registry, MergeReport) {
	var report MergeReport
	if len(incoming) == 0 {
		return r, report
	}

	next := r.clone()
	for _, p := range incoming {
		if !r.accepts(p) {
			report.Dropped++
			continue
		}
		existing, ok := next.byUser[p.UserID]
		if !ok {
			next.put(p)
			report.Added++
			continue
		}
		joined := join(existing, p)
		if sameParticipant(existing, joined) {
			report.Duplicates++
			continue
		}
		if existing.ID != joined.ID {
			delete(next.userOf, existing.ID)
		}
		next.put(joined)
		report.Replaced++
	}

	if !report.Changed() {
		return r, report
	}
	return next, report
}

// Restore puts prev back, but only if the current record for that user still
// equals expected. It returns false when something else changed the record
// in the meantime, in which case nothing is touched.
func (r Registry) Restore(prev, expected models.Participant) (Registry, bool) {
	current, ok := r.byUser[expected.UserID]
	if !ok || !sameParticipant(current, expected) {
		return r, false
	}
	next := r.clone()
	next.put(prev)
	return next, true
}

func (r Registry) accepts(p models.Participant) bool {
	if p.ID == uuid.Nil || p.UserID == uuid.Nil {
		log.Warn().Str("session_id", r.sessionID.String()).Msg("dropping participant without id")
		return false
	}
	if r.sessionID != uuid.Nil && p.SessionID != r.sessionID {
		log.Warn().
			Str("session_id", r.sessionID.String()).
			Str("participant_session_id", p.SessionID.String()).
			Str("participant_id", p.ID.String()).
			Msg("dropping participant for another session")
		return false
	}
	if !p.Status.Valid() {
		log.Warn().
			Str("participant_id", p.ID.String()).
			Str("status", string(p.Status)).
			Msg("dropping participant with unknown status")
		return false
	}
	return true
}

func (r Registry) clone() Registry {
	next := Registry{
		sessionID: r.sessionID,
		byUser:    make(map[uuid.UUID]models.Participant, len(r.byUser)+1),
		userOf:    make(map[uuid.UUID]uuid.UUID, len(r.userOf)+1),
	}
	for k, v := range r.byUser {
		next.byUser[k] = v
	}
	for k, v := range r.userOf {
		next.userOf[k] = v
	}
	return next
}

func (r *Registry) put(p models.Participant) {
	r.byUser[p.UserID] = p
	r.userOf[p.ID] = p.UserID
}

// ForUser returns the record of a user.
func (r Registry) ForUser(userID uuid.UUID) (models.Participant, bool) {
	p, ok := r.byUser[userID]
	return p, ok
}

// ByID returns the record with the given participant id.
func (r Registry) ByID(id uuid.UUID) (models.Participant, bool) {
	userID, ok := r.userOf[id]
	if !ok {
		return models.Participant{}, false
	}
	p, ok := r.byUser[userID]
	return p, ok
}

// Len returns the number of participants.
func (r Registry) Len() int { return len(r.byUser) }

// All returns every record ordered by participant id.
func (r Registry) All() []models.Participant {
	out := make([]models.Participant, 0, len(r.byUser))
	for _, p := range r.byUser {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// Equal compares the rosters.
func (r Registry) Equal(other Registry) bool {
	if r.sessionID != other.sessionID || len(r.byUser) != len(other.byUser) {
		return false
	}
	for k, p := range r.byUser {
		o, ok := other.byUser[k]
		if !ok || !sameParticipant(p, o) {
			return false
		}
	}
	return true
}

// join is the lattice join of two records for the same user.
func join(a, b models.Participant) models.Participant {
	if a.Revision != b.Revision {
		if a.Revision > b.Revision {
			return a
		}
		return b
	}
	if ra, rb := Rank(a.Status), Rank(b.Status); ra != rb {
		if ra > rb {
			return a
		}
		return b
	}
	// Same revision and status: break the tie on content so the join stays commutative.
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		if a.UpdatedAt.After(b.UpdatedAt) {
			return a
		}
		return b
	}
	if c := a.DepositAmount.Cmp(b.DepositAmount); c != 0 {
		if c > 0 {
			return a
		}
		return b
	}
	if ka, kb := a.KickReason != nil, b.KickReason != nil; ka != kb {
		if kb {
			return b
		}
		return a
	}
	if a.KickReason != nil && *a.KickReason != *b.KickReason {
		if *b.KickReason > *a.KickReason {
			return b
		}
		return a
	}
	if b.ID.String() > a.ID.String() {
		return b
	}
	return a
}

func sameParticipant(a, b models.Participant) bool {
	return a.ID == b.ID &&
		a.SessionID == b.SessionID &&
		a.UserID == b.UserID &&
		a.Status == b.Status &&
		a.Revision == b.Revision &&
		a.DepositAmount.Equal(b.DepositAmount) &&
		a.UpdatedAt.Equal(b.UpdatedAt) &&
		sameReason(a.KickReason, b.KickReason)
}

func sameReason(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
