package ledger

import (
	"math/rand/v2"
	"testing"

	"github.com/google/uuid"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/gavel/go/internal/models"
)

func participant(userID uuid.UUID, status models.ParticipantStatus, revision int64) models.Participant {
	return models.Participant{
		ID:            uuid.NewSHA1(uuid.NameSpaceOID, userID[:]),
		SessionID:     sessionID,
		UserID:        userID,
		DepositAmount: decimal.NewFromInt(1_000_000),
		Status:        status,
		Revision:      revision,
		UpdatedAt:     t0,
	}
}

func TestRegistryStatusPrecedence(t *testing.T) {
	user := uuid.New()
	tests := []struct {
		name     string
		first    models.ParticipantStatus
		second   models.ParticipantStatus
		expected models.ParticipantStatus
	}{
		{"approved beats pending", models.ParticipantStatusPending, models.ParticipantStatusApproved, models.ParticipantStatusApproved},
		{"stale pending does not downgrade", models.ParticipantStatusApproved, models.ParticipantStatusPending, models.ParticipantStatusApproved},
		{"paid beats approved", models.ParticipantStatusApproved, models.ParticipantStatusPaid, models.ParticipantStatusPaid},
		{"completed beats paid", models.ParticipantStatusCompleted, models.ParticipantStatusPaid, models.ParticipantStatusCompleted},
		{"rejected overrides approved", models.ParticipantStatusApproved, models.ParticipantStatusRejected, models.ParticipantStatusRejected},
		{"rejected survives late approval", models.ParticipantStatusRejected, models.ParticipantStatusApproved, models.ParticipantStatusRejected},
		{"rejected survives completed", models.ParticipantStatusRejected, models.ParticipantStatusCompleted, models.ParticipantStatusRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(sessionID).
				Merge(participant(user, tt.first, 0)).
				Merge(participant(user, tt.second, 0))
			got, ok := r.ForUser(user)
			check.True(t, ok)
			check.Equal(t, tt.expected, got.Status)
		})
	}
}

func TestRegistryExplicitSupersede(t *testing.T) {
	user := uuid.New()
	r := NewRegistry(sessionID).
		Merge(participant(user, models.ParticipantStatusRejected, 0)).
		Merge(participant(user, models.ParticipantStatusApproved, 1))
	got, _ := r.ForUser(user)
	check.Equal(t, models.ParticipantStatusApproved, got.Status)

	// a stale rejection from before the override does not win again
	r = r.Merge(participant(user, models.ParticipantStatusRejected, 0))
	got, _ = r.ForUser(user)
	check.Equal(t, models.ParticipantStatusApproved, got.Status)
}

func TestRegistryJoinCommutativeAndIdempotent(t *testing.T) {
	r := rand.New(rand.NewPCG(9, 10))
	statuses := []models.ParticipantStatus{
		models.ParticipantStatusPending, models.ParticipantStatusApproved, models.ParticipantStatusRejected,
		models.ParticipantStatusPaid, models.ParticipantStatusCompleted,
	}
	users := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}

	var records []models.Participant
	for i := 0; i < 30; i++ {
		records = append(records, participant(users[r.IntN(len(users))], statuses[r.IntN(len(statuses))], int64(r.IntN(2))))
	}

	forward := NewRegistry(sessionID)
	for _, p := range records {
		forward = forward.Merge(p)
	}
	backward := NewRegistry(sessionID)
	for i := len(records) - 1; i >= 0; i-- {
		backward = backward.Merge(records[i], records[i])
	}
	shuffled := NewRegistry(sessionID)
	for _, i := range r.Perm(len(records)) {
		shuffled = shuffled.Merge(records[i])
	}

	check.True(t, forward.Equal(backward))
	check.True(t, forward.Equal(shuffled))
	check.True(t, forward.Equal(forward.Merge(records...)))
}

func TestRegistryLookups(t *testing.T) {
	user := uuid.New()
	p := participant(user, models.ParticipantStatusApproved, 0)
	r := NewRegistry(sessionID).Merge(p)

	byID, ok := r.ByID(p.ID)
	check.True(t, ok)
	check.Equal(t, user, byID.UserID)
	_, ok = r.ByID(uuid.New())
	check.False(t, ok)
	check.Equal(t, 1, len(r.All()))
}

func TestRegistryRestoreIsCompareAndApply(t *testing.T) {
	user := uuid.New()
	prev := participant(user, models.ParticipantStatusApproved, 0)
	reason := "abusive bidding pattern"
	optimistic := prev
	optimistic.Status = models.ParticipantStatusRejected
	optimistic.KickReason = &reason

	r := NewRegistry(sessionID).Merge(prev).Merge(optimistic)

	restored, ok := r.Restore(prev, optimistic)
	check.True(t, ok)
	got, _ := restored.ForUser(user)
	check.Equal(t, models.ParticipantStatusApproved, got.Status)

	// something else changed the record: restore refuses
	superseded := optimistic
	superseded.Revision = 2
	r = r.Merge(superseded)
	_, ok = r.Restore(prev, optimistic)
	check.False(t, ok)
}

func TestRegistryDropsMalformed(t *testing.T) {
	bad := participant(uuid.New(), "BANNED", 0)
	foreign := participant(uuid.New(), models.ParticipantStatusApproved, 0)
	foreign.SessionID = uuid.New()

	r, report := NewRegistry(sessionID).MergeWithReport(bad, foreign)
	check.Equal(t, 0, r.Len())
	check.Equal(t, 2, report.Dropped)
}
