package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/gavel/go/internal/models"
)

// flakyStore fails every call with the queued errors, then succeeds.
type flakyStore struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (f *flakyStore) next() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

func (f *flakyStore) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *flakyStore) Snapshot(ctx context.Context, sessionID uuid.UUID) (Snapshot, error) {
	if err := f.next(); err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Session: models.AuctionSession{ID: sessionID}}, nil
}

func (f *flakyStore) PlaceBid(ctx context.Context, req PlaceBidRequest) (models.Bid, error) {
	if err := f.next(); err != nil {
		return models.Bid{}, err
	}
	return models.Bid{ID: req.ID, SessionID: req.SessionID, BidderID: req.BidderID, Amount: req.Amount}, nil
}

func (f *flakyStore) PauseSession(ctx context.Context, req PauseRequest) (models.AuctionSession, error) {
	return models.AuctionSession{ID: req.SessionID, Paused: true}, f.next()
}

func (f *flakyStore) ResumeSession(ctx context.Context, req PauseRequest) (models.AuctionSession, error) {
	return models.AuctionSession{ID: req.SessionID}, f.next()
}

func (f *flakyStore) KickParticipant(ctx context.Context, req KickRequest) (models.Participant, error) {
	return models.Participant{ID: req.ParticipantID, Status: models.ParticipantStatusRejected}, f.next()
}

func (f *flakyStore) ResolveWinner(ctx context.Context, req ResolveRequest) (models.AuctionSession, error) {
	return models.AuctionSession{ID: req.SessionID}, f.next()
}

func fastRetry(attempts, breakAfter int) RetryConfig {
	return RetryConfig{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		BreakAfter:   breakAfter,
		BreakTimeout: time.Minute,
	}
}

func TestRetryingRetriesNetworkErrors(t *testing.T) {
	inner := &flakyStore{errs: []error{ErrNetwork, ErrNetwork}}
	s := NewRetrying(inner, fastRetry(3, 0))

	snap, err := s.Snapshot(context.Background(), uuid.New())
	check.NoError(t, err)
	check.True(t, snap.Session.ID != uuid.Nil)
	check.Equal(t, 3, inner.Calls())
}

func TestRetryingDoesNotRetryConflict(t *testing.T) {
	inner := &flakyStore{errs: []error{Conflict(decimal.NewFromInt(200))}}
	s := NewRetrying(inner, fastRetry(3, 5))

	_, err := s.PlaceBid(context.Background(), PlaceBidRequest{ID: uuid.New(), Amount: decimal.NewFromInt(150)})
	check.Equal(t, KindConflict, Classify(err))
	highest, ok := HighestOf(err)
	check.True(t, ok)
	check.Equal(t, "200", highest.String())
	check.Equal(t, 1, inner.Calls())
}

func TestRetryingGivesUpAfterMaxAttempts(t *testing.T) {
	inner := &flakyStore{errs: []error{ErrNetwork, ErrNetwork, ErrNetwork, ErrNetwork}}
	s := NewRetrying(inner, fastRetry(2, 0))

	_, err := s.PauseSession(context.Background(), PauseRequest{SessionID: uuid.New()})
	check.Equal(t, KindNetwork, Classify(err))
	check.Equal(t, 2, inner.Calls())
}

func TestRetryingAnsweredErrorsDoNotTripBreaker(t *testing.T) {
	inner := &flakyStore{errs: []error{ErrAlreadyResolved, ErrAlreadyResolved, ErrAlreadyResolved}}
	s := NewRetrying(inner, fastRetry(1, 2))

	for i := 0; i < 3; i++ {
		_, err := s.ResolveWinner(context.Background(), ResolveRequest{SessionID: uuid.New()})
		check.True(t, errors.Is(err, ErrAlreadyResolved))
	}
	check.Equal(t, 3, inner.Calls())
}

func TestRetryingBreakerOpensOnRepeatedNetworkFailure(t *testing.T) {
	inner := &flakyStore{errs: []error{ErrNetwork, ErrNetwork, ErrNetwork, ErrNetwork}}
	s := NewRetrying(inner, fastRetry(1, 2))

	for i := 0; i < 2; i++ {
		_, err := s.KickParticipant(context.Background(), KickRequest{SessionID: uuid.New()})
		check.Equal(t, KindNetwork, Classify(err))
	}
	_, err := s.KickParticipant(context.Background(), KickRequest{SessionID: uuid.New()})
	check.Equal(t, KindNetwork, Classify(err))
	check.Equal(t, 2, inner.Calls())
}
