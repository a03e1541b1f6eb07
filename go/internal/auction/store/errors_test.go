package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindNone},
		{"validation", Reject(ErrValidation, "NOT_ELIGIBLE"), KindValidation},
		{"conflict", Conflict(decimal.NewFromInt(5)), KindConflict},
		{"wrapped auth", fmt.Errorf("pause: %w", ErrAuth), KindAuth},
		{"already resolved", ErrAlreadyResolved, KindAlreadyResolved},
		{"not found", ErrNotFound, KindNotFound},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), KindTimeout},
		{"net timeout", &net.OpError{Op: "read", Err: timeoutErr{}}, KindTimeout},
		{"connection refused", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, KindNetwork},
		{"network sentinel", ErrNetwork, KindNetwork},
		{"other", errors.New("boom"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestRejectionDetails(t *testing.T) {
	err := fmt.Errorf("place bid: %w", Conflict(decimal.RequireFromString("110000000")))
	highest, ok := HighestOf(err)
	check.True(t, ok)
	check.Equal(t, "110000000", highest.String())
	check.Equal(t, "outbid", ReasonOf(err))

	_, ok = HighestOf(Reject(ErrValidation, "NOT_BIDDING_TIME"))
	check.False(t, ok)
	check.Equal(t, "NOT_BIDDING_TIME", ReasonOf(Reject(ErrValidation, "NOT_BIDDING_TIME")))
	check.Equal(t, "", ReasonOf(errors.New("plain")))
}
