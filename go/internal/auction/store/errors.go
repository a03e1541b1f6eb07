package store

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/shopspring/decimal"
)

var (
	// ErrValidation is returned when the authority refuses a request on its merits.
	ErrValidation = errors.New("validation failed")
	// ErrConflict is returned when a higher bid was admitted first.
	ErrConflict = errors.New("bid conflict")
	// ErrAuth is returned when the caller may not perform the operation.
	ErrAuth = errors.New("unauthorized")
	// ErrNetwork marks transport failures.
	ErrNetwork = errors.New("store unreachable")
	// ErrTimeout marks requests that did not complete in time.
	ErrTimeout = errors.New("store timeout")
	// ErrAlreadyResolved is returned for a second winner resolution.
	ErrAlreadyResolved = errors.New("winner already resolved")
	// ErrNotFound is returned for unknown sessions or participants.
	ErrNotFound = errors.New("not found")
)

// Kind is the coarse class of a store error.
type Kind string

const (
	KindNone            Kind = ""
	KindValidation      Kind = "VALIDATION"
	KindConflict        Kind = "CONFLICT"
	KindAuth            Kind = "UNAUTHORIZED"
	KindNetwork         Kind = "NETWORK"
	KindTimeout         Kind = "TIMEOUT"
	KindAlreadyResolved Kind = "ALREADY_RESOLVED"
	KindNotFound        Kind = "NOT_FOUND"
	KindUnknown         Kind = "UNKNOWN"
)

var sentinels = []struct {
	err  error
	kind Kind
}{
	{ErrValidation, KindValidation},
	{ErrConflict, KindConflict},
	{ErrAuth, KindAuth},
	{ErrAlreadyResolved, KindAlreadyResolved},
	{ErrNotFound, KindNotFound},
	{ErrTimeout, KindTimeout},
	{ErrNetwork, KindNetwork},
}

// Classify maps an error to its Kind.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return s.kind
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}
	return KindUnknown
}

// Rejection carries the details of a refused request.
type Rejection struct {
	Err     error
	Reason  string
	Highest decimal.Decimal
}

func (r *Rejection) Error() string {
	if r.Reason == "" {
		return r.Err.Error()
	}
	return fmt.Sprintf("%s: %s", r.Err.Error(), r.Reason)
}

func (r *Rejection) Unwrap() error { return r.Err }

// Reject builds a Rejection around one of the sentinel errors.
func Reject(sentinel error, reason string) error {
	return &Rejection{Err: sentinel, Reason: reason}
}

// Conflict builds an ErrConflict rejection carrying the current highest amount.
func Conflict(highest decimal.Decimal) error {
	return &Rejection{Err: ErrConflict, Reason: "outbid", Highest: highest}
}

// ReasonOf returns the machine-readable reason of a Rejection, if any.
func ReasonOf(err error) string {
	var r *Rejection
	if errors.As(err, &r) {
		return r.Reason
	}
	return ""
}

// HighestOf returns the highest amount carried by a conflict.
func HighestOf(err error) (decimal.Decimal, bool) {
	var r *Rejection
	if errors.As(err, &r) && errors.Is(r.Err, ErrConflict) {
		return r.Highest, true
	}
	return decimal.Zero, false
}
