// Package session keeps one viewer's live picture of an auction session and
// runs the operator and bidder commands against the authority.
//
// A View converges three inputs through one apply point: the initial
// snapshot, push events from a channel.Transport and periodic snapshots from
// a poller. Every input goes through the ledger merge functions, so the
// order in which they arrive does not matter.
package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/gavel/go/internal/auction/bidding"
	"github.com/mcdev12/gavel/go/internal/auction/channel"
	"github.com/mcdev12/gavel/go/internal/auction/phase"
	"github.com/mcdev12/gavel/go/internal/auction/poller"
	"github.com/mcdev12/gavel/go/internal/auction/store"
)

// Role decides which commands a viewer may run.
type Role string

const (
	RoleOperator Role = "OPERATOR"
	RoleBidder   Role = "BIDDER"
)

// ParseRole accepts the role names case-sensitively as sent by the gateway.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleOperator, RoleBidder:
		return Role(s), true
	default:
		return "", false
	}
}

// Viewer is the identity a view is opened for.
type Viewer struct {
	UserID uuid.UUID `json:"user_id"`
	Role   Role      `json:"role"`
}

func (v Viewer) String() string {
	return string(v.Role) + ":" + v.UserID.String()
}

const (
	DefaultTickInterval        = time.Second
	DefaultCommandTimeout      = 10 * time.Second
	DefaultKickReasonMinLength = 10
	maxNotices                 = 20
)

// Options configures a View. Store is required; a nil Transport runs the
// view on polling alone.
type Options struct {
	Clock     clockwork.Clock
	Store     store.Store
	Transport channel.Transport
	Resolver  *phase.Resolver
	Validator *bidding.Validator

	// PollInterval overrides the per-role intervals when set.
	PollInterval         time.Duration
	OperatorPollInterval time.Duration
	BidderPollInterval   time.Duration
	TickInterval         time.Duration
	CommandTimeout       time.Duration
	KickReasonMinLength  int
}

func (o Options) withDefaults(role Role) Options {
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Resolver == nil {
		o.Resolver = phase.NewResolver(phase.PausePolicy{})
	}
	if o.Validator == nil {
		o.Validator = bidding.NewValidator(bidding.DefaultPolicy())
	}
	if o.OperatorPollInterval <= 0 {
		o.OperatorPollInterval = poller.OperatorInterval
	}
	if o.BidderPollInterval <= 0 {
		o.BidderPollInterval = poller.BidderInterval
	}
	if o.PollInterval <= 0 {
		o.PollInterval = o.BidderPollInterval
		if role == RoleOperator {
			o.PollInterval = o.OperatorPollInterval
		}
	}
	if o.TickInterval <= 0 {
		o.TickInterval = DefaultTickInterval
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = DefaultCommandTimeout
	}
	if o.KickReasonMinLength <= 0 {
		o.KickReasonMinLength = DefaultKickReasonMinLength
	}
	return o
}
