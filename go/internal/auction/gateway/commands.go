package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/gavel/go/internal/auction/session"
)

// CommandName identifies a client command.
type CommandName string

const (
	CommandSubmitBid     CommandName = "submitBid"
	CommandRetryBid      CommandName = "retryBid"
	CommandPause         CommandName = "pause"
	CommandResume        CommandName = "resume"
	CommandKick          CommandName = "kick"
	CommandConfirmWinner CommandName = "confirmWinner"
	CommandRejectWinner  CommandName = "rejectWinner"
)

// ErrBadCommand is returned for commands that cannot be dispatched.
var ErrBadCommand = errors.New("bad command")

// Command is the body of a websocket command frame and of the REST command
// endpoints. ID is echoed back on the result frame.
type Command struct {
	ID            string           `json:"id,omitempty"`
	Command       CommandName      `json:"command"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	BidID         *uuid.UUID       `json:"bid_id,omitempty"`
	ParticipantID *uuid.UUID       `json:"participant_id,omitempty"`
	Reason        string           `json:"reason,omitempty"`
}

// Run dispatches the command to the view. An error means the command itself
// was malformed; refusals come back as results.
func (c Command) Run(ctx context.Context, v *session.View) (session.Result, error) {
	switch c.Command {
	case CommandSubmitBid, CommandRetryBid:
		if c.Amount == nil {
			return session.Result{}, fmt.Errorf("%w: amount is required", ErrBadCommand)
		}
		if c.BidID != nil {
			return v.RetryBid(ctx, *c.BidID, *c.Amount), nil
		}
		if c.Command == CommandRetryBid {
			return session.Result{}, fmt.Errorf("%w: bid_id is required", ErrBadCommand)
		}
		return v.SubmitBid(ctx, *c.Amount), nil
	case CommandPause:
		return v.Pause(ctx), nil
	case CommandResume:
		return v.Resume(ctx), nil
	case CommandKick:
		if c.ParticipantID == nil {
			return session.Result{}, fmt.Errorf("%w: participant_id is required", ErrBadCommand)
		}
		return v.Kick(ctx, *c.ParticipantID, c.Reason), nil
	case CommandConfirmWinner:
		return v.ConfirmWinner(ctx), nil
	case CommandRejectWinner:
		return v.RejectWinner(ctx, c.Reason), nil
	default:
		return session.Result{}, fmt.Errorf("%w: unknown command %q", ErrBadCommand, c.Command)
	}
}

// commandForAction maps the REST path segment to a command.
var commandForAction = map[string]CommandName{
	"bids":           CommandSubmitBid,
	"pause":          CommandPause,
	"resume":         CommandResume,
	"kick":           CommandKick,
	"confirm-winner": CommandConfirmWinner,
	"reject-winner":  CommandRejectWinner,
}
