package main

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/mcdev12/gavel/go/internal/auction/gateway"
)

// errRefused is returned when the gateway answered with a refusal, so the
// exit status reflects it.
var errRefused = errors.New("command refused")

func newStateCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Print the viewer's state of a session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, sessionID, err := opts.client()
			if err != nil {
				return err
			}
			st, err := c.State(cmd.Context(), sessionID)
			if err != nil {
				return fmt.Errorf("fetch state: %w", err)
			}
			if opts.asJSON {
				return printJSON(cmd.OutOrStdout(), st)
			}
			printState(cmd.OutOrStdout(), st)
			return nil
		},
	}
}

func runCommand(cmd *cobra.Command, opts *globalOptions, action string, command gateway.Command) error {
	c, sessionID, err := opts.client()
	if err != nil {
		return err
	}
	result, err := c.Run(cmd.Context(), sessionID, action, command)
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	if opts.asJSON {
		if err := printJSON(cmd.OutOrStdout(), result); err != nil {
			return err
		}
	} else {
		printResult(cmd.OutOrStdout(), result)
	}
	if !result.OK {
		return fmt.Errorf("%w: %s", errRefused, result.Reason)
	}
	return nil
}

func newBidCmd(opts *globalOptions) *cobra.Command {
	var retryID string
	cmd := &cobra.Command{
		Use:   "bid AMOUNT",
		Short: "Place a bid",
		Long: `Place a bid of AMOUNT. With --retry, resend a bid that failed to reach the
authority under its original ID.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(args[0])
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[0], err)
			}
			command := gateway.Command{Command: gateway.CommandSubmitBid, Amount: &amount}
			if retryID != "" {
				id, err := uuid.Parse(retryID)
				if err != nil {
					return fmt.Errorf("--retry must be a bid UUID: %w", err)
				}
				command.Command = gateway.CommandRetryBid
				command.BidID = &id
			}
			return runCommand(cmd, opts, "bids", command)
		},
	}
	cmd.Flags().StringVar(&retryID, "retry", "", "ID of a failed bid to resend")
	return cmd
}

func newPauseCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Pause the session (operator)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, opts, "pause", gateway.Command{Command: gateway.CommandPause})
		},
	}
}

func newResumeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume a paused session (operator)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, opts, "resume", gateway.Command{Command: gateway.CommandResume})
		},
	}
}

func newKickCmd(opts *globalOptions) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "kick PARTICIPANT_ID",
		Short: "Remove a participant from the session (operator)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid participant ID %q: %w", args[0], err)
			}
			return runCommand(cmd, opts, "kick", gateway.Command{
				Command:       gateway.CommandKick,
				ParticipantID: &id,
				Reason:        reason,
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the participant is removed")
	return cmd
}

func newConfirmCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "confirm",
		Short: "Confirm the winning bidder of an ended session (operator)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, opts, "confirm-winner", gateway.Command{Command: gateway.CommandConfirmWinner})
		},
	}
}

func newRejectCmd(opts *globalOptions) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject",
		Short: "Reject the winning bidder of an ended session (operator)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, opts, "reject-winner", gateway.Command{
				Command: gateway.CommandRejectWinner,
				Reason:  reason,
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the winner is rejected")
	return cmd
}
