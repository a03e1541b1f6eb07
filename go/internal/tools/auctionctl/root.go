package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mcdev12/gavel/go/clients"
	"github.com/mcdev12/gavel/go/internal/auction/session"
	"github.com/mcdev12/gavel/go/internal/config"
)

type globalOptions struct {
	gateway   string
	userID    string
	role      string
	sessionID string
	timeout   time.Duration
	asJSON    bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "auctionctl",
		Short: "Inspect and drive auction sessions through the gateway",
		Long: `auctionctl talks to a session gateway as one viewer. Identity is sent in
the X-User-ID and X-User-Role headers, so the gateway must trust the caller.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			config.LoadDotEnv()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.gateway, "gateway", config.GetEnv("GAVEL_GATEWAY", "http://localhost:8081"), "gateway base URL")
	flags.StringVar(&opts.userID, "user", config.GetEnv("GAVEL_USER_ID", ""), "viewer user ID")
	flags.StringVar(&opts.role, "role", config.GetEnv("GAVEL_ROLE", string(session.RoleBidder)), "viewer role (BIDDER or OPERATOR)")
	flags.StringVarP(&opts.sessionID, "session", "s", config.GetEnv("GAVEL_SESSION_ID", ""), "auction session ID")
	flags.DurationVar(&opts.timeout, "timeout", 15*time.Second, "request timeout")
	flags.BoolVar(&opts.asJSON, "json", false, "print raw JSON")

	root.AddCommand(
		newStateCmd(opts),
		newBidCmd(opts),
		newPauseCmd(opts),
		newResumeCmd(opts),
		newKickCmd(opts),
		newConfirmCmd(opts),
		newRejectCmd(opts),
		newWatchCmd(opts),
	)
	return root
}

func (o *globalOptions) viewer() (session.Viewer, error) {
	userID, err := uuid.Parse(o.userID)
	if err != nil {
		return session.Viewer{}, fmt.Errorf("--user must be a UUID: %w", err)
	}
	role, ok := session.ParseRole(strings.ToUpper(o.role))
	if !ok {
		return session.Viewer{}, fmt.Errorf("unknown role %q", o.role)
	}
	return session.Viewer{UserID: userID, Role: role}, nil
}

func (o *globalOptions) sessionUUID() (uuid.UUID, error) {
	id, err := uuid.Parse(o.sessionID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("--session must be a UUID: %w", err)
	}
	return id, nil
}

func (o *globalOptions) client() (*clients.GatewayClient, uuid.UUID, error) {
	viewer, err := o.viewer()
	if err != nil {
		return nil, uuid.Nil, err
	}
	sessionID, err := o.sessionUUID()
	if err != nil {
		return nil, uuid.Nil, err
	}
	c := clients.NewGatewayClient(strings.TrimRight(o.gateway, "/"), viewer)
	c.SetTimeout(o.timeout)
	return c, sessionID, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printState(w io.Writer, st session.State) {
	fmt.Fprintf(w, "Session:   %s (%s)\n", st.Title, st.SessionID)
	phaseLine := string(st.Phase)
	if st.Paused {
		phaseLine += fmt.Sprintf(" (underlying %s)", st.UnderlyingPhase)
	}
	fmt.Fprintf(w, "Phase:     %s\n", phaseLine)
	if st.RemainingSeconds > 0 {
		fmt.Fprintf(w, "Remaining: %s\n", time.Duration(st.RemainingSeconds)*time.Second)
	}
	fmt.Fprintf(w, "Highest:   %s\n", st.Highest.String())
	fmt.Fprintf(w, "Next bid:  %s - %s\n", st.MinimumNext.String(), st.MaximumNext.String())
	if st.WinnerID != nil {
		fmt.Fprintf(w, "Winner:    %s\n", st.WinnerID)
	}
	fmt.Fprintf(w, "Can bid:   %t\n", st.Eligibility.CanBid)
	for _, b := range st.History {
		fmt.Fprintf(w, "  %s  %s  %s\n", b.Timestamp.Format(time.RFC3339), b.BidderID, b.Amount.String())
	}
	for _, n := range st.Notices {
		fmt.Fprintf(w, "! %s\n", n.Message)
	}
}

func printResult(w io.Writer, r session.Result) {
	if r.OK {
		fmt.Fprintln(w, "OK")
		return
	}
	fmt.Fprintf(w, "REFUSED %s: %s\n", r.Reason, r.Message)
	if r.Minimum != nil && r.Maximum != nil {
		fmt.Fprintf(w, "  accepted range %s - %s\n", r.Minimum.String(), r.Maximum.String())
	}
}
