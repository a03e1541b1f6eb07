package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/mcdev12/gavel/go/internal/auction/gateway"
)

func newWatchCmd(opts *globalOptions) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the session's live state stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			viewer, err := opts.viewer()
			if err != nil {
				return err
			}
			sessionID, err := opts.sessionUUID()
			if err != nil {
				return err
			}
			endpoint, err := websocketURL(opts.gateway)
			if err != nil {
				return err
			}
			endpoint.Path = strings.TrimRight(endpoint.Path, "/") + "/ws/session"
			endpoint.RawQuery = url.Values{"session_id": {sessionID.String()}}.Encode()

			header := http.Header{}
			header.Set(gateway.HeaderUserID, viewer.UserID.String())
			header.Set(gateway.HeaderUserRole, string(viewer.Role))

			dialer := websocket.Dialer{HandshakeTimeout: opts.timeout}
			conn, res, err := dialer.DialContext(cmd.Context(), endpoint.String(), header)
			if err != nil {
				if res != nil {
					return fmt.Errorf("connect: %s: %w", res.Status, err)
				}
				return fmt.Errorf("connect: %w", err)
			}
			defer conn.Close()

			stop := context.AfterFunc(cmd.Context(), func() { conn.Close() })
			defer stop()

			out := cmd.OutOrStdout()
			for seen := 0; count <= 0 || seen < count; {
				var msg gateway.ServerMessage
				if err := conn.ReadJSON(&msg); err != nil {
					if cmd.Context().Err() != nil {
						return nil
					}
					return fmt.Errorf("read: %w", err)
				}
				switch msg.Type {
				case gateway.MessageState:
					if msg.State == nil {
						continue
					}
					seen++
					if opts.asJSON {
						if err := printJSON(out, msg.State); err != nil {
							return err
						}
						continue
					}
					printState(out, *msg.State)
					fmt.Fprintln(out, "---")
				case gateway.MessageError:
					fmt.Fprintf(out, "error: %s\n", msg.Error)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "stop after this many states (0 follows until interrupted)")
	return cmd
}

// websocketURL maps an http(s) gateway URL to ws(s).
func websocketURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid gateway URL %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported gateway URL scheme %q", u.Scheme)
	}
	return u, nil
}
