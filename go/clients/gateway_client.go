package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/mcdev12/gavel/go/internal/auction/gateway"
	"github.com/mcdev12/gavel/go/internal/auction/session"
)

// GatewayClient calls the session gateway's REST surface as one viewer.
type GatewayClient struct {
	*BaseClient
}

func NewGatewayClient(baseURL string, viewer session.Viewer) *GatewayClient {
	base := NewBaseClient(baseURL)
	base.SetHeader(gateway.HeaderUserID, viewer.UserID.String())
	base.SetHeader(gateway.HeaderUserRole, string(viewer.Role))
	return &GatewayClient{BaseClient: base}
}

// State fetches the viewer's current state of a session.
func (c *GatewayClient) State(ctx context.Context, sessionID uuid.UUID) (session.State, error) {
	body, err := c.Get(ctx, fmt.Sprintf("/api/sessions/%s/state", sessionID))
	if err != nil {
		return session.State{}, err
	}
	var state session.State
	if err := json.Unmarshal(body, &state); err != nil {
		return session.State{}, fmt.Errorf("failed to decode state: %w", err)
	}
	return state, nil
}

// Run posts a command to /api/sessions/{id}/{action}. Refusals come back as
// a Result with OK false, not as an error.
func (c *GatewayClient) Run(ctx context.Context, sessionID uuid.UUID, action string, cmd gateway.Command) (session.Result, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return session.Result{}, fmt.Errorf("failed to encode command: %w", err)
	}
	body, err := c.Post(ctx, fmt.Sprintf("/api/sessions/%s/%s", sessionID, action), bytes.NewReader(payload))
	if err != nil {
		return session.Result{}, err
	}
	var result session.Result
	if err := json.Unmarshal(body, &result); err != nil {
		return session.Result{}, fmt.Errorf("failed to decode result: %w", err)
	}
	return result, nil
}
