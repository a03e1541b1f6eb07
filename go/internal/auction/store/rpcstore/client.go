package rpcstore

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"github.com/google/uuid"

	"github.com/mcdev12/gavel/go/internal/auction/store"
	"github.com/mcdev12/gavel/go/internal/models"
)

// Client is a store.Store backed by a remote authority.
type Client struct {
	token         string
	snapshot      *connect.Client[SnapshotRequest, store.Snapshot]
	placeBid      *connect.Client[store.PlaceBidRequest, models.Bid]
	pauseSession  *connect.Client[store.PauseRequest, models.AuctionSession]
	resumeSession *connect.Client[store.PauseRequest, models.AuctionSession]
	kick          *connect.Client[store.KickRequest, models.Participant]
	resolve       *connect.Client[store.ResolveRequest, models.AuctionSession]
}

var _ store.Store = (*Client)(nil)

// NewClient creates a client for the authority at baseURL.
func NewClient(httpClient connect.HTTPClient, baseURL, token string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	baseURL = strings.TrimRight(baseURL, "/")
	opts := []connect.ClientOption{connect.WithCodec(jsonCodec{})}
	return &Client{
		token:         token,
		snapshot:      connect.NewClient[SnapshotRequest, store.Snapshot](httpClient, baseURL+SnapshotProcedure, opts...),
		placeBid:      connect.NewClient[store.PlaceBidRequest, models.Bid](httpClient, baseURL+PlaceBidProcedure, opts...),
		pauseSession:  connect.NewClient[store.PauseRequest, models.AuctionSession](httpClient, baseURL+PauseSessionProcedure, opts...),
		resumeSession: connect.NewClient[store.PauseRequest, models.AuctionSession](httpClient, baseURL+ResumeSessionProcedure, opts...),
		kick:          connect.NewClient[store.KickRequest, models.Participant](httpClient, baseURL+KickParticipantProcedure, opts...),
		resolve:       connect.NewClient[store.ResolveRequest, models.AuctionSession](httpClient, baseURL+ResolveWinnerProcedure, opts...),
	}
}

func call[Req, Res any](ctx context.Context, c *Client, client *connect.Client[Req, Res], msg Req) (Res, error) {
	req := connect.NewRequest(&msg)
	if c.token != "" {
		req.Header().Set("Authorization", "Bearer "+c.token)
	}
	res, err := client.CallUnary(ctx, req)
	if err != nil {
		var zero Res
		return zero, fromConnect(ctx, err)
	}
	return *res.Msg, nil
}

func (c *Client) Snapshot(ctx context.Context, sessionID uuid.UUID) (store.Snapshot, error) {
	return call(ctx, c, c.snapshot, SnapshotRequest{SessionID: sessionID})
}

func (c *Client) PlaceBid(ctx context.Context, req store.PlaceBidRequest) (models.Bid, error) {
	return call(ctx, c, c.placeBid, req)
}

func (c *Client) PauseSession(ctx context.Context, req store.PauseRequest) (models.AuctionSession, error) {
	return call(ctx, c, c.pauseSession, req)
}

func (c *Client) ResumeSession(ctx context.Context, req store.PauseRequest) (models.AuctionSession, error) {
	return call(ctx, c, c.resumeSession, req)
}

func (c *Client) KickParticipant(ctx context.Context, req store.KickRequest) (models.Participant, error) {
	return call(ctx, c, c.kick, req)
}

func (c *Client) ResolveWinner(ctx context.Context, req store.ResolveRequest) (models.AuctionSession, error) {
	return call(ctx, c, c.resolve, req)
}
