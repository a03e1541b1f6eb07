// Package rpcstore exposes a store.Store over connect and provides the
// matching client.
package rpcstore

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/gavel/go/internal/auction/store"
	"github.com/mcdev12/gavel/go/internal/models"
)

// ServiceName is the connect service the procedures live under.
const ServiceName = "gavel.auction.v1.StoreService"

const (
	SnapshotProcedure        = "/" + ServiceName + "/Snapshot"
	PlaceBidProcedure        = "/" + ServiceName + "/PlaceBid"
	PauseSessionProcedure    = "/" + ServiceName + "/PauseSession"
	ResumeSessionProcedure   = "/" + ServiceName + "/ResumeSession"
	KickParticipantProcedure = "/" + ServiceName + "/KickParticipant"
	ResolveWinnerProcedure   = "/" + ServiceName + "/ResolveWinner"
)

// SnapshotRequest asks for one session.
type SnapshotRequest struct {
	SessionID uuid.UUID `json:"session_id"`
}

// tokenInterceptor rejects calls without the shared bearer token.
func tokenInterceptor(token string) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			got := strings.TrimPrefix(req.Header().Get("Authorization"), "Bearer ")
			if got != token {
				log.Warn().Str("procedure", req.Spec().Procedure).Msg("store call with bad token")
				return nil, toConnect(store.ErrAuth)
			}
			return next(ctx, req)
		}
	}
}

func unary[Req, Res any](procedure string, fn func(context.Context, Req) (Res, error), opts ...connect.HandlerOption) http.Handler {
	return connect.NewUnaryHandler(procedure,
		func(ctx context.Context, req *connect.Request[Req]) (*connect.Response[Res], error) {
			out, err := fn(ctx, *req.Msg)
			if err != nil {
				log.Debug().Err(err).Str("procedure", procedure).Msg("store call refused")
				return nil, toConnect(err)
			}
			return connect.NewResponse(&out), nil
		},
		opts...,
	)
}

// NewHandler mounts every procedure on a mux and returns it with the
// service path prefix. An empty token disables authentication.
func NewHandler(s store.Store, token string) (string, http.Handler) {
	opts := []connect.HandlerOption{connect.WithCodec(jsonCodec{})}
	if token != "" {
		opts = append(opts, connect.WithInterceptors(tokenInterceptor(token)))
	}

	mux := http.NewServeMux()
	mux.Handle(SnapshotProcedure, unary(SnapshotProcedure, func(ctx context.Context, req SnapshotRequest) (store.Snapshot, error) {
		return s.Snapshot(ctx, req.SessionID)
	}, opts...))
	mux.Handle(PlaceBidProcedure, unary(PlaceBidProcedure, func(ctx context.Context, req store.PlaceBidRequest) (models.Bid, error) {
		return s.PlaceBid(ctx, req)
	}, opts...))
	mux.Handle(PauseSessionProcedure, unary(PauseSessionProcedure, s.PauseSession, opts...))
	mux.Handle(ResumeSessionProcedure, unary(ResumeSessionProcedure, s.ResumeSession, opts...))
	mux.Handle(KickParticipantProcedure, unary(KickParticipantProcedure, s.KickParticipant, opts...))
	mux.Handle(ResolveWinnerProcedure, unary(ResolveWinnerProcedure, s.ResolveWinner, opts...))
	return "/" + ServiceName + "/", mux
}
