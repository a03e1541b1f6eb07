package rpcstore

import (
	"context"
	"errors"

	"connectrpc.com/connect"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/gavel/go/internal/auction/store"
)

const (
	reasonHeader  = "Gavel-Reason"
	highestHeader = "Gavel-Highest"
)

var codeOf = map[store.Kind]connect.Code{
	store.KindValidation:      connect.CodeInvalidArgument,
	store.KindConflict:        connect.CodeAborted,
	store.KindAuth:            connect.CodePermissionDenied,
	store.KindAlreadyResolved: connect.CodeFailedPrecondition,
	store.KindNotFound:        connect.CodeNotFound,
	store.KindTimeout:         connect.CodeDeadlineExceeded,
	store.KindNetwork:         connect.CodeUnavailable,
}

var sentinelOf = map[connect.Code]error{
	connect.CodeInvalidArgument:    store.ErrValidation,
	connect.CodeAborted:            store.ErrConflict,
	connect.CodePermissionDenied:   store.ErrAuth,
	connect.CodeUnauthenticated:    store.ErrAuth,
	connect.CodeFailedPrecondition: store.ErrAlreadyResolved,
	connect.CodeNotFound:           store.ErrNotFound,
	connect.CodeDeadlineExceeded:   store.ErrTimeout,
	connect.CodeUnavailable:        store.ErrNetwork,
}

// toConnect converts a store error to a connect error with the rejection
// details in metadata.
func toConnect(err error) error {
	if err == nil {
		return nil
	}
	code, ok := codeOf[store.Classify(err)]
	if !ok {
		code = connect.CodeInternal
	}
	ce := connect.NewError(code, err)
	if reason := store.ReasonOf(err); reason != "" {
		ce.Meta().Set(reasonHeader, reason)
	}
	if highest, ok := store.HighestOf(err); ok {
		ce.Meta().Set(highestHeader, highest.String())
	}
	return ce
}

// fromConnect converts a client-side connect error back to the store taxonomy.
func fromConnect(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var ce *connect.Error
	if !errors.As(err, &ce) {
		return err
	}
	sentinel, ok := sentinelOf[ce.Code()]
	if !ok {
		return err
	}
	rej := &store.Rejection{Err: sentinel, Reason: ce.Meta().Get(reasonHeader)}
	if h := ce.Meta().Get(highestHeader); h != "" {
		if d, parseErr := decimal.NewFromString(h); parseErr == nil {
			rej.Highest = d
		}
	}
	return rej
}
