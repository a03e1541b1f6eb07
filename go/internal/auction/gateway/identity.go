package gateway

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/mcdev12/gavel/go/internal/auction/session"
)

const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

// ErrNoIdentity is returned when a request carries no usable identity.
var ErrNoIdentity = errors.New("missing identity")

// viewerFromRequest reads the identity set by the upstream auth proxy. The
// user_id and role query parameters are honoured only when allowQuery is set,
// for development clients that cannot set headers on a websocket upgrade.
func viewerFromRequest(r *http.Request, allowQuery bool) (session.Viewer, error) {
	userID := r.Header.Get(HeaderUserID)
	role := r.Header.Get(HeaderUserRole)
	if allowQuery {
		if userID == "" {
			userID = r.URL.Query().Get("user_id")
		}
		if role == "" {
			role = r.URL.Query().Get("role")
		}
	}
	if userID == "" || role == "" {
		return session.Viewer{}, ErrNoIdentity
	}

	id, err := uuid.Parse(userID)
	if err != nil {
		return session.Viewer{}, fmt.Errorf("%w: invalid user id", ErrNoIdentity)
	}
	parsed, ok := session.ParseRole(role)
	if !ok {
		return session.Viewer{}, fmt.Errorf("%w: unknown role %q", ErrNoIdentity, role)
	}
	return session.Viewer{UserID: id, Role: parsed}, nil
}
