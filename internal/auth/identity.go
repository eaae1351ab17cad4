package auth

import (
	"context"

	"github.com/google/uuid"
)

// Identity is a verified caller. A nil *Identity means "nobody": the
// request or connection carried no valid token.
type Identity struct {
	UserID   uuid.UUID
	Username string
}

// Is reports whether the identity belongs to userID. It is false for a
// nil identity.
func (i *Identity) Is(userID uuid.UUID) bool {
	return i != nil && i.UserID == userID
}

type identityKey struct{}

// WithIdentity stores id in ctx. Used by the websocket transport, which
// has no gin.Context once the connection is upgraded.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity stored by WithIdentity, or nil.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}
