package auth

import (
	"context"
	"time"
)

type contextKey string

const identityKey contextKey = "identity"

// Identity is the verified caller of a request.
type Identity struct {
	UserID    string    `json:"sub"`
	Name      string    `json:"name,omitempty"`
	Roles     []string  `json:"roles,omitempty"`
	ExpiresAt time.Time `json:"exp"`
}

func (i Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// Helper to extract user ID in handlers
func UserID(ctx context.Context) string {
	if id, ok := IdentityFrom(ctx); ok {
		return id.UserID
	}
	return ""
}

func HasRole(ctx context.Context, role string) bool {
	id, ok := IdentityFrom(ctx)
	return ok && id.HasRole(role)
}
