package auth

import (
	"context"
	"strings"

	"github.com/marketlane/api/internal/domain"
)

// Marketplace roles carried in the "role" custom claim of Firebase ID tokens.
const (
	RoleBuyer  = "buyer"
	RoleSeller = "seller"
	RoleAdmin  = "admin"
)

// Identity is the authenticated end user resolved from a Firebase ID token.
type Identity struct {
	UID   string
	Email string
	Roles []string
}

// HasRole reports whether the identity carries role, ignoring case.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = normaliseRole(role)
	if role == "" {
		return false
	}
	for _, r := range i.Roles {
		if normaliseRole(r) == role {
			return true
		}
	}
	return false
}

// Actor converts the identity into the caller description used by services.
func (i *Identity) Actor() domain.Actor {
	if i == nil {
		return domain.Actor{}
	}
	return domain.Actor{
		ID:       i.UID,
		IsAdmin:  i.HasRole(RoleAdmin),
		IsSeller: i.HasRole(RoleSeller),
	}
}

type (
	identityKey struct{}
	observerKey struct{}
)

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

// WithIdentityObserver registers fn to be told about the identity once authentication succeeds.
// Outer middleware such as the request logger use it since auth runs deeper in the chain.
func WithIdentityObserver(ctx context.Context, fn func(*Identity)) context.Context {
	if fn == nil {
		return ctx
	}
	return context.WithValue(ctx, observerKey{}, fn)
}

func notifyObserver(ctx context.Context, identity *Identity) {
	if fn, ok := ctx.Value(observerKey{}).(func(*Identity)); ok && fn != nil {
		fn(identity)
	}
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
