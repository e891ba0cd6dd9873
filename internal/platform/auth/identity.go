package auth

import (
	"context"
	"slices"
	"strings"
)

// Values of the "role" claim. Tokens without one are treated as RoleUser.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Identity is the caller behind a verified bearer token. UserID is the token
// subject and is what partners, addresses and orders are owned by.
type Identity struct {
	UserID string
	Email  string
	Name   string
	Roles  []string
}

// HasRole matches role against the identity's roles ignoring case and spaces.
func (i *Identity) HasRole(role string) bool {
	role = strings.TrimSpace(role)
	if i == nil || role == "" {
		return false
	}
	return slices.ContainsFunc(i.Roles, func(r string) bool {
		return strings.EqualFold(strings.TrimSpace(r), role)
	})
}

type identityKey struct{}

func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the caller, or false for anonymous requests.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, _ := ctx.Value(identityKey{}).(*Identity)
	if identity == nil || identity.UserID == "" {
		return nil, false
	}
	return identity, true
}
