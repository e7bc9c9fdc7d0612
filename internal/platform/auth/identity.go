package auth

import (
	"context"
	"strings"
)

// Kind distinguishes the kinds of authenticated callers.
type Kind string

const (
	// KindStaff is a human operator signed in with Firebase Auth.
	KindStaff Kind = "staff"
	// KindService is a workload presenting a Google-signed OIDC token.
	KindService Kind = "service"
	// KindStorefront is the storefront signing webhooks with the shared secret.
	KindStorefront Kind = "storefront"
)

// Role constants checked on staff identities.
const (
	RoleStaff = "staff"
	RoleAdmin = "admin"
)

// Identity is the authenticated caller attached to the request context.
type Identity struct {
	Kind    Kind
	Subject string
	Email   string
	Issuer  string
	Roles   []string
	Claims  map[string]any
}

// Principal renders the identity as kind:subject for logs and audit events.
func (i *Identity) Principal() string {
	if i == nil {
		return ""
	}
	subject := i.Subject
	if i.Kind == KindService && i.Email != "" {
		subject = i.Email
	}
	return string(i.Kind) + ":" + subject
}

// HasRole reports whether the identity carries role (case-insensitive).
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = normaliseRole(role)
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type identityContextKey struct{}

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
