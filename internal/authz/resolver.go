package authz

import (
	"context"
	"errors"
	"fmt"

	"medfinder/internal/models"
)

var (
	// ErrAuthenticationRequired means no caller identity was present.
	ErrAuthenticationRequired = errors.New("authentication required")
	// ErrInsufficientPermissions means the caller's role lacks the capability.
	ErrInsufficientPermissions = errors.New("insufficient permissions")
)

// RolePublic is returned for public capabilities. It is never persisted.
const RolePublic models.Role = "public"

// Identity is the caller as established by the session layer.
type Identity struct {
	UserID string
	Email  string
}

// Grant is a successful resolution. UserID is empty for public grants.
type Grant struct {
	Capability Capability
	Role       models.Role
	UserID     string
}

func (g Grant) IsAdmin() bool { return g.Role == models.RoleAdmin }

// IsPublic reports whether the grant came from the public bypass.
func (g Grant) IsPublic() bool { return g.Role == RolePublic }

// RoleStore looks up persisted role records. found is false when the user
// has no profile yet.
type RoleStore interface {
	FindRole(ctx context.Context, userID string) (role models.Role, found bool, err error)
}

// IdentitySource extracts the caller identity from a request context.
type IdentitySource func(ctx context.Context) (Identity, bool)

type identityKey struct{}

// WithIdentity attaches the caller identity to ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext is the default IdentitySource.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	if !ok || id.UserID == "" {
		return Identity{}, false
	}
	return id, true
}

type Resolver struct {
	roles    RoleStore
	identity IdentitySource
}

// NewResolver builds a resolver. A nil identity source means
// IdentityFromContext.
func NewResolver(roles RoleStore, identity IdentitySource) *Resolver {
	if identity == nil {
		identity = IdentityFromContext
	}
	return &Resolver{roles: roles, identity: identity}
}

// Resolve decides whether the caller in ctx may exercise c and returns the
// role it was granted under.
func (r *Resolver) Resolve(ctx context.Context, c Capability) (Grant, error) {
	if IsPublic(c) {
		return Grant{Capability: c, Role: RolePublic}, nil
	}

	id, ok := r.identity(ctx)
	if !ok {
		return Grant{}, ErrAuthenticationRequired
	}

	role, found, err := r.roles.FindRole(ctx, id.UserID)
	if err != nil {
		return Grant{}, fmt.Errorf("failed to load role for %s: %w", id.UserID, err)
	}
	if !found {
		role = models.LowestAuthenticatedRole
	}

	if !Allows(c, role) {
		return Grant{}, fmt.Errorf("%w: role %s cannot %s", ErrInsufficientPermissions, role, c)
	}

	return Grant{Capability: c, Role: role, UserID: id.UserID}, nil
}

// Guard resolves c and runs fn only when the caller is permitted. Use it
// for entry points that are not HTTP routes (tasks, admin tooling).
func Guard[T any](ctx context.Context, r *Resolver, c Capability, fn func(context.Context, Grant) (T, error)) (T, error) {
	grant, err := r.Resolve(ctx, c)
	if err != nil {
		var zero T
		return zero, err
	}
	return fn(ctx, grant)
}

// WouldViolateMinimumAdminInvariant reports whether removing admin rights
// from a user with targetRole would leave no admin. adminCount includes the
// target. remainsAdmin is true when the operation keeps the target an admin.
func WouldViolateMinimumAdminInvariant(adminCount int64, targetRole models.Role, remainsAdmin bool) bool {
	if targetRole != models.RoleAdmin || remainsAdmin {
		return false
	}
	return adminCount <= 1
}
