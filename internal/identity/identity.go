// Package identity carries the authenticated caller through a request's
// context and decides what that caller may see.
//
// The identity is attached once per request by the transport and lives only
// as long as that request's context, so nothing has to be cleared afterwards.
package identity

import (
	"context"
	"slices"

	"github.com/dmehra2102/orderflow/pkg/apperr"
)

type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleAdmin    Role = "ADMIN"
	RoleSystem   Role = "SYSTEM"
)

func (r Role) Valid() bool {
	return r == RoleCustomer || r == RoleAdmin || r == RoleSystem
}

type Identity struct {
	UserID int64
	Role   Role
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

// Require returns the caller or an Unauthenticated error.
func Require(ctx context.Context) (Identity, error) {
	id, ok := FromContext(ctx)
	if !ok {
		return Identity{}, apperr.Unauthenticated("user not authenticated")
	}
	return id, nil
}

// AuthorizeCustomerAPI is the coarse check in front of every customer-facing
// operation. SYSTEM callers are refused outright.
func AuthorizeCustomerAPI(ctx context.Context) (Identity, error) {
	id, err := Require(ctx)
	if err != nil {
		return Identity{}, err
	}
	if id.Role == RoleSystem {
		return Identity{}, apperr.Forbidden("SYSTEM role is not allowed for public APIs")
	}
	return id, nil
}

// RequireRole admits callers holding one of roles.
func RequireRole(ctx context.Context, roles ...Role) (Identity, error) {
	id, err := Require(ctx)
	if err != nil {
		return Identity{}, err
	}
	if !slices.Contains(roles, id.Role) {
		return Identity{}, apperr.Forbidden("role " + string(id.Role) + " is not allowed for this operation")
	}
	return id, nil
}

// AuthorizeOwner returns notFound when the caller does not own the resource,
// so a non-owner cannot tell an existing resource from a missing one.
func AuthorizeOwner(ctx context.Context, ownerID int64, notFound error) error {
	id, err := Require(ctx)
	if err != nil {
		return err
	}
	if id.UserID != ownerID {
		return notFound
	}
	return nil
}
