// Package security carries the caller identity through context.Context and checks
// access control lists of media packages.
package security

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

// GlobalAdminRole grants every permission in every organization.
const GlobalAdminRole = "ROLE_ADMIN"

// Action is a permission checked against an access control list.
type Action string

const (
	ActionRead  Action = "read"
	ActionWrite Action = "write"
)

var (
	// ErrUnauthorized indicates the caller lacks a permission.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNoUser indicates that no user was installed on the context.
	ErrNoUser = errors.New("no user in context")
)

// User is the identity a call is made on behalf of.
type User struct {
	Username     string   `json:"username" yaml:"username"`
	Organization string   `json:"organization" yaml:"organization"`
	Roles        []string `json:"roles,omitempty" yaml:"roles"`
}

// HasRole reports whether the user holds role.
func (u User) HasRole(role string) bool {
	return slices.Contains(u.Roles, role)
}

// HasAnyRole reports whether the user holds at least one of roles.
func (u User) HasAnyRole(roles []string) bool {
	for _, role := range roles {
		if u.HasRole(role) {
			return true
		}
	}

	return false
}

// IsGlobalAdmin reports whether the user holds the global admin role.
func (u User) IsGlobalAdmin() bool {
	return u.HasRole(GlobalAdminRole)
}

type userKey struct{}

// WithUser returns a copy of ctx carrying user.
func WithUser(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFrom returns the user installed on ctx.
func UserFrom(ctx context.Context) (User, bool) {
	user, ok := ctx.Value(userKey{}).(User)

	return user, ok
}

// MustUser returns the user installed on ctx or ErrNoUser.
func MustUser(ctx context.Context) (User, error) {
	user, ok := UserFrom(ctx)
	if !ok {
		return User{}, ErrNoUser
	}

	return user, nil
}

// UnauthorizedError describes a denied permission check.
type UnauthorizedError struct {
	User     string
	Action   Action
	Resource string
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("user %q is not allowed to %s %s", e.User, e.Action, e.Resource)
}

func (e *UnauthorizedError) Is(target error) bool {
	return target == ErrUnauthorized
}

// IsUnauthorized checks if an error is an authorization failure.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
