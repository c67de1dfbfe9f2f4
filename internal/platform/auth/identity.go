// Package auth verifies Firebase ID tokens and carries the resulting
// identity through the request context.
package auth

import (
	"context"
	"errors"
	"strings"
	"sync"

	firebaseauth "firebase.google.com/go/v4/auth"
)

// Role claims recognised by the API. Lifecycle authorisation happens in
// the service layer; these only gate route access.
const (
	RoleUser   = "user"
	RoleVendor = "vendor"
	RoleAdmin  = "admin"
)

// ErrUserLoaderUnavailable means the identity was built without a user
// getter, so the full Firebase profile cannot be fetched.
var ErrUserLoaderUnavailable = errors.New("auth: user loader not configured")

// UserLoader fetches the Firebase user profile for a UID.
type UserLoader func(ctx context.Context, uid string) (*firebaseauth.UserRecord, error)

// Identity is the authenticated principal extracted from a verified
// Firebase ID token. VendorID is set once the account has an approved
// vendor profile; it stays empty for customers and pending applicants.
type Identity struct {
	UID      string
	Email    string
	Name     string
	Roles    []string
	VendorID string

	userLoader UserLoader
	loadOnce   sync.Once
	userRecord *firebaseauth.UserRecord
	userErr    error
}

// HasRole reports whether the identity carries the role, ignoring case.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = strings.TrimSpace(role)
	if role == "" {
		return false
	}
	for _, r := range i.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// User fetches the Firebase user record on first call and memoises the
// result for the lifetime of the identity.
func (i *Identity) User(ctx context.Context) (*firebaseauth.UserRecord, error) {
	if i == nil || i.userLoader == nil {
		return nil, ErrUserLoaderUnavailable
	}
	i.loadOnce.Do(func() {
		i.userRecord, i.userErr = i.userLoader(ctx, i.UID)
	})
	return i.userRecord, i.userErr
}

type identityKey struct{}

// WithIdentity stores the identity on the context.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the identity stored by the auth middleware.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}
