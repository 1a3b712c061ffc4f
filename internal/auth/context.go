// ABOUTME: Authenticated identity propagation through request contexts
// ABOUTME: Provides WithIdentity/FromContext for handlers behind the middleware

package auth

import (
	"context"
)

// Identity holds the authenticated caller extracted from a request.
type Identity struct {
	ClientID string // stable id reported by the token verifier
}

// identityKey is the key type for storing Identity in context.Context.
type identityKey struct{}

// WithIdentity returns a new context with the Identity attached.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext retrieves the Identity from the context, returning nil if not present.
func FromContext(ctx context.Context) *Identity {
	val := ctx.Value(identityKey{})
	if val == nil {
		return nil
	}
	id, ok := val.(*Identity)
	if !ok {
		return nil
	}
	return id
}
