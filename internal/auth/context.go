// ABOUTME: Request-scoped owner identity for API handlers
// ABOUTME: Provides WithOwner/OwnerFromContext for propagating the caller via context

package auth

import "context"

// ownerKey is the key type for storing the owner ID in context.Context.
type ownerKey struct{}

// WithOwner returns a new context carrying the authenticated owner ID.
func WithOwner(ctx context.Context, ownerID int64) context.Context {
	return context.WithValue(ctx, ownerKey{}, ownerID)
}

// OwnerFromContext returns the authenticated owner ID, if any.
func OwnerFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(ownerKey{}).(int64)
	return id, ok
}
