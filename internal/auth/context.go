// ABOUTME: Request-context plumbing for the authenticated user
// ABOUTME: Stores and retrieves the user ID with an unexported key type

package auth

import "context"

type contextKey struct{}

// WithUser returns a context carrying the authenticated user's ID.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// UserFromContext returns the authenticated user's ID, if any.
func UserFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(contextKey{}).(string)
	return userID, ok && userID != ""
}
