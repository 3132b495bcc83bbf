// ABOUTME: Package documentation for the auth package
// ABOUTME: Describes token verification and request authentication

// Package auth provides JWT-based request authentication. Tokens are HS256
// signed with the user ID in the sub claim; the HTTP middleware verifies the
// bearer token and exposes the user ID through the request context.
package auth
