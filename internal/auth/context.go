package auth

import (
	"context"
	"fmt"
	"strings"

	"example.com/fitsync/internal/domain"
)

type contextKey struct{}

// WithClaims stores claims on the context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, contextKey{}, claims)
}

// FromContext retrieves claims stored by WithClaims.
func FromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(contextKey{}).(*Claims)
	return claims, ok && claims != nil
}

// OwnerFromContext returns the authenticated owner id, or domain.ErrUnauthenticated. It is the
// owner resolver handed to repositories, the orchestrator and the batch executor.
func OwnerFromContext(ctx context.Context) (string, error) {
	claims, ok := FromContext(ctx)
	if !ok || claims.Subject == "" {
		return "", domain.ErrUnauthenticated
	}
	return claims.Subject, nil
}

// Authorize returns the caller's claims when they carry at least one of scopes.
func Authorize(ctx context.Context, scopes ...string) (*Claims, error) {
	claims, ok := FromContext(ctx)
	if !ok {
		return nil, ErrMissingToken
	}
	if len(scopes) > 0 && !claims.HasAny(scopes...) {
		return nil, fmt.Errorf("%w: need one of %s", ErrForbidden, strings.Join(scopes, ", "))
	}
	return claims, nil
}
