// Package identity carries the authenticated user through request contexts.
package identity

import (
	"context"
	"strings"

	"tryon/internal/domain"
)

type (
	userKey  struct{}
	tokenKey struct{}
)

// Provider resolves the currently authenticated user.
type Provider interface {
	CurrentUserID(ctx context.Context) (string, error)
}

// WithUserID returns a context carrying userID. Blank ids are ignored.
func WithUserID(ctx context.Context, userID string) context.Context {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, userKey{}, userID)
}

// UserIDFromContext returns the user id stored by WithUserID, or "".
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userKey{}).(string); ok {
		return v
	}
	return ""
}

// WithAccessToken stores the caller's bearer token so store calls can run
// under the caller's own row level security policy.
func WithAccessToken(ctx context.Context, token string) context.Context {
	token = strings.TrimSpace(token)
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenKey{}, token)
}

func AccessTokenFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(tokenKey{}).(string); ok {
		return v
	}
	return ""
}

// ContextProvider reads the user placed in the context by the auth middleware.
type ContextProvider struct{}

func (ContextProvider) CurrentUserID(ctx context.Context) (string, error) {
	if id := UserIDFromContext(ctx); id != "" {
		return id, nil
	}
	return "", domain.ErrUnauthorized
}

// Require checks that userID is the authenticated identity.
func Require(ctx context.Context, p Provider, userID string) error {
	current, err := p.CurrentUserID(ctx)
	if err != nil {
		return err
	}
	if current == "" || current != userID {
		return domain.ErrUnauthorized
	}
	return nil
}
