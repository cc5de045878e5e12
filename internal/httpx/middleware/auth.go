package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/vadim/dealroom/internal/auth"
	"github.com/vadim/dealroom/internal/httpx/response"
)

// TokenChecker validates a bearer token
type TokenChecker interface {
	Check(token string) (auth.Identity, error)
}

type identityKey struct{}

// Authenticate rejects requests without a valid bearer token and stores the
// caller identity in the request context
func Authenticate(checker TokenChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				response.Unauthorized(w, "missing bearer token")
				return
			}

			id, err := checker.Check(token)
			if err != nil {
				if errors.Is(err, auth.ErrTokenExpired) {
					response.Unauthorized(w, "token has expired")
					return
				}
				response.Unauthorized(w, "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// WithIdentity returns a context carrying the caller identity
func WithIdentity(ctx context.Context, id auth.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the caller identity set by Authenticate
func IdentityFrom(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(auth.Identity)
	return id, ok
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(h[len(prefix):])
	return token, token != ""
}
