package auth

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/BrandonDHaskell/Argus/internal/argus/types"
)

type contextKey string

const callerKey contextKey = "caller"

func WithCaller(ctx context.Context, c types.Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

func CallerFrom(ctx context.Context) (types.Caller, bool) {
	c, ok := ctx.Value(callerKey).(types.Caller)
	return c, ok
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Authenticate resolves the caller of r from its bearer token. Browsers
// cannot set headers on a websocket handshake, so a "token" query parameter
// is accepted as well.
func (v *Validator) Authenticate(r *http.Request) (types.Caller, error) {
	token, ok := BearerToken(r.Header.Get("Authorization"))
	if !ok {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token == "" {
		return types.Caller{}, ErrUnauthenticated
	}
	return v.Validate(token)
}

// Require returns middleware that authenticates the request, checks the
// caller holds one of roles (any role when empty) and stores the caller in
// the request context. Failures are reported through fail.
func Require(v *Validator, fail func(http.ResponseWriter, error), roles ...types.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, err := v.Authenticate(r)
			if err != nil {
				fail(w, err)
				return
			}
			if len(roles) > 0 && !slices.Contains(roles, caller.Role) {
				fail(w, ErrForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}
