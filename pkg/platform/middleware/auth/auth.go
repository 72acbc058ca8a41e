// Package auth turns an optional bearer token into the request principal that
// quota identifiers prefer over client addresses.
package auth

import (
	"log/slog"
	"net/http"
	"strings"

	dErrors "nova/pkg/domain-errors"
	"nova/pkg/platform/httputil"
	"nova/pkg/requestcontext"
)

// Principal is what a validated token says about its bearer.
type Principal struct {
	UserID  string
	TokenID string
}

// TokenValidator verifies a raw bearer token.
type TokenValidator interface {
	ValidateToken(raw string) (*Principal, error)
}

// OptionalAuth attaches the bearer's user id to the request context. Requests
// without an Authorization header stay anonymous. A header that is present but
// unusable is rejected with 401 so a caller cannot fall back to the weaker
// address-based quota by sending garbage.
func OptionalAuth(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if validator == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			principal, err := authenticate(validator, header)
			if err != nil {
				logger.WarnContext(ctx, "rejected bearer token",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(requestcontext.WithUserID(ctx, principal.UserID)))
		})
	}
}

func authenticate(validator TokenValidator, header string) (*Principal, error) {
	scheme, raw, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(raw) == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authorization header must use the Bearer scheme")
	}
	principal, err := validator.ValidateToken(strings.TrimSpace(raw))
	if err != nil {
		if _, ok := dErrors.As(err); ok {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid token")
	}
	if principal == nil || principal.UserID == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token has no subject")
	}
	return principal, nil
}
