// Package admin guards the operator API with a shared token whose bcrypt hash
// lives in configuration.
package admin

import (
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	dErrors "nova/pkg/domain-errors"
	"nova/pkg/platform/httputil"
	"nova/pkg/requestcontext"
)

// TokenHeader carries the plaintext admin token.
const TokenHeader = "X-Admin-Token"

// HashToken is what `nova hash-admin-token` prints for admin.token_hash.
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	return string(hash), err
}

// RequireAdminToken rejects requests whose TokenHeader does not match
// tokenHash. An empty hash rejects everything.
func RequireAdminToken(tokenHash string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !matches(tokenHash, r.Header.Get(TokenHeader)) {
				ctx := r.Context()
				logger.WarnContext(ctx, "admin token mismatch",
					"path", r.URL.Path,
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "admin token required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func matches(hash, token string) bool {
	if hash == "" || token == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}
