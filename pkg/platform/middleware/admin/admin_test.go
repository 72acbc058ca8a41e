package admin

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireAdminToken(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hash, err := HashToken("s3cret")
	require.NoError(t, err)

	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name   string
		hash   string
		token  string
		status int
	}{
		{"matching token", hash, "s3cret", http.StatusOK},
		{"wrong token", hash, "nope", http.StatusUnauthorized},
		{"missing token", hash, "", http.StatusUnauthorized},
		{"admin disabled", "", "s3cret", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/rate-limit/status", nil)
			if tt.token != "" {
				req.Header.Set(TokenHeader, tt.token)
			}
			rr := httptest.NewRecorder()
			RequireAdminToken(tt.hash, logger)(ok).ServeHTTP(rr, req)
			assert.Equal(t, tt.status, rr.Code)
			if tt.status == http.StatusUnauthorized {
				assert.JSONEq(t, `{"error":"unauthorized","error_description":"admin token required"}`, rr.Body.String())
			}
		})
	}
}
