// Package testutil holds assertions shared by handler, middleware and router
// tests.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// DoRequest serves req on handler and returns the recorded response.
func DoRequest(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

// UnmarshalResponse decodes the recorded body as T and fails the test on
// malformed JSON.
func UnmarshalResponse[T any](t *testing.T, rec *httptest.ResponseRecorder) *T {
	t.Helper()
	out := new(T)
	require.NoErrorf(t, json.Unmarshal(rec.Body.Bytes(), out), "response body: %s", rec.Body.String())
	return out
}

// DecodeJSON is UnmarshalResponse for bodies without a dedicated model.
func DecodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	return *UnmarshalResponse[map[string]any](t, rec)
}

// AssertStatusAndError checks an error envelope: the HTTP status plus the
// "error" code in the body.
func AssertStatusAndError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	assert.Equal(t, status, rec.Code, "status")
	assert.Equal(t, code, DecodeJSON(t, rec)["error"], "error code")
}

// AssertQuotaHeaders checks the X-RateLimit-* triple.
func AssertQuotaHeaders(t *testing.T, rec *httptest.ResponseRecorder, limit, remaining int, resetUnix int64) {
	t.Helper()
	want := map[string]string{
		"X-RateLimit-Limit":     strconv.Itoa(limit),
		"X-RateLimit-Remaining": strconv.Itoa(remaining),
		"X-RateLimit-Reset":     strconv.FormatInt(resetUnix, 10),
	}
	for name, value := range want {
		assert.Equal(t, value, rec.Header().Get(name), name)
	}
}
