package httputil

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	dErrors "nova/pkg/domain-errors"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{
			name:   "internal description is hidden",
			err:    dErrors.New(dErrors.CodeInternal, "db failed"),
			status: http.StatusInternalServerError,
			body:   `{"error":"internal_error"}`,
		},
		{
			name:   "config errors explain themselves",
			err:    dErrors.New(dErrors.CodeInvalidConfig, "max_requests must be positive"),
			status: http.StatusBadRequest,
			body:   `{"error":"invalid_config","error_description":"max_requests must be positive"}`,
		},
		{
			name:   "store outage",
			err:    dErrors.Wrap(errors.New("i/o timeout"), dErrors.CodeUnavailable, "quota store unavailable"),
			status: http.StatusServiceUnavailable,
			body:   `{"error":"service_unavailable","error_description":"quota store unavailable"}`,
		},
		{
			name:   "foreign errors count as internal",
			err:    errors.New("boom"),
			status: http.StatusInternalServerError,
			body:   `{"error":"internal_error"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, tt.err)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.JSONEq(t, tt.body, rec.Body.String())
		})
	}
}

func TestWriteJSON_NilBody(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusNoContent, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}
