package testutil

import (
	"net/http"
	"time"

	"nova/pkg/requestcontext"
)

// WithUserID attaches an authenticated principal, as the auth middleware would.
func WithUserID(req *http.Request, userID string) *http.Request {
	return req.WithContext(requestcontext.WithUserID(req.Context(), userID))
}

// WithClientIP attaches the resolved client address.
func WithClientIP(req *http.Request, ip string) *http.Request {
	return req.WithContext(requestcontext.WithClientIP(req.Context(), ip))
}

// WithRequestTime pins the request clock so window arithmetic is deterministic.
func WithRequestTime(req *http.Request, now time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), now))
}
