// Package requesttime stamps each request with a single "now" so the quota
// window, the response headers and the audit record all agree.
package requesttime

import (
	"net/http"
	"time"

	"nova/pkg/requestcontext"
)

// Middleware stamps requests with the wall clock.
func Middleware(next http.Handler) http.Handler {
	return Stamp(time.Now)(next)
}

// Stamp reads clock once per request and exposes the value through
// requestcontext.Now.
func Stamp(clock func() time.Time) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(requestcontext.WithTime(r.Context(), clock())))
		})
	}
}
