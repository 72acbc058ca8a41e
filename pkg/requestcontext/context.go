// Package requestcontext carries request-scoped values (principal, client
// address, request id, request time) through context.Context so the limiter
// can read them without importing net/http.
//
// Tests pin the clock with WithTime to land on exact window boundaries:
//
//	ctx = requestcontext.WithTime(ctx, time.Unix(1_700_000_040, 0))
package requestcontext

import (
	"context"
	"time"
)

type key int

const (
	userIDKey key = iota
	clientIPKey
	requestIDKey
	requestTimeKey
)

func lookup[T any](ctx context.Context, k key) (T, bool) {
	v, ok := ctx.Value(k).(T)
	return v, ok
}

// UserID is the authenticated principal, or "" for anonymous callers.
func UserID(ctx context.Context) string {
	id, _ := lookup[string](ctx, userIDKey)
	return id
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// ClientIP is the address the identifier resolver settled on.
func ClientIP(ctx context.Context) string {
	ip, _ := lookup[string](ctx, clientIPKey)
	return ip
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

func RequestID(ctx context.Context) string {
	id, _ := lookup[string](ctx, requestIDKey)
	return id
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// Now returns the time stamped on the request, or the wall clock outside a
// request (CLI commands, the sweeper).
func Now(ctx context.Context) time.Time {
	if t, ok := lookup[time.Time](ctx, requestTimeKey); ok {
		return t
	}
	return time.Now()
}

func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey, t)
}
