// Package kvcodec encodes quota entries for the byte-oriented KV backends
// (etcd, Consul, ZooKeeper). Times are stored as unix milliseconds.
package kvcodec

import (
	"fmt"
	"net/url"
	"time"

	"github.com/bytedance/sonic"

	"nova/internal/ratelimit/models"
	"nova/pkg/platform/sentinel"
)

type record struct {
	Count         int   `json:"c"`
	WindowResetAt int64 `json:"r"`
	ExpiresAt     int64 `json:"e"`
}

// Encode serializes entry together with its eviction deadline.
func Encode(entry models.RateLimitEntry, grace time.Duration) ([]byte, error) {
	return sonic.Marshal(record{
		Count:         entry.Count,
		WindowResetAt: entry.WindowResetAt.UnixMilli(),
		ExpiresAt:     entry.WindowResetAt.Add(grace).UnixMilli(),
	})
}

// Decode returns the entry and its eviction deadline.
func Decode(data []byte) (models.RateLimitEntry, time.Time, error) {
	var rec record
	if err := sonic.Unmarshal(data, &rec); err != nil {
		return models.RateLimitEntry{}, time.Time{}, fmt.Errorf("decode quota entry: %w: %w", sentinel.ErrInvalidState, err)
	}
	return models.RateLimitEntry{
		Count:         rec.Count,
		WindowResetAt: time.UnixMilli(rec.WindowResetAt),
	}, time.UnixMilli(rec.ExpiresAt), nil
}

// PathSegment makes a rendered key safe to use as a single path component.
func PathSegment(key string) string {
	return url.PathEscape(key)
}

// KeyFromPathSegment reverses PathSegment.
func KeyFromPathSegment(segment string) (string, error) {
	return url.PathUnescape(segment)
}
