package models

import "strings"

// KeyPrefix namespaces every quota entry in shared backends.
const KeyPrefix = "rate_limit:"

const (
	MaxIdentifierLength = 255
	MaxEndpointLength   = 128
	// MaxKeyLength is the widest rendered key every backend accepts; the
	// MySQL rate_key column is VARCHAR(512).
	MaxKeyLength = 512
)

var segmentEscaper = strings.NewReplacer("%", "%25", ":", "%3A")
var segmentUnescaper = strings.NewReplacer("%3A", ":", "%25", "%")

// SanitizeKeySegment escapes delimiter characters in rate limit key segments
// to prevent key collision attacks where user-controlled identifiers containing
// ':' could manipulate adjacent rate limit buckets.
//
// The escaping is reversible, so "user:admin" and "user_admin" stay distinct.
func SanitizeKeySegment(s string) string {
	return segmentEscaper.Replace(s)
}

// RateLimitKey identifies one counter: a caller on a logical endpoint.
type RateLimitKey struct {
	Identifier string
	Endpoint   string
}

func NewRateLimitKey(identifier, endpoint string) RateLimitKey {
	return RateLimitKey{Identifier: identifier, Endpoint: endpoint}
}

// String renders rate_limit:{identifier}:{endpoint}.
func (k RateLimitKey) String() string {
	return KeyPrefix + SanitizeKeySegment(k.Identifier) + ":" + SanitizeKeySegment(k.Endpoint)
}

// ParseRateLimitKey reverses String. It reports false for keys outside the namespace.
func ParseRateLimitKey(s string) (RateLimitKey, bool) {
	rest, ok := strings.CutPrefix(s, KeyPrefix)
	if !ok {
		return RateLimitKey{}, false
	}
	identifier, endpoint, ok := strings.Cut(rest, ":")
	if !ok {
		return RateLimitKey{}, false
	}
	return RateLimitKey{
		Identifier: segmentUnescaper.Replace(identifier),
		Endpoint:   segmentUnescaper.Replace(endpoint),
	}, true
}

// PrincipalPrefix marks identifiers taken from an authenticated principal, so
// a subject shaped like an address never shares that address's bucket.
const PrincipalPrefix = "user:"

// PrincipalIdentifier returns the identifier charged for an authenticated user.
func PrincipalIdentifier(userID string) string {
	return PrincipalPrefix + userID
}

// AnonymousIdentifier is the shared bucket for callers with no principal and
// no usable network address. Every such caller competes for one quota.
const AnonymousIdentifier = "anonymous"
