// Package attrs reads values back out of slog-style key/value argument lists.
package attrs

import "fmt"

// ExtractString returns the value for key in a [key1, value1, key2, value2, ...]
// slice. Values implementing fmt.Stringer are rendered; anything else that is
// not a string yields "".
func ExtractString(attrs []any, key string) string {
	for i := 0; i < len(attrs)-1; i += 2 {
		k, ok := attrs[i].(string)
		if !ok || k != key {
			continue
		}
		switch v := attrs[i+1].(type) {
		case string:
			return v
		case fmt.Stringer:
			return v.String()
		}
	}
	return ""
}

// FirstString returns the first non-empty value among keys, in order.
func FirstString(attrs []any, keys ...string) string {
	for _, key := range keys {
		if v := ExtractString(attrs, key); v != "" {
			return v
		}
	}
	return ""
}
