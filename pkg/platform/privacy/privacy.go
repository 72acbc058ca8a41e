// Package privacy reduces personal data before it reaches logs and audit sinks.
package privacy

import (
	"net/netip"
	"strings"
)

// AnonymizeIP truncates an address to its network prefix: /24 for IPv4 and
// /48 for IPv6. Values that are not IP addresses (user ids, the anonymous
// sentinel) are returned unchanged.
func AnonymizeIP(ip string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return ip
	}
	bits := 48
	if addr.Is4() || addr.Is4In6() {
		addr = addr.Unmap()
		bits = 24
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return ip
	}
	return prefix.String()
}
