// Package identifier decides which caller a request's quota is charged to.
//
// Priority, first match wins: the authenticated principal, the first address
// in X-Forwarded-For, X-Real-IP, the direct peer address, and finally the
// shared anonymous bucket. Principals are prefixed with models.PrincipalPrefix
// so a subject never lands in an address bucket.
//
// X-Forwarded-For and X-Real-IP are set by the client unless a reverse proxy
// overwrites them. A caller that can reach the service directly can pick any
// identifier it likes and escape its quota. The resolver therefore only reads
// them when the direct peer is a trusted proxy, or when TrustForwardedHeaders
// is set for deployments that always sit behind one.
package identifier

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"nova/internal/ratelimit/models"
	"nova/pkg/requestcontext"
)

const (
	HeaderForwardedFor = "X-Forwarded-For"
	HeaderRealIP       = "X-Real-IP"
)

type Config struct {
	// TrustedProxies lists the peers whose forwarding headers are honoured.
	TrustedProxies []netip.Prefix
	// TrustForwardedHeaders honours forwarding headers from any peer.
	TrustForwardedHeaders bool
	// UsePeerAddress charges untrusted callers to their socket address
	// instead of the anonymous bucket.
	UsePeerAddress bool
}

func DefaultConfig() Config {
	return Config{UsePeerAddress: true}
}

type Resolver struct {
	cfg Config
}

func NewResolver(cfg Config) *Resolver {
	return &Resolver{cfg: cfg}
}

// ParseTrustedProxies accepts CIDR prefixes or bare addresses.
func ParseTrustedProxies(values []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(values))
	for _, raw := range values {
		v := strings.TrimSpace(raw)
		if v == "" {
			continue
		}
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", v, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", v, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// Resolve returns the identifier the request is charged to. It never returns "".
func (r *Resolver) Resolve(req *http.Request) string {
	if userID := requestcontext.UserID(req.Context()); userID != "" {
		return models.PrincipalIdentifier(userID)
	}
	if ip := r.ClientIP(req); ip != "" {
		return ip
	}
	return models.AnonymousIdentifier
}

// ClientIP returns the network address the request is attributed to, or ""
// when none can be trusted.
func (r *Resolver) ClientIP(req *http.Request) string {
	peer, hasPeer := peerAddr(req.RemoteAddr)

	if r.trustsForwarding(peer, hasPeer) {
		if ip, ok := firstForwarded(req.Header.Get(HeaderForwardedFor)); ok {
			return ip
		}
		if ip, ok := parseAddr(req.Header.Get(HeaderRealIP)); ok {
			return ip
		}
	}

	if r.cfg.UsePeerAddress && hasPeer {
		return peer.String()
	}
	return ""
}

// Middleware stores the resolved client address in the request context for
// logging and audit.
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if ip := r.ClientIP(req); ip != "" {
			req = req.WithContext(requestcontext.WithClientIP(req.Context(), ip))
		}
		next.ServeHTTP(w, req)
	})
}

func (r *Resolver) trustsForwarding(peer netip.Addr, hasPeer bool) bool {
	if r.cfg.TrustForwardedHeaders {
		return true
	}
	if !hasPeer {
		return false
	}
	for _, p := range r.cfg.TrustedProxies {
		if p.Contains(peer) {
			return true
		}
	}
	return false
}

// firstForwarded returns the left-most entry of an X-Forwarded-For list,
// which is the original client as reported by the first proxy.
func firstForwarded(header string) (string, bool) {
	if header == "" {
		return "", false
	}
	first, _, _ := strings.Cut(header, ",")
	return parseAddr(first)
}

func parseAddr(v string) (string, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", false
	}
	addr, err := netip.ParseAddr(v)
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}

func peerAddr(remoteAddr string) (netip.Addr, bool) {
	if remoteAddr == "" {
		return netip.Addr{}, false
	}
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
