// Package request resolves the client address of an HTTP request. Forwarding headers are
// honoured only when the connection comes from a trusted proxy.
package request

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// UnknownIP is used when no client address can be determined
const UnknownIP = "unknown"

type clientIPKey struct{}

// WithClientIP stores a resolved client address on ctx
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIP returns the address resolved by Resolver.Middleware, or the peer address of the
// connection when no resolver ran. The port is stripped so one client maps to one rate-limit
// bucket across connections.
func ClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPKey{}).(string); ok && ip != "" {
		return ip
	}
	return peerIP(r)
}

// ParseTrustedProxies parses a comma separated list of CIDRs or bare addresses
func ParseTrustedProxies(list string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if strings.Contains(item, "/") {
			p, err := netip.ParsePrefix(item)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", item, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(item)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", item, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// Resolver picks the client address behind a chain of trusted proxies
type Resolver struct {
	trusted []netip.Prefix
}

// NewResolver creates a resolver. With no trusted proxies every request resolves to its peer address.
func NewResolver(trusted []netip.Prefix) *Resolver {
	return &Resolver{trusted: trusted}
}

// Resolve returns the client address of r. When the peer is a trusted proxy, X-Forwarded-For is
// walked from the right and the first hop that is not itself trusted wins; X-Real-IP is used when
// there is no X-Forwarded-For. Untrusted peers cannot influence the result.
func (res *Resolver) Resolve(r *http.Request) string {
	peer := peerIP(r)
	if !res.isTrusted(peer) {
		return peer
	}

	hops := forwardedHops(r)
	if len(hops) == 0 {
		if xri, ok := parseAddr(r.Header.Get("X-Real-IP")); ok {
			return xri
		}
		return peer
	}

	client := peer
	for i := len(hops) - 1; i >= 0; i-- {
		hop, ok := parseAddr(hops[i])
		if !ok {
			break
		}
		client = hop
		if !res.isTrusted(hop) {
			break
		}
	}
	return client
}

// Middleware stores the resolved address for ClientIP
func (res *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithClientIP(r.Context(), res.Resolve(r))))
	})
}

func (res *Resolver) isTrusted(ip string) bool {
	if len(res.trusted) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range res.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func forwardedHops(r *http.Request) []string {
	var hops []string
	for _, header := range r.Header.Values("X-Forwarded-For") {
		for _, hop := range strings.Split(header, ",") {
			hops = append(hops, strings.TrimSpace(hop))
		}
	}
	return hops
}

func parseAddr(s string) (string, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}

func peerIP(r *http.Request) string {
	if r.RemoteAddr == "" {
		return UnknownIP
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
