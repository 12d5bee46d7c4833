package server

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// trustedProxies matches the addresses of reverse proxies whose forwarding
// headers are honored. A nil *trustedProxies trusts nobody.
type trustedProxies struct {
	prefixes []netip.Prefix
}

func newTrustedProxies(entries []string, logger *slog.Logger) *trustedProxies {
	var prefixes []netip.Prefix
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				logger.Warn("invalid trusted proxy CIDR", "entry", entry, "error", err)
				continue
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			logger.Warn("invalid trusted proxy IP", "entry", entry, "error", err)
			continue
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	if len(prefixes) == 0 {
		return nil
	}
	return &trustedProxies{prefixes: prefixes}
}

func (p *trustedProxies) contains(addr netip.Addr) bool {
	if p == nil || !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range p.prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// remoteAddr returns the address of the peer of r.
func remoteAddr(r *http.Request) netip.Addr {
	if r == nil {
		return netip.Addr{}
	}
	return parseHost(r.RemoteAddr)
}

// parseHost parses an address that may carry a port, brackets or a zone.
func parseHost(value string) netip.Addr {
	value = strings.Trim(strings.TrimSpace(value), `"`)
	if value == "" || strings.EqualFold(value, "unknown") {
		return netip.Addr{}
	}
	if ap, err := netip.ParseAddrPort(value); err == nil {
		return ap.Addr().WithZone("").Unmap()
	}
	if host, _, err := net.SplitHostPort(value); err == nil {
		value = host
	}
	value = strings.Trim(value, "[]")
	addr, err := netip.ParseAddr(value)
	if err != nil {
		return netip.Addr{}
	}
	return addr.WithZone("").Unmap()
}

// clientIP returns the client address of r for logs. Forwarding headers
// are only read when the peer is a trusted proxy; the chain is walked from
// the right and the first untrusted hop wins.
func clientIP(r *http.Request, proxies *trustedProxies) string {
	peer := remoteAddr(r)
	if !peer.IsValid() {
		return ""
	}
	if !proxies.contains(peer) {
		return peer.String()
	}

	hops := forwardedFor(r.Header.Get("Forwarded"))
	if len(hops) == 0 {
		hops = xForwardedFor(r.Header.Get("X-Forwarded-For"))
	}
	if len(hops) == 0 {
		return peer.String()
	}
	for i := len(hops) - 1; i >= 0; i-- {
		if !proxies.contains(hops[i]) {
			return hops[i].String()
		}
	}
	return hops[0].String()
}

// forwardedParams splits an RFC 7239 Forwarded header into its elements.
func forwardedParams(header string) []map[string]string {
	var out []map[string]string
	for _, element := range strings.Split(header, ",") {
		params := make(map[string]string)
		for _, pair := range strings.Split(element, ";") {
			k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if !ok {
				continue
			}
			params[strings.ToLower(strings.TrimSpace(k))] = strings.Trim(strings.TrimSpace(v), `"`)
		}
		if len(params) > 0 {
			out = append(out, params)
		}
	}
	return out
}

func forwardedFor(header string) []netip.Addr {
	var out []netip.Addr
	for _, params := range forwardedParams(header) {
		if addr := parseHost(params["for"]); addr.IsValid() {
			out = append(out, addr)
		}
	}
	return out
}

func xForwardedFor(header string) []netip.Addr {
	if header == "" {
		return nil
	}
	var out []netip.Addr
	for _, part := range strings.Split(header, ",") {
		if addr := parseHost(part); addr.IsValid() {
			out = append(out, addr)
		}
	}
	return out
}

// isSecureRequest reports whether r arrived over TLS, directly or through
// a trusted proxy.
func isSecureRequest(r *http.Request, proxies *trustedProxies) bool {
	if r == nil {
		return false
	}
	if r.TLS != nil {
		return true
	}
	if !proxies.contains(remoteAddr(r)) {
		return false
	}
	proto := ""
	if elements := forwardedParams(r.Header.Get("Forwarded")); len(elements) > 0 {
		proto = elements[0]["proto"]
	}
	if proto == "" {
		first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-Proto"), ",")
		proto = strings.Trim(strings.TrimSpace(first), `"`)
	}
	switch strings.ToLower(proto) {
	case "https", "wss":
		return true
	}
	return false
}
