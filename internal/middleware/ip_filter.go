package middleware

import (
	"log"
	"net"
	"net/http"
	"strings"
)

// allowlist holds the parsed form of the configured gateway source ranges.
// Entries are parsed once at construction; malformed entries are logged and
// dropped rather than silently widening the filter.
type allowlist struct {
	configured bool
	ips        []net.IP
	nets       []*net.IPNet
}

func parseAllowlist(entries []string) allowlist {
	var al allowlist
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		al.configured = true
		if strings.Contains(entry, "/") {
			_, ipNet, err := net.ParseCIDR(entry)
			if err != nil {
				log.Printf("ignoring malformed CIDR in gateway allowlist: %q", entry)
				continue
			}
			al.nets = append(al.nets, ipNet)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			log.Printf("ignoring malformed IP in gateway allowlist: %q", entry)
			continue
		}
		al.ips = append(al.ips, ip)
	}
	return al
}

func (al allowlist) empty() bool {
	return !al.configured
}

func (al allowlist) contains(ip net.IP) bool {
	for _, allowed := range al.ips {
		if allowed.Equal(ip) {
			return true
		}
	}
	for _, ipNet := range al.nets {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// GatewayIPFilter restricts webhook delivery to the configured gateway source
// addresses. An empty allowlist admits everything, which matches sandbox
// setups where gateways call from arbitrary addresses.
func GatewayIPFilter(allowedSources []string) func(http.Handler) http.Handler {
	al := parseAllowlist(allowedSources)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if al.empty() {
				next.ServeHTTP(w, r)
				return
			}

			clientIP := net.ParseIP(realIP(r))
			if clientIP == nil || !al.contains(clientIP) {
				http.Error(w, "Forbidden: source address not allowed", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// realIP resolves the originating address, preferring proxy headers over the
// socket peer.
func realIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	ip, _, _ := net.SplitHostPort(r.RemoteAddr)
	return ip
}
