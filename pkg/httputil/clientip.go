package httputil

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/tutorhub/tutorhub/pkg/contextkeys"
)

// UnknownClientIP is used when no address can be determined
const UnknownClientIP = "unknown"

// TrustedProxies lists the networks whose X-Forwarded-For and X-Real-IP
// headers are believed. A nil set trusts nobody and every request resolves
// to its RemoteAddr host.
type TrustedProxies []*net.IPNet

// ParseTrustedProxies parses CIDRs or bare addresses
func ParseTrustedProxies(entries []string) (TrustedProxies, error) {
	var out TrustedProxies
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("invalid trusted proxy %q", entry)
			}
			bits := 128
			if ip.To4() != nil {
				ip = ip.To4()
				bits = 32
			}
			out = append(out, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, network, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}
		out = append(out, network)
	}
	return out, nil
}

// Contains reports whether addr belongs to a trusted proxy
func (t TrustedProxies) Contains(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, network := range t {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// Resolve returns the caller address. Forwarding headers are read only when
// the direct peer is a trusted proxy. X-Forwarded-For is walked from the
// right and the first hop that is not a trusted proxy wins.
func (t TrustedProxies) Resolve(r *http.Request) string {
	peer := remoteHost(r.RemoteAddr)
	if peer == "" {
		return UnknownClientIP
	}
	if !t.Contains(peer) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" || net.ParseIP(hop) == nil {
				break
			}
			if !t.Contains(hop) {
				return hop
			}
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(realIP) != nil {
		return realIP
	}
	return peer
}

// Middleware resolves the client address once and stores it in the context
func (t TrustedProxies) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := contextkeys.WithClientIP(r.Context(), t.Resolve(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIP returns the address stored by the client IP middleware, or the
// RemoteAddr host when the middleware did not run
func ClientIP(r *http.Request) string {
	if ip := contextkeys.GetClientIP(r.Context()); ip != "" {
		return ip
	}
	return TrustedProxies(nil).Resolve(r)
}

// ClientIPMiddleware stores the RemoteAddr host, ignoring forwarding headers
func ClientIPMiddleware(next http.Handler) http.Handler {
	return TrustedProxies(nil).Middleware(next)
}

func remoteHost(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err == nil && host != "" {
		return host
	}
	return remoteAddr
}
