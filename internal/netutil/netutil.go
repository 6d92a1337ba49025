package netutil

import (
	"net/http"
	"net/netip"
	"strings"
	"unicode/utf8"
)

const MaxUserAgentLength = 512

// NormalizeIP accepts a bare IP or an address with a port ("192.0.2.4:1234",
// "[2001:db8::1]:443") and returns the canonical IP without zone. ok is false
// when nothing parseable was found.
func NormalizeIP(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if addrPort, err := netip.ParseAddrPort(raw); err == nil {
		if addr := addrPort.Addr().WithZone(""); addr.IsValid() {
			return addr.String(), true
		}
	}
	if addr, ok := parseAddr(raw); ok {
		return addr, true
	}
	// bracketed IPv6 with a non-numeric port, e.g. "[::1]:port"
	if strings.HasPrefix(raw, "[") && strings.Contains(raw, "]") {
		if addr, ok := parseAddr(raw[1:strings.LastIndex(raw, "]")]); ok {
			return addr, true
		}
	}
	if idx := strings.LastIndex(raw, ":"); idx > 0 {
		if addr, ok := parseAddr(raw[:idx]); ok {
			return addr, true
		}
	}
	return raw, false
}

func parseAddr(s string) (string, bool) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return "", false
	}
	addr = addr.WithZone("")
	if !addr.IsValid() {
		return "", false
	}
	return addr.String(), true
}

// ClientIP resolves the caller address. Forwarding headers are only honoured
// when the service sits behind a trusted proxy.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first := strings.TrimSpace(strings.Split(xff, ",")[0])
			if ip, ok := NormalizeIP(first); ok {
				return ip
			}
		}
		if xr := r.Header.Get("X-Real-IP"); xr != "" {
			if ip, ok := NormalizeIP(xr); ok {
				return ip
			}
		}
	}
	if ip, ok := NormalizeIP(r.RemoteAddr); ok {
		return ip
	}
	return r.RemoteAddr
}

// TruncateUserAgent trims user agents to MaxUserAgentLength runes.
func TruncateUserAgent(ua string) string {
	if utf8.RuneCountInString(ua) <= MaxUserAgentLength {
		return ua
	}
	var b strings.Builder
	b.Grow(len(ua))
	count := 0
	for _, r := range ua {
		if count == MaxUserAgentLength {
			break
		}
		b.WriteRune(r)
		count++
	}
	return b.String()
}
