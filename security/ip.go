package security

import (
	"net"
	"net/http"
	"strings"
)

// maxUserAgentLength bounds the user agent stored alongside refresh tokens.
const maxUserAgentLength = 512

// ClientInfo is the request metadata recorded with issued refresh tokens.
type ClientInfo struct {
	UserAgent string
	IPAddress string
}

// IPExtractor resolves the client address of a request.
//
// SECURITY: only enable TrustProxy behind a reverse proxy you control.
// X-Forwarded-For is read right to left, skipping TrustedProxyCount hops,
// so a client cannot spoof its address by prepending entries.
type IPExtractor struct {
	TrustProxy        bool
	TrustedProxyCount int
}

// ClientIP returns the client address for r.
func (e IPExtractor) ClientIP(r *http.Request) string {
	if e.TrustProxy {
		if ip := fromForwardedFor(r.Header.Get("X-Forwarded-For"), e.TrustedProxyCount); ip != "" {
			return ip
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(ip) != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ClientInfo returns the metadata recorded with refresh tokens for r.
func (e IPExtractor) ClientInfo(r *http.Request) ClientInfo {
	ua := r.UserAgent()
	if len(ua) > maxUserAgentLength {
		ua = ua[:maxUserAgentLength]
	}
	return ClientInfo{UserAgent: ua, IPAddress: e.ClientIP(r)}
}

func fromForwardedFor(xff string, trustedProxies int) string {
	if xff == "" {
		return ""
	}
	if trustedProxies <= 0 {
		trustedProxies = 1
	}

	hops := strings.Split(xff, ",")
	idx := len(hops) - trustedProxies - 1
	if idx < 0 {
		idx = 0
	}

	ip := strings.TrimSpace(hops[idx])
	if net.ParseIP(ip) == nil {
		return ""
	}
	return ip
}
