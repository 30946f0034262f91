package security

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"

	"github.com/sandeepkv93/taskmanager-auth/internal/domain"
)

const (
	FingerprintHeader = "X-Device-Fingerprint"
	maxUserAgentLen   = 512
)

// locationHeaders are edge-provided coarse geo hints, checked in order.
var locationHeaders = []string{"CF-IPCountry", "X-Geo-Country", "X-Country-Code"}

func GetCookie(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(auth) < 7 || !strings.EqualFold(auth[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(auth[7:])
}

// ClientIP returns the request's source address. chi's RealIP middleware is
// expected to have rewritten RemoteAddr from proxy headers already.
func ClientIP(r *http.Request) string {
	ip := ParseRequestIP(r)
	if ip != nil {
		return ip.String()
	}
	return r.RemoteAddr
}

func ParseRequestIP(r *http.Request) net.IP {
	addr := strings.TrimSpace(r.RemoteAddr)
	if addr == "" {
		return nil
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	return net.ParseIP(strings.Trim(host, "[]"))
}

// DeviceFromRequest builds the device descriptor stored on a session. The
// fingerprint is only present when the client supplied one; it is hashed so
// the raw value never reaches storage.
func DeviceFromRequest(r *http.Request) domain.DeviceInfo {
	ua := r.UserAgent()
	if len(ua) > maxUserAgentLen {
		ua = ua[:maxUserAgentLen]
	}
	info := domain.DeviceInfo{
		UserAgent: ua,
		IPAddress: ClientIP(r),
		Location:  "unknown",
	}
	if raw := strings.TrimSpace(r.Header.Get(FingerprintHeader)); raw != "" {
		sum := sha256.Sum256([]byte(raw + "|" + ua))
		info.Fingerprint = hex.EncodeToString(sum[:])
	}
	for _, h := range locationHeaders {
		if v := strings.TrimSpace(r.Header.Get(h)); v != "" {
			if len(v) > 64 {
				v = v[:64]
			}
			info.Location = strings.ToUpper(v)
			break
		}
	}
	return info
}
