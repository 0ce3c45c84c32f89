// Package ssrf validates tenant-supplied webhook destination URLs. Any
// tenant can register a URL, which makes the dispatcher an
// attacker-influenced fan-out point; validation happens here, at the
// boundary where the untrusted input enters, so the retry path can trust
// already-validated endpoints.
package ssrf

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

var (
	// ErrForbiddenHost marks hosts that resolve into loopback, private,
	// or link-local address space, or look like internal service names.
	ErrForbiddenHost = errors.New("destination host is not allowed")

	// ErrInvalidURL marks URLs that cannot be used as a webhook
	// destination at all.
	ErrInvalidURL = errors.New("invalid destination url")
)

// Hostnames rejected outright regardless of resolution.
var blockedHosts = map[string]struct{}{
	"localhost":       {},
	"127.0.0.1":       {},
	"0.0.0.0":         {},
	"::1":             {},
	"0:0:0:0:0:0:0:1": {},
	"::":              {},
}

// ValidateURL returns nil when raw is acceptable as a webhook destination.
// It rejects unparsable URLs, non-http(s) schemes, loopback and private
// address literals, and bare hostnames with no dot (a heuristic against
// internal service names like http://billing/).
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q not allowed", ErrInvalidURL, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if _, blocked := blockedHosts[host]; blocked {
		return fmt.Errorf("%w: %q", ErrForbiddenHost, host)
	}
	if ip := net.ParseIP(host); ip != nil {
		if isForbiddenIP(ip) {
			return fmt.Errorf("%w: %q resolves to a reserved range", ErrForbiddenHost, host)
		}
		return nil
	}
	// Resolvers accept numeric shorthand net.ParseIP rejects: "127.1"
	// dials 127.0.0.1, "0x7f.1" likewise. Expand before the range checks
	// so shorthand cannot smuggle a reserved address past them.
	if ip, ok := parseShorthandIPv4(host); ok {
		if isForbiddenIP(ip) {
			return fmt.Errorf("%w: %q resolves to a reserved range", ErrForbiddenHost, host)
		}
		return nil
	}
	// Not an IP literal: names without a dot are almost always internal
	// service names and never valid public destinations.
	if !strings.Contains(host, ".") {
		return fmt.Errorf("%w: %q has no dot, refusing internal-looking name", ErrForbiddenHost, host)
	}
	return nil
}

// parseShorthandIPv4 expands inet_aton-style numeric hosts ("127.1",
// "10.1", "0x7f.0.0.1", "2130706433") into the address getaddrinfo would
// dial: up to four dot-separated numbers in decimal, octal, or hex, with
// the last number filling all remaining bytes.
func parseShorthandIPv4(host string) (net.IP, bool) {
	parts := strings.Split(host, ".")
	if len(parts) > 4 {
		return nil, false
	}
	nums := make([]uint64, len(parts))
	for i, p := range parts {
		if p == "" || strings.ContainsRune(p, '_') {
			return nil, false
		}
		n, err := strconv.ParseUint(p, 0, 64)
		if err != nil {
			return nil, false
		}
		nums[i] = n
	}
	var v uint64
	last := len(nums) - 1
	for i := 0; i < last; i++ {
		if nums[i] > 0xff {
			return nil, false
		}
		v = v<<8 | nums[i]
	}
	width := uint(4-last) * 8
	if nums[last] >= 1<<width {
		return nil, false
	}
	v = v<<width | nums[last]
	return net.IPv4(byte(v>>24), byte(v>>16), byte(v>>8), byte(v)), true
}

// isForbiddenIP reports whether ip falls in a range the dispatcher must
// never connect to: loopback (127/8, ::1), private (10/8, 172.16/12,
// 192.168/16), link-local (169.254/16, fe80::/10), and the 0/8 block.
func isForbiddenIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() {
		return true
	}
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	if v4 := ip.To4(); v4 != nil && v4[0] == 0 {
		return true
	}
	return false
}
