package webhook

// SSRF-safe URL validation for webhook delivery targets, spec.md §4.5.1.
// No example repo in the pack carries this logic; written fresh against
// the spec's blocked-range tables.

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
)

var blockedV4CIDRs = []string{
	"0.0.0.0/8",
	"10.0.0.0/8",
	"100.64.0.0/10",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.0.0.0/24",
	"192.0.2.0/24",
	"192.168.0.0/16",
	"198.18.0.0/15",
	"198.51.100.0/24",
	"203.0.113.0/24",
	"224.0.0.0/4",
	"240.0.0.0/4",
	"255.255.255.255/32",
}

var blockedV6CIDRs = []string{
	"::1/128",
	"fc00::/7",
	"fe80::/10",
}

var (
	blockedV4Nets []*net.IPNet
	blockedV6Nets []*net.IPNet
)

func init() {
	for _, c := range blockedV4CIDRs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(fmt.Sprintf("webhook: invalid blocked CIDR %q: %v", c, err))
		}
		blockedV4Nets = append(blockedV4Nets, n)
	}
	for _, c := range blockedV6CIDRs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(fmt.Sprintf("webhook: invalid blocked CIDR %q: %v", c, err))
		}
		blockedV6Nets = append(blockedV6Nets, n)
	}
}

// ipBlocked reports whether ip falls in one of the ranges spec.md §4.5.1
// disallows for webhook delivery targets (loopback, link-local, private,
// CGNAT, documentation, multicast, reserved, and broadcast space).
func ipBlocked(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		for _, n := range blockedV4Nets {
			if n.Contains(v4) {
				return true
			}
		}
		return false
	}
	for _, n := range blockedV6Nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// hostBlocked rejects hostnames that commonly front cloud metadata or
// cluster control-plane endpoints, independent of what they resolve to.
func hostBlocked(host string) bool {
	h := strings.ToLower(host)
	switch {
	case h == "localhost" || strings.HasSuffix(h, ".localhost"):
		return true
	case h == "metadata" || strings.HasPrefix(h, "metadata."):
		return true
	case h == "kubernetes" || strings.HasPrefix(h, "kubernetes."):
		return true
	default:
		return false
	}
}

// ValidateURL implements spec.md §4.5.1's SSRF-safe validation: the scheme
// must be http or https, the hostname must not match the block list, and
// every address the hostname resolves to (or the literal IP it already is)
// must fall outside the blocked ranges. An unresolvable host or a resolved
// address of unrecognized family is rejected rather than allowed through.
func ValidateURL(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("webhook: invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("webhook: unsupported scheme %q", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("webhook: missing host")
	}
	if hostBlocked(host) {
		return fmt.Errorf("webhook: blocked host %q", host)
	}

	if ip := net.ParseIP(host); ip != nil {
		if ipBlocked(ip) {
			return fmt.Errorf("webhook: blocked address %s", ip)
		}
		return nil
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return fmt.Errorf("webhook: dns lookup for %q: %w", host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("webhook: no addresses resolved for %q", host)
	}
	for _, a := range addrs {
		if a.IP.To4() == nil && a.IP.To16() == nil {
			return fmt.Errorf("webhook: unrecognized address family for %s", a.IP)
		}
		if ipBlocked(a.IP) {
			return fmt.Errorf("webhook: resolved address %s for %q is blocked", a.IP, host)
		}
	}
	return nil
}
