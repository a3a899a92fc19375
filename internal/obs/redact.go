package obs

import (
	"net"
	"strings"
)

// RedactEmail masks an email address for safe logging, kept from the
// teacher's internal/pkg/logger.RedactEmail unchanged: "john.doe@example.com"
// becomes "jo***@example.com"; short local parts are fully masked.
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	name := parts[0]
	if len(name) > 2 {
		return name[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}

// AnonymizeIP masks the host portion of a client address for access logs:
// the final octet of an IPv4 address, or everything past the /48 of an
// IPv6 address. Non-IP input is masked entirely.
func AnonymizeIP(addr string) string {
	ip := net.ParseIP(addr)
	if ip == nil {
		return "***"
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.Mask(net.CIDRMask(24, 32)).String() + "/24"
	}
	return ip.Mask(net.CIDRMask(48, 128)).String() + "/48"
}
