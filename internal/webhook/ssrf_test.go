package webhook

import (
	"context"
	"net"
	"testing"
)

func TestValidateURLRejectsNonHTTPScheme(t *testing.T) {
	if err := ValidateURL(context.Background(), "ftp://example.com/hook"); err == nil {
		t.Fatal("expected error for non-http(s) scheme")
	}
}

func TestValidateURLRejectsBlockedHostnames(t *testing.T) {
	cases := []string{
		"http://localhost/hook",
		"http://sub.localhost/hook",
		"http://metadata/hook",
		"http://metadata.google.internal/hook",
		"http://kubernetes.default.svc/hook",
	}
	for _, raw := range cases {
		if err := ValidateURL(context.Background(), raw); err == nil {
			t.Errorf("expected %q to be rejected", raw)
		}
	}
}

func TestValidateURLRejectsLiteralBlockedIPv4(t *testing.T) {
	cases := []string{
		"http://127.0.0.1/hook",
		"http://10.0.0.5/hook",
		"http://169.254.169.254/hook",
		"http://192.168.1.1/hook",
		"http://172.16.0.1/hook",
		"http://100.64.0.1/hook",
		"http://0.0.0.0/hook",
		"http://255.255.255.255/hook",
	}
	for _, raw := range cases {
		if err := ValidateURL(context.Background(), raw); err == nil {
			t.Errorf("expected %q to be rejected", raw)
		}
	}
}

func TestValidateURLRejectsLiteralBlockedIPv6(t *testing.T) {
	cases := []string{
		"http://[::1]/hook",
		"http://[fe80::1]/hook",
		"http://[fc00::1]/hook",
	}
	for _, raw := range cases {
		if err := ValidateURL(context.Background(), raw); err == nil {
			t.Errorf("expected %q to be rejected", raw)
		}
	}
}

func TestValidateURLAcceptsPublicLiteralIP(t *testing.T) {
	if err := ValidateURL(context.Background(), "https://8.8.8.8/hook"); err != nil {
		t.Fatalf("expected public IP to be accepted, got %v", err)
	}
}

func TestValidateURLRejectsMissingHost(t *testing.T) {
	if err := ValidateURL(context.Background(), "http:///hook"); err == nil {
		t.Fatal("expected error for missing host")
	}
}

func TestIPBlockedCoversDocumentationAndMulticastRanges(t *testing.T) {
	blocked := []string{"192.0.2.1", "198.51.100.1", "203.0.113.1", "224.0.0.1", "240.0.0.1"}
	for _, raw := range blocked {
		ip := mustParseIP(t, raw)
		if !ipBlocked(ip) {
			t.Errorf("expected %s to be blocked", raw)
		}
	}
}

func mustParseIP(t *testing.T, s string) (ip net.IP) {
	t.Helper()
	ip = net.ParseIP(s)
	if ip == nil {
		t.Fatalf("invalid test IP %q", s)
	}
	return ip
}
