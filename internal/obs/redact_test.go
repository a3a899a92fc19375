package obs

import "testing"

func TestRedactEmailMasksLongLocalPart(t *testing.T) {
	got := RedactEmail("john.doe@example.com")
	want := "jo***@example.com"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRedactEmailFullyMasksShortLocalPart(t *testing.T) {
	got := RedactEmail("ab@example.com")
	want := "***@example.com"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRedactEmailHandlesMalformedInput(t *testing.T) {
	got := RedactEmail("not-an-email")
	want := "***@***"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestAnonymizeIPMasksFinalV4Octet(t *testing.T) {
	got := AnonymizeIP("203.0.113.42")
	want := "203.0.113.0/24"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestAnonymizeIPMasksV6Tail(t *testing.T) {
	got := AnonymizeIP("2001:db8:abcd:1234::1")
	want := "2001:db8:abcd::/48"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestAnonymizeIPMasksNonIPInput(t *testing.T) {
	if got := AnonymizeIP("not-an-ip"); got != "***" {
		t.Fatalf("got %q, want ***", got)
	}
}
