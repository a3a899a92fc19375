package domain

import (
	"testing"
	"time"
)

func TestEmailAllRecipientsConcatenatesToCCBCC(t *testing.T) {
	e := Email{
		To:  []Recipient{{Email: "a@x.io"}},
		CC:  []Recipient{{Email: "b@x.io"}},
		BCC: []Recipient{{Email: "c@x.io"}},
	}
	got := e.AllRecipients()
	if len(got) != 3 {
		t.Fatalf("expected 3 recipients, got %d", len(got))
	}
	if got[0].Email != "a@x.io" || got[1].Email != "b@x.io" || got[2].Email != "c@x.io" {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestSuppressionEntryActivePermanentWhenNoExpiry(t *testing.T) {
	s := SuppressionEntry{ExpiresAt: nil}
	if !s.Active(time.Now()) {
		t.Fatal("expected permanent suppression to remain active")
	}
}

func TestSuppressionEntryActiveBeforeExpiry(t *testing.T) {
	future := time.Now().Add(time.Hour)
	s := SuppressionEntry{ExpiresAt: &future}
	if !s.Active(time.Now()) {
		t.Fatal("expected unexpired suppression to be active")
	}
}

func TestSuppressionEntryInactiveAfterExpiry(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	s := SuppressionEntry{ExpiresAt: &past}
	if s.Active(time.Now()) {
		t.Fatal("expected expired suppression to be inactive")
	}
}

func TestSMTPConfigPoolKeyIsDeterministic(t *testing.T) {
	c := SMTPConfig{Host: "smtp.example.com", Port: 587, Username: "relay"}
	if c.PoolKey() != c.PoolKey() {
		t.Fatal("expected PoolKey to be deterministic")
	}
}

func TestSMTPConfigPoolKeyDiffersByField(t *testing.T) {
	a := SMTPConfig{Host: "smtp.example.com", Port: 587, Username: "relay"}
	b := SMTPConfig{Host: "smtp.example.com", Port: 465, Username: "relay"}
	if a.PoolKey() == b.PoolKey() {
		t.Fatal("expected different ports to yield different pool keys")
	}
}
