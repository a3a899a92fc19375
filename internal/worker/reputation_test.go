package worker

import "testing"

func TestReputationBlockedBelowThreshold(t *testing.T) {
	if !ReputationBlocked(10, false) {
		t.Fatal("expected low reputation to be blocked")
	}
}

func TestReputationNotBlockedAboveThreshold(t *testing.T) {
	if ReputationBlocked(50, false) {
		t.Fatal("expected healthy reputation to pass")
	}
}

func TestReputationNeverBlockedInSandbox(t *testing.T) {
	if ReputationBlocked(0, true) {
		t.Fatal("expected sandbox tenants to never be throttled")
	}
}

func TestReputationAtExactThresholdIsBlocked(t *testing.T) {
	if !ReputationBlocked(CriticalReputationThreshold-0.01, false) {
		t.Fatal("expected score just below threshold to be blocked")
	}
	if ReputationBlocked(CriticalReputationThreshold, false) {
		t.Fatal("expected score at threshold to pass")
	}
}
