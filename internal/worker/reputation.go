package worker

// CriticalReputationThreshold is the tenant reputation score below which
// non-sandbox sends are throttled outright (spec.md §4.3 step 2). This
// replaces the teacher's 1255-line per-ISP-domain advanced_throttle.go with
// the single per-tenant gate the spec actually calls for; see DESIGN.md.
const CriticalReputationThreshold = 20.0

// ReputationBlocked reports whether a send must be rejected before it
// reaches the SMTP Engine, given the owning tenant's current reputation
// score and sandbox flag. Sandbox tenants are never throttled since they
// never touch a real relay.
func ReputationBlocked(score float64, sandbox bool) bool {
	return !sandbox && score < CriticalReputationThreshold
}
