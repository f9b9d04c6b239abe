package invariant

// Enforcement is what the policy layer does when a rule trips.
type Enforcement string

const (
	EnforceBlock Enforcement = "block"
	EnforceAudit Enforcement = "audit"
	EnforceAlert Enforcement = "alert"
)

// Severity ranks the blast radius of a violated rule.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
)

// PolicyRule binds an invariant to its enforcement posture.
type PolicyRule struct {
	Invariant   ID          `json:"invariant"`
	Condition   string      `json:"condition"`
	Enforcement Enforcement `json:"enforcement"`
	Severity    Severity    `json:"severity"`
}

// PolicyRules is the enforced subset of the catalog. Chain breakage alerts
// rather than blocks: the chain is verified after the fact, there is no
// request to stop.
var PolicyRules = []PolicyRule{
	{Invariant: Inv01, Condition: "broadcast -> pii", Enforcement: EnforceBlock, Severity: SeverityCritical},
	{Invariant: Inv02, Condition: "ops -> vault/pii", Enforcement: EnforceBlock, Severity: SeverityCritical},
	{Invariant: Inv04, Condition: "non-family < 2 approvals", Enforcement: EnforceBlock, Severity: SeverityCritical},
	{Invariant: Inv08, Condition: "audit chain broken", Enforcement: EnforceAlert, Severity: SeverityCritical},
	{Invariant: InvAI01, Condition: "agent -> pii", Enforcement: EnforceBlock, Severity: SeverityCritical},
	{Invariant: InvAI02, Condition: "agent token reuse", Enforcement: EnforceBlock, Severity: SeverityHigh},
	{Invariant: InvAI04, Condition: "aggregation > N", Enforcement: EnforceBlock, Severity: SeverityHigh},
}

// RuleFor returns the policy rule for an invariant, if one is enforced.
func RuleFor(id ID) (PolicyRule, bool) {
	for _, r := range PolicyRules {
		if r.Invariant == id {
			return r, true
		}
	}
	return PolicyRule{}, false
}
