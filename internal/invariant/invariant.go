// Package invariant holds the pure policy decision functions of the vault.
// Every check is total over its inputs, has no side effects, and returns a
// structured result instead of an error so callers can branch without
// exception machinery. A failed check is always a deny.
package invariant

import (
	"fmt"

	"vaultkit.org/internal/vault"
)

// ID identifies a non-negotiable privacy property.
type ID string

const (
	// Human-era invariants.
	Inv01 ID = "INV-01"
	Inv02 ID = "INV-02"
	Inv03 ID = "INV-03"
	Inv04 ID = "INV-04"
	Inv05 ID = "INV-05"
	Inv06 ID = "INV-06"
	Inv07 ID = "INV-07"
	Inv08 ID = "INV-08"

	// AI-era invariants.
	InvAI01 ID = "INV-AI-01"
	InvAI02 ID = "INV-AI-02"
	InvAI03 ID = "INV-AI-03"
	InvAI04 ID = "INV-AI-04"
	InvAI05 ID = "INV-AI-05"
	InvAI06 ID = "INV-AI-06"
	InvAI07 ID = "INV-AI-07"
)

// Catalog maps each invariant to the property it protects.
var Catalog = map[ID]string{
	Inv01: "Broadcast plane API cannot read PII tables/fields",
	Inv02: "Token minted for OPS cannot call VAULT/PII endpoints",
	Inv03: "Volunteers cannot list/search vault resources",
	Inv04: "Non-family disclosure requires 2-of-3 approvals",
	Inv05: "Mode transition revokes all non-family grants and sessions",
	Inv06: "No download-all; exports only via bounded packs",
	Inv07: "Case artifacts auto-expire; deletion emits audit events",
	Inv08: "Audit is append-only and tamper-evident",

	InvAI01: "AI agents cannot access PII plane directly",
	InvAI02: "Agent tokens expire after a single task",
	InvAI03: "All AI actions log principal, agent model and intent",
	InvAI04: "Aggregation queries over N items require approval",
	InvAI05: "AI-generated content is watermarked",
	InvAI06: "Biometric auth requires liveness and MFA",
	InvAI07: "Default AI processing tier is 0 (none)",
}

// Result is the outcome of a guard check.
type Result struct {
	Valid     bool   `json:"valid"`
	Violation string `json:"violation,omitempty"`
}

func allow() Result { return Result{Valid: true} }

func violated(id ID, format string, args ...any) Result {
	return Result{Valid: false, Violation: string(id) + ": " + fmt.Sprintf(format, args...)}
}

// CheckPlaneIsolation decides cross-plane access legality. It is the first
// line of defense and must run before any data read regardless of token
// state. Rules are evaluated in order; first match wins.
func CheckPlaneIsolation(requesting, target vault.Plane) Result {
	// Broadcast may only reach its own plane.
	if requesting == vault.PlaneBroadcast && target != vault.PlaneBroadcast {
		return violated(Inv01, "broadcast plane cannot access %s plane", target)
	}

	// Ops may not reach pii or vault.
	if requesting == vault.PlaneOps && (target == vault.PlanePII || target == vault.PlaneVault) {
		return violated(Inv02, "ops plane cannot access %s plane", target)
	}

	return allow()
}

// CheckTokenScope verifies the token's plane set covers the required plane.
func CheckTokenScope(token vault.Token, required vault.Plane) Result {
	if !token.HasPlane(required) {
		return violated(Inv02, "token does not have access to %s plane", required)
	}
	return allow()
}

// CheckAgentTokenUsage denies exhausted agent tokens. Tokens without a use
// budget (human actors) always pass; the budget mechanism is agent-specific.
// The check never decrements the budget: consumption is the caller's job at
// the point of successful use, so a failed downstream step does not burn one.
func CheckAgentTokenUsage(token vault.Token) Result {
	if token.ActorType != vault.ActorAgent {
		return allow()
	}
	if token.MaxUses == nil || token.UsesRemaining == nil {
		return allow()
	}
	if *token.UsesRemaining <= 0 {
		return violated(InvAI02, "agent token has been exhausted")
	}
	return allow()
}

// CheckApprovalRequirements validates the quorum for a disclosure grant.
// Family accessors (owner, trustee) need at least one approval; everyone
// else needs at least two (2-of-3 in policy terms). Only the count is
// inspected; approver distinctness is the caller's concern.
func CheckApprovalRequirements(grant vault.Grant, accessor vault.ActorType) Result {
	if accessor.IsFamily() {
		if len(grant.Approvals) < 1 {
			return violated(Inv04, "family disclosure requires at least 1 approval")
		}
		return allow()
	}
	if len(grant.Approvals) < 2 {
		return violated(Inv04, "non-family disclosure requires 2-of-3 approvals")
	}
	return allow()
}

// CheckAgentPIIAccess is an absolute rule layered on top of plane isolation:
// agents never reach the pii plane, regardless of token or grant state.
func CheckAgentPIIAccess(actor vault.ActorType, target vault.Plane) Result {
	if actor == vault.ActorAgent && target == vault.PlanePII {
		return violated(InvAI01, "AI agents cannot access PII plane directly")
	}
	return allow()
}

// DefaultAggregationLimit is the result-count ceiling above which a query
// must route through the approval flow.
const DefaultAggregationLimit = 10

// AggregationResult extends Result with a routing signal: an over-limit
// query is not rejected outright but must collect approvals first.
type AggregationResult struct {
	Valid            bool   `json:"valid"`
	RequiresApproval bool   `json:"requires_approval"`
	Violation        string `json:"violation,omitempty"`
}

// CheckAggregationLimit flags aggregation queries exceeding the limit.
// A non-positive limit selects DefaultAggregationLimit.
func CheckAggregationLimit(resultCount, limit int) AggregationResult {
	if limit <= 0 {
		limit = DefaultAggregationLimit
	}
	if resultCount > limit {
		v := violated(InvAI04, "aggregation of %d items exceeds limit of %d", resultCount, limit)
		return AggregationResult{Valid: false, RequiresApproval: true, Violation: v.Violation}
	}
	return AggregationResult{Valid: true}
}
