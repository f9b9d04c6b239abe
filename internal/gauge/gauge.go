// Package gauge exchanges advisory insight events with companion systems.
// Outputs are recommendations only; nothing here enforces a state
// transition.
package gauge

import (
	"fmt"
	"time"

	"vaultkit.org/internal/ids"
)

// Event types emitted after significant privacy operations.
const (
	EventAccessAudit     = "vault.access.audit"
	EventConsentReview   = "vault.consent.review"
	EventPrivacyDrift    = "vault.privacy.drift"
	EventComplianceCheck = "vault.compliance.check"
)

// Sources recognized on inbound events.
const (
	SourceVault  = "vault"
	SourceSafety = "safety-scorer"
	SourceWisdom = "wisdom"
)

// Phase carried on every event.
const Phase = "GAUGE"

// LockdownThreshold is the safety score below which a privacy lockdown is
// recommended.
const LockdownThreshold = 0.6

// Insight is the structured payload of an event. SafetyScore is only
// present on events from the safety-scoring companion.
type Insight struct {
	AccessCount     int      `json:"accessCount"`
	ConsentsPending int      `json:"consentsPending"`
	PrivacyScore    float64  `json:"privacyScore"`
	AuditTrailSize  int      `json:"auditTrailSize"`
	SafetyScore     *float64 `json:"safetyScore,omitempty"`
}

// Event is a cross-system notification.
type Event struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Phase     string    `json:"phase"`
	Type      string    `json:"type"`
	Insight   Insight   `json:"insight"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent builds an outbound vault event. An empty type selects
// EventAccessAudit; a zero privacy score defaults to 1.0 so an
// unpopulated payload never reads as a breach.
func NewEvent(typ string, insight Insight) Event {
	if typ == "" {
		typ = EventAccessAudit
	}
	if insight.PrivacyScore == 0 {
		insight.PrivacyScore = 1.0
	}
	return Event{
		ID:        ids.Prefixed("gauge"),
		Source:    SourceVault,
		Phase:     Phase,
		Type:      typ,
		Insight:   insight,
		Timestamp: time.Now().UTC(),
	}
}

// Advisory actions.
const (
	ActionNone          = "none"
	ActionLockdown      = "privacy_lockdown"
	ActionAuditAdvisory = "audit_wisdom_access"
)

// Action is the advisory response to an inbound event.
type Action struct {
	Action         string `json:"action"`
	Reason         string `json:"reason"`
	Recommendation string `json:"recommendation,omitempty"`
}

// Handle inspects an inbound event and returns an advisory action. A
// safety-scoring companion reporting a score below LockdownThreshold yields
// a lockdown recommendation; wisdom-system events yield an audit-entry
// recommendation; anything else requires no vault action.
func Handle(evt Event) Action {
	if evt.Source == SourceSafety && evt.Phase == Phase {
		score := 1.0
		if evt.Insight.SafetyScore != nil {
			score = *evt.Insight.SafetyScore
		}
		if score < LockdownThreshold {
			return Action{
				Action:         ActionLockdown,
				Reason:         fmt.Sprintf("safety score %.0f%% below threshold", score*100),
				Recommendation: "restrict data access until compliance review",
			}
		}
	}

	if evt.Source == SourceWisdom {
		return Action{
			Action:         ActionAuditAdvisory,
			Reason:         "cross-system wisdom query detected",
			Recommendation: "log to consent audit trail",
		}
	}

	return Action{Action: ActionNone, Reason: "no vault action required"}
}
