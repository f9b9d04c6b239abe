package vault

import "time"

// Plane is a sensitivity-isolated partition of data.
type Plane string

const (
	PlanePII       Plane = "pii"
	PlaneVault     Plane = "vault"
	PlaneOps       Plane = "ops"
	PlaneBroadcast Plane = "broadcast"
)

// Planes lists every plane in the system.
var Planes = []Plane{PlanePII, PlaneVault, PlaneOps, PlaneBroadcast}

// Known reports whether p is one of the four defined planes.
func (p Plane) Known() bool {
	switch p {
	case PlanePII, PlaneVault, PlaneOps, PlaneBroadcast:
		return true
	}
	return false
}

// ActorType classifies who is interacting with the vault.
type ActorType string

const (
	ActorOwner     ActorType = "owner"
	ActorTrustee   ActorType = "trustee"
	ActorVolunteer ActorType = "volunteer"
	ActorAgent     ActorType = "agent"
	ActorSystem    ActorType = "system"
)

// IsFamily reports whether the actor type belongs to the family trust class,
// which needs a single approval for bounded disclosures.
func (t ActorType) IsFamily() bool {
	return t == ActorOwner || t == ActorTrustee
}

// Actor is a registered identity. Immutable after registration except for
// plane-grant updates, which conceptually produce a new version.
type Actor struct {
	ID     string    `json:"id"`
	Type   ActorType `json:"type"`
	Email  string    `json:"email,omitempty"`
	Planes []Plane   `json:"planes"`

	// Agent attribution: the human who authorized the agent and the model
	// identifier it runs as.
	Principal string `json:"principal,omitempty"`
	Model     string `json:"model,omitempty"`
}

// Token is a short-lived credential binding an actor to a subset of planes.
// Agent tokens carry a use budget enforcing single-task consumption; human
// tokens leave both budget fields nil.
type Token struct {
	ActorID       string    `json:"actor_id"`
	ActorType     ActorType `json:"actor_type"`
	Planes        []Plane   `json:"planes"`
	IssuedAt      time.Time `json:"issued_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	MaxUses       *int      `json:"max_uses,omitempty"`
	UsesRemaining *int      `json:"uses_remaining,omitempty"`
	PrincipalID   string    `json:"principal_id,omitempty"`
}

// HasPlane reports whether the token's scope includes p.
func (t Token) HasPlane(p Plane) bool {
	for _, plane := range t.Planes {
		if plane == p {
			return true
		}
	}
	return false
}

// GrantStatus is the lifecycle state of a bounded disclosure.
type GrantStatus string

const (
	GrantPending GrantStatus = "pending"
	GrantActive  GrantStatus = "active"
	GrantExpired GrantStatus = "expired"
	GrantRevoked GrantStatus = "revoked"
)

// ConditionType enumerates the structural conditions a grant can carry.
type ConditionType string

const (
	CondModeEquals   ConditionType = "mode_equals"
	CondTimeBefore   ConditionType = "time_before"
	CondTimeAfter    ConditionType = "time_after"
	CondAccessorType ConditionType = "accessor_type"
)

// GrantCondition constrains when a grant applies.
type GrantCondition struct {
	Type  ConditionType `json:"type"`
	Value string        `json:"value"`
}

// Approval records a single approver's sign-off on a grant.
type Approval struct {
	ApproverID string    `json:"approver_id"`
	ApprovedAt time.Time `json:"approved_at"`
	Note       string    `json:"note,omitempty"`
}

// Grant is a bounded-disclosure request for one resource by one accessor.
// The approvals list only grows; revocation flips the whole grant to revoked.
type Grant struct {
	ID            string           `json:"id"`
	ResourceID    string           `json:"resource_id"`
	AccessorID    string           `json:"accessor_id"`
	Reason        string           `json:"reason"`
	CreatedAt     time.Time        `json:"created_at"`
	ExpiresAt     time.Time        `json:"expires_at"`
	Conditions    []GrantCondition `json:"conditions,omitempty"`
	Status        GrantStatus      `json:"status"`
	RevokedReason string           `json:"revoked_reason,omitempty"`
	Approvals     []Approval       `json:"approvals"`
}

// AuditAction names the operations recorded on the audit chain.
type AuditAction string

const (
	ActionGrantRequested   AuditAction = "GRANT_REQUESTED"
	ActionGrantApproved    AuditAction = "GRANT_APPROVED"
	ActionGrantIssued      AuditAction = "GRANT_ISSUED"
	ActionGrantRevoked     AuditAction = "GRANT_REVOKED"
	ActionResourceAccessed AuditAction = "RESOURCE_ACCESSED"
	ActionResourceCreated  AuditAction = "RESOURCE_CREATED"
	ActionResourceDeleted  AuditAction = "RESOURCE_DELETED"
	ActionModeTransition   AuditAction = "MODE_TRANSITION"
	ActionTokenIssued      AuditAction = "TOKEN_ISSUED"
	ActionTokenRevoked     AuditAction = "TOKEN_REVOKED"
	ActionAccessDenied     AuditAction = "ACCESS_DENIED"
)

// AuditEvent is an immutable, ordered record on the hash-linked chain.
// PrevHash commits to the digest of the preceding event; any mutation to a
// past entry is detectable by recomputing the linkage.
type AuditEvent struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	ActorID    string         `json:"actor_id"`
	ActorType  ActorType      `json:"actor_type"`
	Action     AuditAction    `json:"action"`
	ResourceID string         `json:"resource_id,omitempty"`
	Plane      Plane          `json:"plane"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	PrevHash   string         `json:"prev_hash"`
	Hash       string         `json:"hash"`

	// AI attribution, set when the acting identity is a delegated agent.
	PrincipalID string `json:"principal_id,omitempty"`
	AgentModel  string `json:"agent_model,omitempty"`
	Intent      string `json:"intent,omitempty"`
}
