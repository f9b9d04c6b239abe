package httpapi

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"vaultkit.org/internal/audit"
	"vaultkit.org/internal/gauge"
	"vaultkit.org/internal/invariant"
	"vaultkit.org/internal/obs"
	"vaultkit.org/internal/tokens"
	"vaultkit.org/internal/vault"
)

type checkPlaneRequest struct {
	RequestingPlane string `json:"requesting_plane"`
	TargetPlane     string `json:"target_plane"`
}

type checkAccessRequest struct {
	Token       string `json:"token"`
	SourcePlane string `json:"source_plane"`
	TargetPlane string `json:"target_plane"`
	ResourceID  string `json:"resource_id,omitempty"`
	Intent      string `json:"intent,omitempty"`
}

type checkApprovalsRequest struct {
	Grant        vault.Grant `json:"grant"`
	AccessorType string      `json:"accessor_type"`
}

type checkAggregationRequest struct {
	ResultCount int `json:"result_count"`
	Limit       int `json:"limit,omitempty"`
}

type mintTokenRequest struct {
	Actor      vault.Actor `json:"actor"`
	Planes     []string    `json:"planes"`
	TTLSeconds int         `json:"ttl_seconds"`
	Uses       *int        `json:"uses,omitempty"`
}

type mintTokenResponse struct {
	Token string `json:"token"`
}

// decisionResponse annotates a guard result with the enforcement posture
// of the violated invariant, when the policy table enforces one.
type decisionResponse struct {
	invariant.Result
	Enforcement invariant.Enforcement `json:"enforcement,omitempty"`
	Severity    invariant.Severity    `json:"severity,omitempty"`
}

type aggregationResponse struct {
	invariant.AggregationResult
	Enforcement invariant.Enforcement `json:"enforcement,omitempty"`
	Severity    invariant.Severity    `json:"severity,omitempty"`
}

func withRule(res invariant.Result) decisionResponse {
	out := decisionResponse{Result: res}
	if rule, ok := invariant.RuleFor(invariant.ID(invariantID(res.Violation))); ok {
		out.Enforcement = rule.Enforcement
		out.Severity = rule.Severity
	}
	return out
}

func withAggregationRule(res invariant.AggregationResult) aggregationResponse {
	out := aggregationResponse{AggregationResult: res}
	if rule, ok := invariant.RuleFor(invariant.ID(invariantID(res.Violation))); ok {
		out.Enforcement = rule.Enforcement
		out.Severity = rule.Severity
	}
	return out
}

type invariantInfo struct {
	ID          invariant.ID          `json:"id"`
	Property    string                `json:"property"`
	Enforcement invariant.Enforcement `json:"enforcement,omitempty"`
	Severity    invariant.Severity    `json:"severity,omitempty"`
}

// handleInvariants lists the catalog with the enforcement posture of each
// rule the policy table binds.
func (a *API) handleInvariants(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	items := make([]invariantInfo, 0, len(invariant.Catalog))
	for id, property := range invariant.Catalog {
		info := invariantInfo{ID: id, Property: property}
		if rule, ok := invariant.RuleFor(id); ok {
			info.Enforcement = rule.Enforcement
			info.Severity = rule.Severity
		}
		items = append(items, info)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

func (a *API) handleCheckPlane(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req checkPlaneRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	requesting, target := vault.Plane(req.RequestingPlane), vault.Plane(req.TargetPlane)
	if !requesting.Known() || !target.Known() {
		writeError(w, r, http.StatusBadRequest, "unknown plane")
		return
	}

	res := invariant.CheckPlaneIsolation(requesting, target)
	obs.RecordDecision("plane_isolation", res.Valid, invariantID(res.Violation))
	writeJSON(w, http.StatusOK, withRule(res))
}

// handleCheckAccess runs the full guard pipeline for a token-bearing
// access attempt and records the outcome on the audit chain. Order
// matters: plane isolation first, then the absolute agent/PII rule, then
// token scope and budget.
func (a *API) handleCheckAccess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req checkAccessRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	target := vault.Plane(req.TargetPlane)
	if !target.Known() {
		writeError(w, r, http.StatusBadRequest, "unknown target plane")
		return
	}
	source := vault.Plane(req.SourcePlane)
	if req.SourcePlane != "" && !source.Known() {
		writeError(w, r, http.StatusBadRequest, "unknown source plane")
		return
	}

	tok, err := tokens.ParseAndValidate(req.Token)
	if err != nil {
		res := invariant.Result{Valid: false, Violation: "invalid token"}
		obs.RecordDecision("access", false, "")
		a.auditDecision(r, vault.Token{ActorID: "unknown"}, req, res)
		a.emitInsight(r.Context(), gauge.EventAccessAudit)
		writeJSON(w, http.StatusUnauthorized, res)
		return
	}

	res := invariant.Result{Valid: true}
	if req.SourcePlane != "" {
		res = invariant.CheckPlaneIsolation(source, target)
	}
	if res.Valid {
		res = invariant.CheckAgentPIIAccess(tok.ActorType, target)
	}
	if res.Valid {
		res = invariant.CheckTokenScope(tok, target)
	}
	if res.Valid {
		res = invariant.CheckAgentTokenUsage(tok)
	}

	obs.RecordDecision("access", res.Valid, invariantID(res.Violation))
	a.auditDecision(r, tok, req, res)
	a.emitInsight(r.Context(), gauge.EventAccessAudit)
	writeJSON(w, http.StatusOK, withRule(res))
}

func (a *API) auditDecision(r *http.Request, tok vault.Token, req checkAccessRequest, res invariant.Result) {
	a.accesses.Add(1)
	action := vault.ActionResourceAccessed
	meta := map[string]any{}
	if !res.Valid {
		action = vault.ActionAccessDenied
		meta["violation"] = res.Violation
	}
	a.audit(r.Context(), audit.Entry{
		ActorID:     tok.ActorID,
		ActorType:   tok.ActorType,
		Action:      action,
		ResourceID:  req.ResourceID,
		Plane:       vault.Plane(req.TargetPlane),
		Metadata:    meta,
		PrincipalID: tok.PrincipalID,
		Intent:      req.Intent,
	})
}

func (a *API) handleCheckApprovals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req checkApprovalsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.AccessorType) == "" {
		writeError(w, r, http.StatusBadRequest, "accessor_type is required")
		return
	}

	res := invariant.CheckApprovalRequirements(req.Grant, vault.ActorType(req.AccessorType))
	obs.RecordDecision("approvals", res.Valid, invariantID(res.Violation))
	writeJSON(w, http.StatusOK, withRule(res))
}

func (a *API) handleCheckAggregation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req checkAggregationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.ResultCount < 0 {
		writeError(w, r, http.StatusBadRequest, "result_count must be >= 0")
		return
	}

	res := invariant.CheckAggregationLimit(req.ResultCount, req.Limit)
	obs.RecordDecision("aggregation", res.Valid, invariantID(res.Violation))
	writeJSON(w, http.StatusOK, withAggregationRule(res))
}

func (a *API) handleTokens(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req mintTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.TTLSeconds <= 0 {
		writeError(w, r, http.StatusBadRequest, "ttl_seconds must be > 0")
		return
	}
	planes := make([]vault.Plane, 0, len(req.Planes))
	for _, p := range req.Planes {
		planes = append(planes, vault.Plane(p))
	}

	signed, err := tokens.Mint(req.Actor, planes, time.Duration(req.TTLSeconds)*time.Second, tokens.MintOptions{Uses: req.Uses})
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	a.audit(r.Context(), audit.Entry{
		ActorID:   req.Actor.ID,
		ActorType: req.Actor.Type,
		Action:    vault.ActionTokenIssued,
		Plane:     vault.PlaneOps,
		Metadata: map[string]any{
			"planes":      req.Planes,
			"ttl_seconds": req.TTLSeconds,
		},
		PrincipalID: req.Actor.Principal,
		AgentModel:  req.Actor.Model,
	})
	writeJSON(w, http.StatusCreated, mintTokenResponse{Token: signed})
}

// invariantID extracts the leading invariant tag from a violation message.
func invariantID(violation string) string {
	if violation == "" {
		return ""
	}
	if i := strings.Index(violation, ":"); i > 0 {
		return violation[:i]
	}
	return ""
}
