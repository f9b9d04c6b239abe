package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"vaultkit.org/internal/audit"
	"vaultkit.org/internal/consent"
	"vaultkit.org/internal/dissent"
	"vaultkit.org/internal/gauge"
	"vaultkit.org/internal/invariant"
	"vaultkit.org/internal/tokens"
	"vaultkit.org/internal/vault"
)

func testAPI(t *testing.T) *API {
	t.Helper()
	return New(Config{
		Chain:    audit.NewChain(),
		Consents: consent.NewRegistry(),
		Dissent:  dissent.NewEngine(),
		Bus:      gauge.NewBus(),
		Version:  "test",
	})
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("body not valid JSON: %v: %s", err, rec.Body.String())
	}
}

func TestHealthAndInfo(t *testing.T) {
	a := testAPI(t)

	rec := doJSON(t, a.Handler(), http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status %d", rec.Code)
	}

	rec = doJSON(t, a.Handler(), http.MethodGet, "/readyz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz status %d", rec.Code)
	}

	rec = doJSON(t, a.Handler(), http.MethodGet, "/v1/info", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("info status %d", rec.Code)
	}
	var info map[string]any
	decodeBody(t, rec, &info)
	if info["version"] != "test" {
		t.Fatalf("version %v", info["version"])
	}
}

func TestCheckPlaneEndpoint(t *testing.T) {
	a := testAPI(t)

	rec := doJSON(t, a.mux, http.MethodPost, "/v1/check/plane", map[string]string{
		"requesting_plane": "broadcast",
		"target_plane":     "pii",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var res struct {
		Valid     bool   `json:"valid"`
		Violation string `json:"violation"`
	}
	decodeBody(t, rec, &res)
	if res.Valid {
		t.Fatal("broadcast->pii allowed")
	}
	if !strings.HasPrefix(res.Violation, "INV-01") {
		t.Fatalf("violation %q", res.Violation)
	}

	rec = doJSON(t, a.mux, http.MethodPost, "/v1/check/plane", map[string]string{
		"requesting_plane": "sideband",
		"target_plane":     "pii",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown plane status %d", rec.Code)
	}

	rec = doJSON(t, a.mux, http.MethodGet, "/v1/check/plane", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET status %d", rec.Code)
	}
}

func TestCheckAccessPipeline(t *testing.T) {
	t.Setenv("VAULT_TOKEN_SECRET", "httpapi-test-secret")
	a := testAPI(t)

	owner := vault.Actor{
		ID:     "owner-1",
		Type:   vault.ActorOwner,
		Planes: []vault.Plane{vault.PlanePII, vault.PlaneVault},
	}
	ownerToken, err := tokens.Mint(owner, []vault.Plane{vault.PlaneVault}, time.Hour, tokens.MintOptions{})
	if err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, a.mux, http.MethodPost, "/v1/check/access", map[string]any{
		"token":        ownerToken,
		"target_plane": "vault",
		"resource_id":  "res-1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var res struct {
		Valid     bool   `json:"valid"`
		Violation string `json:"violation"`
	}
	decodeBody(t, rec, &res)
	if !res.Valid {
		t.Fatalf("owner denied own vault plane: %s", res.Violation)
	}

	// Out of token scope.
	rec = doJSON(t, a.mux, http.MethodPost, "/v1/check/access", map[string]any{
		"token":        ownerToken,
		"target_plane": "pii",
	})
	decodeBody(t, rec, &res)
	if res.Valid {
		t.Fatal("out-of-scope plane allowed")
	}

	// Agent aimed at pii is denied even with pii in the token's plane set.
	agent := vault.Actor{
		ID:        "agent-1",
		Type:      vault.ActorAgent,
		Planes:    []vault.Plane{vault.PlanePII, vault.PlaneOps},
		Principal: "owner-1",
	}
	agentToken, err := tokens.Mint(agent, []vault.Plane{vault.PlanePII}, time.Hour, tokens.MintOptions{})
	if err != nil {
		t.Fatal(err)
	}
	rec = doJSON(t, a.mux, http.MethodPost, "/v1/check/access", map[string]any{
		"token":        agentToken,
		"target_plane": "pii",
		"intent":       "summarize records",
	})
	decodeBody(t, rec, &res)
	if res.Valid {
		t.Fatal("agent reached pii plane")
	}
	if !strings.HasPrefix(res.Violation, "INV-AI-01") {
		t.Fatalf("violation %q", res.Violation)
	}

	// Garbage token is a 401.
	rec = doJSON(t, a.mux, http.MethodPost, "/v1/check/access", map[string]any{
		"token":        "nope",
		"target_plane": "vault",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token status %d", rec.Code)
	}

	// Every decision above landed on the audit chain.
	events, _ := a.chain.Events(context.Background())
	if len(events) != 4 {
		t.Fatalf("chain length %d, want 4", len(events))
	}
	if events[2].Action != vault.ActionAccessDenied {
		t.Fatalf("agent denial not recorded: %s", events[2].Action)
	}
	if events[2].PrincipalID != "owner-1" || events[2].Intent != "summarize records" {
		t.Fatalf("attribution missing: %+v", events[2])
	}
}

func TestMintTokenEndpoint(t *testing.T) {
	t.Setenv("VAULT_TOKEN_SECRET", "httpapi-test-secret")
	a := testAPI(t)

	rec := doJSON(t, a.mux, http.MethodPost, "/v1/tokens", map[string]any{
		"actor": map[string]any{
			"id":     "trustee-1",
			"type":   "trustee",
			"planes": []string{"vault", "ops"},
		},
		"planes":      []string{"ops"},
		"ttl_seconds": 600,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var res mintTokenResponse
	decodeBody(t, rec, &res)
	if res.Token == "" {
		t.Fatal("no token in response")
	}

	tok, err := tokens.ParseAndValidate(res.Token)
	if err != nil {
		t.Fatal(err)
	}
	if tok.ActorID != "trustee-1" || !tok.HasPlane(vault.PlaneOps) {
		t.Fatalf("minted token wrong: %+v", tok)
	}

	// The issuance is audited.
	events, _ := a.chain.Events(context.Background())
	if len(events) != 1 || events[0].Action != vault.ActionTokenIssued {
		t.Fatalf("issuance not audited: %+v", events)
	}
}

func TestConsentEndpoints(t *testing.T) {
	a := testAPI(t)

	rec := doJSON(t, a.mux, http.MethodPost, "/v1/consents", map[string]any{
		"requester_id": "researcher-1",
		"purpose":      "care coordination",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status %d: %s", rec.Code, rec.Body.String())
	}
	var created consent.Request
	decodeBody(t, rec, &created)
	if created.Status != consent.StatusPending {
		t.Fatalf("status %s", created.Status)
	}

	rec = doJSON(t, a.mux, http.MethodPost, "/v1/consents/"+created.ID+"/grant", map[string]any{"scope": "export"})
	if rec.Code != http.StatusOK {
		t.Fatalf("grant status %d: %s", rec.Code, rec.Body.String())
	}
	var granted consent.Request
	decodeBody(t, rec, &granted)
	if granted.ConsentToken == "" || granted.Scope != "export" {
		t.Fatalf("grant wrong: %+v", granted)
	}

	rec = doJSON(t, a.mux, http.MethodPost, "/v1/consents/verify", map[string]any{"token": granted.ConsentToken})
	var verification consent.Verification
	decodeBody(t, rec, &verification)
	if !verification.Valid {
		t.Fatalf("token rejected: %s", verification.Reason)
	}

	// Double grant is a conflict.
	rec = doJSON(t, a.mux, http.MethodPost, "/v1/consents/"+created.ID+"/grant", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("double grant status %d", rec.Code)
	}

	rec = doJSON(t, a.mux, http.MethodPost, "/v1/consents/"+created.ID+"/revoke", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("revoke status %d", rec.Code)
	}

	rec = doJSON(t, a.mux, http.MethodPost, "/v1/consents/verify", map[string]any{"token": granted.ConsentToken})
	decodeBody(t, rec, &verification)
	if verification.Valid {
		t.Fatal("revoked token verified")
	}

	rec = doJSON(t, a.mux, http.MethodGet, "/v1/consents?status=revoked", nil)
	var list struct {
		Items []consent.Request `json:"items"`
	}
	decodeBody(t, rec, &list)
	if len(list.Items) != 1 || list.Items[0].ID != created.ID {
		t.Fatalf("trail wrong: %+v", list.Items)
	}

	rec = doJSON(t, a.mux, http.MethodPost, "/v1/consents/consent_missing/revoke", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing revoke status %d", rec.Code)
	}
}

func TestBallotEndpoints(t *testing.T) {
	a := testAPI(t)

	rec := doJSON(t, a.mux, http.MethodPost, "/v1/ballots", map[string]any{
		"issue_id": "issue-1",
		"options":  []string{"keep", "disclose"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status %d: %s", rec.Code, rec.Body.String())
	}
	var ballot dissent.Ballot
	decodeBody(t, rec, &ballot)

	rec = doJSON(t, a.mux, http.MethodPost, "/v1/ballots/"+ballot.ID+"/vote", map[string]any{
		"voter_hash":   "hash-1",
		"option_index": 1,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("vote status %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, a.mux, http.MethodPost, "/v1/ballots/"+ballot.ID+"/vote", map[string]any{
		"voter_hash":   "hash-1",
		"option_index": 0,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate vote status %d", rec.Code)
	}

	rec = doJSON(t, a.mux, http.MethodPost, "/v1/ballots/"+ballot.ID+"/close", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("close status %d", rec.Code)
	}
	decodeBody(t, rec, &ballot)
	if ballot.Status != dissent.BallotClosed || ballot.Results[1].Votes != 1 {
		t.Fatalf("close wrong: %+v", ballot)
	}
}

func TestCommitmentEndpoints(t *testing.T) {
	a := testAPI(t)

	rec := doJSON(t, a.mux, http.MethodPost, "/v1/commitments", map[string]any{
		"dissenter_id":  "dissenter-identity",
		"issue_id":      "issue-1",
		"position_hash": "deadbeef",
		"reveal_after":  time.Now().UTC().Add(-time.Minute).Format(time.RFC3339),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status %d: %s", rec.Code, rec.Body.String())
	}
	var c dissent.Commitment
	decodeBody(t, rec, &c)
	if !strings.HasSuffix(c.DissenterID, "...") {
		t.Fatalf("dissenter id not pseudonymized: %q", c.DissenterID)
	}

	rec = doJSON(t, a.mux, http.MethodPost, "/v1/commitments/"+c.ID+"/vote", map[string]any{
		"voter_id": "voter-1",
		"reveal":   true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("vote status %d: %s", rec.Code, rec.Body.String())
	}
	var outcome dissent.VoteOutcome
	decodeBody(t, rec, &outcome)
	if !outcome.Revealed {
		t.Fatalf("single reveal vote at majority threshold: %+v", outcome)
	}

	rec = doJSON(t, a.mux, http.MethodGet, "/v1/commitments/"+c.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status %d", rec.Code)
	}

	// Time-locked commitments reject votes with 403.
	rec = doJSON(t, a.mux, http.MethodPost, "/v1/commitments", map[string]any{
		"dissenter_id":  "dissenter-2",
		"issue_id":      "issue-2",
		"position_hash": "cafe",
		"reveal_after":  time.Now().UTC().Add(time.Hour).Format(time.RFC3339),
	})
	var locked dissent.Commitment
	decodeBody(t, rec, &locked)
	rec = doJSON(t, a.mux, http.MethodPost, "/v1/commitments/"+locked.ID+"/vote", map[string]any{
		"voter_id": "voter-1",
		"reveal":   true,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("time-locked vote status %d", rec.Code)
	}
}

func TestAuditEndpoints(t *testing.T) {
	a := testAPI(t)

	for i := 0; i < 3; i++ {
		a.audit(context.Background(), audit.Entry{
			ActorID:   "owner-1",
			ActorType: vault.ActorOwner,
			Action:    vault.ActionResourceAccessed,
			Plane:     vault.PlaneVault,
		})
	}

	rec := doJSON(t, a.mux, http.MethodGet, "/v1/audit/events?limit=2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("events status %d", rec.Code)
	}
	var list struct {
		Items []vault.AuditEvent `json:"items"`
		Count int                `json:"count"`
	}
	decodeBody(t, rec, &list)
	if list.Count != 2 || len(list.Items) != 2 {
		t.Fatalf("limit not applied: %+v", list)
	}

	rec = doJSON(t, a.mux, http.MethodGet, "/v1/audit/verify", nil)
	var res audit.VerifyResult
	decodeBody(t, rec, &res)
	if !res.Valid {
		t.Fatalf("fresh chain not valid: %+v", res)
	}

	rec = doJSON(t, a.mux, http.MethodGet, "/v1/audit/events?limit=zero", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status %d", rec.Code)
	}
}

func TestEnforceUnconfigured(t *testing.T) {
	a := testAPI(t)

	rec := doJSON(t, a.mux, http.MethodPost, "/v1/enforce/check", map[string]any{"vault_id": "vault-1"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("check status %d", rec.Code)
	}
	rec = doJSON(t, a.mux, http.MethodGet, "/v1/enforce/status", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status status %d", rec.Code)
	}
}

func TestGaugeEndpoint(t *testing.T) {
	a := testAPI(t)

	score := 0.3
	rec := doJSON(t, a.mux, http.MethodPost, "/v1/gauge/events", gauge.Event{
		ID:      "gauge_1",
		Source:  gauge.SourceSafety,
		Phase:   gauge.Phase,
		Type:    gauge.EventComplianceCheck,
		Insight: gauge.Insight{SafetyScore: &score},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var action gauge.Action
	decodeBody(t, rec, &action)
	if action.Action != gauge.ActionLockdown {
		t.Fatalf("action %q, want lockdown", action.Action)
	}

	rec = doJSON(t, a.mux, http.MethodPost, "/v1/gauge/events", map[string]any{"phase": "GAUGE"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing source status %d", rec.Code)
	}
}

func TestInvariantsEndpoint(t *testing.T) {
	a := testAPI(t)

	rec := doJSON(t, a.mux, http.MethodGet, "/v1/invariants", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var list struct {
		Items []invariantInfo `json:"items"`
		Count int             `json:"count"`
	}
	decodeBody(t, rec, &list)
	if list.Count != len(invariant.Catalog) {
		t.Fatalf("count %d, want %d", list.Count, len(invariant.Catalog))
	}
	if list.Items[0].ID != invariant.Inv01 {
		t.Fatalf("catalog not ordered: %+v", list.Items[0])
	}
	found := false
	for _, item := range list.Items {
		if item.ID == invariant.InvAI01 {
			found = true
			if item.Enforcement != invariant.EnforceBlock || item.Severity != invariant.SeverityCritical {
				t.Fatalf("INV-AI-01 posture wrong: %+v", item)
			}
		}
	}
	if !found {
		t.Fatal("INV-AI-01 missing from catalog listing")
	}
}

func TestDenialCarriesEnforcementPosture(t *testing.T) {
	a := testAPI(t)

	rec := doJSON(t, a.mux, http.MethodPost, "/v1/check/plane", map[string]string{
		"requesting_plane": "broadcast",
		"target_plane":     "pii",
	})
	var res decisionResponse
	decodeBody(t, rec, &res)
	if res.Valid {
		t.Fatal("broadcast->pii allowed")
	}
	if res.Enforcement != invariant.EnforceBlock || res.Severity != invariant.SeverityCritical {
		t.Fatalf("posture missing on denial: %+v", res)
	}

	// Allowed decisions carry no posture.
	rec = doJSON(t, a.mux, http.MethodPost, "/v1/check/plane", map[string]string{
		"requesting_plane": "vault",
		"target_plane":     "pii",
	})
	res = decisionResponse{}
	decodeBody(t, rec, &res)
	if !res.Valid || res.Enforcement != "" || res.Severity != "" {
		t.Fatalf("unexpected posture on allow: %+v", res)
	}

	rec = doJSON(t, a.mux, http.MethodPost, "/v1/check/aggregation", map[string]any{
		"result_count": 25,
	})
	var agg aggregationResponse
	decodeBody(t, rec, &agg)
	if agg.Valid || agg.Enforcement != invariant.EnforceBlock || agg.Severity != invariant.SeverityHigh {
		t.Fatalf("aggregation posture wrong: %+v", agg)
	}
}

func TestAccessDecisionEmitsInsight(t *testing.T) {
	a := testAPI(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := a.bus.Subscribe(ctx)

	rec := doJSON(t, a.mux, http.MethodPost, "/v1/check/access", map[string]any{
		"token":        "nope",
		"target_plane": "vault",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d", rec.Code)
	}

	select {
	case evt := <-events:
		if evt.Source != gauge.SourceVault || evt.Type != gauge.EventAccessAudit {
			t.Fatalf("wrong event: %+v", evt)
		}
		if evt.Insight.AccessCount != 1 || evt.Insight.AuditTrailSize != 1 {
			t.Fatalf("insight wrong: %+v", evt.Insight)
		}
		if evt.Insight.PrivacyScore != 1.0 {
			t.Fatalf("privacy score %v", evt.Insight.PrivacyScore)
		}
	default:
		t.Fatal("no insight event published")
	}
}

func TestConsentLifecycleEmitsInsight(t *testing.T) {
	a := testAPI(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := a.bus.Subscribe(ctx)

	rec := doJSON(t, a.mux, http.MethodPost, "/v1/consents", map[string]any{
		"requester_id": "researcher-1",
		"purpose":      "care coordination",
	})
	var created consent.Request
	decodeBody(t, rec, &created)

	select {
	case evt := <-events:
		if evt.Type != gauge.EventConsentReview || evt.Insight.ConsentsPending != 1 {
			t.Fatalf("request insight wrong: %+v", evt)
		}
	default:
		t.Fatal("no insight after consent request")
	}

	doJSON(t, a.mux, http.MethodPost, "/v1/consents/"+created.ID+"/grant", nil)
	select {
	case evt := <-events:
		if evt.Insight.ConsentsPending != 0 {
			t.Fatalf("grant insight wrong: %+v", evt)
		}
	default:
		t.Fatal("no insight after consent grant")
	}
}

// A chunked request reports no Content-Length; its body must still be
// honored.
func TestGrantConsentChunkedBody(t *testing.T) {
	a := testAPI(t)

	rec := doJSON(t, a.mux, http.MethodPost, "/v1/consents", map[string]any{
		"requester_id": "researcher-1",
		"purpose":      "care coordination",
	})
	var created consent.Request
	decodeBody(t, rec, &created)

	body := struct{ io.Reader }{strings.NewReader(`{"scope":"export"}`)}
	req := httptest.NewRequest(http.MethodPost, "/v1/consents/"+created.ID+"/grant", body)
	if req.ContentLength != -1 {
		t.Fatalf("ContentLength %d, want -1", req.ContentLength)
	}
	rec = httptest.NewRecorder()
	a.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("grant status %d: %s", rec.Code, rec.Body.String())
	}
	var granted consent.Request
	decodeBody(t, rec, &granted)
	if granted.Scope != "export" {
		t.Fatalf("scope %q, want export", granted.Scope)
	}
}
