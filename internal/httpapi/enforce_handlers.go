package httpapi

import (
	"net/http"
	"strings"

	"vaultkit.org/internal/audit"
	"vaultkit.org/internal/vault"
)

type enforceCheckRequest struct {
	VaultID string `json:"vault_id"`
}

func (a *API) handleEnforceCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.enforcer == nil {
		writeError(w, r, http.StatusServiceUnavailable, "no enforcement service configured")
		return
	}
	var req enforceCheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.VaultID) == "" {
		writeError(w, r, http.StatusBadRequest, "vault_id is required")
		return
	}

	decision := a.enforcer.CheckAccess(r.Context(), req.VaultID)

	action := vault.ActionResourceAccessed
	meta := map[string]any{"delegated": true}
	if !decision.Allowed {
		action = vault.ActionAccessDenied
		meta["reason"] = decision.Reason
	}
	a.audit(r.Context(), audit.Entry{
		ActorID:    "enforcement-bridge",
		ActorType:  vault.ActorSystem,
		Action:     action,
		ResourceID: req.VaultID,
		Plane:      vault.PlaneVault,
		Metadata:   meta,
	})

	if err := a.enforcer.LogAccess(r.Context(), req.VaultID, decision.Allowed, meta); err != nil {
		_ = audit.LogEvent(r.Context(), "enforce.log_access.failed", map[string]any{
			"vault_id": req.VaultID,
			"error":    err.Error(),
		})
	}

	writeJSON(w, http.StatusOK, decision)
}

func (a *API) handleEnforceStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.enforcer == nil {
		writeError(w, r, http.StatusServiceUnavailable, "no enforcement service configured")
		return
	}
	state, err := a.enforcer.Status(r.Context())
	if err != nil {
		writeError(w, r, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": state})
}
