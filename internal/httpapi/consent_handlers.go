package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"vaultkit.org/internal/audit"
	"vaultkit.org/internal/consent"
	"vaultkit.org/internal/gauge"
	"vaultkit.org/internal/obs"
	"vaultkit.org/internal/vault"
)

type createConsentRequest struct {
	RequesterID string   `json:"requester_id"`
	Purpose     string   `json:"purpose"`
	SubjectRefs []string `json:"subject_refs,omitempty"`
}

type grantConsentRequest struct {
	Scope string `json:"scope,omitempty"`
}

type verifyConsentRequest struct {
	Token string `json:"token"`
}

func (a *API) handleConsentsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createConsent(w, r)
	case http.MethodGet:
		a.listConsents(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
	}
}

func (a *API) handleConsentResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/consents/")
	id, verb, _ := strings.Cut(path, "/")
	if id == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch verb {
	case "grant":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.grantConsent(w, r, id)
	case "revoke":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.revokeConsent(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) createConsent(w http.ResponseWriter, r *http.Request) {
	var req createConsentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := a.consents.Request(r.Context(), req.RequesterID, req.Purpose, req.SubjectRefs)
	if err != nil {
		handleConsentError(w, r, err)
		return
	}

	obs.SetConsentsPending(a.consents.Pending(r.Context()))
	a.audit(r.Context(), audit.Entry{
		ActorID:    rec.RequesterID,
		ActorType:  vault.ActorSystem,
		Action:     vault.ActionGrantRequested,
		ResourceID: rec.ID,
		Plane:      vault.PlaneVault,
		Metadata:   map[string]any{"purpose": rec.Purpose},
	})
	a.emitInsight(r.Context(), gauge.EventConsentReview)

	w.Header().Set("Location", "/v1/consents/"+rec.ID)
	writeJSON(w, http.StatusCreated, rec)
}

func (a *API) grantConsent(w http.ResponseWriter, r *http.Request, id string) {
	// The body is optional; a chunked request still carries its scope.
	var req grantConsentRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errMissingBody) {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := a.consents.Grant(r.Context(), id, consent.GrantOptions{Scope: req.Scope})
	if err != nil {
		handleConsentError(w, r, err)
		return
	}

	obs.SetConsentsPending(a.consents.Pending(r.Context()))
	a.audit(r.Context(), audit.Entry{
		ActorID:    rec.RequesterID,
		ActorType:  vault.ActorSystem,
		Action:     vault.ActionGrantIssued,
		ResourceID: rec.ID,
		Plane:      vault.PlaneVault,
		Metadata:   map[string]any{"scope": rec.Scope},
	})
	a.emitInsight(r.Context(), gauge.EventConsentReview)
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) revokeConsent(w http.ResponseWriter, r *http.Request, id string) {
	rec, err := a.consents.Revoke(r.Context(), id)
	if err != nil {
		handleConsentError(w, r, err)
		return
	}

	obs.SetConsentsPending(a.consents.Pending(r.Context()))
	a.audit(r.Context(), audit.Entry{
		ActorID:    rec.RequesterID,
		ActorType:  vault.ActorSystem,
		Action:     vault.ActionGrantRevoked,
		ResourceID: rec.ID,
		Plane:      vault.PlaneVault,
	})
	a.emitInsight(r.Context(), gauge.EventConsentReview)
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleConsentVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req verifyConsentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a.consents.VerifyToken(r.Context(), req.Token))
}

func (a *API) listConsents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := consent.TrailFilter{
		RequesterID: q.Get("requester_id"),
		Status:      consent.Status(q.Get("status")),
	}
	if since := q.Get("since"); since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		filter.Since = ts
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": a.consents.AuditTrail(r.Context(), filter),
	})
}

func handleConsentError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, consent.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, consent.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, consent.ErrInvalidState):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
