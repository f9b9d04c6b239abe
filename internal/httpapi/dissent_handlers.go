package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"vaultkit.org/internal/dissent"
)

type createCommitmentRequest struct {
	DissenterID  string   `json:"dissenter_id"`
	IssueID      string   `json:"issue_id"`
	PositionHash string   `json:"position_hash"`
	RevealAfter  string   `json:"reveal_after,omitempty"`
	Threshold    *float64 `json:"threshold,omitempty"`
}

type revealVoteRequest struct {
	VoterID string `json:"voter_id"`
	Reveal  bool   `json:"reveal"`
}

type createBallotRequest struct {
	IssueID string   `json:"issue_id"`
	Options []string `json:"options"`
}

type castVoteRequest struct {
	VoterHash   string `json:"voter_hash"`
	OptionIndex int    `json:"option_index"`
}

func (a *API) handleCommitmentsCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req createCommitmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	params := dissent.CommitmentParams{
		DissenterID:  req.DissenterID,
		IssueID:      req.IssueID,
		PositionHash: req.PositionHash,
		Threshold:    req.Threshold,
	}
	if req.RevealAfter != "" {
		ts, err := time.Parse(time.RFC3339, req.RevealAfter)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "reveal_after must be RFC3339")
			return
		}
		params.RevealAfter = ts
	}

	c, err := a.dissent.CreateCommitment(params)
	if err != nil {
		handleDissentError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/commitments/"+c.ID)
	writeJSON(w, http.StatusCreated, c)
}

func (a *API) handleCommitmentResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/commitments/")
	id, verb, _ := strings.Cut(path, "/")
	if id == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch verb {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		c, err := a.dissent.GetCommitment(id)
		if err != nil {
			handleDissentError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	case "vote":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		var req revealVoteRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		outcome, err := a.dissent.VoteToReveal(id, req.VoterID, req.Reveal)
		if err != nil {
			handleDissentError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, outcome)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleBallotsCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req createBallotRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	b, err := a.dissent.CreateBallot(req.IssueID, req.Options)
	if err != nil {
		handleDissentError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/ballots/"+b.ID)
	writeJSON(w, http.StatusCreated, b)
}

func (a *API) handleBallotResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/ballots/")
	id, verb, _ := strings.Cut(path, "/")
	if id == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch verb {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		b, err := a.dissent.GetBallot(id)
		if err != nil {
			handleDissentError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	case "vote":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		var req castVoteRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		count, err := a.dissent.CastVote(id, req.VoterHash, req.OptionIndex)
		if err != nil {
			handleDissentError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"votes": count})
	case "close":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		b, err := a.dissent.CloseBallot(id)
		if err != nil {
			handleDissentError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleDissentTrail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	q := r.URL.Query()
	filter := dissent.TrailFilter{IssueID: q.Get("issue_id")}
	if since := q.Get("since"); since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		filter.Since = ts
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": a.dissent.AuditTrail(filter),
	})
}

func handleDissentError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, dissent.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, dissent.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, dissent.ErrTimeLocked):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, dissent.ErrDuplicateVote), errors.Is(err, dissent.ErrInvalidState):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
