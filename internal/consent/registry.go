// Package consent mediates request, approval, token issuance, verification
// and revocation for bounded advisory-content disclosure.
package consent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"vaultkit.org/internal/ids"
)

// Status is the lifecycle state of a consent request.
type Status string

const (
	StatusPending Status = "pending"
	StatusGranted Status = "granted"
	StatusRevoked Status = "revoked"
)

const (
	// DefaultValidity is the fixed window a request stays honorable.
	DefaultValidity = 24 * time.Hour

	// DefaultScope applies when a grant names no scope.
	DefaultScope = "read"

	tokenPrefix = "vkwc_"
)

var (
	ErrNotFound     = errors.New("consent: request not found")
	ErrInvalidState = errors.New("consent: invalid state")
	ErrInvalidInput = errors.New("consent: invalid input")
)

// Request is one consent record. The record persists for audit queries even
// after revocation; only the token is invalidated.
type Request struct {
	ID           string     `json:"id"`
	RequesterID  string     `json:"requester_id"`
	Purpose      string     `json:"purpose"`
	SubjectRefs  []string   `json:"subject_refs,omitempty"`
	Status       Status     `json:"status"`
	Scope        string     `json:"scope,omitempty"`
	ConsentToken string     `json:"consent_token,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	GrantedAt    *time.Time `json:"granted_at,omitempty"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
}

// Registry is the stateful consent store. State is constructor-injected;
// create one per process or per test, never shared implicitly.
type Registry struct {
	mu       sync.RWMutex
	requests map[string]*Request
	order    []string
	now      func() time.Time
	validity time.Duration
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the timestamp source (tests).
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithValidity overrides the request validity window.
func WithValidity(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.validity = d
		}
	}
}

// NewRegistry creates an empty consent registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		requests: make(map[string]*Request),
		now:      time.Now,
		validity: DefaultValidity,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Request creates a pending consent request with a fixed validity window.
func (r *Registry) Request(ctx context.Context, requesterID, purpose string, subjectRefs []string) (Request, error) {
	requesterID = strings.TrimSpace(requesterID)
	purpose = strings.TrimSpace(purpose)
	if requesterID == "" {
		return Request{}, fmt.Errorf("%w: requester_id is required", ErrInvalidInput)
	}
	if purpose == "" {
		return Request{}, fmt.Errorf("%w: purpose is required", ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	req := &Request{
		ID:          ids.Prefixed("consent"),
		RequesterID: requesterID,
		Purpose:     purpose,
		SubjectRefs: append([]string(nil), subjectRefs...),
		Status:      StatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(r.validity),
	}
	r.requests[req.ID] = req
	r.order = append(r.order, req.ID)
	return *req, nil
}

// GrantOptions enumerates every recognized grant option and its default.
type GrantOptions struct {
	// Scope of the issued token; empty selects DefaultScope.
	Scope string
}

// Grant transitions a pending request to granted and mints its single
// opaque token.
func (r *Registry) Grant(ctx context.Context, requestID string, opts GrantOptions) (Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[requestID]
	if !ok {
		return Request{}, fmt.Errorf("%w: %s", ErrNotFound, requestID)
	}
	if req.Status != StatusPending {
		return Request{}, fmt.Errorf("%w: request already %s", ErrInvalidState, req.Status)
	}

	scope := strings.TrimSpace(opts.Scope)
	if scope == "" {
		scope = DefaultScope
	}

	now := r.now().UTC()
	req.Status = StatusGranted
	req.Scope = scope
	req.ConsentToken = tokenPrefix + uuid.NewString()
	req.GrantedAt = &now
	return *req, nil
}

// Verification is the result of a token check. Invalid carries the reason;
// the distinction between not-found, expired and revoked stays observable.
type Verification struct {
	Valid       bool     `json:"valid"`
	Reason      string   `json:"reason,omitempty"`
	RequesterID string   `json:"requester_id,omitempty"`
	Purpose     string   `json:"purpose,omitempty"`
	Scope       string   `json:"scope,omitempty"`
	SubjectRefs []string `json:"subject_refs,omitempty"`
}

// VerifyToken checks a consent token. Expiry is evaluated here, at call
// time; nothing sweeps expired requests proactively. Revoked requests have
// a nulled token, so their tokens fail the scan.
func (r *Registry) VerifyToken(ctx context.Context, token string) Verification {
	if strings.TrimSpace(token) == "" {
		return Verification{Valid: false, Reason: "token not found"}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.order {
		req := r.requests[id]
		if req.ConsentToken == "" || req.ConsentToken != token {
			continue
		}
		if r.now().After(req.ExpiresAt) {
			return Verification{Valid: false, Reason: "token expired"}
		}
		return Verification{
			Valid:       true,
			RequesterID: req.RequesterID,
			Purpose:     req.Purpose,
			Scope:       req.Scope,
			SubjectRefs: append([]string(nil), req.SubjectRefs...),
		}
	}
	return Verification{Valid: false, Reason: "token not found"}
}

// Revoke flips the request to revoked and nulls its token, so subsequent
// verification fails while the record remains queryable for audit.
func (r *Registry) Revoke(ctx context.Context, requestID string) (Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[requestID]
	if !ok {
		return Request{}, fmt.Errorf("%w: %s", ErrNotFound, requestID)
	}

	now := r.now().UTC()
	req.Status = StatusRevoked
	req.ConsentToken = ""
	req.RevokedAt = &now
	return *req, nil
}

// TrailFilter narrows the audit projection. Zero values match everything.
type TrailFilter struct {
	RequesterID string
	Status      Status
	Since       time.Time
}

// AuditTrail returns a read-only projection of consent records in creation
// order. Never mutates state.
func (r *Registry) AuditTrail(ctx context.Context, f TrailFilter) []Request {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Request, 0, len(r.order))
	for _, id := range r.order {
		req := r.requests[id]
		if f.RequesterID != "" && req.RequesterID != f.RequesterID {
			continue
		}
		if f.Status != "" && req.Status != f.Status {
			continue
		}
		if !f.Since.IsZero() && !req.CreatedAt.After(f.Since) {
			continue
		}
		out = append(out, *req)
	}
	return out
}

// Pending counts requests still awaiting a decision.
func (r *Registry) Pending(ctx context.Context) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, req := range r.requests {
		if req.Status == StatusPending {
			n++
		}
	}
	return n
}
