// Package audit maintains the tamper-evident event chain. Every event
// commits to the digest of its predecessor, so silent mutation of history
// is detectable by a single verification pass.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"vaultkit.org/internal/ids"
	"vaultkit.org/internal/vault"
)

// HashFn digests an audit event. It must be deterministic over the event's
// fields excluding Hash itself; production use requires collision resistance.
type HashFn func(vault.AuditEvent) string

// DefaultHash is sha256 over the canonical JSON of the event with its own
// Hash field cleared.
func DefaultHash(e vault.AuditEvent) string {
	e.Hash = ""
	data, err := json.Marshal(e)
	if err != nil {
		// Marshal of a plain struct with map[string]any metadata only fails
		// on non-serializable values; hash the error text so the chain still
		// breaks loudly instead of silently matching.
		data = []byte("marshal-error:" + err.Error())
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Entry is the caller-supplied portion of an audit event. The chain fills
// in id, timestamp and hash linkage.
type Entry struct {
	ActorID    string
	ActorType  vault.ActorType
	Action     vault.AuditAction
	ResourceID string
	Plane      vault.Plane
	Metadata   map[string]any

	// AI attribution; required policy for agent actions.
	PrincipalID string
	AgentModel  string
	Intent      string
}

var (
	ErrMissingActor  = errors.New("audit: actor id is required")
	ErrMissingAction = errors.New("audit: action is required")
)

// Store is an append-only, ordered audit event sequence. Appends must be
// serialized by the implementation: prev_hash linkage requires each new
// event to be hashed against the true previous tail.
type Store interface {
	Append(ctx context.Context, e Entry) (vault.AuditEvent, error)
	Events(ctx context.Context) ([]vault.AuditEvent, error)
	Len(ctx context.Context) (int, error)
}

// Chain implements Store in memory with a single-writer lock.
type Chain struct {
	mu     sync.RWMutex
	hash   HashFn
	now    func() time.Time
	events []vault.AuditEvent
}

var _ Store = (*Chain)(nil)

// Option configures a Chain.
type Option func(*Chain)

// WithHashFn replaces the default sha256 digest.
func WithHashFn(fn HashFn) Option {
	return func(c *Chain) {
		if fn != nil {
			c.hash = fn
		}
	}
}

// WithClock overrides the timestamp source (tests).
func WithClock(now func() time.Time) Option {
	return func(c *Chain) {
		if now != nil {
			c.now = now
		}
	}
}

// NewChain creates an empty chain.
func NewChain(opts ...Option) *Chain {
	c := &Chain{
		hash: DefaultHash,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Append links a new event to the current tail. The genesis event carries
// an empty prev_hash.
func (c *Chain) Append(ctx context.Context, e Entry) (vault.AuditEvent, error) {
	if e.ActorID == "" {
		return vault.AuditEvent{}, ErrMissingActor
	}
	if e.Action == "" {
		return vault.AuditEvent{}, ErrMissingAction
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	prevHash := ""
	if n := len(c.events); n > 0 {
		prevHash = c.hash(c.events[n-1])
	}

	event := vault.AuditEvent{
		ID:          ids.Prefixed("evt"),
		Timestamp:   c.now().UTC(),
		ActorID:     e.ActorID,
		ActorType:   e.ActorType,
		Action:      e.Action,
		ResourceID:  e.ResourceID,
		Plane:       e.Plane,
		Metadata:    e.Metadata,
		PrevHash:    prevHash,
		PrincipalID: e.PrincipalID,
		AgentModel:  e.AgentModel,
		Intent:      e.Intent,
	}
	event.Hash = c.hash(event)

	c.events = append(c.events, event)
	return event, nil
}

// Events returns a copy of the chain in append order.
func (c *Chain) Events(ctx context.Context) ([]vault.AuditEvent, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]vault.AuditEvent, len(c.events))
	copy(out, c.events)
	return out, nil
}

// Len returns the number of events on the chain.
func (c *Chain) Len(ctx context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.events), nil
}

// SelfVerify re-verifies the chain under its own hash function.
func (c *Chain) SelfVerify(ctx context.Context) VerifyResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Verify(c.events, c.hash)
}
