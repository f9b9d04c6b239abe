// Package dissent stores time-locked position commitments and anonymous
// multi-option ballots, both gated by configurable reveal thresholds. The
// real position never enters this package: commitments hold an opaque
// pre-hashed digest and a pseudonymized dissenter id only.
package dissent

import (
	"errors"
	"sync"
	"time"
)

// Reveal threshold presets: the minimum fraction of "reveal" votes among
// all votes cast required to unlock a commitment.
const (
	ThresholdUnanimous     = 1.0
	ThresholdSupermajority = 0.67
	ThresholdMajority      = 0.5
	ThresholdMinority      = 0.33
	ThresholdSingle        = 0.0
)

var (
	ErrNotFound      = errors.New("dissent: not found")
	ErrInvalidState  = errors.New("dissent: invalid state")
	ErrTimeLocked    = errors.New("dissent: time lock not expired")
	ErrDuplicateVote = errors.New("dissent: already voted")
	ErrInvalidInput  = errors.New("dissent: invalid input")
)

// Engine owns both registries. State is constructor-injected; every
// read-modify-write runs under the engine lock, so two concurrent calls
// cannot both observe locked/open and both win a once-only transition.
type Engine struct {
	mu          sync.RWMutex
	commitments map[string]*Commitment
	ballots     map[string]*Ballot
	order       []string
	now         func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the timestamp source (tests).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates an empty dissent/ballot engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		commitments: make(map[string]*Commitment),
		ballots:     make(map[string]*Ballot),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// TrailEntry is the anonymized audit projection of a commitment or ballot:
// no voter identities, no position digests.
type TrailEntry struct {
	ID        string    `json:"id"`
	IssueID   string    `json:"issue_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	VoteCount int       `json:"vote_count"`
}

// TrailFilter narrows the audit projection. Zero values match everything.
type TrailFilter struct {
	IssueID string
	Since   time.Time
}

// AuditTrail returns anonymized entries for commitments and ballots in
// creation order.
func (e *Engine) AuditTrail(f TrailFilter) []TrailEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]TrailEntry, 0, len(e.order))
	for _, id := range e.order {
		var entry TrailEntry
		if c, ok := e.commitments[id]; ok {
			entry = TrailEntry{ID: c.ID, IssueID: c.IssueID, Status: string(c.Status), CreatedAt: c.CreatedAt, VoteCount: len(c.Votes)}
		} else if b, ok := e.ballots[id]; ok {
			entry = TrailEntry{ID: b.ID, IssueID: b.IssueID, Status: string(b.Status), CreatedAt: b.CreatedAt, VoteCount: len(b.Votes)}
		} else {
			continue
		}
		if f.IssueID != "" && entry.IssueID != f.IssueID {
			continue
		}
		if !f.Since.IsZero() && !entry.CreatedAt.After(f.Since) {
			continue
		}
		out = append(out, entry)
	}
	return out
}
