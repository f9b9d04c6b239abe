package dissent

import (
	"fmt"
	"math"
	"strings"
	"time"

	"vaultkit.org/internal/ids"
)

// CommitmentStatus is the state of a time-locked commitment. The
// transition locked -> revealed happens exactly once and never reverses.
type CommitmentStatus string

const (
	CommitmentLocked   CommitmentStatus = "locked"
	CommitmentRevealed CommitmentStatus = "revealed"
)

// pseudonymPrefixLen is how much of the dissenter identity survives
// storage. This is pseudonymization, not anonymization.
const pseudonymPrefixLen = 8

// Vote is one voter's current position on revealing a commitment.
type Vote struct {
	VoterID   string    `json:"voter_id"`
	Reveal    bool      `json:"vote"`
	Timestamp time.Time `json:"timestamp"`
}

// Commitment is a time-locked dissent position. PositionHash is an opaque
// digest supplied by the dissenter; the plain position is never held here.
type Commitment struct {
	ID           string           `json:"id"`
	DissenterID  string           `json:"dissenter_id"`
	IssueID      string           `json:"issue_id"`
	PositionHash string           `json:"position_hash"`
	CreatedAt    time.Time        `json:"created_at"`
	RevealAfter  time.Time        `json:"reveal_after"`
	Threshold    float64          `json:"threshold"`
	Status       CommitmentStatus `json:"status"`
	Votes        []Vote           `json:"votes"`
}

// CommitmentParams enumerates every recognized commitment option and its
// default. Threshold nil selects ThresholdMajority; an explicit 0.0 means
// any single party can reveal.
type CommitmentParams struct {
	DissenterID  string
	IssueID      string
	PositionHash string
	RevealAfter  time.Time
	Threshold    *float64
}

// CreateCommitment stores a new locked commitment. The dissenter identity
// is reduced to a fixed-length prefix before it touches the store.
func (e *Engine) CreateCommitment(p CommitmentParams) (Commitment, error) {
	if strings.TrimSpace(p.DissenterID) == "" {
		return Commitment{}, fmt.Errorf("%w: dissenter_id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(p.IssueID) == "" {
		return Commitment{}, fmt.Errorf("%w: issue_id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(p.PositionHash) == "" {
		return Commitment{}, fmt.Errorf("%w: position_hash is required", ErrInvalidInput)
	}
	threshold := ThresholdMajority
	if p.Threshold != nil {
		threshold = *p.Threshold
	}
	if threshold < 0 || threshold > 1 {
		return Commitment{}, fmt.Errorf("%w: threshold %v outside [0,1]", ErrInvalidInput, threshold)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	c := &Commitment{
		ID:           ids.Prefixed("zkd"),
		DissenterID:  pseudonymize(p.DissenterID),
		IssueID:      p.IssueID,
		PositionHash: p.PositionHash,
		CreatedAt:    e.now().UTC(),
		RevealAfter:  p.RevealAfter,
		Threshold:    threshold,
		Status:       CommitmentLocked,
	}
	e.commitments[c.ID] = c
	e.order = append(e.order, c.ID)
	return copyCommitment(c), nil
}

// VoteOutcome reports the state after a reveal vote.
type VoteOutcome struct {
	Revealed    bool    `json:"revealed"`
	Ratio       float64 `json:"ratio"`
	Threshold   float64 `json:"threshold"`
	VotesNeeded int     `json:"votes_needed"`
}

// VoteToReveal records or updates a voter's position (last vote per voter
// wins) and transitions the commitment to revealed once the reveal ratio
// reaches the threshold. While the time lock holds, no vote is recorded at
// all, preventing premature tallying.
func (e *Engine) VoteToReveal(commitmentID, voterID string, reveal bool) (VoteOutcome, error) {
	if strings.TrimSpace(voterID) == "" {
		return VoteOutcome{}, fmt.Errorf("%w: voter_id is required", ErrInvalidInput)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.commitments[commitmentID]
	if !ok {
		return VoteOutcome{}, fmt.Errorf("%w: %s", ErrNotFound, commitmentID)
	}
	if c.Status != CommitmentLocked {
		return VoteOutcome{}, fmt.Errorf("%w: commitment already %s", ErrInvalidState, c.Status)
	}
	if e.now().Before(c.RevealAfter) {
		return VoteOutcome{}, fmt.Errorf("%w: until %s", ErrTimeLocked, c.RevealAfter.UTC().Format(time.RFC3339))
	}

	upserted := false
	for i := range c.Votes {
		if c.Votes[i].VoterID == voterID {
			c.Votes[i].Reveal = reveal
			c.Votes[i].Timestamp = e.now().UTC()
			upserted = true
			break
		}
	}
	if !upserted {
		c.Votes = append(c.Votes, Vote{VoterID: voterID, Reveal: reveal, Timestamp: e.now().UTC()})
	}

	revealVotes := 0
	for _, v := range c.Votes {
		if v.Reveal {
			revealVotes++
		}
	}
	total := len(c.Votes)
	ratio := 0.0
	if total > 0 {
		ratio = float64(revealVotes) / float64(total)
	}

	if ratio >= c.Threshold {
		c.Status = CommitmentRevealed
		return VoteOutcome{Revealed: true, Ratio: ratio, Threshold: c.Threshold}, nil
	}

	needed := int(math.Ceil(c.Threshold*float64(total))) - revealVotes
	return VoteOutcome{Ratio: ratio, Threshold: c.Threshold, VotesNeeded: needed}, nil
}

// GetCommitment returns a copy of the stored commitment.
func (e *Engine) GetCommitment(commitmentID string) (Commitment, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.commitments[commitmentID]
	if !ok {
		return Commitment{}, fmt.Errorf("%w: %s", ErrNotFound, commitmentID)
	}
	return copyCommitment(c), nil
}

func copyCommitment(c *Commitment) Commitment {
	out := *c
	out.Votes = append([]Vote(nil), c.Votes...)
	return out
}

func pseudonymize(id string) string {
	runes := []rune(id)
	if len(runes) <= pseudonymPrefixLen {
		return id + "..."
	}
	return string(runes[:pseudonymPrefixLen]) + "..."
}
