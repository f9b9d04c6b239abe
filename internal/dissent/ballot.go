package dissent

import (
	"fmt"
	"strings"
	"time"

	"vaultkit.org/internal/ids"
)

// BallotStatus is the state of an anonymous ballot. Closing is one-way.
type BallotStatus string

const (
	BallotOpen   BallotStatus = "open"
	BallotClosed BallotStatus = "closed"
)

// BallotVote is one hashed voter's choice. The hashing scheme is the
// caller's; this store keys duplicate detection on strict equality.
type BallotVote struct {
	VoterHash   string    `json:"voter_hash"`
	OptionIndex int       `json:"option_index"`
	Timestamp   time.Time `json:"timestamp"`
}

// OptionTally is the per-option count computed at close time.
type OptionTally struct {
	Option string `json:"option"`
	Votes  int    `json:"votes"`
}

// Ballot is a multi-option anonymous vote on an issue. Results are only
// populated on close; counts are not maintained incrementally.
type Ballot struct {
	ID        string        `json:"id"`
	IssueID   string        `json:"issue_id"`
	Options   []string      `json:"options"`
	Votes     []BallotVote  `json:"votes"`
	Status    BallotStatus  `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	ClosedAt  *time.Time    `json:"closed_at,omitempty"`
	Results   []OptionTally `json:"results,omitempty"`
}

// CreateBallot opens a ballot with a fixed option list.
func (e *Engine) CreateBallot(issueID string, options []string) (Ballot, error) {
	if strings.TrimSpace(issueID) == "" {
		return Ballot{}, fmt.Errorf("%w: issue_id is required", ErrInvalidInput)
	}
	if len(options) < 2 {
		return Ballot{}, fmt.Errorf("%w: ballot needs at least 2 options", ErrInvalidInput)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	b := &Ballot{
		ID:        ids.Prefixed("ballot"),
		IssueID:   issueID,
		Options:   append([]string(nil), options...),
		Status:    BallotOpen,
		CreatedAt: e.now().UTC(),
	}
	e.ballots[b.ID] = b
	e.order = append(e.order, b.ID)
	return copyBallot(b), nil
}

// CastVote records a hashed voter's choice. A voter hash may cast at most
// one vote per ballot. Returns the running count of votes cast.
func (e *Engine) CastVote(ballotID, voterHash string, optionIndex int) (int, error) {
	if strings.TrimSpace(voterHash) == "" {
		return 0, fmt.Errorf("%w: voter_hash is required", ErrInvalidInput)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.ballots[ballotID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, ballotID)
	}
	if b.Status != BallotOpen {
		return 0, fmt.Errorf("%w: ballot already %s", ErrInvalidState, b.Status)
	}
	if optionIndex < 0 || optionIndex >= len(b.Options) {
		return 0, fmt.Errorf("%w: option index %d out of range", ErrInvalidInput, optionIndex)
	}
	for _, v := range b.Votes {
		if v.VoterHash == voterHash {
			return 0, ErrDuplicateVote
		}
	}

	b.Votes = append(b.Votes, BallotVote{VoterHash: voterHash, OptionIndex: optionIndex, Timestamp: e.now().UTC()})
	return len(b.Votes), nil
}

// CloseBallot closes the ballot and tallies per-option counts. Closing an
// already-closed ballot is an idempotent no-op returning the stored tally.
func (e *Engine) CloseBallot(ballotID string) (Ballot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.ballots[ballotID]
	if !ok {
		return Ballot{}, fmt.Errorf("%w: %s", ErrNotFound, ballotID)
	}
	if b.Status == BallotClosed {
		return copyBallot(b), nil
	}

	tally := make([]OptionTally, len(b.Options))
	for i, opt := range b.Options {
		tally[i] = OptionTally{Option: opt}
	}
	for _, v := range b.Votes {
		tally[v.OptionIndex].Votes++
	}

	now := e.now().UTC()
	b.Status = BallotClosed
	b.ClosedAt = &now
	b.Results = tally
	return copyBallot(b), nil
}

// GetBallot returns a copy of the stored ballot.
func (e *Engine) GetBallot(ballotID string) (Ballot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	b, ok := e.ballots[ballotID]
	if !ok {
		return Ballot{}, fmt.Errorf("%w: %s", ErrNotFound, ballotID)
	}
	return copyBallot(b), nil
}

func copyBallot(b *Ballot) Ballot {
	out := *b
	out.Options = append([]string(nil), b.Options...)
	out.Votes = append([]BallotVote(nil), b.Votes...)
	out.Results = append([]OptionTally(nil), b.Results...)
	return out
}
