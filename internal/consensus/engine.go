package consensus

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"riskcore/internal/config"
	"riskcore/internal/logger"
	"riskcore/internal/scheduler"
	"riskcore/internal/types"
)

// Proposal statuses. A proposal that reaches its deadline unresolved is
// rejected; there is no separate timed-out status.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// Proposal is one trade put to a vote. The proposer is excluded from its
// own tally.
type Proposal struct {
	ID         string            `json:"id"`
	ProposerID string            `json:"proposer_id"`
	Intent     types.OrderIntent `json:"intent"`
	Rationale  string            `json:"rationale,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
}

// Vote is one agent's current position on a proposal. Re-voting replaces
// the previous vote, last write wins.
type Vote struct {
	VoterID string    `json:"voter_id"`
	Approve bool      `json:"approve"`
	Comment string    `json:"comment,omitempty"`
	CastAt  time.Time `json:"cast_at"`
}

// Resolution is the final or current tally of a proposal.
type Resolution struct {
	ProposalID   string    `json:"proposal_id"`
	Status       string    `json:"status"`
	Approvals    int       `json:"approvals"`
	Rejections   int       `json:"rejections"`
	ApproveRatio float64   `json:"approve_ratio"`
	Votes        []Vote    `json:"votes"`
	ResolvedAt   time.Time `json:"resolved_at,omitempty"`
}

// resolvedRetention bounds how long finished proposals stay queryable.
const resolvedRetention = 10 * time.Minute

type proposalState struct {
	proposal Proposal
	votes    map[string]Vote
}

type resolvedState struct {
	proposal   Proposal
	resolution Resolution
}

// Engine gathers votes on trade proposals and resolves each exactly once:
// either on the vote that pushes the tally over the threshold, or at the
// deadline, whichever an access observes first. Approved proposals fire
// the OnApproved callback.
type Engine struct {
	cfg config.ConsensusConfig

	mu       sync.Mutex
	pending  map[string]*proposalState
	resolved map[string]*resolvedState

	onApproved func(Proposal, Resolution)
	nowFn      func() time.Time
}

func NewEngine(cfg config.ConsensusConfig) *Engine {
	return &Engine{
		cfg:      cfg,
		pending:  make(map[string]*proposalState),
		resolved: make(map[string]*resolvedState),
		nowFn:    time.Now,
	}
}

// SetApprovedHandler registers the callback fired once per approved
// proposal. Must be set before proposals start arriving.
func (e *Engine) SetApprovedHandler(fn func(Proposal, Resolution)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onApproved = fn
}

// RegisterProposal opens a proposal for voting and returns its ID.
func (e *Engine) RegisterProposal(p Proposal) (Proposal, error) {
	if strings.TrimSpace(p.ProposerID) == "" {
		return Proposal{}, fmt.Errorf("consensus: proposer id required")
	}
	if !p.Intent.Side.Valid() {
		return Proposal{}, fmt.Errorf("consensus: intent side %q invalid", p.Intent.Side)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.pending[p.ID]; dup {
		return Proposal{}, fmt.Errorf("consensus: proposal %s already registered", p.ID)
	}
	if _, dup := e.resolved[p.ID]; dup {
		return Proposal{}, fmt.Errorf("consensus: proposal %s already resolved", p.ID)
	}

	now := e.nowFn()
	p.CreatedAt = now
	p.ExpiresAt = now.Add(time.Duration(e.cfg.TimeoutSeconds) * time.Second)
	e.pending[p.ID] = &proposalState{
		proposal: p,
		votes:    make(map[string]Vote),
	}
	logger.Infof("Proposal %s registered by %s: %s %s (expires %s)",
		p.ID, p.ProposerID, p.Intent.Side, p.Intent.Symbol, p.ExpiresAt.Format(time.RFC3339))
	return p, nil
}

// CastVote records a vote and returns the tally afterwards. The proposer's
// own vote is discarded; a repeat vote from the same agent replaces the
// earlier one.
func (e *Engine) CastVote(proposalID, voterID string, approve bool, comment string) (Resolution, error) {
	voterID = strings.TrimSpace(voterID)
	if voterID == "" {
		return Resolution{}, fmt.Errorf("consensus: voter id required")
	}

	e.mu.Lock()
	state, ok := e.pending[proposalID]
	if !ok {
		if done, was := e.resolved[proposalID]; was {
			res := done.resolution
			e.mu.Unlock()
			return res, nil
		}
		e.mu.Unlock()
		return Resolution{}, fmt.Errorf("consensus: proposal %s not found", proposalID)
	}

	// A vote landing past the deadline resolves the proposal on the tally
	// it had when time ran out; the late vote itself is not counted.
	if now := e.nowFn(); !now.Before(state.proposal.ExpiresAt) {
		res, approved := e.resolveDeadlineLocked(state)
		proposal := state.proposal
		handler := e.onApproved
		e.mu.Unlock()
		if approved && handler != nil {
			handler(proposal, res)
		}
		return res, nil
	}

	if voterID == state.proposal.ProposerID {
		res := e.tallyLocked(state, StatusPending)
		e.mu.Unlock()
		logger.Warnf("Proposal %s: proposer %s cannot vote on own proposal, ignored", proposalID, voterID)
		return res, nil
	}

	state.votes[voterID] = Vote{
		VoterID: voterID,
		Approve: approve,
		Comment: comment,
		CastAt:  e.nowFn(),
	}

	res := e.tallyLocked(state, StatusPending)
	if len(state.votes) >= e.cfg.MinVotes && e.thresholdMet(res.ApproveRatio) {
		res = e.resolveLocked(state, StatusApproved)
		proposal := state.proposal
		handler := e.onApproved
		e.mu.Unlock()
		if handler != nil {
			handler(proposal, res)
		}
		return res, nil
	}
	e.mu.Unlock()
	return res, nil
}

// Get returns a proposal with its current tally. A pending proposal found
// past its deadline is resolved on the spot rather than waiting for the
// next sweep.
func (e *Engine) Get(proposalID string) (Proposal, Resolution, error) {
	e.mu.Lock()
	if state, ok := e.pending[proposalID]; ok {
		if now := e.nowFn(); !now.Before(state.proposal.ExpiresAt) {
			res, approved := e.resolveDeadlineLocked(state)
			proposal := state.proposal
			handler := e.onApproved
			e.mu.Unlock()
			if approved && handler != nil {
				handler(proposal, res)
			}
			return proposal, res, nil
		}
		p, res := state.proposal, e.tallyLocked(state, StatusPending)
		e.mu.Unlock()
		return p, res, nil
	}
	if done, ok := e.resolved[proposalID]; ok {
		p, res := done.proposal, done.resolution
		e.mu.Unlock()
		return p, res, nil
	}
	e.mu.Unlock()
	return Proposal{}, Resolution{}, fmt.Errorf("consensus: proposal %s not found", proposalID)
}

// Pending lists open proposals, oldest first.
func (e *Engine) Pending() []Proposal {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Proposal, 0, len(e.pending))
	for _, state := range e.pending {
		out = append(out, state.proposal)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// CleanupExpired resolves every proposal past its deadline and prunes old
// resolved entries. A timed-out proposal that gathered a passing tally is
// approved; anything else, including zero votes, is rejected.
func (e *Engine) CleanupExpired() {
	now := e.nowFn()

	type approval struct {
		proposal   Proposal
		resolution Resolution
	}
	var approvals []approval

	e.mu.Lock()
	handler := e.onApproved
	for id, state := range e.pending {
		if now.Before(state.proposal.ExpiresAt) {
			continue
		}
		res, approved := e.resolveDeadlineLocked(state)
		logger.Infof("Proposal %s timed out: %s (%d/%d approvals)", id, res.Status, res.Approvals, len(res.Votes))
		if approved {
			approvals = append(approvals, approval{proposal: state.proposal, resolution: res})
		}
	}
	for id, done := range e.resolved {
		if now.Sub(done.resolution.ResolvedAt) > resolvedRetention {
			delete(e.resolved, id)
		}
	}
	e.mu.Unlock()

	if handler != nil {
		for _, a := range approvals {
			handler(a.proposal, a.resolution)
		}
	}
}

// Run drives the expiry sweeper until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	interval := time.Duration(e.cfg.SweepIntervalSeconds) * time.Second
	sched := scheduler.NewIntervalScheduler(ctx, "consensus-sweeper", interval)
	sched.Start(e.CleanupExpired)
}

// thresholdMet compares tallies at whole-percent precision, so a 2/3 vote
// (66.67%) clears a threshold written as 0.67.
func (e *Engine) thresholdMet(ratio float64) bool {
	return math.Round(ratio*100) >= math.Round(e.cfg.Threshold*100)
}

// resolveDeadlineLocked finalizes a proposal whose deadline has passed:
// approved when the tally already met quorum and threshold, rejected
// otherwise.
func (e *Engine) resolveDeadlineLocked(state *proposalState) (Resolution, bool) {
	tally := e.tallyLocked(state, StatusPending)
	status := StatusRejected
	if len(state.votes) >= e.cfg.MinVotes && e.thresholdMet(tally.ApproveRatio) {
		status = StatusApproved
	}
	return e.resolveLocked(state, status), status == StatusApproved
}

func (e *Engine) tallyLocked(state *proposalState, status string) Resolution {
	votes := make([]Vote, 0, len(state.votes))
	approvals := 0
	for _, v := range state.votes {
		votes = append(votes, v)
		if v.Approve {
			approvals++
		}
	}
	sort.Slice(votes, func(i, j int) bool { return votes[i].VoterID < votes[j].VoterID })

	ratio := 0.0
	if len(votes) > 0 {
		ratio = float64(approvals) / float64(len(votes))
	}
	return Resolution{
		ProposalID:   state.proposal.ID,
		Status:       status,
		Approvals:    approvals,
		Rejections:   len(votes) - approvals,
		ApproveRatio: ratio,
		Votes:        votes,
	}
}

// resolveLocked finalizes a proposal exactly once: the pending entry moves
// to the resolved map in the same critical section, so a concurrent vote
// can never resolve it a second time.
func (e *Engine) resolveLocked(state *proposalState, status string) Resolution {
	res := e.tallyLocked(state, status)
	res.ResolvedAt = e.nowFn()
	delete(e.pending, state.proposal.ID)
	e.resolved[state.proposal.ID] = &resolvedState{
		proposal:   state.proposal,
		resolution: res,
	}
	return res
}
