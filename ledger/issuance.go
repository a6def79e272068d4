// Copyright 2026 The EdgeCoder Authors
// This file is part of the EdgeCoder library.
//
// The EdgeCoder library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package ledger

import (
	"sync"

	"github.com/codyrs82/edgecoder/internal/xerr"
)

// EpochState is one of spec.md §3.6's issuance epoch states.
type EpochState string

const (
	EpochProposed    EpochState = "proposed"
	EpochVoting      EpochState = "voting"
	EpochCommitted   EpochState = "committed"
	EpochCheckpointed EpochState = "checkpointed"
	EpochAnchored    EpochState = "anchored"
	EpochStalled     EpochState = "stalled"
)

// Proposal is one coordinator's computed per-account earn amounts for the
// window (spec.md §4.3 step 1).
type Proposal struct {
	CoordinatorID string
	Amounts       map[string]float64 // accountId -> credits earned
	Signature     []byte
}

// Vote is a coordinator's agreement (or counter-proposal) on a proposal
// (spec.md §4.3 step 2).
type Vote struct {
	CoordinatorID string
	ApprovesID    string // coordinatorId of the proposal being approved
	Signature     []byte
}

// Commit is the result once quorum is reached (spec.md §4.3 step 3).
type Commit struct {
	ApprovedProposalID string
	Amounts            map[string]float64
	Voters             []string
}

// Checkpoint packages the post-commit chain head for external anchoring
// (spec.md §4.3 step 4).
type Checkpoint struct {
	ChainHead string
	AnchorRef string
}

// Epoch is one issuance window's full lifecycle state.
type Epoch struct {
	mu            sync.Mutex
	EpochID       string
	WindowStartMs int64
	WindowEndMs   int64
	Proposals     map[string]Proposal
	Votes         map[string]Vote
	State         EpochState
	Commit        *Commit
	Checkpoint    *Checkpoint
}

func NewEpoch(epochID string, windowStartMs, windowEndMs int64) *Epoch {
	return &Epoch{
		EpochID:       epochID,
		WindowStartMs: windowStartMs,
		WindowEndMs:   windowEndMs,
		Proposals:     make(map[string]Proposal),
		Votes:         make(map[string]Vote),
		State:         EpochProposed,
	}
}

// AddProposal records a coordinator's proposal and advances to Voting.
func (e *Epoch) AddProposal(p Proposal) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.State != EpochProposed && e.State != EpochVoting {
		return xerr.Logical("epoch_closed", "epoch is no longer accepting proposals")
	}
	e.Proposals[p.CoordinatorID] = p
	e.State = EpochVoting
	return nil
}

// AddVote records a coordinator's vote.
func (e *Epoch) AddVote(v Vote) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.State != EpochVoting {
		return xerr.Logical("epoch_not_voting", "epoch is not accepting votes")
	}
	e.Votes[v.CoordinatorID] = v
	return nil
}

// TryCommit checks whether floor(approvedCoordinators/2)+1 matching votes
// have been collected for any single proposal (spec.md §4.3 step 3) and,
// if so, commits it.
func (e *Epoch) TryCommit(approvedCoordinators int) (*Commit, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.State != EpochVoting {
		return e.Commit, e.State == EpochCommitted || e.State == EpochCheckpointed || e.State == EpochAnchored
	}

	tally := make(map[string][]string) // proposalId -> voter ids
	for _, v := range e.Votes {
		tally[v.ApprovesID] = append(tally[v.ApprovesID], v.CoordinatorID)
	}
	quorum := approvedCoordinators/2 + 1
	for proposalID, voters := range tally {
		if len(voters) >= quorum {
			p, ok := e.Proposals[proposalID]
			if !ok {
				continue
			}
			e.Commit = &Commit{ApprovedProposalID: proposalID, Amounts: p.Amounts, Voters: voters}
			e.State = EpochCommitted
			return e.Commit, true
		}
	}
	return nil, false
}

// MarkStalledIfExpired transitions an epoch that never reached quorum
// within the voting window to Stalled (spec.md §4.3: "its earnings remain
// pending; the next epoch re-includes them").
func (e *Epoch) MarkStalledIfExpired(nowMs int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.State == EpochVoting && nowMs > e.WindowEndMs {
		e.State = EpochStalled
		return true
	}
	return false
}

// SetChainHead records the committed epoch's resulting chain head and
// advances the epoch to Checkpointed (spec.md §3.6), the state between a
// local commit and that checkpoint actually being pushed to an external
// anchor.
func (e *Epoch) SetChainHead(chainHead string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Checkpoint = &Checkpoint{ChainHead: chainHead}
	e.State = EpochCheckpointed
}

// SetAnchorRef records the handle returned by the anchor adapter once the
// checkpoint has actually been submitted, advancing Checkpointed to
// Anchored. Must be called after SetChainHead.
func (e *Epoch) SetAnchorRef(anchorRef string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Checkpoint == nil {
		e.Checkpoint = &Checkpoint{}
	}
	e.Checkpoint.AnchorRef = anchorRef
	e.State = EpochAnchored
}

func (e *Epoch) CurrentState() EpochState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.State
}
