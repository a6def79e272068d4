// Copyright 2026 The EdgeCoder Authors
// This file is part of the EdgeCoder library.
//
// The EdgeCoder library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package node

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codyrs82/edgecoder/internal/metrics"
	"github.com/codyrs82/edgecoder/ledger"
	"github.com/codyrs82/edgecoder/mesh"
)

// issuanceOrchestrator drives spec.md §4.3's epoch lifecycle: propose, vote,
// commit once quorum is reached, checkpoint. A Node participates in an
// epoch whether it started it or joined on the first issuance_proposal it
// saw for that epochId, so commits don't depend on every coordinator's
// local tickers firing at exactly the same moment.
type issuanceOrchestrator struct {
	node     *Node
	interval time.Duration

	mu     sync.Mutex
	epochs map[string]*ledger.Epoch
}

type issuanceProposalPayload struct {
	EpochID       string             `json:"epochId"`
	CoordinatorID string             `json:"coordinatorId"`
	WindowStartMs int64              `json:"windowStartMs"`
	WindowEndMs   int64              `json:"windowEndMs"`
	Amounts       map[string]float64 `json:"amounts"`
	Signature     []byte             `json:"signature"`
}

type issuanceVotePayload struct {
	EpochID       string `json:"epochId"`
	CoordinatorID string `json:"coordinatorId"`
	ApprovesID    string `json:"approvesId"`
	Signature     []byte `json:"signature"`
}

type issuanceCommitPayload struct {
	EpochID            string             `json:"epochId"`
	ApprovedProposalID string             `json:"approvedProposalId"`
	Amounts            map[string]float64 `json:"amounts"`
	Voters             []string           `json:"voters"`
}

type issuanceCheckpointPayload struct {
	EpochID   string `json:"epochId"`
	ChainHead string `json:"chainHead"`
	AnchorRef string `json:"anchorRef"`
}

func newIssuanceOrchestrator(n *Node, interval time.Duration) *issuanceOrchestrator {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &issuanceOrchestrator{node: n, interval: interval, epochs: make(map[string]*ledger.Epoch)}
}

func (o *issuanceOrchestrator) run(ctx context.Context) {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.startEpoch(ctx)
		}
	}
}

func (o *issuanceOrchestrator) epoch(epochID string, windowStartMs, windowEndMs int64) *ledger.Epoch {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.epochs[epochID]
	if !ok {
		e = ledger.NewEpoch(epochID, windowStartMs, windowEndMs)
		o.epochs[epochID] = e
	}
	return e
}

// reportState publishes e's current state as the only set gauge for
// epochID, clearing whichever state it previously held.
func (o *issuanceOrchestrator) reportState(epochID string, e *ledger.Epoch) {
	for _, s := range []ledger.EpochState{
		ledger.EpochProposed, ledger.EpochVoting, ledger.EpochCommitted,
		ledger.EpochCheckpointed, ledger.EpochAnchored, ledger.EpochStalled,
	} {
		metrics.IssuanceEpochState.WithLabelValues(epochID, string(s)).Set(0)
	}
	metrics.IssuanceEpochState.WithLabelValues(epochID, string(e.CurrentState())).Set(1)
}

// startEpoch computes this node's per-account earn proposal for the window
// just closed and broadcasts it (spec.md §4.3 step 1), then casts this
// node's own approving vote for it.
func (o *issuanceOrchestrator) startEpoch(ctx context.Context) {
	n := o.node
	now := time.Now().UnixMilli()
	windowStart := now - o.interval.Milliseconds()
	epochID := uuid.NewString()

	amounts := o.computeLocalEarnAmounts(windowStart, now)
	e := o.epoch(epochID, windowStart, now)

	sigPayload, err := json.Marshal(amounts)
	if err != nil {
		n.log.Warn("marshal issuance proposal amounts failed", "err", err)
		return
	}
	sig := n.identity.Sign(sigPayload)

	if err := e.AddProposal(ledger.Proposal{CoordinatorID: n.id, Amounts: amounts, Signature: sig}); err != nil {
		n.log.Warn("add own issuance proposal failed", "epochId", epochID, "err", err)
		return
	}
	o.reportState(epochID, e)

	proposal := issuanceProposalPayload{
		EpochID: epochID, CoordinatorID: n.id,
		WindowStartMs: windowStart, WindowEndMs: now,
		Amounts: amounts, Signature: sig,
	}
	o.broadcast(mesh.TypeIssuanceProposal, proposal)

	if err := e.AddVote(ledger.Vote{CoordinatorID: n.id, ApprovesID: n.id}); err != nil {
		n.log.Warn("add own issuance vote failed", "epochId", epochID, "err", err)
		return
	}
	o.broadcast(mesh.TypeIssuanceVote, issuanceVotePayload{EpochID: epochID, CoordinatorID: n.id, ApprovesID: n.id})

	o.tryCommit(ctx, epochID, e)
}

// computeLocalEarnAmounts sums every credit_transaction this coordinator's
// own chain recorded in [fromMs, toMs), by provider account (spec.md §4.3:
// "each coordinator proposes the per-account earnings it observed").
func (o *issuanceOrchestrator) computeLocalEarnAmounts(fromMs, toMs int64) map[string]float64 {
	n := o.node
	chain := n.engine.Chain()
	entries := chain.Range(0, int64(chain.Len()))
	amounts := make(map[string]float64)
	for _, entry := range entries {
		if entry.EventType != "credit_transaction" {
			continue
		}
		if entry.Timestamp < fromMs || entry.Timestamp >= toMs {
			continue
		}
		var tx ledger.CreditTransaction
		if err := json.Unmarshal(entry.Payload, &tx); err != nil {
			continue
		}
		amounts[tx.ProviderAccountID] += tx.Credits
	}
	return amounts
}

// handle feeds an issuance_* mesh envelope into the matching Epoch.
func (o *issuanceOrchestrator) handle(env *mesh.Envelope) error {
	n := o.node
	switch env.Type {
	case mesh.TypeIssuanceProposal:
		var p issuanceProposalPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		e := o.epoch(p.EpochID, p.WindowStartMs, p.WindowEndMs)
		if err := e.AddProposal(ledger.Proposal{CoordinatorID: p.CoordinatorID, Amounts: p.Amounts, Signature: p.Signature}); err != nil {
			return nil // late proposal after voting closed; not an error worth surfacing.
		}
		o.reportState(p.EpochID, e)
		if p.CoordinatorID == n.id {
			return nil
		}
		if err := e.AddVote(ledger.Vote{CoordinatorID: n.id, ApprovesID: p.CoordinatorID}); err != nil {
			return nil
		}
		o.broadcast(mesh.TypeIssuanceVote, issuanceVotePayload{EpochID: p.EpochID, CoordinatorID: n.id, ApprovesID: p.CoordinatorID})
		o.tryCommit(context.Background(), p.EpochID, e)
		return nil

	case mesh.TypeIssuanceVote:
		var v issuanceVotePayload
		if err := json.Unmarshal(env.Payload, &v); err != nil {
			return err
		}
		e := o.epoch(v.EpochID, 0, 0)
		if err := e.AddVote(ledger.Vote{CoordinatorID: v.CoordinatorID, ApprovesID: v.ApprovesID}); err != nil {
			return nil
		}
		o.reportState(v.EpochID, e)
		o.tryCommit(context.Background(), v.EpochID, e)
		return nil

	case mesh.TypeIssuanceCommit:
		var c issuanceCommitPayload
		if err := json.Unmarshal(env.Payload, &c); err != nil {
			return err
		}
		if err := n.engine.ApplyIssuance(c.EpochID, c.Amounts, time.Now().UnixMilli()); err != nil {
			n.log.Debug("issuance already applied", "epochId", c.EpochID, "err", err)
		}
		return nil

	case mesh.TypeIssuanceCheckpoint:
		var cp issuanceCheckpointPayload
		if err := json.Unmarshal(env.Payload, &cp); err != nil {
			return err
		}
		n.log.Info("issuance checkpoint observed", "epochId", cp.EpochID, "chainHead", cp.ChainHead, "anchorRef", cp.AnchorRef)
		return nil
	}
	return nil
}

// tryCommit checks quorum against every known mesh peer plus self, and on
// success applies the committed amounts locally, broadcasts issuance_commit,
// then checkpoints the resulting chain head (spec.md §4.3 steps 3-4).
func (o *issuanceOrchestrator) tryCommit(ctx context.Context, epochID string, e *ledger.Epoch) {
	n := o.node
	approvedCoordinators := len(n.peers.All()) + 1
	commit, ok := e.TryCommit(approvedCoordinators)
	if !ok {
		return
	}

	if err := n.engine.ApplyIssuance(epochID, commit.Amounts, time.Now().UnixMilli()); err != nil {
		n.log.Debug("issuance already applied locally", "epochId", epochID, "err", err)
	}
	o.broadcast(mesh.TypeIssuanceCommit, issuanceCommitPayload{
		EpochID: epochID, ApprovedProposalID: commit.ApprovedProposalID,
		Amounts: commit.Amounts, Voters: commit.Voters,
	})
	o.reportState(epochID, e)

	head := n.engine.Chain().Head()
	e.SetChainHead(head)
	o.broadcast(mesh.TypeIssuanceCheckpoint, issuanceCheckpointPayload{EpochID: epochID, ChainHead: head})
	o.reportState(epochID, e)

	// No AnchorAdapter is wired into Node (spec.md §1 scopes external
	// anchoring internals out); a concrete adapter would call
	// e.SetAnchorRef once Submit returns, advancing Checkpointed to
	// Anchored.
}

func (o *issuanceOrchestrator) broadcast(typ mesh.MessageType, payload any) {
	n := o.node
	if n.broadcaster == nil {
		return
	}
	env, err := mesh.NewEnvelope(typ, n.id, n.identityPublic(), 5, payload)
	if err != nil {
		n.log.Warn("build issuance envelope failed", "type", typ, "err", err)
		return
	}
	if err := n.sign(env); err != nil {
		n.log.Warn("sign issuance envelope failed", "type", typ, "err", err)
		return
	}
	n.broadcaster.Broadcast(n.ctx(), env)
}
