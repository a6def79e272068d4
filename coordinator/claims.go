// Copyright 2026 The EdgeCoder Authors
// This file is part of the EdgeCoder library.
//
// The EdgeCoder library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package coordinator

import (
	"time"

	"github.com/codyrs82/edgecoder/mesh"
	"github.com/codyrs82/edgecoder/store"
)

// ClaimDelay reports the configured gossip claim window (spec.md §4.2),
// so the mesh-ingress task group knows how long to wait before resolving.
func (c *Coordinator) ClaimDelay() time.Duration {
	return c.cfg.ClaimDelay
}

// OfferSentAt returns the local timestamp (ms) this coordinator broadcast
// a task_offer for taskID, used to compute ElapsedSinceOffer on an
// incoming task_claim (spec.md §4.2 "gossip claim delay").
func (c *Coordinator) OfferSentAt(taskID string) (int64, bool) {
	c.claimsMu.Lock()
	defer c.claimsMu.Unlock()
	ms, ok := c.offerSentMs[taskID]
	return ms, ok
}

// BestLocalClaim picks this coordinator's least-loaded locally registered
// agent capable of serving t, for replying to a remote peer's task_offer
// with our own task_claim (spec.md §4.2). Cost mirrors current load so the
// claim-delay tie-break in mesh.ClaimWindow.Resolve prefers idle agents.
func (c *Coordinator) BestLocalClaim(requiredModelSize float64) (mesh.Claim, bool) {
	agents, err := c.store.ListAgents()
	if err != nil {
		return mesh.Claim{}, false
	}
	var best *store.Agent
	for i := range agents {
		a := agents[i]
		if a.ActiveModelParamSize < requiredModelSize {
			continue
		}
		if a.CurrentLoad >= a.MaxConcurrentTasks {
			continue
		}
		if best == nil || a.CurrentLoad < best.CurrentLoad {
			best = &a
		}
	}
	if best == nil {
		return mesh.Claim{}, false
	}
	return mesh.Claim{AgentID: best.AgentID, CoordinatorID: c.id, Cost: float64(best.CurrentLoad)}, true
}

// AddRemoteClaim feeds a task_claim received over the mesh into the open
// claim window for taskID. Returns false if this coordinator never offered
// taskID (or the window already resolved), in which case the caller should
// not expect a resolution.
func (c *Coordinator) AddRemoteClaim(taskID string, claim mesh.Claim) bool {
	w, ok := c.ClaimWindow(taskID)
	if !ok {
		return false
	}
	if err := w.Add(claim); err != nil {
		c.log.Debug("gossip claim rejected", "taskId", taskID, "agentId", claim.AgentID, "err", err)
	}
	return true
}

// ResolveOffer finalizes the claim window for taskID once its delay has
// elapsed: it picks the winner, marks the task claimed locally if the
// winner is a remote coordinator's agent (removing it from this
// coordinator's own scheduler so it is never also handed out via
// PullTasks), and forgets the window. Local agents still win by competing
// through PullTasks as usual; this only intervenes when a remote claim
// would otherwise go unacted on.
func (c *Coordinator) ResolveOffer(taskID string) (winner mesh.Claim, losers []mesh.Claim, resolved bool) {
	c.claimsMu.Lock()
	w, ok := c.claims[taskID]
	if ok {
		delete(c.claims, taskID)
		delete(c.offerSentMs, taskID)
	}
	c.claimsMu.Unlock()
	if !ok {
		return mesh.Claim{}, nil, false
	}
	winner, losers, ok = w.Resolve()
	if !ok {
		return mesh.Claim{}, nil, false
	}
	if winner.CoordinatorID != "" && winner.CoordinatorID != c.id {
		if err := c.markClaimedByRemote(taskID, winner); err != nil {
			c.log.Warn("mark remote claim failed", "taskId", taskID, "err", err)
		}
	}
	return winner, losers, true
}

func (c *Coordinator) markClaimedByRemote(taskID string, winner mesh.Claim) error {
	return c.store.WithTaskLock(taskID, func() error {
		t, ok, err := c.store.GetTask(taskID)
		if err != nil {
			return err
		}
		if !ok || t.Status != store.TaskQueued {
			return nil
		}
		t.Status = store.TaskClaimed
		t.ClaimedBy = winner.CoordinatorID + "/" + winner.AgentID
		t.ClaimedAtMs = c.nowMs()
		if err := c.store.PutTask(t); err != nil {
			return err
		}
		c.scheduler.Remove(t.ProjectMeta.ProjectID, taskID)
		return nil
	})
}

// HandleClaimRejected is a best-effort local log of a remote offering
// coordinator's decision; this coordinator's own scheduler state is
// authoritative for any task it still owns, so no state change is required
// here (spec.md §4.2: only the offering coordinator's resolution is
// binding).
func (c *Coordinator) HandleClaimRejected(taskID, agentID string) {
	c.log.Debug("gossip claim lost", "taskId", taskID, "agentId", agentID)
}
