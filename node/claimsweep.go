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
	"sync"
	"time"

	"github.com/codyrs82/edgecoder/mesh"
)

// claimSweeper resolves open gossip claim windows once their delay has
// elapsed (spec.md §4.2: the offering coordinator waits ClaimDelay after
// broadcasting task_offer, then picks a winner among every task_claim
// received in that window) and tells the losers via claim_rejected.
type claimSweeper struct {
	node *Node

	mu  sync.Mutex
	ctx context.Context
}

func newClaimSweeper(n *Node) *claimSweeper {
	return &claimSweeper{node: n, ctx: context.Background()}
}

// run just holds the task group's context so scheduleResolve's deferred
// goroutines stop when it's cancelled; it does no polling of its own,
// since every resolution is scheduled individually off an incoming
// task_claim (spec.md §4.2).
func (s *claimSweeper) run(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	<-ctx.Done()
}

// scheduleResolve waits delay past the first claim for taskID, then
// resolves the window and notifies every losing coordinator.
func (s *claimSweeper) scheduleResolve(taskID string, delay time.Duration) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		s.resolve(ctx, taskID)
	}()
}

func (s *claimSweeper) resolve(ctx context.Context, taskID string) {
	n := s.node
	winner, losers, ok := n.coord.ResolveOffer(taskID)
	if !ok {
		return
	}
	n.log.Debug("gossip claim window resolved", "taskId", taskID, "winnerAgentId", winner.AgentID, "winnerCoordinatorId", winner.CoordinatorID)

	if n.transport == nil {
		return
	}
	for _, loser := range losers {
		if loser.CoordinatorID == "" || loser.CoordinatorID == winner.CoordinatorID {
			continue
		}
		peer, ok := n.peers.Get(loser.CoordinatorID)
		if !ok {
			continue
		}
		payload := struct {
			TaskID  string `json:"taskId"`
			AgentID string `json:"agentId"`
		}{taskID, loser.AgentID}
		env, err := mesh.NewEnvelope(mesh.TypeClaimRejected, n.id, n.identityPublic(), 3, payload)
		if err != nil {
			continue
		}
		if err := n.sign(env); err != nil {
			continue
		}
		if err := n.transport.Send(ctx, peer, env); err != nil {
			n.log.Warn("claim_rejected delivery failed", "taskId", taskID, "peer", peer.ID, "err", err)
		}
	}
}
