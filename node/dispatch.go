// Copyright 2026 The EdgeCoder Authors
// This file is part of the EdgeCoder library.
//
// The EdgeCoder library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package node composes a Coordinator, a Worker, and an inference facade
// into the runnable unit spec.md §9 calls for in place of the source's
// "every node runs everything" bootstrap: each collaborator is optional
// and independently startable, and the mesh-ingress task group here
// dispatches every message type, including the ones Coordinator.
// HandleEnvelope deliberately leaves to its caller (peer lifecycle, gossip
// claim arbitration, ordering-chain reconciliation, issuance epochs).
package node

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/codyrs82/edgecoder/mesh"
)

// peerAnnouncePayload mirrors the shape coordinator.Reaper broadcasts
// (map[string]string{"agentId", "status"}).
type peerAnnouncePayload struct {
	AgentID string `json:"agentId"`
	Status  string `json:"status"`
}

// Dispatcher implements coordinator.EnvelopeHandler, layering the message
// types a bare Coordinator doesn't own on top of it.
type Dispatcher struct {
	node *Node
}

func newDispatcher(n *Node) *Dispatcher {
	return &Dispatcher{node: n}
}

// HandleEnvelope type-switches on every mesh.MessageType (spec.md §3.3).
func (d *Dispatcher) HandleEnvelope(env *mesh.Envelope) error {
	switch env.Type {
	case mesh.TypeCapabilitySummary, mesh.TypePriceProposal, mesh.TypeTaskForward, mesh.TypeResultAnnounce:
		return d.node.coord.HandleEnvelope(env)

	case mesh.TypePeerAnnounce:
		return d.handlePeerAnnounce(env)

	case mesh.TypeQueueSummary:
		// Informational only: queue depth visibility across the mesh, not
		// required by any scheduling decision this node makes locally.
		d.node.log.Debug("queue_summary received", "from", env.SenderID)
		return nil

	case mesh.TypeTaskOffer:
		return d.handleTaskOffer(env)

	case mesh.TypeTaskClaim:
		return d.handleTaskClaim(env)

	case mesh.TypeClaimRejected:
		return d.handleClaimRejected(env)

	case mesh.TypeOrderingSnapshot:
		return d.handleOrderingSnapshot(env)

	case mesh.TypeBlacklistUpdate:
		d.node.log.Info("blacklist_update received", "from", env.SenderID)
		return nil

	case mesh.TypeIssuanceProposal, mesh.TypeIssuanceVote, mesh.TypeIssuanceCommit, mesh.TypeIssuanceCheckpoint:
		return d.node.issuance.handle(env)

	default:
		return fmt.Errorf("node: no handler for mesh message type %q", env.Type)
	}
}

func (d *Dispatcher) handlePeerAnnounce(env *mesh.Envelope) error {
	var p peerAnnouncePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return err
	}
	if p.Status == "stale" {
		d.node.log.Info("peer reported stale agent", "senderCoordinator", env.SenderID, "agentId", p.AgentID)
	}
	if peer, ok := d.node.peers.Get(env.SenderID); ok {
		peer.LastSeenMs = env.Timestamp
		d.node.peers.Upsert(peer)
	}
	return nil
}

// handleTaskOffer answers a remote coordinator's task_offer with our own
// task_claim if a local agent can serve it, sent privately back to the
// offering peer rather than broadcast (spec.md §4.2).
func (d *Dispatcher) handleTaskOffer(env *mesh.Envelope) error {
	var t struct {
		TaskID            string  `json:"taskId"`
		RequiredModelSize float64 `json:"requiredModelSize"`
	}
	if err := json.Unmarshal(env.Payload, &t); err != nil {
		return err
	}
	claim, ok := d.node.coord.BestLocalClaim(t.RequiredModelSize)
	if !ok {
		return nil
	}
	payload := struct {
		TaskID        string  `json:"taskId"`
		AgentID       string  `json:"agentId"`
		CoordinatorID string  `json:"coordinatorId"`
		Cost          float64 `json:"cost"`
	}{TaskID: t.TaskID, AgentID: claim.AgentID, CoordinatorID: claim.CoordinatorID, Cost: claim.Cost}

	claimEnv, err := mesh.NewEnvelope(mesh.TypeTaskClaim, d.node.id, d.node.identityPublic(), 3, payload)
	if err != nil {
		return err
	}
	if err := d.node.sign(claimEnv); err != nil {
		return err
	}
	peer, ok := d.node.peers.Get(env.SenderID)
	if !ok {
		return nil
	}
	return d.node.transport.Send(d.node.ctx(), peer, claimEnv)
}

// handleTaskClaim feeds an incoming claim into the open window for a task
// this node offered, then schedules its resolution once the claim delay
// elapses.
func (d *Dispatcher) handleTaskClaim(env *mesh.Envelope) error {
	var c struct {
		TaskID        string  `json:"taskId"`
		AgentID       string  `json:"agentId"`
		CoordinatorID string  `json:"coordinatorId"`
		Cost          float64 `json:"cost"`
	}
	if err := json.Unmarshal(env.Payload, &c); err != nil {
		return err
	}
	sentAt, ok := d.node.coord.OfferSentAt(c.TaskID)
	if !ok {
		return nil // not our offer, or already resolved
	}
	elapsed := time.Duration(env.Timestamp-sentAt) * time.Millisecond
	claim := mesh.Claim{AgentID: c.AgentID, CoordinatorID: c.CoordinatorID, Cost: c.Cost, ElapsedSinceOffer: elapsed}
	if !d.node.coord.AddRemoteClaim(c.TaskID, claim) {
		return nil
	}
	d.node.claimSweeper.scheduleResolve(c.TaskID, d.node.coord.ClaimDelay())
	return nil
}

func (d *Dispatcher) handleClaimRejected(env *mesh.Envelope) error {
	var c struct {
		TaskID  string `json:"taskId"`
		AgentID string `json:"agentId"`
	}
	if err := json.Unmarshal(env.Payload, &c); err != nil {
		return err
	}
	d.node.coord.HandleClaimRejected(c.TaskID, c.AgentID)
	return nil
}

func (d *Dispatcher) handleOrderingSnapshot(env *mesh.Envelope) error {
	var s struct {
		CoordinatorID string `json:"coordinatorId"`
		ChainHead     string `json:"chainHead"`
		ChainLength   int64  `json:"chainLength"`
	}
	if err := json.Unmarshal(env.Payload, &s); err != nil {
		return err
	}
	return d.node.reconciler.observe(s.CoordinatorID, s.ChainHead, s.ChainLength)
}
