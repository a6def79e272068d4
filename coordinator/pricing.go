// Copyright 2026 The EdgeCoder Authors
// This file is part of the EdgeCoder library.
//
// The EdgeCoder library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package coordinator

import (
	"context"

	"github.com/codyrs82/edgecoder/internal/xerr"
	"github.com/codyrs82/edgecoder/ledger"
	"github.com/codyrs82/edgecoder/mesh"
	"github.com/codyrs82/edgecoder/pricing"
	"github.com/codyrs82/edgecoder/store"
)

// forwardTask sends a signed task_forward envelope naming this coordinator
// as originator, so the eventual result finds its way back (spec.md §4.5
// step 3-4).
func (c *Coordinator) forwardTask(targetCoordinatorID string, t store.Task) {
	payload := pricing.TaskForward{
		OriginatorID:       c.id,
		TaskID:             t.TaskID,
		Kind:               t.Kind,
		Language:           t.Language,
		Input:              t.Input,
		TimeoutMs:          t.TimeoutMs,
		RequiredModel:      t.RequiredModel,
		RequiredModelSize:  t.RequiredModelSize,
		RequesterID:        t.RequesterID,
		RequesterAccountID: t.RequesterAccountID,
		BidTimestampMs:     t.BidTimestampMs,
		RequesterSignature: t.RequesterSignature,
	}
	env, err := mesh.NewEnvelope(mesh.TypeTaskForward, c.id, c.identity.Public, 3, payload)
	if err != nil {
		c.log.Warn("build task_forward envelope failed", "taskId", t.TaskID, "err", err)
		return
	}
	if err := env.Sign(c.identity); err != nil {
		c.log.Warn("sign task_forward envelope failed", "taskId", t.TaskID, "err", err)
		return
	}
	c.broadcaster.Broadcast(context.Background(), env)
}

// AcceptForwardedTask implements the receiving side of spec.md §4.5 step 3:
// a remote coordinator's task_forward lands here and is enqueued into this
// coordinator's own fair-share queue under a synthetic local project, same
// as any locally submitted task, except its originator is remembered so the
// result can be routed home.
func (c *Coordinator) AcceptForwardedTask(fwd pricing.TaskForward) (store.Task, error) {
	t := store.Task{
		TaskID:             fwd.TaskID,
		Kind:               fwd.Kind,
		Language:           fwd.Language,
		Input:              fwd.Input,
		TimeoutMs:          fwd.TimeoutMs,
		ProjectMeta:        store.ProjectMeta{ProjectID: "federated:" + fwd.OriginatorID, ResourceClass: store.ResourceCPU},
		RequiredModel:      fwd.RequiredModel,
		RequiredModelSize:  fwd.RequiredModelSize,
		RequesterID:        fwd.RequesterID,
		RequesterAccountID: fwd.RequesterAccountID,
		BidTimestampMs:     fwd.BidTimestampMs,
		RequesterSignature: fwd.RequesterSignature,
		ForwardedTo:        fwd.OriginatorID,
	}
	return c.enqueueLocally(t)
}

// AnnounceForwardedResult implements spec.md §4.5 step 4 on the remote
// (provider-side) coordinator: once ReportResult completes a forwarded
// task, send the outcome back to the originator over a result_announce so
// it can settle credits and deliver the result to its own requester.
func (c *Coordinator) AnnounceForwardedResult(t store.Task, req ReportResultRequest, credits float64) {
	if c.broadcaster == nil || c.identity == nil || t.ForwardedTo == "" {
		return
	}
	agent, ok, err := c.store.GetAgent(req.AgentID)
	if err != nil || !ok {
		c.log.Warn("announce forwarded result: provider lookup failed", "taskId", t.TaskID, "err", err)
		return
	}
	payload := pricing.TaskForwardResult{
		OriginatorID:        t.ForwardedTo,
		TaskID:              t.TaskID,
		RemoteCoordinatorID: c.id,
		ProviderID:          req.AgentID,
		ProviderAccountID:   agent.AccountID,
		ProviderPublicKey:   agent.PublicKey,
		Success:             req.Success,
		Output:              req.Output,
		CPUSeconds:          req.CPUSeconds,
		Credits:             credits,
		FailureReason:       req.FailureReason,
		TxID:                req.TxID,
		ProviderTxSignature: req.ProviderTxSignature,
	}
	env, err := mesh.NewEnvelope(mesh.TypeResultAnnounce, c.id, c.identity.Public, 3, payload)
	if err != nil {
		c.log.Warn("build forwarded result_announce failed", "taskId", t.TaskID, "err", err)
		return
	}
	if err := env.Sign(c.identity); err != nil {
		c.log.Warn("sign forwarded result_announce failed", "taskId", t.TaskID, "err", err)
		return
	}
	c.broadcaster.Broadcast(context.Background(), env)
}

// HandleForwardedResult implements the originator side of spec.md §4.5 step
// 4: a remote coordinator's result_announce for a task this coordinator
// forwarded out. It completes the local task record and records the credit
// transaction crediting the remote provider's account, registering its
// public key (learned from the announce) so the dual-signature check in
// ledger.Engine.RecordTransaction can verify it locally.
func (c *Coordinator) HandleForwardedResult(res pricing.TaskForwardResult) error {
	var task store.Task
	err := c.store.WithTaskLock(res.TaskID, func() error {
		t, ok, err := c.store.GetTask(res.TaskID)
		if err != nil {
			return err
		}
		if !ok {
			return xerr.Logical("unknown_task", "forwarded task does not exist locally")
		}
		if t.ForwardedTo != res.RemoteCoordinatorID {
			return xerr.Logical("not_forwarded_to_sender", "result_announce sender does not match forward target")
		}
		t.CompletedAtMs = c.nowMs()
		if res.Success {
			t.Status = store.TaskCompleted
			t.Result = &store.TaskResult{Output: res.Output, CPUSeconds: res.CPUSeconds}
		} else {
			t.Status = store.TaskFailed
			t.FailureReason = res.FailureReason
		}
		if err := c.store.PutTask(t); err != nil {
			return err
		}
		task = t
		return nil
	})
	if err != nil {
		return err
	}
	if !res.Success {
		return nil
	}

	c.engine.RegisterAccountKey(res.ProviderAccountID, res.ProviderPublicKey)
	tx := ledger.CreditTransaction{
		TxID:               res.TxID,
		RequesterID:        task.RequesterID,
		ProviderID:         res.ProviderID,
		RequesterAccountID: task.RequesterAccountID,
		ProviderAccountID:  res.ProviderAccountID,
		Credits:            res.Credits,
		CPUSeconds:         res.CPUSeconds,
		TaskHash:           taskHash(task.Input),
		Timestamp:          task.BidTimestampMs,
		RequesterSignature: task.RequesterSignature,
		ProviderSignature:  res.ProviderTxSignature,
		Reason:             ledger.ReasonTaskPayment,
	}
	return c.engine.RecordTransaction(tx, c.nowMs())
}

// CapacitySnapshot summarizes this coordinator's own capability, the input
// to both its capability_summary gossip and its own price proposal.
type CapacitySnapshot struct {
	QueuedTasks   int
	TotalCapacity int
	IdleFraction  float64
}

func (c *Coordinator) capacitySnapshot() (CapacitySnapshot, error) {
	agents, err := c.store.ListAgents()
	if err != nil {
		return CapacitySnapshot{}, err
	}
	total := 0
	busy := 0
	for _, a := range agents {
		total += a.MaxConcurrentTasks
		if a.CurrentLoad > 0 {
			busy += a.CurrentLoad
		}
	}
	idle := 1.0
	if total > 0 {
		idle = 1 - float64(busy)/float64(total)
	}
	return CapacitySnapshot{
		QueuedTasks:   c.scheduler.PendingCount(),
		TotalCapacity: total,
		IdleFraction:  idle,
	}, nil
}

// ProposePrice computes this coordinator's price_proposal for
// resourceClass, records it in its own consensus window, and broadcasts it
// to the mesh (spec.md §4.5). Intended to be called on a periodic timer
// from the mesh-broadcast task group (spec.md §5).
func (c *Coordinator) ProposePrice(resourceClass store.ResourceClass) error {
	snap, err := c.capacitySnapshot()
	if err != nil {
		return err
	}
	price := pricing.Propose(c.priceCfg, snap.QueuedTasks, snap.TotalCapacity, snap.IdleFraction)
	proposal := pricing.Proposal{
		CoordinatorID: c.id,
		ResourceClass: resourceClass,
		Price:         price,
		TimestampMs:   c.nowMs(),
	}
	if c.priceWindow != nil {
		c.priceWindow.Record(proposal)
	}
	if c.broadcaster == nil || c.identity == nil {
		return nil
	}
	env, err := mesh.NewEnvelope(mesh.TypePriceProposal, c.id, c.identity.Public, 3, proposal)
	if err != nil {
		return err
	}
	if err := env.Sign(c.identity); err != nil {
		return err
	}
	c.broadcaster.Broadcast(context.Background(), env)
	return nil
}

// HandlePriceProposal ingests a remote coordinator's price_proposal
// (spec.md §4.5) into the consensus window.
func (c *Coordinator) HandlePriceProposal(p pricing.Proposal) error {
	if c.priceWindow == nil {
		return xerr.Logical("federation_disabled", "coordinator has no price window configured")
	}
	c.priceWindow.Record(p)
	return nil
}

// ConsensusPrice returns the network's current median price for
// resourceClass, if any proposals are available.
func (c *Coordinator) ConsensusPrice(resourceClass store.ResourceClass) (float64, bool) {
	if c.priceWindow == nil {
		return 0, false
	}
	return c.priceWindow.ConsensusPrice(resourceClass)
}

// FederatedModelAvailability answers GET /mesh/capabilities?model= (spec.md
// §6.1): the fresh per-coordinator availability for model.
func (c *Coordinator) FederatedModelAvailability(model string) map[string]mesh.ModelAvailability {
	if c.federated == nil {
		return map[string]mesh.ModelAvailability{}
	}
	return c.federated.ForModel(model)
}

// ApplyBLEBatch implements POST /credits/ble-sync (spec.md §4.4): ingests a
// batch of offline transactions a BLE device collected, deduplicating by
// txId so replaying the same batch twice is a no-op (spec.md §8
// idempotence law).
func (c *Coordinator) ApplyBLEBatch(txs []ledger.CreditTransaction) ledger.BLESyncResult {
	return c.engine.ApplyBLEBatch(txs, c.nowMs())
}
