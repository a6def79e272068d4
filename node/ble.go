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
	"time"

	"github.com/codyrs82/edgecoder/adapters"
	"github.com/codyrs82/edgecoder/ble"
)

// bleCollaborator drives the optional local-mesh task group of spec.md
// §4.4: advertise this node's capability over the platform BLEPort, route
// tasks to the cheapest nearby peer when the mesh/HTTP path is down, and
// buffer credit transactions recorded while offline for later sync through
// the same ApplyBLEBatch path POST /credits/ble-sync drives.
type bleCollaborator struct {
	node   *Node
	port   adapters.BLEPort
	router *ble.Router
	ledger *ble.OfflineLedger
}

func newBLECollaborator(n *Node, port adapters.BLEPort) *bleCollaborator {
	c := &bleCollaborator{node: n, port: port, router: ble.NewRouter(), ledger: ble.NewOfflineLedger()}
	port.OnTaskRequest(c.handleTaskRequest)
	return c
}

// handleTaskRequest answers a peer's GATT Task Request by running it
// through this node's own embedded Worker, the same execution path the
// mesh worker-pool task group uses.
func (c *bleCollaborator) handleTaskRequest(req adapters.BLETaskRequest) adapters.BLETaskResponse {
	n := c.node
	if n.worker == nil {
		return adapters.BLETaskResponse{TaskID: req.TaskID, Status: "failed"}
	}
	result, err := n.worker.Execute(context.Background(), req.TaskID, req.Kind, req.Language, req.Input)
	if err != nil {
		return adapters.BLETaskResponse{TaskID: req.TaskID, Status: "failed"}
	}
	return adapters.BLETaskResponse{
		TaskID: req.TaskID, Status: "completed",
		Output: result.Output, CPUSeconds: result.CPUSeconds, Signature: result.ProviderSignature,
	}
}

// run advertises and scans for the task group's lifetime, periodically
// flushing any offline-recorded transactions once the coordinator is
// reachable again (it always is here, since the BLE collaborator lives
// inside the same process as the coordinator it syncs into; a standalone
// agent-only binary would instead gate this on mesh/HTTP reachability).
func (c *bleCollaborator) run(ctx context.Context) {
	n := c.node
	if err := c.port.StartAdvertising(c.selfAdvertisement()); err != nil {
		n.log.Warn("ble advertising failed to start", "err", err)
	}
	defer func() {
		if err := c.port.StopAdvertising(); err != nil {
			n.log.Warn("ble advertising failed to stop", "err", err)
		}
	}()
	if err := c.port.StartScanning(); err != nil {
		n.log.Warn("ble scanning failed to start", "err", err)
	}

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.syncPending()
		}
	}
}

func (c *bleCollaborator) selfAdvertisement() adapters.BLEPeerInfo {
	n := c.node
	info := adapters.BLEPeerInfo{AgentID: n.workerAgentID(), DeviceType: "laptop"}
	if n.inference != nil {
		if models, err := n.inference.ListModels(context.Background()); err == nil && len(models) > 0 {
			info.Model = models[0].Name
			info.ModelParamSize = models[0].ParamSize
		}
	}
	return info
}

// dispatchOffline routes req to the cheapest nearby peer (spec.md §4.4's
// cost formula), for a caller that has already determined the mesh path is
// unavailable. It is exposed for an agent-mode Node's worker-pool fallback;
// this coordinator-mode build never calls it itself.
func (c *bleCollaborator) dispatchOffline(ctx context.Context, req adapters.BLETaskRequest) (adapters.BLETaskResponse, error) {
	peers := c.port.DiscoveredPeers()
	entries := make([]ble.PeerEntry, 0, len(peers))
	for _, p := range peers {
		entries = append(entries, ble.AdvertisementFromInfo(p))
	}
	best, err := c.router.Select(entries)
	if err != nil {
		return adapters.BLETaskResponse{}, err
	}
	return c.port.SendTaskRequest(ctx, best.AgentID, req)
}

func (c *bleCollaborator) syncPending() {
	n := c.node
	batch := c.ledger.ExportBatch()
	if len(batch.Transactions) == 0 {
		return
	}
	result := n.coord.ApplyBLEBatch(batch.Transactions)
	c.ledger.MarkSynced(result.Applied)
	c.ledger.Clear()
	n.log.Info("ble offline ledger synced", "applied", len(result.Applied), "skipped", len(result.Skipped))
}
