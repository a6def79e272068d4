// Copyright 2026 The EdgeCoder Authors
// This file is part of the EdgeCoder library.
//
// The EdgeCoder library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package pricing

import (
	"sort"

	"github.com/codyrs82/edgecoder/mesh"
)

// RankCandidates implements spec.md §4.5's cross-coordinator routing rank:
// descending totalParamCapacity, ties broken by ascending avgLoad. Only
// coordinators with at least one agent serving model are candidates at all
// (mesh.FederatedCapabilities.ForModel already filters agentCount > 0).
func RankCandidates(avail map[string]mesh.ModelAvailability) []string {
	ids := make([]string, 0, len(avail))
	for id := range avail {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := avail[ids[i]], avail[ids[j]]
		if a.TotalParamCapacity != b.TotalParamCapacity {
			return a.TotalParamCapacity > b.TotalParamCapacity
		}
		if a.AvgLoad != b.AvgLoad {
			return a.AvgLoad < b.AvgLoad
		}
		return ids[i] < ids[j]
	})
	return ids
}

// ForwardTarget picks the top-ranked coordinator able to serve model, given
// the caller's federated capability view (spec.md §4.5 steps 1-2). Returns
// false if no coordinator currently advertises agents for model.
func ForwardTarget(fc *mesh.FederatedCapabilities, model string) (string, bool) {
	avail := fc.ForModel(model)
	ranked := RankCandidates(avail)
	if len(ranked) == 0 {
		return "", false
	}
	return ranked[0], true
}

// TaskForward is the payload of a task_forward envelope (spec.md §4.5 step
// 3). OriginatorID is the coordinator that received the task from its
// requester and must be routed the eventual result and credit settlement
// (step 4: "the forwarding coordinator becomes the originator").
type TaskForward struct {
	OriginatorID string `json:"originatorId"`
	TaskID       string `json:"taskId"`
	Kind         string `json:"kind"`
	Language     string `json:"language"`
	Input        string `json:"input"`
	TimeoutMs    int64  `json:"timeoutMs"`
	RequiredModel     string  `json:"requiredModel"`
	RequiredModelSize float64 `json:"requiredModelSize"`

	RequesterID        string `json:"requesterId"`
	RequesterAccountID string `json:"requesterAccountId"`
	BidTimestampMs     int64  `json:"bidTimestampMs"`
	RequesterSignature []byte `json:"requesterSignature"`
}

// TaskForwardResult is the payload of the result_announce the remote
// coordinator broadcasts to its fan-out peers, addressed to OriginatorID,
// once its agent completes the forwarded task.
type TaskForwardResult struct {
	OriginatorID        string  `json:"originatorId"`
	TaskID              string  `json:"taskId"`
	RemoteCoordinatorID string  `json:"remoteCoordinatorId"`
	ProviderID          string  `json:"providerId"`
	ProviderAccountID   string  `json:"providerAccountId"`
	ProviderPublicKey   []byte  `json:"providerPublicKey"`
	Success             bool    `json:"success"`
	Output              string  `json:"output"`
	CPUSeconds          float64 `json:"cpuSeconds"`
	Credits             float64 `json:"credits"`
	FailureReason       string  `json:"failureReason"`
	TxID                string  `json:"txId"`
	ProviderTxSignature []byte  `json:"providerTxSignature"`
}
