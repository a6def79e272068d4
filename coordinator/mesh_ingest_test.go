// Copyright 2026 The EdgeCoder Authors
// This file is part of the EdgeCoder library.
//
// The EdgeCoder library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package coordinator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codyrs82/edgecoder/mesh"
	"github.com/codyrs82/edgecoder/pricing"
	"github.com/codyrs82/edgecoder/store"
)

func envelopeFor(t *testing.T, typ mesh.MessageType, payload any) *mesh.Envelope {
	t.Helper()
	env, err := mesh.NewEnvelope(typ, "peer-x", nil, 3, payload)
	require.NoError(t, err)
	return env
}

func TestHandleEnvelopeCapabilitySummaryMergesFederation(t *testing.T) {
	c, _ := newFederatedTestCoordinator(t)
	env := envelopeFor(t, mesh.TypeCapabilitySummary, mesh.CapabilitySummary{
		CoordinatorID: "coord-9",
		ModelAvailability: map[string]mesh.ModelAvailability{
			"qwen:7b": {AgentCount: 1, TotalParamCapacity: 7, AvgLoad: 0},
		},
	})

	err := c.HandleEnvelope(env)
	require.NoError(t, err)

	avail := c.federated.ForModel("qwen:7b")
	require.Contains(t, avail, "coord-9")
}

func TestHandleEnvelopePriceProposalRecordsIntoWindow(t *testing.T) {
	c, _ := newFederatedTestCoordinator(t)
	env := envelopeFor(t, mesh.TypePriceProposal, pricing.Proposal{
		CoordinatorID: "coord-9", ResourceClass: store.ResourceCPU, Price: 4.0,
	})

	err := c.HandleEnvelope(env)
	require.NoError(t, err)

	price, ok := c.ConsensusPrice(store.ResourceCPU)
	require.True(t, ok)
	require.Equal(t, 4.0, price)
}

func TestHandleEnvelopeTaskForwardEnqueuesLocally(t *testing.T) {
	c, _ := newFederatedTestCoordinator(t)
	registerAgent(t, c, "a1", "acct-a1", 7)

	env := envelopeFor(t, mesh.TypeTaskForward, pricing.TaskForward{
		OriginatorID:       "coord-9",
		TaskID:             "t-in",
		Input:              "x",
		RequiredModel:      "qwen:7b",
		RequiredModelSize:  7,
		RequesterAccountID: "acct-requester",
	})

	err := c.HandleEnvelope(env)
	require.NoError(t, err)

	task, ok, err := c.store.GetTask("t-in")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, store.TaskQueued, task.Status)
	require.Equal(t, "coord-9", task.ForwardedTo)
}

func TestHandleEnvelopeUnknownTypeErrors(t *testing.T) {
	c, _ := newFederatedTestCoordinator(t)
	env := envelopeFor(t, mesh.TypeBlacklistUpdate, map[string]string{})
	err := c.HandleEnvelope(env)
	require.Error(t, err)
}
