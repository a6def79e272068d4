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
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/codyrs82/edgecoder/crypto"
	"github.com/codyrs82/edgecoder/ledger"
	"github.com/codyrs82/edgecoder/store"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *crypto.Identity) {
	t.Helper()
	coordID, err := crypto.GenerateIdentity()
	require.NoError(t, err)
	engine := ledger.NewEngine(ledger.NewIdentitySigner("coord-1", coordID))
	c := New("coord-1", store.NewMemoryStore(), engine, nil, nil, DefaultConfig())
	return c, coordID
}

func registerAgent(t *testing.T, c *Coordinator, agentID, accountID string, paramSize float64) *crypto.Identity {
	t.Helper()
	id, err := crypto.GenerateIdentity()
	require.NoError(t, err)
	req := RegisterRequest{
		AgentID:              agentID,
		AccountID:            accountID,
		PublicKey:            id.Public,
		ActiveModel:          "qwen",
		ActiveModelParamSize: paramSize,
		MaxConcurrentTasks:   4,
	}
	b, err := req.signingBytes()
	require.NoError(t, err)
	req.Signature = id.Sign(b)

	_, err = c.RegisterAgent(req)
	require.NoError(t, err)
	return id
}

func TestRegisterAgentRejectsBadSignature(t *testing.T) {
	c, _ := newTestCoordinator(t)
	impostor, _ := crypto.GenerateIdentity()
	legit, _ := crypto.GenerateIdentity()
	req := RegisterRequest{AgentID: "a1", AccountID: "acct-a1", PublicKey: legit.Public}
	b, err := req.signingBytes()
	require.NoError(t, err)
	req.Signature = impostor.Sign(b)

	_, err = c.RegisterAgent(req)
	require.Error(t, err)
}

func TestHeartbeatUnknownAgent(t *testing.T) {
	c, _ := newTestCoordinator(t)
	err := c.Heartbeat(HeartbeatRequest{AgentID: "ghost"})
	require.Error(t, err)
}

// TestHappyPathLocalTask reproduces spec.md §8 scenario 1: register a1
// with paramSize 7, enqueue t1 requiring 1.5, pull returns t1, reporting
// 2.0 cpuSeconds credits a1's account 2.0 * baseRate * 1.0.
func TestHappyPathLocalTask(t *testing.T) {
	c, _ := newTestCoordinator(t)
	providerID := registerAgent(t, c, "a1", "acct-a1", 7)

	requester, err := crypto.GenerateIdentity()
	require.NoError(t, err)
	c.engine.RegisterAccountKey("acct-requester", requester.Public)

	input := "print(1)"
	th := taskHash(input)
	bidTimestamp := int64(1000)
	bidBytes, err := ledger.RequesterBidBytes(th, bidTimestamp, "acct-requester")
	require.NoError(t, err)

	task := store.Task{
		TaskID:             "t1",
		Kind:                "code",
		Language:            "python",
		Input:               input,
		TimeoutMs:           5000,
		ProjectMeta:         store.ProjectMeta{ProjectID: "proj-1", ResourceClass: store.ResourceCPU},
		RequiredModelSize:   1.5,
		RequesterID:         "requester-agent",
		RequesterAccountID:  "acct-requester",
		BidTimestampMs:      bidTimestamp,
		RequesterSignature:  requester.Sign(bidBytes),
	}
	enq, err := c.EnqueueTask(task)
	require.NoError(t, err)
	require.Equal(t, store.TaskQueued, enq.Status)

	pulled, err := c.PullTasks("a1", store.ResourceCPU, 1)
	require.NoError(t, err)
	require.Len(t, pulled, 1)
	require.Equal(t, "t1", pulled[0].TaskID)

	cpuSeconds := 2.0
	output := "1"
	resultBytes, err := resultSigningBytes("t1", output, cpuSeconds)
	require.NoError(t, err)
	resultSig := providerID.Sign(resultBytes)

	credits := cpuSeconds * c.cfg.BaseRatePerCPUSec * ledger.ModelQualityMultiplier(7)
	txID := uuid.NewString()
	tx := ledger.CreditTransaction{
		TxID: txID, RequesterID: "requester-agent", ProviderID: "a1",
		RequesterAccountID: "acct-requester", ProviderAccountID: "acct-a1",
		Credits: credits, CPUSeconds: cpuSeconds, TaskHash: th, Timestamp: bidTimestamp,
		Reason: ledger.ReasonTaskPayment,
	}
	txBytes, err := ledger.ProviderTxBytes(tx)
	require.NoError(t, err)
	providerTxSig := providerID.Sign(txBytes)

	err = c.ReportResult(ReportResultRequest{
		TaskID: "t1", AgentID: "a1", TxID: txID, Success: true,
		Output: output, CPUSeconds: cpuSeconds,
		ResultSignature: resultSig, ProviderTxSignature: providerTxSig,
	})
	require.NoError(t, err)

	require.Equal(t, credits, c.engine.Balance("acct-a1"))
	require.Equal(t, -credits, c.engine.Balance("acct-requester"))

	finalTask, ok, err := c.store.GetTask("t1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, store.TaskCompleted, finalTask.Status)
}

func TestReportResultRejectsNonClaimer(t *testing.T) {
	c, _ := newTestCoordinator(t)
	registerAgent(t, c, "a1", "acct-a1", 7)
	registerAgent(t, c, "a2", "acct-a2", 7)

	_, err := c.EnqueueTask(store.Task{
		TaskID: "t1", Input: "x", ProjectMeta: store.ProjectMeta{ProjectID: "p", ResourceClass: store.ResourceCPU},
	})
	require.NoError(t, err)

	pulled, err := c.PullTasks("a1", store.ResourceCPU, 1)
	require.NoError(t, err)
	require.Len(t, pulled, 1)

	err = c.ReportResult(ReportResultRequest{TaskID: "t1", AgentID: "a2", Success: true})
	require.Error(t, err)
}

// TestCapacityExcludesAgentPastStaleThreshold reproduces spec.md §8's
// first testable invariant: an agent vanishes from Capacity() the instant
// it crosses staleThreshold, not just once the reaper next runs.
func TestCapacityExcludesAgentPastStaleThreshold(t *testing.T) {
	c, _ := newTestCoordinator(t)
	base := time.UnixMilli(0)
	c.now = func() time.Time { return base }

	registerAgent(t, c, "a1", "acct-a1", 7)

	caps, err := c.Capacity()
	require.NoError(t, err)
	require.Len(t, caps, 1)

	c.now = func() time.Time { return base.Add(c.cfg.StaleThreshold + time.Millisecond) }

	caps, err = c.Capacity()
	require.NoError(t, err)
	require.Empty(t, caps)
}
