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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codyrs82/edgecoder/coordinator"
	"github.com/codyrs82/edgecoder/crypto"
	"github.com/codyrs82/edgecoder/mesh"
	"github.com/codyrs82/edgecoder/store"
)

// fakeMesh wires a set of *Node by id without any network hop: Send
// dispatches straight to the recipient's Ingest, exercising the same
// pipeline-then-dispatch path a real transport would.
type fakeMesh struct {
	mu    sync.Mutex
	nodes map[string]*Node
}

func newFakeMesh() *fakeMesh { return &fakeMesh{nodes: make(map[string]*Node)} }

func (f *fakeMesh) register(n *Node) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes[n.id] = n
}

func (f *fakeMesh) Send(ctx context.Context, peer mesh.Peer, env *mesh.Envelope) error {
	f.mu.Lock()
	target, ok := f.nodes[peer.ID]
	f.mu.Unlock()
	if !ok {
		return nil
	}
	return target.Ingest(env)
}

func newTestNode(t *testing.T, id string, transport mesh.Transport) *Node {
	t.Helper()
	identity, err := crypto.GenerateIdentity()
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.ClaimDelay = 20 * time.Millisecond
	return New(id, cfg, store.NewMemoryStore(), identity, transport)
}

func linkPeers(a, b *Node) {
	a.AddPeer(mesh.Peer{ID: b.id, PublicKey: b.identityPublic(), LastSeenMs: time.Now().UnixMilli()})
	b.AddPeer(mesh.Peer{ID: a.id, PublicKey: a.identityPublic(), LastSeenMs: time.Now().UnixMilli()})
}

func registerNodeAgent(t *testing.T, n *Node, agentID, accountID string, paramSize float64) {
	t.Helper()
	agentIdentity, err := crypto.GenerateIdentity()
	require.NoError(t, err)
	registerNodeAgentWithIdentity(t, n, agentID, accountID, agentIdentity, paramSize)
}

// registerNodeAgentWithIdentity registers agentID/accountID using a
// caller-supplied identity, for tests that need to sign other messages
// (e.g. credit transactions) as the same account afterward.
func registerNodeAgentWithIdentity(t *testing.T, n *Node, agentID, accountID string, identity *crypto.Identity, paramSize float64) {
	t.Helper()
	req := coordinator.RegisterRequest{
		AgentID:              agentID,
		AccountID:            accountID,
		PublicKey:            identity.Public,
		ActiveModel:          "qwen",
		ActiveModelParamSize: paramSize,
		MaxConcurrentTasks:   4,
	}
	b, err := req.SigningBytes()
	require.NoError(t, err)
	req.Signature = identity.Sign(b)

	_, err = n.Coordinator().RegisterAgent(req)
	require.NoError(t, err)
}

// TestGossipClaimRaceAwardsRemoteWinner reproduces spec.md §8 scenario 2:
// coordinator A offers a task none of its own agents can serve; B's agent
// answers with a task_claim, and once the claim delay elapses A marks the
// task claimed by B's agent and drops it from its own scheduler.
func TestGossipClaimRaceAwardsRemoteWinner(t *testing.T) {
	m := newFakeMesh()
	a := newTestNode(t, "coord-a", m)
	b := newTestNode(t, "coord-b", m)
	m.register(a)
	m.register(b)
	linkPeers(a, b)

	registerNodeAgent(t, b, "b-agent-1", "acct-b1", 7)

	task, err := a.Coordinator().EnqueueTask(store.Task{
		ProjectMeta:       store.ProjectMeta{ProjectID: "proj-1"},
		Kind:              "code",
		Language:          "python",
		Input:             "print(1)",
		RequiredModelSize: 1.5,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, ok, err := a.store.GetTask(task.TaskID)
		return err == nil && ok && got.Status == store.TaskClaimed
	}, time.Second, 5*time.Millisecond)

	got, ok, err := a.store.GetTask(task.TaskID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "coord-b/b-agent-1", got.ClaimedBy)
}

func TestDispatcherRejectsUnknownMessageType(t *testing.T) {
	n := newTestNode(t, "coord-a", nil)
	env, err := mesh.NewEnvelope(mesh.MessageType("made_up"), "someone", nil, 3, map[string]string{})
	require.NoError(t, err)
	err = newDispatcher(n).HandleEnvelope(env)
	require.Error(t, err)
}

func TestPeerAnnounceRefreshesLastSeen(t *testing.T) {
	n := newTestNode(t, "coord-a", nil)
	n.AddPeer(mesh.Peer{ID: "coord-b", LastSeenMs: 1})

	senderIdentity, err := crypto.GenerateIdentity()
	require.NoError(t, err)
	env, err := mesh.NewEnvelope(mesh.TypePeerAnnounce, "coord-b", senderIdentity.Public, 1, map[string]string{
		"agentId": "b-agent-1", "status": "stale",
	})
	require.NoError(t, err)
	require.NoError(t, env.Sign(senderIdentity))

	require.NoError(t, newDispatcher(n).HandleEnvelope(env))

	peer, ok := n.peers.Get("coord-b")
	require.True(t, ok)
	require.NotEqual(t, int64(1), peer.LastSeenMs)
}
