// Copyright 2026 The EdgeCoder Authors
// This file is part of the EdgeCoder library.
//
// The EdgeCoder library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package mesh

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codyrs82/edgecoder/crypto"
)

// chainNode is one of the five peers 0-1-2-3-4 in spec.md §8 scenario 3.
type chainNode struct {
	id          string
	pipeline    *Pipeline
	broadcaster *Broadcaster
	received    []*Envelope
	mu          sync.Mutex
}

// wireTransport delivers synchronously straight into a node's pipeline and,
// on acceptance, has that node relay further through its own broadcaster,
// modelling a chain-topology mesh without real sockets.
type wireTransport struct {
	nodes map[string]*chainNode
}

func (w *wireTransport) Send(ctx context.Context, peer Peer, env *Envelope) error {
	n := w.nodes[peer.ID]
	outcome, err := n.pipeline.Process(env)
	if err != nil {
		return err
	}
	if outcome != OutcomeAccept {
		return nil
	}
	n.mu.Lock()
	n.received = append(n.received, env)
	n.mu.Unlock()
	n.broadcaster.Relay(ctx, env, "")
	return nil
}

func TestFiveNodeChainGossipPropagatesExactlyOnce(t *testing.T) {
	ids := []string{"p0", "p1", "p2", "p3", "p4"}
	nodes := make(map[string]*chainNode, len(ids))
	transport := &wireTransport{nodes: nodes}

	// Chain topology: each node's peer table only knows its immediate
	// neighbors, so fan-out naturally follows the chain.
	tables := make(map[string]*PeerTable, len(ids))
	for i, id := range ids {
		pt := NewPeerTable()
		if i > 0 {
			pt.Upsert(Peer{ID: ids[i-1], Distance: 1})
		}
		if i < len(ids)-1 {
			pt.Upsert(Peer{ID: ids[i+1], Distance: 1})
		}
		tables[id] = pt
	}
	for _, id := range ids {
		p, err := NewPipeline(DefaultPipelineConfig(), nil)
		require.NoError(t, err)
		nodes[id] = &chainNode{
			id:          id,
			pipeline:    p,
			broadcaster: NewBroadcaster(tables[id], transport, 8),
		}
	}

	signer, err := crypto.GenerateIdentity()
	require.NoError(t, err)
	env, err := NewEnvelope(TypeCapabilitySummary, "p0", signer.Public, 5, CapabilitySummary{
		CoordinatorID: "p0",
	})
	require.NoError(t, err)
	require.NoError(t, env.Sign(signer))

	ctx := context.Background()
	nodes["p0"].broadcaster.Broadcast(ctx, env)

	for _, id := range []string{"p1", "p2", "p3", "p4"} {
		n := nodes[id]
		n.mu.Lock()
		count := len(n.received)
		n.mu.Unlock()
		require.Equal(t, 1, count, "peer %s should hold exactly one copy", id)
	}
}
