// Copyright 2026 The EdgeCoder Authors
// This file is part of the EdgeCoder library.
//
// The EdgeCoder library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package node

import (
	"sync"

	"github.com/codyrs82/edgecoder/mesh"
)

// peerChainView is the last ordering_snapshot observed from one peer.
type peerChainView struct {
	Head   string
	Length int64
}

// reconciler tracks every peer's ordering-chain head from their periodic
// ordering_snapshot broadcasts and flags divergence against this node's own
// chain (spec.md §4.3's reconciliation, §8 scenario 5). Two coordinators
// that ever agreed on a (length, head) pair must keep agreeing at that
// length, since both chains are deterministic hash chains from the same
// genesis; a mismatch at equal lengths is unambiguous divergence even
// without pulling the peer's actual entries over the wire.
type reconciler struct {
	node *Node

	mu    sync.Mutex
	peers map[string]peerChainView
}

func newReconciler(n *Node) *reconciler {
	return &reconciler{node: n, peers: make(map[string]peerChainView)}
}

// observe records coordinatorID's reported chain head/length and logs a
// divergence warning when it disagrees with this node's own chain at the
// same length. It never mutates this node's chain: reconciliation that
// pulls and replays a peer's missing entries is outside this seam; spec.md
// §6.1's ledger range endpoint is where that catch-up would be driven from.
func (r *reconciler) observe(coordinatorID, chainHead string, chainLength int64) error {
	r.mu.Lock()
	r.peers[coordinatorID] = peerChainView{Head: chainHead, Length: chainLength}
	r.mu.Unlock()

	n := r.node
	ownLen := int64(n.engine.Chain().Len())
	if chainLength != ownLen {
		return nil
	}
	ownHead := n.engine.Chain().Head()
	if ownHead != chainHead {
		n.log.Warn("ordering chain divergence detected",
			"peerCoordinatorId", coordinatorID, "length", chainLength,
			"peerHead", chainHead, "ownHead", ownHead)
	}
	return nil
}

// broadcastSnapshot publishes this node's own chain head/length so peers
// can run the same comparison (spec.md §4.3's periodic snapshot gossip).
func (r *reconciler) broadcastSnapshot() {
	n := r.node
	if n.broadcaster == nil {
		return
	}
	payload := struct {
		CoordinatorID string `json:"coordinatorId"`
		ChainHead     string `json:"chainHead"`
		ChainLength   int64  `json:"chainLength"`
	}{n.id, n.engine.Chain().Head(), int64(n.engine.Chain().Len())}

	env, err := mesh.NewEnvelope(mesh.TypeOrderingSnapshot, n.id, n.identityPublic(), 5, payload)
	if err != nil {
		n.log.Warn("build ordering_snapshot failed", "err", err)
		return
	}
	if err := n.sign(env); err != nil {
		n.log.Warn("sign ordering_snapshot failed", "err", err)
		return
	}
	n.broadcaster.Broadcast(n.ctx(), env)
}
