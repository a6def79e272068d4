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
	"log/slog"

	"github.com/codyrs82/edgecoder/internal/metrics"
	"github.com/codyrs82/edgecoder/internal/xlog"
)

// Transport delivers an envelope to a single peer. Implementations live
// outside this package (HTTP POST /mesh/ingest, a websocket duplex link,
// or an in-memory fake for tests).
type Transport interface {
	Send(ctx context.Context, peer Peer, env *Envelope) error
}

// Broadcaster relays accepted envelopes to the peer table's fan-out set,
// bounding flood by both ttl and fanout (spec.md §4.2).
type Broadcaster struct {
	peers     *PeerTable
	transport Transport
	fanout    int
	log       *slog.Logger
}

func NewBroadcaster(peers *PeerTable, transport Transport, fanout int) *Broadcaster {
	if fanout <= 0 {
		fanout = 8
	}
	return &Broadcaster{peers: peers, transport: transport, fanout: fanout, log: xlog.New("mesh.broadcast")}
}

// Relay forwards env to every peer other than senderID, after decrementing
// ttl, provided the current ttl is still > 1. Delivery failures are logged
// and do not abort the fan-out to remaining peers (a DeliveryFailure per
// spec.md §7, not fatal to the relay as a whole).
func (b *Broadcaster) Relay(ctx context.Context, env *Envelope, senderID string) {
	if env.TTL <= 1 {
		return
	}
	relayed := env.Decrement()
	targets := b.peers.FanoutTargets(senderID, b.fanout)
	for _, p := range targets {
		if err := b.transport.Send(ctx, p, relayed); err != nil {
			b.log.Warn("relay delivery failed", "peer", p.ID, "messageId", env.MessageID, "err", err)
			continue
		}
		metrics.GossipRelayed.Inc()
	}
}

// Broadcast sends env to the full fan-out set without requiring a sender
// to exclude, used for locally originated messages (e.g. this node's own
// capability_summary or ordering_snapshot).
func (b *Broadcaster) Broadcast(ctx context.Context, env *Envelope) {
	targets := b.peers.FanoutTargets("", b.fanout)
	for _, p := range targets {
		if err := b.transport.Send(ctx, p, env); err != nil {
			b.log.Warn("broadcast delivery failed", "peer", p.ID, "messageId", env.MessageID, "err", err)
		}
	}
}
