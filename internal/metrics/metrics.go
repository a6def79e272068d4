// Copyright 2026 The EdgeCoder Authors
// This file is part of the EdgeCoder library.
//
// The EdgeCoder library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package metrics registers the counters and gauges named in SPEC_FULL's
// AMBIENT STACK metrics section, the way go-ethereum keeps a metrics
// registry alongside its domain logic rather than threading a collector
// object through every call. Handlers import this package directly and
// call Inc/Set at the point where the event already happens to be
// observed; GET /metrics (mounted by node.Node.Start) serves the
// process-wide prometheus.DefaultGatherer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "edgecoder_queue_depth",
		Help: "Number of tasks pending dispatch on this coordinator.",
	})

	AgentCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "edgecoder_agent_count",
		Help: "Number of agents registered with this coordinator.",
	})

	ChainLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "edgecoder_ledger_chain_length",
		Help: "Number of entries in the local ordering chain.",
	})

	GossipAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edgecoder_gossip_accepted_total",
		Help: "Envelopes that passed the receive pipeline and were dispatched.",
	})

	GossipDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edgecoder_gossip_duplicate_total",
		Help: "Envelopes dropped as already-seen messageIds.",
	})

	GossipRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edgecoder_gossip_rejected_total",
		Help: "Envelopes rejected by the receive pipeline, by failing step.",
	}, []string{"reason"})

	GossipRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edgecoder_gossip_relayed_total",
		Help: "Envelopes forwarded to the fan-out set by this node's Broadcaster.",
	})

	IssuanceEpochState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "edgecoder_issuance_epoch_state",
		Help: "Current state of a tracked issuance epoch (1 = in that state).",
	}, []string{"epochId", "state"})
)
