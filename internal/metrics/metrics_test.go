// Copyright 2026 The EdgeCoder Authors
// This file is part of the EdgeCoder library.
//
// The EdgeCoder library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestGossipRejectedCountsByReason(t *testing.T) {
	GossipRejected.WithLabelValues("stale_timestamp").Inc()
	GossipRejected.WithLabelValues("stale_timestamp").Inc()
	GossipRejected.WithLabelValues("bad_signature").Inc()

	require.Equal(t, float64(2), testutil.ToFloat64(GossipRejected.WithLabelValues("stale_timestamp")))
	require.Equal(t, float64(1), testutil.ToFloat64(GossipRejected.WithLabelValues("bad_signature")))
}

func TestIssuanceEpochStateTracksByEpochAndState(t *testing.T) {
	IssuanceEpochState.WithLabelValues("epoch-1", "committed").Set(1)
	require.Equal(t, float64(1), testutil.ToFloat64(IssuanceEpochState.WithLabelValues("epoch-1", "committed")))
}

func TestQueueDepthGaugeIsSettable(t *testing.T) {
	QueueDepth.Set(7)
	require.Equal(t, float64(7), testutil.ToFloat64(QueueDepth))
}
