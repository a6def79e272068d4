// Copyright 2026 The EdgeCoder Authors
// This file is part of the EdgeCoder library.
//
// The EdgeCoder library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package ble

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCostUnavailableLoadSkips(t *testing.T) {
	_, skip := Cost(PeerEntry{CurrentLoad: UnavailableLoad})
	require.True(t, skip)
}

func TestCostFormula(t *testing.T) {
	// 7B model, idle, workstation, strong signal -> no penalties at all.
	cost, skip := Cost(PeerEntry{
		ModelParamSize: 7,
		CurrentLoad:    0,
		DeviceType:     "workstation",
		RSSI:           -30,
	})
	require.False(t, skip)
	require.InDelta(t, 0, cost, 1e-9)

	// 1.5B model -> (7-1.5)*8 = 44 preference penalty; load 2 -> 40; phone at
	// 50% battery -> 25; RSSI -60 -> clamp((60-30)*0.5, 0, 30) = 15.
	cost, skip = Cost(PeerEntry{
		ModelParamSize: 1.5,
		CurrentLoad:    2,
		DeviceType:     "phone",
		BatteryPct:     50,
		RSSI:           -60,
	})
	require.False(t, skip)
	require.InDelta(t, 44+40+25+15, cost, 1e-9)
}

func TestCostSignalPenaltyClampsAtCeiling(t *testing.T) {
	cost, _ := Cost(PeerEntry{ModelParamSize: 7, DeviceType: "workstation", RSSI: -200})
	require.InDelta(t, 30, cost, 1e-9)
}

func TestRouterSelectPicksLowestCost(t *testing.T) {
	r := NewRouter()
	r.now = func() time.Time { return time.UnixMilli(100_000) }

	peers := []PeerEntry{
		{AgentID: "loaded", ModelParamSize: 7, CurrentLoad: 3, DeviceType: "workstation", RSSI: -30, LastSeenMs: 99_000},
		{AgentID: "idle", ModelParamSize: 7, CurrentLoad: 0, DeviceType: "workstation", RSSI: -30, LastSeenMs: 99_000},
	}
	best, err := r.Select(peers)
	require.NoError(t, err)
	require.Equal(t, "idle", best.AgentID)
}

func TestRouterSelectEvictsStalePeers(t *testing.T) {
	r := NewRouter()
	r.now = func() time.Time { return time.UnixMilli(200_000) }

	peers := []PeerEntry{
		{AgentID: "stale", ModelParamSize: 7, DeviceType: "workstation", RSSI: -30, LastSeenMs: 100_000},
	}
	_, err := r.Select(peers)
	require.ErrorIs(t, err, ErrNoPeer{})
}

func TestRouterSelectRejectsHighCost(t *testing.T) {
	r := NewRouter()
	r.now = func() time.Time { return time.UnixMilli(0) }

	peers := []PeerEntry{
		{AgentID: "overloaded", ModelParamSize: 0.5, CurrentLoad: 10, DeviceType: "phone", BatteryPct: 0, RSSI: -200, LastSeenMs: 0},
	}
	_, err := r.Select(peers)
	require.ErrorIs(t, err, ErrNoPeer{})
}

func TestRouterSelectTieBreaksByAgentID(t *testing.T) {
	r := NewRouter()
	r.now = func() time.Time { return time.UnixMilli(0) }

	peers := []PeerEntry{
		{AgentID: "b", ModelParamSize: 7, DeviceType: "workstation", RSSI: -30, LastSeenMs: 0},
		{AgentID: "a", ModelParamSize: 7, DeviceType: "workstation", RSSI: -30, LastSeenMs: 0},
	}
	best, err := r.Select(peers)
	require.NoError(t, err)
	require.Equal(t, "a", best.AgentID)
}

func TestRouterSelectNoPeers(t *testing.T) {
	r := NewRouter()
	_, err := r.Select(nil)
	require.ErrorIs(t, err, ErrNoPeer{})
}
