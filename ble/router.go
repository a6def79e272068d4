// Copyright 2026 The EdgeCoder Authors
// This file is part of the EdgeCoder library.
//
// The EdgeCoder library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package ble implements the offline local-mesh subsystem of spec.md §4.4:
// the cost-based peer router, chunked GATT-sized transport, and the
// offline credit ledger.
package ble

import (
	"sort"
	"time"

	"github.com/codyrs82/edgecoder/adapters"
)

// UnavailableLoad is the currentLoad sentinel meaning "loading/unavailable
// during a model swap" (spec.md §3.1, §3.7, §4.4).
const UnavailableLoad = -1

const (
	rejectCostThreshold = 200
	peerStaleAfter       = 60 * time.Second
)

// PeerEntry mirrors spec.md §3.7's BLE Peer Entry.
type PeerEntry struct {
	AgentID        string
	AccountID      string
	Model          string
	ModelParamSize float64
	MemoryMB       int
	BatteryPct     float64
	CurrentLoad    int
	DeviceType     string // "phone" | "laptop" | "workstation"
	RSSI           int
	LastSeenMs     int64
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Cost implements spec.md §4.4's cost formula.
func Cost(p PeerEntry) (cost float64, skip bool) {
	if p.CurrentLoad == UnavailableLoad {
		return 0, true
	}
	modelPreferencePenalty := 0.0
	if pref := (7 - p.ModelParamSize) * 8; pref > 0 {
		modelPreferencePenalty = pref
	}
	loadPenalty := float64(p.CurrentLoad) * 20
	batteryPenalty := 0.0
	if p.DeviceType == "phone" {
		batteryPenalty = (100 - p.BatteryPct) * 0.5
	}
	signalPenalty := clamp((float64(-p.RSSI)-30)*0.5, 0, 30)
	return modelPreferencePenalty + loadPenalty + batteryPenalty + signalPenalty, false
}

// Router selects the lowest-cost reachable peer for an offline task.
type Router struct {
	now func() time.Time
}

func NewRouter() *Router { return &Router{now: time.Now} }

// ErrNoPeer is returned when no peer has a cost below the reject threshold.
type ErrNoPeer struct{}

func (ErrNoPeer) Error() string { return "ble: no peer with acceptable routing cost" }

// Select evicts stale peers (lastSeenMs older than 60s), scores the rest,
// and returns the lowest-cost one, or ErrNoPeer if every candidate scores
// at or above the reject threshold of 200 (spec.md §4.4, §8).
func (r *Router) Select(peers []PeerEntry) (PeerEntry, error) {
	now := r.now()
	type scored struct {
		peer PeerEntry
		cost float64
	}
	var candidates []scored
	for _, p := range peers {
		if now.Sub(time.UnixMilli(p.LastSeenMs)) > peerStaleAfter {
			continue
		}
		cost, skip := Cost(p)
		if skip {
			continue
		}
		candidates = append(candidates, scored{p, cost})
	}
	if len(candidates) == 0 {
		return PeerEntry{}, ErrNoPeer{}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].cost != candidates[j].cost {
			return candidates[i].cost < candidates[j].cost
		}
		return candidates[i].peer.AgentID < candidates[j].peer.AgentID
	})
	best := candidates[0]
	if best.cost >= rejectCostThreshold {
		return PeerEntry{}, ErrNoPeer{}
	}
	return best.peer, nil
}

// AdvertisementFromInfo converts the GATT-advertised capability fields
// (spec.md §4.4) into a PeerEntry usable by the router.
func AdvertisementFromInfo(info adapters.BLEPeerInfo) PeerEntry {
	return PeerEntry{
		AgentID:        info.AgentID,
		Model:          info.Model,
		ModelParamSize: info.ModelParamSize,
		MemoryMB:       info.MemoryMB,
		BatteryPct:     info.BatteryPct,
		CurrentLoad:    info.CurrentLoad,
		DeviceType:     info.DeviceType,
		RSSI:           info.RSSI,
		LastSeenMs:     info.LastSeenMs,
	}
}
