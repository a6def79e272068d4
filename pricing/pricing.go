// Copyright 2026 The EdgeCoder Authors
// This file is part of the EdgeCoder library.
//
// The EdgeCoder library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package pricing implements spec.md §4.5: per-resource-class dynamic price
// proposals and the network's consensus price, plus the cross-coordinator
// routing ranking that spends them.
package pricing

import (
	"sort"
	"sync"
	"time"

	"github.com/codyrs82/edgecoder/store"
)

// Model tunables: α weights queue utilisation in, β weights idle capacity
// out (spec.md §4.5's formula).
const (
	alpha = 1.5
	beta  = 0.5
)

// Config carries the per-resource-class bounds and base price a coordinator
// proposes from.
type Config struct {
	BasePrice float64
	MinPrice  float64
	MaxPrice  float64
}

func DefaultConfig() Config {
	return Config{BasePrice: 1.0, MinPrice: 0.1, MaxPrice: 10.0}
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

// Propose computes this coordinator's own pricePerComputeUnit for one
// resource class (spec.md §4.5):
//
//	utilisation = queuedTasks / max(1, sum(capacity))
//	price = basePrice * (1 + alpha*utilisation - beta*idleFraction)
//
// idleFraction is the share of registered capacity currently unused
// (1 - avgLoadFraction); callers derive it from Capacity() snapshots.
func Propose(cfg Config, queuedTasks int, totalCapacity int, idleFraction float64) float64 {
	denom := totalCapacity
	if denom < 1 {
		denom = 1
	}
	utilisation := float64(queuedTasks) / float64(denom)
	price := cfg.BasePrice * (1 + alpha*utilisation - beta*idleFraction)
	return clamp(price, cfg.MinPrice, cfg.MaxPrice)
}

// Proposal is one coordinator's signed price_proposal payload for a single
// resource class (spec.md §4.5, §3.3).
type Proposal struct {
	CoordinatorID string              `json:"coordinatorId"`
	ResourceClass store.ResourceClass `json:"resourceClass"`
	Price         float64             `json:"price"`
	TimestampMs   int64               `json:"timestampMs"`
}

// Window is the network's recent-proposal window the consensus price is
// computed from: one per resource class, most-recent-per-coordinator,
// evicted after Horizon. The number of tracked coordinators has no size
// bound; expired proposals are removed only when ConsensusPrice runs for
// their resource class.
type Window struct {
	mu       sync.Mutex
	horizon  time.Duration
	now      func() time.Time
	byClass  map[store.ResourceClass]map[string]timedProposal
}

type timedProposal struct {
	price     float64
	recvAt    time.Time
}

// NewWindow builds a consensus window. horizon <= 0 defaults to 60s, which
// matches the default price_proposal broadcast period so the median is
// always computed over the single latest round from every live peer.
func NewWindow(horizon time.Duration) *Window {
	if horizon <= 0 {
		horizon = 60 * time.Second
	}
	return &Window{
		horizon: horizon,
		now:     time.Now,
		byClass: make(map[store.ResourceClass]map[string]timedProposal),
	}
}

// Record ingests a received price_proposal, replacing any prior proposal
// from the same coordinator for the same resource class.
func (w *Window) Record(p Proposal) {
	w.mu.Lock()
	defer w.mu.Unlock()
	m, ok := w.byClass[p.ResourceClass]
	if !ok {
		m = make(map[string]timedProposal)
		w.byClass[p.ResourceClass] = m
	}
	m[p.CoordinatorID] = timedProposal{price: p.Price, recvAt: w.now()}
}

// ConsensusPrice returns the median of the valid (non-expired) proposals for
// resourceClass, and whether any were available (spec.md §4.5: "the
// network's consensus price is the median of the last window's valid
// proposals").
func (w *Window) ConsensusPrice(resourceClass store.ResourceClass) (float64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	m := w.byClass[resourceClass]
	if len(m) == 0 {
		return 0, false
	}
	cutoff := w.now().Add(-w.horizon)
	prices := make([]float64, 0, len(m))
	for coordID, tp := range m {
		if tp.recvAt.Before(cutoff) {
			delete(m, coordID)
			continue
		}
		prices = append(prices, tp.price)
	}
	if len(prices) == 0 {
		return 0, false
	}
	sort.Float64s(prices)
	mid := len(prices) / 2
	if len(prices)%2 == 1 {
		return prices[mid], true
	}
	return (prices[mid-1] + prices[mid]) / 2, true
}
