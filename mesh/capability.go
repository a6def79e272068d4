// Copyright 2026 The EdgeCoder Authors
// This file is part of the EdgeCoder library.
//
// The EdgeCoder library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package mesh

import (
	"sync"
	"time"
)

// ModelAvailability summarizes one coordinator's agents for a single model
// name (spec.md §4.2 capability_summary, §4.5 federatedCapabilities).
type ModelAvailability struct {
	AgentCount        int     `json:"agentCount"`
	TotalParamCapacity float64 `json:"totalParamCapacity"`
	AvgLoad           float64 `json:"avgLoad"`
}

// CapabilitySummary is the payload of a capability_summary envelope.
type CapabilitySummary struct {
	CoordinatorID     string                       `json:"coordinatorId"`
	ModelAvailability map[string]ModelAvailability `json:"modelAvailability"`
}

type summaryRecord struct {
	summary   CapabilitySummary
	updatedAt time.Time
}

// FederatedCapabilities is each coordinator's store of peer coordinators'
// capability summaries, keyed by coordinatorId, with staleness tracking
// (spec.md §4.2: "summaries older than 5x broadcast interval are stale").
type FederatedCapabilities struct {
	mu              sync.RWMutex
	records         map[string]summaryRecord
	broadcastPeriod time.Duration
	now             func() time.Time
}

func NewFederatedCapabilities(broadcastPeriod time.Duration) *FederatedCapabilities {
	if broadcastPeriod <= 0 {
		broadcastPeriod = 60 * time.Second
	}
	return &FederatedCapabilities{
		records:         make(map[string]summaryRecord),
		broadcastPeriod: broadcastPeriod,
		now:             time.Now,
	}
}

// Merge applies a freshly received capability_summary, most-recent-wins
// by receipt time (spec.md §5: "most-recent-timestamp-wins for capability
// summaries").
func (f *FederatedCapabilities) Merge(s CapabilitySummary) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[s.CoordinatorID] = summaryRecord{summary: s, updatedAt: f.now()}
}

// Fresh returns the non-stale summaries, i.e. those updated within
// 5x the broadcast interval.
func (f *FederatedCapabilities) Fresh() []CapabilitySummary {
	f.mu.RLock()
	defer f.mu.RUnlock()
	cutoff := f.now().Add(-5 * f.broadcastPeriod)
	out := make([]CapabilitySummary, 0, len(f.records))
	for _, r := range f.records {
		if r.updatedAt.After(cutoff) {
			out = append(out, r.summary)
		}
	}
	return out
}

// ForModel returns the fresh per-coordinator availability for a model,
// used by the cross-coordinator routing ranking in spec.md §4.5.
func (f *FederatedCapabilities) ForModel(model string) map[string]ModelAvailability {
	out := make(map[string]ModelAvailability)
	for _, s := range f.Fresh() {
		if av, ok := s.ModelAvailability[model]; ok && av.AgentCount > 0 {
			out[s.CoordinatorID] = av
		}
	}
	return out
}
