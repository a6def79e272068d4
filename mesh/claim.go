// Copyright 2026 The EdgeCoder Authors
// This file is part of the EdgeCoder library.
//
// The EdgeCoder library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package mesh

import (
	"sort"
	"sync"
	"time"

	"github.com/codyrs82/edgecoder/internal/xerr"
)

// Claim is one agent's bid to execute an offered task, recorded with its
// arrival time relative to the original task_offer broadcast (spec.md
// §4.2 "gossip claim delay").
type Claim struct {
	AgentID           string
	CoordinatorID     string
	Cost              float64
	ElapsedSinceOffer time.Duration
}

// ClaimWindow collects claims for a single task_offer during claimDelay and
// resolves the winner deterministically: lowest cost, ties broken by
// earliest arrival then by agentId (spec.md §4.2, §8 scenario 2).
type ClaimWindow struct {
	mu     sync.Mutex
	delay  time.Duration
	claims []Claim
}

func NewClaimWindow(delay time.Duration) *ClaimWindow {
	if delay <= 0 {
		delay = 250 * time.Millisecond
	}
	return &ClaimWindow{delay: delay}
}

// Add records a claim. A claim arriving after the window closes is
// rejected outright; the reporter should respond with claim_rejected
// without including it in Resolve's tie-break.
func (w *ClaimWindow) Add(c Claim) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if c.ElapsedSinceOffer > w.delay {
		return xerr.Logical("claim_window_closed", "claim arrived after gossip claim delay elapsed")
	}
	w.claims = append(w.claims, c)
	return nil
}

// Delay reports the configured claim window.
func (w *ClaimWindow) Delay() time.Duration { return w.delay }

// Resolve picks the winning claim and returns the rest as losers, ordering
// all collected claims by (cost asc, arrival asc, agentId asc).
func (w *ClaimWindow) Resolve() (winner Claim, losers []Claim, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.claims) == 0 {
		return Claim{}, nil, false
	}
	ordered := make([]Claim, len(w.claims))
	copy(ordered, w.claims)
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Cost != b.Cost {
			return a.Cost < b.Cost
		}
		if a.ElapsedSinceOffer != b.ElapsedSinceOffer {
			return a.ElapsedSinceOffer < b.ElapsedSinceOffer
		}
		return a.AgentID < b.AgentID
	})
	return ordered[0], ordered[1:], true
}
