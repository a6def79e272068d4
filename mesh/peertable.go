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

	mapset "github.com/deckarep/golang-set/v2"
)

// Peer is a known mesh neighbor.
type Peer struct {
	ID          string
	URL         string
	PublicKey   []byte
	Distance    int // 0 = direct connection, higher = farther tier
	LastSeenMs  int64
	MissedProbes int
}

// PeerTable owns the coordinator's view of reachable peers. Reads happen
// during forwarding (hot path); writes happen only on join/leave/probe,
// hence the RWMutex called out in spec.md §5.
type PeerTable struct {
	mu    sync.RWMutex
	peers map[string]*Peer
	now   func() time.Time
}

func NewPeerTable() *PeerTable {
	return &PeerTable{peers: make(map[string]*Peer), now: time.Now}
}

// Upsert adds or refreshes a peer.
func (t *PeerTable) Upsert(p Peer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.peers[p.ID]; ok {
		existing.URL = p.URL
		existing.PublicKey = p.PublicKey
		existing.Distance = p.Distance
		existing.LastSeenMs = p.LastSeenMs
		existing.MissedProbes = 0
		return
	}
	cp := p
	t.peers[p.ID] = &cp
}

// Get returns the peer by id.
func (t *PeerTable) Get(id string) (Peer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.peers[id]
	if !ok {
		return Peer{}, false
	}
	return *p, true
}

// Remove drops a peer from the table (e.g. after missing three consecutive
// probes, spec.md §4.2).
func (t *PeerTable) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.peers, id)
}

// MarkProbeMissed increments the miss counter and reports whether the peer
// should now be purged (three consecutive misses).
func (t *PeerTable) MarkProbeMissed(id string) (purge bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[id]
	if !ok {
		return false
	}
	p.MissedProbes++
	return p.MissedProbes >= 3
}

func (t *PeerTable) MarkProbeOK(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.peers[id]; ok {
		p.MissedProbes = 0
	}
}

// All returns a snapshot of all known peers, direct connections first
// (lowest Distance), then by ID for determinism.
func (t *PeerTable) All() []Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Peer, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// FanoutTargets selects up to fanout peers to relay to, excluding
// excludeID (the sender), preferring lower distance tiers (spec.md §4.2:
// "Peers at lower distance tiers are preferred when fan-out is capped").
func (t *PeerTable) FanoutTargets(excludeID string, fanout int) []Peer {
	all := t.All()
	out := make([]Peer, 0, fanout)
	for _, p := range all {
		if p.ID == excludeID {
			continue
		}
		out = append(out, p)
		if len(out) == fanout {
			break
		}
	}
	return out
}

// IDSet returns the set of known peer ids as a golang-set Set, for callers
// that need set semantics (membership, union, intersection).
func (t *PeerTable) IDSet() mapset.Set[string] {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := mapset.NewThreadUnsafeSet[string]()
	for id := range t.peers {
		s.Add(id)
	}
	return s
}

// PruneStale removes peers that have missed three consecutive liveness
// probes, run from the periodic (45s) peer refresh (spec.md §4.2).
func (t *PeerTable) PruneStale(olderThan time.Duration) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	var removed []string
	for id, p := range t.peers {
		if now.Sub(time.UnixMilli(p.LastSeenMs)) > olderThan || p.MissedProbes >= 3 {
			delete(t.peers, id)
			removed = append(removed, id)
		}
	}
	return removed
}
