// Copyright 2026 The EdgeCoder Authors
// This file is part of the EdgeCoder library.
//
// The EdgeCoder library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/codyrs82/edgecoder/internal/xerr"
)

// GenesisHash seeds the first entry's prevEventHash (spec.md §3.5).
const GenesisHash = "ORDERING_GENESIS"

// ChainEntry is one append-only ordering chain record (spec.md §3.5).
type ChainEntry struct {
	SequenceNumber int64           `json:"sequenceNumber"`
	PrevEventHash  string          `json:"prevEventHash"`
	EventHash      string          `json:"eventHash"`
	EventType      string          `json:"eventType"`
	Payload        json.RawMessage `json:"payload"`
	SignerID       string          `json:"signerId"`
	Signature      []byte          `json:"signature"`
	Timestamp      int64           `json:"timestamp"`
}

// ComputeEventHash implements spec.md §6.2: SHA-256 over
// prevEventHash || canonical(payload) || signerId || ASCII timestamp.
func ComputeEventHash(prevEventHash string, payload json.RawMessage, signerID string, timestamp int64) string {
	h := sha256.New()
	h.Write([]byte(prevEventHash))
	h.Write(payload)
	h.Write([]byte(signerID))
	h.Write([]byte(strconv.FormatInt(timestamp, 10)))
	return hex.EncodeToString(h.Sum(nil))
}

// Chain is a single coordinator's append-only ordering log. Appends are
// serialised with a single lock (spec.md §5: "the append operation is
// serialised with a single ledger lock").
type Chain struct {
	mu      sync.Mutex
	entries []ChainEntry
}

func NewChain() *Chain {
	return &Chain{}
}

// Append adds a new entry computed from the current head. sign must return
// a signature over the entry's event hash bytes.
func (c *Chain) Append(eventType string, payload json.RawMessage, signerID string, timestamp int64, sign func(hash []byte) []byte) (ChainEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := GenesisHash
	seq := int64(0)
	if n := len(c.entries); n > 0 {
		prev = c.entries[n-1].EventHash
		seq = c.entries[n-1].SequenceNumber + 1
	}
	hash := ComputeEventHash(prev, payload, signerID, timestamp)
	entry := ChainEntry{
		SequenceNumber: seq,
		PrevEventHash:  prev,
		EventHash:      hash,
		EventType:      eventType,
		Payload:        payload,
		SignerID:       signerID,
		Signature:      sign([]byte(hash)),
		Timestamp:      timestamp,
	}
	c.entries = append(c.entries, entry)
	return entry, nil
}

// Head returns the most recent entry's hash, or GenesisHash if empty.
func (c *Chain) Head() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) == 0 {
		return GenesisHash
	}
	return c.entries[len(c.entries)-1].EventHash
}

// Len reports the chain length.
func (c *Chain) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Range returns entries with sequence numbers in [from, to), mirroring the
// GET /stats/ledger/range reconciliation endpoint of spec.md §4.3.
func (c *Chain) Range(from, to int64) []ChainEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []ChainEntry
	for _, e := range c.entries {
		if e.SequenceNumber >= from && e.SequenceNumber < to {
			out = append(out, e)
		}
	}
	return out
}

// Verify walks the chain checking spec.md §8's invariant: for every entry
// i>0, entry[i].prevEventHash == entry[i-1].eventHash, and recomputes each
// hash to detect tampering (a Corruption per spec.md §7).
func (c *Chain) Verify() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := GenesisHash
	for i, e := range c.entries {
		if e.PrevEventHash != prev {
			return xerr.Corruption(xerr.CodeHashMismatch, fmt.Sprintf("entry %d: prevEventHash mismatch", i), nil)
		}
		want := ComputeEventHash(e.PrevEventHash, e.Payload, e.SignerID, e.Timestamp)
		if want != e.EventHash {
			return xerr.Corruption(xerr.CodeHashMismatch, fmt.Sprintf("entry %d: eventHash does not match recomputed hash", i), nil)
		}
		prev = e.EventHash
	}
	return nil
}

// CommonAncestorIndex reports whether any of this chain's last k entries
// shares an event hash with one of other's last k entries. Used to detect
// divergence (spec.md §4.3: "no common ancestor within the last K
// entries").
func (c *Chain) CommonAncestorIndex(other *Chain, k int) (found bool) {
	c.mu.Lock()
	a := append([]ChainEntry(nil), c.entries...)
	c.mu.Unlock()
	other.mu.Lock()
	b := append([]ChainEntry(nil), other.entries...)
	other.mu.Unlock()

	hashesB := make(map[string]bool, len(b))
	start := 0
	if len(b) > k {
		start = len(b) - k
	}
	for _, e := range b[start:] {
		hashesB[e.EventHash] = true
	}
	startA := 0
	if len(a) > k {
		startA = len(a) - k
	}
	for _, e := range a[startA:] {
		if hashesB[e.EventHash] {
			return true
		}
	}
	return false
}
