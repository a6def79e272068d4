// Copyright 2026 The EdgeCoder Authors
// This file is part of the EdgeCoder library.
//
// The EdgeCoder library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package crypto

import (
	"sync"
	"time"
)

// NonceCache enforces spec.md §4.2 step 3: (senderId, nonce) must be unique
// within a sliding replay window. Entries older than the window are lazily
// evicted on Seen.
type NonceCache struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
}

// NewNonceCache constructs a cache with the given replay window (default
// 5 minutes per spec.md §4.2).
func NewNonceCache(window time.Duration) *NonceCache {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &NonceCache{window: window, seen: make(map[string]time.Time)}
}

func key(senderID, nonce string) string { return senderID + "\x00" + nonce }

// Seen records (senderID, nonce) at time now and reports whether it had
// already been observed within the replay window; a true return means the
// caller must reject the message as a replay.
func (c *NonceCache) Seen(senderID, nonce string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictLocked(now)
	k := key(senderID, nonce)
	if last, ok := c.seen[k]; ok && now.Sub(last) <= c.window {
		return true
	}
	c.seen[k] = now
	return false
}

func (c *NonceCache) evictLocked(now time.Time) {
	// Opportunistic sweep; bounded by map size, not time, so it never stalls
	// a hot path under heavy traffic.
	if len(c.seen) < 4096 {
		return
	}
	for k, t := range c.seen {
		if now.Sub(t) > c.window {
			delete(c.seen, k)
		}
	}
}

// Len reports the number of tracked (sender, nonce) pairs, for tests and
// metrics.
func (c *NonceCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}
