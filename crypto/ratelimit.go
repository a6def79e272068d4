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

	"golang.org/x/time/rate"
)

// SenderRateLimiter enforces spec.md §4.2 step 4's per-sender rate limit
// (default 200 msgs / 10 s) as one x/time/rate token bucket per sender: the
// bucket holds at most limit tokens and refills at limit/per. It keeps no
// window of receipt timestamps, so a sender that has been idle can send a
// full burst of limit messages and then continue at limit/per, letting up
// to about twice limit messages through within a single span of length per.
type SenderRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	burst    int
}

// NewSenderRateLimiter builds a limiter allowing `limit` messages per
// `per` duration, per sender, with a burst equal to the full allowance.
func NewSenderRateLimiter(limit int, per time.Duration) *SenderRateLimiter {
	if limit <= 0 {
		limit = 200
	}
	if per <= 0 {
		per = 10 * time.Second
	}
	r := rate.Limit(float64(limit) / per.Seconds())
	return &SenderRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        r,
		burst:    limit,
	}
}

// Allow reports whether senderID may send another message right now.
func (s *SenderRateLimiter) Allow(senderID string) bool {
	s.mu.Lock()
	l, ok := s.limiters[senderID]
	if !ok {
		l = rate.NewLimiter(s.r, s.burst)
		s.limiters[senderID] = l
	}
	s.mu.Unlock()
	return l.Allow()
}

// Forget drops tracking state for a sender, e.g. once it is reaped as
// stale, to bound memory growth.
func (s *SenderRateLimiter) Forget(senderID string) {
	s.mu.Lock()
	delete(s.limiters, senderID)
	s.mu.Unlock()
}
