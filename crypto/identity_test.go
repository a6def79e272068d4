// Copyright 2026 The EdgeCoder Authors
// This file is part of the EdgeCoder library.
//
// The EdgeCoder library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package crypto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	id, err := GenerateIdentity()
	require.NoError(t, err)

	msg := []byte("task_offer:t1:10ms")
	sig := id.Sign(msg)
	require.True(t, Verify(id.Public, msg, sig))

	other, err := GenerateIdentity()
	require.NoError(t, err)
	require.False(t, Verify(other.Public, msg, sig))
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	id, err := GenerateIdentity()
	require.NoError(t, err)

	sig := id.Sign([]byte("original"))
	require.False(t, Verify(id.Public, []byte("tampered"), sig))
}

func TestIdentityRegistryPinsKey(t *testing.T) {
	reg := NewIdentityRegistry()
	a, err := GenerateIdentity()
	require.NoError(t, err)
	b, err := GenerateIdentity()
	require.NoError(t, err)

	require.NoError(t, reg.Observe("agent-1", a.Public))
	require.NoError(t, reg.Observe("agent-1", a.Public))
	require.ErrorIs(t, reg.Observe("agent-1", b.Public), ErrKeyMismatch)
}

func TestNonceCacheRejectsReplay(t *testing.T) {
	nc := NewNonceCache(5 * time.Minute)
	now := time.Now()

	require.False(t, nc.Seen("agent-1", "nonce-a", now))
	require.True(t, nc.Seen("agent-1", "nonce-a", now.Add(time.Second)))
	// Different sender with the same nonce literal is a distinct key.
	require.False(t, nc.Seen("agent-2", "nonce-a", now))
}

func TestNonceCacheWindowExpiry(t *testing.T) {
	nc := NewNonceCache(10 * time.Millisecond)
	now := time.Now()
	require.False(t, nc.Seen("agent-1", "n1", now))
	// A replay inside the window is rejected.
	require.True(t, nc.Seen("agent-1", "n1", now.Add(5*time.Millisecond)))
	// Once the window has passed since the first sighting, the same
	// (sender, nonce) is treated as fresh again.
	require.False(t, nc.Seen("agent-1", "n1", now.Add(20*time.Millisecond)))
}

func TestSenderRateLimiter(t *testing.T) {
	rl := NewSenderRateLimiter(2, time.Second)
	require.True(t, rl.Allow("a1"))
	require.True(t, rl.Allow("a1"))
	require.False(t, rl.Allow("a1"))
	// A different sender has its own independent budget.
	require.True(t, rl.Allow("a2"))
}

func TestEnvelopeSealOpenRoundTrip(t *testing.T) {
	kpA, err := GenerateX25519KeyPair()
	require.NoError(t, err)
	kpB, err := GenerateX25519KeyPair()
	require.NoError(t, err)

	secretA, err := kpA.SharedSecret(kpB.Public)
	require.NoError(t, err)
	secretB, err := kpB.SharedSecret(kpA.Public)
	require.NoError(t, err)
	require.Equal(t, secretA, secretB)

	plaintext := []byte("confidential mesh payload")
	sealed, err := Seal(secretA, plaintext)
	require.NoError(t, err)

	opened, err := Open(secretB, sealed)
	require.NoError(t, err)
	require.Equal(t, plaintext, opened)
}
