// Copyright 2026 The EdgeCoder Authors
// This file is part of the EdgeCoder library.
//
// The EdgeCoder library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package crypto implements the signing, replay-protection and envelope
// encryption primitives specified in spec.md §4.6: every node carries an
// Ed25519 identity key, signs outbound mesh traffic, and verifies inbound
// traffic against the sender's advertised public key.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
)

// Identity is a node's Ed25519 keypair.
type Identity struct {
	Public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// GenerateIdentity creates a fresh Ed25519 identity.
func GenerateIdentity() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate identity: %w", err)
	}
	return &Identity{Public: pub, private: priv}, nil
}

// IdentityFromSeed deterministically derives an identity from a 32-byte
// seed, used by tests and by nodes restoring a persisted key.
func IdentityFromSeed(seed []byte) (*Identity, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Identity{Public: priv.Public().(ed25519.PublicKey), private: priv}, nil
}

// Sign signs the canonical byte representation of a message.
func (id *Identity) Sign(msg []byte) []byte {
	return ed25519.Sign(id.private, msg)
}

// Seed returns the 32-byte seed this identity was derived from, for
// persisting to disk and later restoring via IdentityFromSeed.
func (id *Identity) Seed() []byte {
	return id.private.Seed()
}

// Verify checks a signature against an arbitrary sender public key; the
// identity performing verification need not be the signer.
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

// ErrKeyMismatch is returned when a sender's advertised public key changes
// identity mid-stream (spec.md §4.2 step 5: "consistent with any prior
// identity observed for senderId").
var ErrKeyMismatch = errors.New("crypto: sender public key does not match previously observed identity")

// IdentityRegistry remembers the first public key seen for each sender id
// and flags any later message claiming the same sender id with a different
// key, a lightweight pinning defense against identity spoofing.
type IdentityRegistry struct {
	seen map[string]ed25519.PublicKey
}

func NewIdentityRegistry() *IdentityRegistry {
	return &IdentityRegistry{seen: make(map[string]ed25519.PublicKey)}
}

// Observe records or checks the public key for senderID. It returns
// ErrKeyMismatch if senderID was previously seen with a different key.
func (r *IdentityRegistry) Observe(senderID string, pub ed25519.PublicKey) error {
	prior, ok := r.seen[senderID]
	if !ok {
		cp := make(ed25519.PublicKey, len(pub))
		copy(cp, pub)
		r.seen[senderID] = cp
		return nil
	}
	if !prior.Equal(pub) {
		return ErrKeyMismatch
	}
	return nil
}
