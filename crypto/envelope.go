// Copyright 2026 The EdgeCoder Authors
// This file is part of the EdgeCoder library.
//
// The EdgeCoder library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
)

// X25519KeyPair is an ephemeral or static Curve25519 keypair used to derive
// a shared secret for optional envelope encryption (spec.md §4.6: "reserved
// in v1, optional"). The mesh transport signs every message regardless of
// whether this is used; this only adds confidentiality for payloads marked
// sensitive.
type X25519KeyPair struct {
	Public  [32]byte
	private [32]byte
}

func GenerateX25519KeyPair() (*X25519KeyPair, error) {
	var priv [32]byte
	if _, err := io.ReadFull(rand.Reader, priv[:]); err != nil {
		return nil, fmt.Errorf("generate x25519 key: %w", err)
	}
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive x25519 public key: %w", err)
	}
	kp := &X25519KeyPair{private: priv}
	copy(kp.Public[:], pub)
	return kp, nil
}

// SharedSecret performs ECDH against a peer's public key.
func (kp *X25519KeyPair) SharedSecret(peerPublic [32]byte) ([32]byte, error) {
	var secret [32]byte
	out, err := curve25519.X25519(kp.private[:], peerPublic[:])
	if err != nil {
		return secret, fmt.Errorf("x25519 ecdh: %w", err)
	}
	copy(secret[:], out)
	return secret, nil
}

// SealedEnvelope is a confidentiality-wrapped payload: AES-256-GCM under a
// key derived from an X25519 shared secret, with a fresh per-message nonce.
type SealedEnvelope struct {
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// Seal encrypts plaintext under sharedSecret with a random nonce.
func Seal(sharedSecret [32]byte, plaintext []byte) (*SealedEnvelope, error) {
	block, err := aes.NewCipher(sharedSecret[:])
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	ct := gcm.Seal(nil, nonce, plaintext, nil)
	return &SealedEnvelope{Nonce: nonce, Ciphertext: ct}, nil
}

// Open decrypts a SealedEnvelope under sharedSecret.
func Open(sharedSecret [32]byte, env *SealedEnvelope) ([]byte, error) {
	block, err := aes.NewCipher(sharedSecret[:])
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	pt, err := gcm.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("open sealed envelope: %w", err)
	}
	return pt, nil
}
