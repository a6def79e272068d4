// Copyright 2026 The EdgeCoder Authors
// This file is part of the EdgeCoder library.
//
// The EdgeCoder library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package mesh implements the gossip protocol of spec.md §4.2: signed
// envelopes, the ordered receive pipeline, bounded-fanout forwarding, peer
// discovery, and task-claim races.
package mesh

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/codyrs82/edgecoder/crypto"
)

// MessageType is the tag of a mesh envelope's payload variant (spec.md §3.3).
type MessageType string

const (
	TypePeerAnnounce      MessageType = "peer_announce"
	TypeQueueSummary      MessageType = "queue_summary"
	TypeTaskOffer         MessageType = "task_offer"
	TypeTaskClaim         MessageType = "task_claim"
	TypeClaimRejected     MessageType = "claim_rejected"
	TypeResultAnnounce    MessageType = "result_announce"
	TypeOrderingSnapshot  MessageType = "ordering_snapshot"
	TypeBlacklistUpdate   MessageType = "blacklist_update"
	TypeIssuanceProposal  MessageType = "issuance_proposal"
	TypeIssuanceVote      MessageType = "issuance_vote"
	TypeIssuanceCommit    MessageType = "issuance_commit"
	TypeIssuanceCheckpoint MessageType = "issuance_checkpoint"
	TypeCapabilitySummary MessageType = "capability_summary"
	TypeTaskForward       MessageType = "task_forward"
	TypePriceProposal     MessageType = "price_proposal"
)

// Envelope is the signed message exchanged between peers (spec.md §3.3,
// §4.2, §6.2). Field order here is the canonical wire order: the signer
// signs the JSON encoding of every field except Signature, in this order.
type Envelope struct {
	Type            MessageType     `json:"type"`
	SenderID        string          `json:"senderId"`
	SenderPublicKey ed25519.PublicKey `json:"senderPublicKey"`
	MessageID       string          `json:"messageId"`
	Timestamp       int64           `json:"timestamp"` // unix millis
	TTL             int             `json:"ttl"`
	Nonce           string          `json:"nonce"`
	Payload         json.RawMessage `json:"payload"`
	Signature       []byte          `json:"signature,omitempty"`
}

// NewEnvelope builds an unsigned envelope with a fresh messageId/nonce and
// canonicalised payload (map keys sorted, compact encoding: Go's
// encoding/json already sorts map[string]any keys, which gives us the
// "canonical JSON" the spec requires without a bespoke serializer).
func NewEnvelope(typ MessageType, senderID string, senderPub ed25519.PublicKey, ttl int, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Envelope{
		Type:            typ,
		SenderID:        senderID,
		SenderPublicKey: senderPub,
		MessageID:       uuid.NewString(),
		Timestamp:       time.Now().UnixMilli(),
		TTL:             ttl,
		Nonce:           uuid.NewString(),
		Payload:         raw,
	}, nil
}

// signingBytes returns the canonical byte representation signed by the
// sender: type, senderId, senderPublicKey, messageId, timestamp, nonce,
// payload (spec.md §6.2). ttl is deliberately excluded: spec.md §4.2
// requires relays to decrement ttl on every hop while "preserving the
// original envelope" and leaving its signature intact, which is only
// possible if ttl is mutable relay metadata rather than signed content.
// Every other field is immutable for the envelope's lifetime.
func (e *Envelope) signingBytes() ([]byte, error) {
	type wire struct {
		Type            MessageType       `json:"type"`
		SenderID        string            `json:"senderId"`
		SenderPublicKey ed25519.PublicKey `json:"senderPublicKey"`
		MessageID       string            `json:"messageId"`
		Timestamp       int64             `json:"timestamp"`
		Nonce           string            `json:"nonce"`
		Payload         json.RawMessage   `json:"payload"`
	}
	w := wire{e.Type, e.SenderID, e.SenderPublicKey, e.MessageID, e.Timestamp, e.Nonce, e.Payload}
	buf, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("marshal signing bytes: %w", err)
	}
	return buf, nil
}

// Sign signs the envelope in place with id, which must own SenderPublicKey.
func (e *Envelope) Sign(id *crypto.Identity) error {
	b, err := e.signingBytes()
	if err != nil {
		return err
	}
	e.Signature = id.Sign(b)
	return nil
}

// VerifySignature checks the envelope's signature against its own
// SenderPublicKey field (spec.md §3.3 invariant: "signature verifies with
// senderPublicKey").
func (e *Envelope) VerifySignature() bool {
	b, err := e.signingBytes()
	if err != nil {
		return false
	}
	return crypto.Verify(e.SenderPublicKey, b, e.Signature)
}

// Equal reports deep equality of every signed field plus signature, used by
// the §8 round-trip law: signEnvelope then verifyEnvelope(m') == true iff
// m' == m.
func (e *Envelope) Equal(o *Envelope) bool {
	if e == nil || o == nil {
		return e == o
	}
	ab, errA := e.signingBytes()
	bb, errB := o.signingBytes()
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ab, bb) && bytes.Equal(e.Signature, o.Signature)
}

// Decrement returns a copy of the envelope with TTL reduced by one,
// preserving the original signature (spec.md §4.2: "Relays preserve the
// original envelope; signature stays intact").
func (e *Envelope) Decrement() *Envelope {
	cp := *e
	cp.TTL = e.TTL - 1
	return &cp
}
