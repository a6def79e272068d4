// Copyright 2026 The EdgeCoder Authors
// This file is part of the EdgeCoder library.
//
// The EdgeCoder library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package ledger

import (
	"encoding/json"
	"fmt"

	"github.com/codyrs82/edgecoder/crypto"
)

// requesterBid is the canonical byte representation a requester signs
// before sending a task out (spec.md §4.3 step 1).
type requesterBid struct {
	TaskHash           string `json:"taskHash"`
	Timestamp          int64  `json:"timestamp"`
	RequesterAccountID string `json:"requesterAccountId"`
}

// RequesterBidBytes returns the bytes the requester signs.
func RequesterBidBytes(taskHash string, timestamp int64, requesterAccountID string) ([]byte, error) {
	b, err := json.Marshal(requesterBid{taskHash, timestamp, requesterAccountID})
	if err != nil {
		return nil, fmt.Errorf("marshal requester bid: %w", err)
	}
	return b, nil
}

// providerTx is the canonical byte representation the provider signs: the
// full transaction minus both signatures (spec.md §4.3 step 2-3).
type providerTx struct {
	TxID               string   `json:"txId"`
	RequesterID        string   `json:"requesterId"`
	ProviderID         string   `json:"providerId"`
	RequesterAccountID string   `json:"requesterAccountId"`
	ProviderAccountID  string   `json:"providerAccountId"`
	Credits            float64  `json:"credits"`
	CPUSeconds         float64  `json:"cpuSeconds"`
	TaskHash           string   `json:"taskHash"`
	Timestamp          int64    `json:"timestamp"`
	Reason             TxReason `json:"reason"`
}

func ProviderTxBytes(tx CreditTransaction) ([]byte, error) {
	b, err := json.Marshal(providerTx{
		TxID: tx.TxID, RequesterID: tx.RequesterID, ProviderID: tx.ProviderID,
		RequesterAccountID: tx.RequesterAccountID, ProviderAccountID: tx.ProviderAccountID,
		Credits: tx.Credits, CPUSeconds: tx.CPUSeconds, TaskHash: tx.TaskHash,
		Timestamp: tx.Timestamp, Reason: tx.Reason,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal provider tx: %w", err)
	}
	return b, nil
}

// VerifyTransaction checks both signatures (spec.md §3.4 invariant).
func VerifyTransaction(tx CreditTransaction, requesterPub, providerPub []byte) bool {
	bidBytes, err := RequesterBidBytes(tx.TaskHash, tx.Timestamp, tx.RequesterAccountID)
	if err != nil {
		return false
	}
	if !crypto.Verify(requesterPub, bidBytes, tx.RequesterSignature) {
		return false
	}
	txBytes, err := ProviderTxBytes(tx)
	if err != nil {
		return false
	}
	return crypto.Verify(providerPub, txBytes, tx.ProviderSignature)
}
