// Copyright 2026 The EdgeCoder Authors
// This file is part of the EdgeCoder library.
//
// The EdgeCoder library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package ledger implements spec.md §4.3: the credit engine, the
// hash-linked ordering chain, and quorum-voted issuance epochs.
package ledger

// TxReason is the reason a credit transaction was created (spec.md §3.4).
type TxReason string

const (
	ReasonTaskPayment   TxReason = "task_payment"
	ReasonTaskExecution TxReason = "task_execution"
	ReasonModelSeed     TxReason = "model_seed"
	ReasonFaucet        TxReason = "faucet"
	ReasonAdjust        TxReason = "adjust"
	ReasonIssuance      TxReason = "issuance"
)

// CreditTransaction is a dual-signed transfer of credits (spec.md §3.4).
type CreditTransaction struct {
	TxID                string   `json:"txId"`
	RequesterID         string   `json:"requesterId"`
	ProviderID          string   `json:"providerId"`
	RequesterAccountID  string   `json:"requesterAccountId"`
	ProviderAccountID   string   `json:"providerAccountId"`
	Credits             float64  `json:"credits"`
	CPUSeconds          float64  `json:"cpuSeconds"`
	TaskHash            string   `json:"taskHash"`
	Timestamp           int64    `json:"timestamp"`
	RequesterSignature  []byte   `json:"requesterSignature"`
	ProviderSignature   []byte   `json:"providerSignature"`
	Reason              TxReason `json:"reason"`
}

// Account is a per-identity credit balance.
type Account struct {
	AccountID string
	PublicKey []byte
	Balance   float64
}

// ModelQualityMultiplier implements the fixed table of spec.md §4.3.
func ModelQualityMultiplier(paramSizeB float64) float64 {
	switch {
	case paramSizeB >= 7:
		return 1.0
	case paramSizeB >= 3:
		return 0.7
	case paramSizeB >= 1.5:
		return 0.5
	default:
		return 0.3
	}
}

// ModelSeedCredits implements spec.md §4.3's seeding reward formula.
func ModelSeedCredits(sizeBytes int64, seederCount int) float64 {
	sizeGB := float64(sizeBytes) / (1 << 30)
	if seederCount < 1 {
		seederCount = 1
	}
	return 0.5 * sizeGB * (1 + 1/float64(seederCount))
}
