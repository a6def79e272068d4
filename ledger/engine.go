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
	"sync"

	"github.com/codyrs82/edgecoder/crypto"
	"github.com/codyrs82/edgecoder/internal/xerr"
)

// Signer produces a signature over an ordering-chain event hash on behalf
// of this coordinator's own identity.
type Signer interface {
	SignerID() string
	Sign(hash []byte) []byte
}

// RecentTxLimit bounds the per-account audit ring (SPEC_FULL's
// eth_transfer_logs-style supplemented feature): GET /status-style
// introspection sees only the tail of an account's history, never the
// full unbounded log.
const RecentTxLimit = 20

// Engine holds a single lock guarding all balances and the ledger append
// (spec.md §5: "The credit engine holds a single lock guarding all
// balances and the ledger append").
type Engine struct {
	mu       sync.Mutex
	accounts map[string]*Account
	txIndex  map[string]bool
	recentTx map[string][]CreditTransaction
	chain    *Chain
	self     Signer
}

func NewEngine(self Signer) *Engine {
	return &Engine{
		accounts: make(map[string]*Account),
		txIndex:  make(map[string]bool),
		recentTx: make(map[string][]CreditTransaction),
		chain:    NewChain(),
		self:     self,
	}
}

// pushRecentLocked appends tx to accountID's bounded audit ring, evicting
// the oldest entry once RecentTxLimit is exceeded. Caller holds e.mu.
func (e *Engine) pushRecentLocked(accountID string, tx CreditTransaction) {
	ring := append(e.recentTx[accountID], tx)
	if len(ring) > RecentTxLimit {
		ring = ring[len(ring)-RecentTxLimit:]
	}
	e.recentTx[accountID] = ring
}

// RecentTransactions returns accountID's most recent transactions, oldest
// first, newest last.
func (e *Engine) RecentTransactions(accountID string) []CreditTransaction {
	e.mu.Lock()
	defer e.mu.Unlock()
	ring := e.recentTx[accountID]
	out := make([]CreditTransaction, len(ring))
	copy(out, ring)
	return out
}

// Chain exposes the underlying ordering chain for reconciliation/snapshot.
func (e *Engine) Chain() *Chain { return e.chain }

// EnsureAccount creates an account with zero balance if absent.
func (e *Engine) EnsureAccount(accountID string, pub []byte) *Account {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ensureAccountLocked(accountID, pub)
}

func (e *Engine) ensureAccountLocked(accountID string, pub []byte) *Account {
	a, ok := e.accounts[accountID]
	if !ok {
		a = &Account{AccountID: accountID, PublicKey: pub}
		e.accounts[accountID] = a
	}
	return a
}

// Balance returns an account's current balance.
func (e *Engine) Balance(accountID string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if a, ok := e.accounts[accountID]; ok {
		return a.Balance
	}
	return 0
}

// RecordTransaction verifies both signatures, rejects duplicate txIds,
// debits the requester and credits the provider atomically, then appends
// to the ordering chain, all under the engine's single lock (spec.md
// §4.3 step 4, §5).
func (e *Engine) RecordTransaction(tx CreditTransaction, timestamp int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if tx.Credits < 0 {
		return xerr.Validation("negative_credits", "credit amount must be >= 0")
	}
	if e.txIndex[tx.TxID] {
		return xerr.Logical("duplicate_tx", "transaction id already recorded")
	}

	requester := e.ensureAccountLocked(tx.RequesterAccountID, nil)
	provider := e.ensureAccountLocked(tx.ProviderAccountID, nil)

	if requester.PublicKey == nil || provider.PublicKey == nil {
		return xerr.Validation("unknown_account_key", "account has no known public key to verify signatures against")
	}
	if !VerifyTransaction(tx, requester.PublicKey, provider.PublicKey) {
		return xerr.Validation(xerr.CodeBadSignature, "credit transaction signature verification failed")
	}

	payload, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("marshal tx payload: %w", err)
	}
	if _, err := e.chain.Append("credit_transaction", payload, e.self.SignerID(), timestamp, e.self.Sign); err != nil {
		return err
	}

	// Single atomic ledger entry with both effects.
	requester.Balance -= tx.Credits
	provider.Balance += tx.Credits
	e.txIndex[tx.TxID] = true
	e.pushRecentLocked(tx.RequesterAccountID, tx)
	e.pushRecentLocked(tx.ProviderAccountID, tx)
	return nil
}

// RegisterAccountKey associates a public key with an account id ahead of
// the first transaction referencing it (e.g. on agent registration).
func (e *Engine) RegisterAccountKey(accountID string, pub []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a := e.ensureAccountLocked(accountID, pub)
	if a.PublicKey == nil {
		a.PublicKey = pub
	}
}

// BLESyncResult is the response to a batch of offline transactions
// (spec.md §4.3 "Offline BLE sync", §8 scenario 4).
type BLESyncResult struct {
	Applied []string
	Skipped []string
	Total   int
}

// ApplyBLEBatch deduplicates by txId, verifies both signatures, and orders
// each valid, non-duplicate transaction. Invalid signatures and already-seen
// txIds both land in Skipped; applying the same batch twice yields the
// same ledger state (spec.md §8 idempotence law).
func (e *Engine) ApplyBLEBatch(txs []CreditTransaction, timestamp int64) BLESyncResult {
	result := BLESyncResult{Total: len(txs)}
	for _, tx := range txs {
		if err := e.RecordTransaction(tx, timestamp); err != nil {
			result.Skipped = append(result.Skipped, tx.TxID)
			continue
		}
		result.Applied = append(result.Applied, tx.TxID)
	}
	return result
}

// ApplyIssuance credits every account in amounts by its committed issuance
// share and appends a single ordering-chain entry recording the whole
// epoch's payout (spec.md §4.3 step 4: "the committed amounts are applied
// to every account's balance"). Unlike RecordTransaction this has no
// counterparty debit: the credits originate from the epoch's reward pool,
// not from another account.
func (e *Engine) ApplyIssuance(epochID string, amounts map[string]float64, timestamp int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.txIndex["issuance:"+epochID] {
		return xerr.Logical("duplicate_epoch", "issuance already applied for this epoch")
	}

	payload, err := json.Marshal(struct {
		EpochID string             `json:"epochId"`
		Amounts map[string]float64 `json:"amounts"`
	}{epochID, amounts})
	if err != nil {
		return fmt.Errorf("marshal issuance payload: %w", err)
	}
	if _, err := e.chain.Append("issuance_commit", payload, e.self.SignerID(), timestamp, e.self.Sign); err != nil {
		return err
	}

	for accountID, amount := range amounts {
		a := e.ensureAccountLocked(accountID, nil)
		a.Balance += amount
		e.pushRecentLocked(accountID, CreditTransaction{
			TxID: "issuance:" + epochID, ProviderAccountID: accountID,
			Credits: amount, Timestamp: timestamp, Reason: ReasonIssuance,
		})
	}
	e.txIndex["issuance:"+epochID] = true
	return nil
}

// identitySigner is a convenience Signer backed by a crypto.Identity.
type identitySigner struct {
	id     string
	signer *crypto.Identity
}

func NewIdentitySigner(id string, signer *crypto.Identity) Signer {
	return identitySigner{id: id, signer: signer}
}

func (s identitySigner) SignerID() string        { return s.id }
func (s identitySigner) Sign(hash []byte) []byte { return s.signer.Sign(hash) }
