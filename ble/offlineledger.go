// Copyright 2026 The EdgeCoder Authors
// This file is part of the EdgeCoder library.
//
// The EdgeCoder library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package ble

import (
	"sync"

	"github.com/codyrs82/edgecoder/ledger"
)

// OfflineLedger buffers credit transactions recorded while a device has no
// path to the coordinator, for later idempotent sync into the main ordering
// chain (spec.md §4.4). Entries are deduplicated by txId so replaying an
// export batch after a partial sync never double-applies a transaction.
type OfflineLedger struct {
	mu     sync.Mutex
	byTxID map[string]ledger.CreditTransaction
	synced map[string]bool
}

func NewOfflineLedger() *OfflineLedger {
	return &OfflineLedger{
		byTxID: make(map[string]ledger.CreditTransaction),
		synced: make(map[string]bool),
	}
}

// Record stores a transaction created offline. Recording the same txId
// twice is a no-op, making replayed BLE deliveries safe.
func (l *OfflineLedger) Record(tx ledger.CreditTransaction) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.byTxID[tx.TxID]; ok {
		return
	}
	l.byTxID[tx.TxID] = tx
}

// Pending returns every recorded transaction not yet marked synced, ordered
// by Timestamp for deterministic replay.
func (l *OfflineLedger) Pending() []ledger.CreditTransaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ledger.CreditTransaction, 0, len(l.byTxID))
	for id, tx := range l.byTxID {
		if l.synced[id] {
			continue
		}
		out = append(out, tx)
	}
	sortByTimestamp(out)
	return out
}

// ExportBatch is Pending wrapped as the wire shape handed to the
// coordinator sync endpoint once connectivity returns.
type ExportBatch struct {
	Transactions []ledger.CreditTransaction
}

func (l *OfflineLedger) ExportBatch() ExportBatch {
	return ExportBatch{Transactions: l.Pending()}
}

// MarkSynced records that the coordinator has durably accepted the given
// txIds, so a later ExportBatch call will not resend them. Marking an
// unknown or already-synced id is a no-op.
func (l *OfflineLedger) MarkSynced(txIDs []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range txIDs {
		if _, ok := l.byTxID[id]; ok {
			l.synced[id] = true
		}
	}
}

// Clear discards every synced transaction, freeing space once the
// coordinator has durably checkpointed them (spec.md §4.3 checkpointing).
func (l *OfflineLedger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, done := range l.synced {
		if done {
			delete(l.byTxID, id)
			delete(l.synced, id)
		}
	}
}

func sortByTimestamp(txs []ledger.CreditTransaction) {
	for i := 1; i < len(txs); i++ {
		for j := i; j > 0 && txs[j].Timestamp < txs[j-1].Timestamp; j-- {
			txs[j], txs[j-1] = txs[j-1], txs[j]
		}
	}
}
