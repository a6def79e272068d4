// Copyright 2026 The EdgeCoder Authors
// This file is part of the EdgeCoder library.
//
// The EdgeCoder library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// PebbleStore backs PersistentStore with a cockroachdb/pebble LSM tree, the
// same storage engine the teacher repository uses for its own chain
// database. Values are JSON-encoded; keys are namespaced by record kind.
package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/codyrs82/edgecoder/ledger"
)

type PebbleStore struct {
	db *pebble.DB

	rowLocksMu sync.Mutex
	rowLocks   map[string]*sync.Mutex
}

// OpenPebbleStore opens (creating if absent) a pebble database at dir.
func OpenPebbleStore(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble store at %s: %w", dir, err)
	}
	return &PebbleStore{db: db, rowLocks: make(map[string]*sync.Mutex)}, nil
}

func (s *PebbleStore) rowLock(key string) *sync.Mutex {
	s.rowLocksMu.Lock()
	defer s.rowLocksMu.Unlock()
	l, ok := s.rowLocks[key]
	if !ok {
		l = &sync.Mutex{}
		s.rowLocks[key] = l
	}
	return l
}

func (s *PebbleStore) WithAgentLock(agentID string, fn func() error) error {
	l := s.rowLock("agent:" + agentID)
	l.Lock()
	defer l.Unlock()
	return fn()
}

func (s *PebbleStore) WithTaskLock(taskID string, fn func() error) error {
	l := s.rowLock("task:" + taskID)
	l.Lock()
	defer l.Unlock()
	return fn()
}

func putJSON(db *pebble.DB, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return db.Set([]byte(key), b, pebble.Sync)
}

func getJSON(db *pebble.DB, key string, v any) (bool, error) {
	val, closer, err := db.Get([]byte(key))
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	defer closer.Close()
	if err := json.Unmarshal(val, v); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

func (s *PebbleStore) PutAgent(a Agent) error { return putJSON(s.db, "agent:"+a.AgentID, a) }

func (s *PebbleStore) GetAgent(agentID string) (Agent, bool, error) {
	var a Agent
	ok, err := getJSON(s.db, "agent:"+agentID, &a)
	return a, ok, err
}

func (s *PebbleStore) ListAgents() ([]Agent, error) {
	return scanPrefix[Agent](s.db, "agent:")
}

func (s *PebbleStore) DeleteAgent(agentID string) error {
	return s.db.Delete([]byte("agent:"+agentID), pebble.Sync)
}

func (s *PebbleStore) PutTask(t Task) error { return putJSON(s.db, "task:"+t.TaskID, t) }

func (s *PebbleStore) GetTask(taskID string) (Task, bool, error) {
	var t Task
	ok, err := getJSON(s.db, "task:"+taskID, &t)
	return t, ok, err
}

func (s *PebbleStore) ListTasks() ([]Task, error) {
	return scanPrefix[Task](s.db, "task:")
}

func (s *PebbleStore) DeleteTask(taskID string) error {
	return s.db.Delete([]byte("task:"+taskID), pebble.Sync)
}

func (s *PebbleStore) PutAccount(a ledger.Account) error {
	return putJSON(s.db, "account:"+a.AccountID, a)
}

func (s *PebbleStore) GetAccount(accountID string) (ledger.Account, bool, error) {
	var a ledger.Account
	ok, err := getJSON(s.db, "account:"+accountID, &a)
	return a, ok, err
}

func (s *PebbleStore) AppendOrderingEntry(seq int64, entry []byte) error {
	return s.db.Set([]byte("order:"+strconv.FormatInt(seq, 10)), entry, pebble.Sync)
}

func (s *PebbleStore) RangeOrderingEntries(from, to int64) ([][]byte, error) {
	var out [][]byte
	for seq := from; seq < to; seq++ {
		val, closer, err := s.db.Get([]byte("order:" + strconv.FormatInt(seq, 10)))
		if err == pebble.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		cp := make([]byte, len(val))
		copy(cp, val)
		closer.Close()
		out = append(out, cp)
	}
	return out, nil
}

func (s *PebbleStore) PutPaymentIntent(p PaymentIntent) error {
	return putJSON(s.db, "intent:"+p.TaskID, p)
}

func (s *PebbleStore) GetPaymentIntent(taskID string) (PaymentIntent, bool, error) {
	var p PaymentIntent
	ok, err := getJSON(s.db, "intent:"+taskID, &p)
	return p, ok, err
}

func (s *PebbleStore) Close() error { return s.db.Close() }

func scanPrefix[T any](db *pebble.DB, prefix string) ([]T, error) {
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: prefixUpperBound([]byte(prefix)),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []T
	for valid := iter.First(); valid; valid = iter.Next() {
		var v T
		if err := json.Unmarshal(iter.Value(), &v); err != nil {
			return nil, fmt.Errorf("unmarshal scan entry: %w", err)
		}
		out = append(out, v)
	}
	return out, iter.Error()
}

// prefixUpperBound returns the smallest key that sorts after every key
// with the given prefix, the idiomatic pebble pattern for prefix scans.
func prefixUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)
	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper[:i+1]
		}
	}
	return nil
}
