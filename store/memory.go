// Copyright 2026 The EdgeCoder Authors
// This file is part of the EdgeCoder library.
//
// The EdgeCoder library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package store

import (
	"sync"

	"github.com/codyrs82/edgecoder/ledger"
)

// MemoryStore is an in-process PersistentStore used by tests and by nodes
// that opt out of durable storage. Every map has its own mutex, per
// spec.md §5's "fine-grained mutual exclusion (one lock per map)".
type MemoryStore struct {
	agentsMu sync.RWMutex
	agents   map[string]Agent

	tasksMu sync.RWMutex
	tasks   map[string]Task

	acctsMu  sync.RWMutex
	accounts map[string]ledger.Account

	orderMu sync.Mutex
	order   map[int64][]byte

	intentsMu sync.RWMutex
	intents   map[string]PaymentIntent

	rowLocksMu sync.Mutex
	rowLocks   map[string]*sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:   make(map[string]Agent),
		tasks:    make(map[string]Task),
		accounts: make(map[string]ledger.Account),
		order:    make(map[int64][]byte),
		intents:  make(map[string]PaymentIntent),
		rowLocks: make(map[string]*sync.Mutex),
	}
}

func (s *MemoryStore) rowLock(key string) *sync.Mutex {
	s.rowLocksMu.Lock()
	defer s.rowLocksMu.Unlock()
	l, ok := s.rowLocks[key]
	if !ok {
		l = &sync.Mutex{}
		s.rowLocks[key] = l
	}
	return l
}

func (s *MemoryStore) WithAgentLock(agentID string, fn func() error) error {
	l := s.rowLock("agent:" + agentID)
	l.Lock()
	defer l.Unlock()
	return fn()
}

func (s *MemoryStore) WithTaskLock(taskID string, fn func() error) error {
	l := s.rowLock("task:" + taskID)
	l.Lock()
	defer l.Unlock()
	return fn()
}

func (s *MemoryStore) PutAgent(a Agent) error {
	s.agentsMu.Lock()
	defer s.agentsMu.Unlock()
	s.agents[a.AgentID] = a
	return nil
}

func (s *MemoryStore) GetAgent(agentID string) (Agent, bool, error) {
	s.agentsMu.RLock()
	defer s.agentsMu.RUnlock()
	a, ok := s.agents[agentID]
	return a, ok, nil
}

func (s *MemoryStore) ListAgents() ([]Agent, error) {
	s.agentsMu.RLock()
	defer s.agentsMu.RUnlock()
	out := make([]Agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a)
	}
	return out, nil
}

func (s *MemoryStore) DeleteAgent(agentID string) error {
	s.agentsMu.Lock()
	defer s.agentsMu.Unlock()
	delete(s.agents, agentID)
	return nil
}

func (s *MemoryStore) PutTask(t Task) error {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()
	s.tasks[t.TaskID] = t
	return nil
}

func (s *MemoryStore) GetTask(taskID string) (Task, bool, error) {
	s.tasksMu.RLock()
	defer s.tasksMu.RUnlock()
	t, ok := s.tasks[taskID]
	return t, ok, nil
}

func (s *MemoryStore) ListTasks() ([]Task, error) {
	s.tasksMu.RLock()
	defer s.tasksMu.RUnlock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	return out, nil
}

func (s *MemoryStore) DeleteTask(taskID string) error {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()
	delete(s.tasks, taskID)
	return nil
}

func (s *MemoryStore) PutAccount(a ledger.Account) error {
	s.acctsMu.Lock()
	defer s.acctsMu.Unlock()
	s.accounts[a.AccountID] = a
	return nil
}

func (s *MemoryStore) GetAccount(accountID string) (ledger.Account, bool, error) {
	s.acctsMu.RLock()
	defer s.acctsMu.RUnlock()
	a, ok := s.accounts[accountID]
	return a, ok, nil
}

func (s *MemoryStore) AppendOrderingEntry(seq int64, entry []byte) error {
	s.orderMu.Lock()
	defer s.orderMu.Unlock()
	s.order[seq] = entry
	return nil
}

func (s *MemoryStore) RangeOrderingEntries(from, to int64) ([][]byte, error) {
	s.orderMu.Lock()
	defer s.orderMu.Unlock()
	var out [][]byte
	for seq := from; seq < to; seq++ {
		if e, ok := s.order[seq]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) PutPaymentIntent(p PaymentIntent) error {
	s.intentsMu.Lock()
	defer s.intentsMu.Unlock()
	s.intents[p.TaskID] = p
	return nil
}

func (s *MemoryStore) GetPaymentIntent(taskID string) (PaymentIntent, bool, error) {
	s.intentsMu.RLock()
	defer s.intentsMu.RUnlock()
	p, ok := s.intents[taskID]
	return p, ok, nil
}

func (s *MemoryStore) Close() error { return nil }
