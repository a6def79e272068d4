// Copyright 2026 The EdgeCoder Authors
// This file is part of the EdgeCoder library.
//
// The EdgeCoder library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package store defines EdgeCoder's persistent data model (spec.md §3) and
// the PersistentStore adapter interface (spec.md §6.3) that the coordinator
// and credit engine are backed by.
package store

import "github.com/codyrs82/edgecoder/ledger"

// AgentMode is spec.md §3.1's mode enum.
type AgentMode string

const (
	ModeSwarmOnly  AgentMode = "swarm-only"
	ModeIDEEnabled AgentMode = "ide-enabled"
)

// ResourceClass is spec.md §3.2's projectMeta.resourceClass enum.
type ResourceClass string

const (
	ResourceCPU ResourceClass = "cpu"
	ResourceGPU ResourceClass = "gpu"
)

// PowerTelemetry is spec.md §3.1's powerTelemetry attribute.
type PowerTelemetry struct {
	OnExternalPower bool    `json:"onExternalPower"`
	BatteryPct      float64 `json:"batteryPct"`
	LowPowerMode    bool    `json:"lowPowerMode"`
	UpdatedAtMs     int64   `json:"updatedAtMs"`
}

// Agent represents a participating node from the coordinator's perspective
// (spec.md §3.1). currentLoad = -1 is the "unavailable, model swap in
// progress" sentinel.
type Agent struct {
	AgentID              string         `json:"agentId"`
	AccountID            string         `json:"accountId"`
	PublicKey            []byte         `json:"publicKey"`
	OS                   string         `json:"os"`
	Version              string         `json:"version"`
	ClientType           string         `json:"clientType"`
	Mode                 AgentMode      `json:"mode"`
	LocalModelCatalog    []string       `json:"localModelCatalog"`
	ActiveModel          string         `json:"activeModel"`
	ActiveModelParamSize float64        `json:"activeModelParamSize"`
	ModelSwapInProgress  bool           `json:"modelSwapInProgress"`
	MaxConcurrentTasks   int            `json:"maxConcurrentTasks"`
	CurrentLoad          int            `json:"currentLoad"`
	PowerTelemetry       PowerTelemetry `json:"powerTelemetry"`
	LastSeenMs           int64          `json:"lastSeenMs"`
	ConnectedPeers       []string       `json:"connectedPeers"`
}

// TaskStatus is spec.md §3.2's status enum / state machine.
type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"
	TaskOffered   TaskStatus = "offered"
	TaskClaimed   TaskStatus = "claimed"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskExpired   TaskStatus = "expired"
)

// ProjectMeta is spec.md §3.2's projectMeta attribute.
type ProjectMeta struct {
	ProjectID     string        `json:"projectId"`
	ResourceClass ResourceClass `json:"resourceClass"`
	Priority      int           `json:"priority"`
}

// Task is a unit of work (spec.md §3.2).
type Task struct {
	TaskID            string          `json:"taskId"`
	Kind              string          `json:"kind"`
	Language          string          `json:"language"`
	Input             string          `json:"input"`
	TimeoutMs         int64           `json:"timeoutMs"`
	SnapshotRef       string          `json:"snapshotRef"`
	ProjectMeta       ProjectMeta     `json:"projectMeta"`
	Status            TaskStatus      `json:"status"`
	RequiredModel     string          `json:"requiredModel"`
	RequiredModelSize float64         `json:"requiredModelSize"`
	// ForwardedTo names the other coordinator in a cross-coordinator
	// routing relationship (spec.md §4.5): on the task's home coordinator
	// it is the remote coordinator the task was forwarded to; on the
	// remote coordinator that accepted it, it is the originator to route
	// the result back to.
	ForwardedTo       string          `json:"forwardedTo"`
	RequesterID         string        `json:"requesterId"`
	RequesterAccountID  string        `json:"requesterAccountId"`
	BidTimestampMs      int64         `json:"bidTimestampMs"`
	RequesterSignature []byte         `json:"requesterSignature"`
	ClaimedBy         string          `json:"claimedBy"`
	ClaimedAtMs       int64           `json:"claimedAtMs"`
	CompletedAtMs     int64           `json:"completedAtMs"`
	Result            *TaskResult     `json:"result"`
	EnqueuedAtMs      int64           `json:"enqueuedAtMs"`
	RetryCount        int             `json:"retryCount"`
	FailureReason     string          `json:"failureReason"`
}

// TaskResult is the signed outcome of executing a task.
type TaskResult struct {
	Output     string  `json:"output"`
	CPUSeconds float64 `json:"cpuSeconds"`
	Signature  []byte  `json:"signature"`
}

// PaymentIntent records a requester's pre-signed willingness to pay for a
// task before execution completes (spec.md §6.3 PersistentStore: "CRUD
// for ... payment intents").
type PaymentIntent struct {
	TaskID             string `json:"taskId"`
	RequesterAccountID string `json:"requesterAccountId"`
	MaxCredits         float64 `json:"maxCredits"`
	Signature          []byte `json:"signature"`
}

// PersistentStore is the CRUD adapter every coordinator is backed by
// (spec.md §6.3). Implementations must support row-level mutual exclusion
// equivalent to SELECT ... FOR UPDATE via WithAgentLock/WithTaskLock.
type PersistentStore interface {
	PutAgent(Agent) error
	GetAgent(agentID string) (Agent, bool, error)
	ListAgents() ([]Agent, error)
	DeleteAgent(agentID string) error

	PutTask(Task) error
	GetTask(taskID string) (Task, bool, error)
	ListTasks() ([]Task, error)
	DeleteTask(taskID string) error

	PutAccount(ledger.Account) error
	GetAccount(accountID string) (ledger.Account, bool, error)

	AppendOrderingEntry(seq int64, entry []byte) error
	RangeOrderingEntries(from, to int64) ([][]byte, error)

	PutPaymentIntent(PaymentIntent) error
	GetPaymentIntent(taskID string) (PaymentIntent, bool, error)

	// WithAgentLock and WithTaskLock provide FOR UPDATE-equivalent
	// exclusion for read-modify-write sequences against a single row.
	WithAgentLock(agentID string, fn func() error) error
	WithTaskLock(taskID string, fn func() error) error

	Close() error
}
