// Copyright 2026 The EdgeCoder Authors
// This file is part of the EdgeCoder library.
//
// The EdgeCoder library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package adapters declares the external collaborator interfaces named in
// spec.md §6.3. EdgeCoder's core consumes these; the model provider's wire
// format, the worker's plan/code/test loop, and Bitcoin anchoring
// internals are explicitly out of scope (spec.md §1); only the seams are
// specified here.
package adapters

import "context"

// ModelInfo describes one model available on a backend.
type ModelInfo struct {
	Name      string
	ParamSize float64
}

// ModelBackend is the local inference facade's collaborator (e.g. an
// Ollama or llama.cpp process). Its wire format is explicitly out of
// scope; only this Go-level seam is specified.
type ModelBackend interface {
	Generate(ctx context.Context, model, prompt string, params map[string]any) (output string, cpuSeconds float64, err error)
	ListModels(ctx context.Context) ([]ModelInfo, error)
	Health(ctx context.Context) bool
}

// AnchorRef is an opaque handle returned by the anchor adapter, e.g. a
// Bitcoin transaction id carrying the checkpoint hash in an OP_RETURN
// output.
type AnchorRef string

// AnchorStatus reports the confirmation state of a previously submitted
// checkpoint.
type AnchorStatus struct {
	Confirmed     bool
	Confirmations int
}

// AnchorAdapter submits ordering-chain checkpoints to an external anchor.
// Bitcoin anchoring internals are out of scope; Submit must be idempotent
// on checkpointHash (spec.md §6.3).
type AnchorAdapter interface {
	Submit(ctx context.Context, checkpointHash string) (AnchorRef, error)
	Lookup(ctx context.Context, ref AnchorRef) (AnchorStatus, error)
}

// WorkerResult is what a local Worker produces for a claimed task.
type WorkerResult struct {
	Output           string
	CPUSeconds       float64
	ProviderSignature []byte
}

// Worker executes a claimed task locally. The plan/code/test/iterate loop
// itself is out of scope (spec.md §1); this is the seam the coordinator
// calls through, cancellable via ctx.
type Worker interface {
	Execute(ctx context.Context, taskID, kind, language, input string) (WorkerResult, error)
}

// BLEPeerInfo is what BLEPort discovery surfaces about a nearby peer.
type BLEPeerInfo struct {
	AgentID        string
	Model          string
	ModelParamSize float64
	MemoryMB       int
	BatteryPct     float64
	CurrentLoad    int
	DeviceType     string
	RSSI           int
	LastSeenMs     int64
}

// BLETaskRequest/Response mirror the GATT Task Request/Response
// characteristics of spec.md §4.4.
type BLETaskRequest struct {
	TaskID   string
	Kind     string
	Language string
	Input    string
}

type BLETaskResponse struct {
	TaskID     string
	Status     string // "completed" | "failed"
	Output     string
	CPUSeconds float64
	Signature  []byte
}

// BLEPort is the platform-specific Bluetooth LE transport the BLE local
// mesh subsystem drives (spec.md §6.3). Its radio implementation is out of
// scope; only this seam is specified.
type BLEPort interface {
	StartAdvertising(ad BLEPeerInfo) error
	StopAdvertising() error
	StartScanning() error
	DiscoveredPeers() []BLEPeerInfo
	SendTaskRequest(ctx context.Context, peerID string, req BLETaskRequest) (BLETaskResponse, error)
	OnTaskRequest(handler func(req BLETaskRequest) BLETaskResponse)
	UpdateAdvertisement(fields BLEPeerInfo) error
}
