// Copyright 2026 The EdgeCoder Authors
// This file is part of the EdgeCoder library.
//
// The EdgeCoder library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package coordinator

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codyrs82/edgecoder/crypto"
	"github.com/codyrs82/edgecoder/internal/metrics"
	"github.com/codyrs82/edgecoder/internal/xerr"
	"github.com/codyrs82/edgecoder/internal/xlog"
	"github.com/codyrs82/edgecoder/ledger"
	"github.com/codyrs82/edgecoder/mesh"
	"github.com/codyrs82/edgecoder/pricing"
	"github.com/codyrs82/edgecoder/store"
)

// Config carries the tunables named in spec.md §4.1 and §4.3.
type Config struct {
	StaleThreshold    time.Duration // default 120s
	TimeoutFactor     int64         // claimed -> queued after TimeoutFactor * task.TimeoutMs, default 2
	MaxRetries        int           // default 3
	BaseRatePerCPUSec float64
	ClaimDelay        time.Duration // default 250ms
}

func DefaultConfig() Config {
	return Config{
		StaleThreshold:    120 * time.Second,
		TimeoutFactor:     2,
		MaxRetries:        3,
		BaseRatePerCPUSec: 1.0,
		ClaimDelay:        250 * time.Millisecond,
	}
}

// Coordinator implements spec.md §4.1's public contract. It owns the task
// queue (via Scheduler) and mediates every mutation of the agent table and
// task records through its own methods instead of exposing the store
// directly, per spec.md §9's "encapsulate each state family in its own owner
// object with an explicit lifecycle".
type Coordinator struct {
	id          string
	cfg         Config
	store       store.PersistentStore
	scheduler   *Scheduler
	engine      *ledger.Engine
	broadcaster *mesh.Broadcaster
	identity    *crypto.Identity
	now         func() time.Time
	log         *slog.Logger

	claimsMu    sync.Mutex
	claims      map[string]*mesh.ClaimWindow
	offerSentMs map[string]int64

	federated   *mesh.FederatedCapabilities
	priceWindow *pricing.Window
	priceCfg    pricing.Config
}

// SetFederation wires the cross-coordinator routing and pricing components
// (spec.md §4.5). A coordinator that never receives capability_summary or
// price_proposal traffic can leave this unset; EnqueueTask then simply
// leaves model-incapable tasks queued rather than forwarding them.
func (c *Coordinator) SetFederation(fc *mesh.FederatedCapabilities, pw *pricing.Window, priceCfg pricing.Config) {
	c.federated = fc
	c.priceWindow = pw
	c.priceCfg = priceCfg
}

// New builds a Coordinator. broadcaster and identity may be nil for a node
// that does not participate in the gossip mesh.
func New(id string, st store.PersistentStore, engine *ledger.Engine, broadcaster *mesh.Broadcaster, identity *crypto.Identity, cfg Config) *Coordinator {
	return &Coordinator{
		id:          id,
		cfg:         cfg,
		store:       st,
		scheduler:   NewScheduler(),
		engine:      engine,
		broadcaster: broadcaster,
		identity:    identity,
		now:         time.Now,
		log:         xlog.New("coordinator", "coordinatorId", id),
		claims:      make(map[string]*mesh.ClaimWindow),
		offerSentMs: make(map[string]int64),
	}
}

func taskHash(input string) string {
	h := sha256.Sum256([]byte(input))
	return hex.EncodeToString(h[:])
}

func (c *Coordinator) nowMs() int64 { return c.now().UnixMilli() }

// RegisterRequest is the payload of POST /register (spec.md §6.1). The
// signer signs the JSON encoding of every field except Signature.
type RegisterRequest struct {
	AgentID              string            `json:"agentId"`
	AccountID            string            `json:"accountId"`
	PublicKey            ed25519.PublicKey `json:"publicKey"`
	OS                   string            `json:"os"`
	Version              string            `json:"version"`
	ClientType           string            `json:"clientType"`
	Mode                 store.AgentMode   `json:"mode"`
	LocalModelCatalog    []string          `json:"localModelCatalog"`
	ActiveModel          string            `json:"activeModel"`
	ActiveModelParamSize float64           `json:"activeModelParamSize"`
	MaxConcurrentTasks   int               `json:"maxConcurrentTasks"`
	Signature            []byte            `json:"signature,omitempty"`
}

func (r RegisterRequest) signingBytes() ([]byte, error) {
	cp := r
	cp.Signature = nil
	return json.Marshal(cp)
}

// SigningBytes exposes signingBytes to callers outside this package (e.g.
// a Node self-registering its own embedded worker identity) that need to
// produce a signature over a RegisterRequest before calling RegisterAgent.
func (r RegisterRequest) SigningBytes() ([]byte, error) {
	return r.signingBytes()
}

// RegisterAgent implements spec.md §4.1: idempotent, overwrites a prior
// record with the same agentId once the signature checks out.
func (c *Coordinator) RegisterAgent(req RegisterRequest) (string, error) {
	if req.AgentID == "" {
		return "", xerr.Validation("missing_agent_id", "agentId is required")
	}
	b, err := req.signingBytes()
	if err != nil {
		return "", fmt.Errorf("marshal register request: %w", err)
	}
	if !crypto.Verify(req.PublicKey, b, req.Signature) {
		return "", xerr.Auth(xerr.CodeBadSignature, "registration signature does not verify")
	}

	agent := store.Agent{
		AgentID:              req.AgentID,
		AccountID:            req.AccountID,
		PublicKey:            req.PublicKey,
		OS:                   req.OS,
		Version:              req.Version,
		ClientType:           req.ClientType,
		Mode:                 req.Mode,
		LocalModelCatalog:    req.LocalModelCatalog,
		ActiveModel:          req.ActiveModel,
		ActiveModelParamSize: req.ActiveModelParamSize,
		MaxConcurrentTasks:   req.MaxConcurrentTasks,
		LastSeenMs:           c.nowMs(),
	}
	if err := c.store.WithAgentLock(req.AgentID, func() error { return c.store.PutAgent(agent) }); err != nil {
		return "", err
	}
	c.engine.RegisterAccountKey(req.AccountID, req.PublicKey)
	return req.AgentID, nil
}

// HeartbeatRequest is the payload of POST /heartbeat (spec.md §6.1).
type HeartbeatRequest struct {
	AgentID              string              `json:"agentId"`
	PowerTelemetry       store.PowerTelemetry `json:"powerTelemetry"`
	ActiveModel          string              `json:"activeModel"`
	ActiveModelParamSize float64             `json:"activeModelParamSize"`
	ModelSwapInProgress  bool                `json:"modelSwapInProgress"`
	CurrentLoad          int                 `json:"currentLoad"`
	ConnectedPeers       []string            `json:"connectedPeers"`
}

// Heartbeat updates lastSeenMs, telemetry and model fields (spec.md §4.1).
// Fails with unknown_agent if the agent was never registered. Heartbeats
// are processed in arrival order and a newer one always wins, so this
// simply overwrites the stored snapshot under the row lock.
func (c *Coordinator) Heartbeat(req HeartbeatRequest) error {
	return c.store.WithAgentLock(req.AgentID, func() error {
		agent, ok, err := c.store.GetAgent(req.AgentID)
		if err != nil {
			return err
		}
		if !ok {
			return xerr.Logical(xerr.CodeUnknownAgent, "agent is not registered")
		}
		agent.PowerTelemetry = req.PowerTelemetry
		agent.PowerTelemetry.UpdatedAtMs = c.nowMs()
		agent.ActiveModel = req.ActiveModel
		agent.ActiveModelParamSize = req.ActiveModelParamSize
		agent.ModelSwapInProgress = req.ModelSwapInProgress
		if req.ModelSwapInProgress {
			agent.CurrentLoad = -1
		} else {
			agent.CurrentLoad = req.CurrentLoad
		}
		agent.ConnectedPeers = req.ConnectedPeers
		agent.LastSeenMs = c.nowMs()
		return c.store.PutAgent(agent)
	})
}

// EnqueueTask implements spec.md §4.1: assigns a taskId if absent, places
// the task into the fair-share queue, and returns immediately. A task whose
// requiredModel this coordinator has no locally capable agent for is
// forwarded to the best federated peer instead (spec.md §4.5, §8 boundary
// behavior: "never dispatched to an incapable agent").
func (c *Coordinator) EnqueueTask(t store.Task) (store.Task, error) {
	if t.TaskID == "" {
		t.TaskID = uuid.NewString()
	}
	if t.ProjectMeta.ProjectID == "" {
		return store.Task{}, xerr.Validation("missing_project_id", "projectMeta.projectId is required")
	}
	t.EnqueuedAtMs = c.nowMs()

	if t.RequiredModel != "" && !c.hasCapableAgent(t.RequiredModelSize) && c.federated != nil && c.broadcaster != nil && c.identity != nil {
		if target, ok := pricing.ForwardTarget(c.federated, t.RequiredModel); ok {
			t.Status = store.TaskOffered
			t.ForwardedTo = target
			if err := c.store.PutTask(t); err != nil {
				return store.Task{}, err
			}
			c.forwardTask(target, t)
			return t, nil
		}
	}

	return c.enqueueLocally(t)
}

// enqueueLocally places t directly into this coordinator's own fair-share
// queue, bypassing the forward-eligibility check. Used both by EnqueueTask's
// fallthrough and by AcceptForwardedTask, which must never re-forward a
// task it just accepted, since doing so would overwrite ForwardedTo and lose the
// route back to the originator.
func (c *Coordinator) enqueueLocally(t store.Task) (store.Task, error) {
	t.Status = store.TaskQueued
	if err := c.store.PutTask(t); err != nil {
		return store.Task{}, err
	}
	c.scheduler.Enqueue(&pendingTask{
		taskID:            t.TaskID,
		projectID:         t.ProjectMeta.ProjectID,
		priority:          t.ProjectMeta.Priority,
		enqueuedAtMs:      t.EnqueuedAtMs,
		resourceClass:     t.ProjectMeta.ResourceClass,
		requiredModelSize: t.RequiredModelSize,
	})

	if c.broadcaster != nil && c.identity != nil {
		c.offerTask(t)
	}
	return t, nil
}

// hasCapableAgent reports whether any registered agent's active model can
// serve requiredModelSize, regardless of current load or resource class.
// Used only to decide whether forwarding is worth attempting.
func (c *Coordinator) hasCapableAgent(requiredModelSize float64) bool {
	agents, err := c.store.ListAgents()
	if err != nil {
		return true // fail closed: don't forward on a store error
	}
	for _, a := range agents {
		if a.ActiveModelParamSize >= requiredModelSize {
			return true
		}
	}
	return false
}

func (c *Coordinator) offerTask(t store.Task) {
	env, err := mesh.NewEnvelope(mesh.TypeTaskOffer, c.id, c.identity.Public, 3, t)
	if err != nil {
		c.log.Warn("build task_offer envelope failed", "taskId", t.TaskID, "err", err)
		return
	}
	if err := env.Sign(c.identity); err != nil {
		c.log.Warn("sign task_offer envelope failed", "taskId", t.TaskID, "err", err)
		return
	}
	c.claimsMu.Lock()
	c.claims[t.TaskID] = mesh.NewClaimWindow(c.cfg.ClaimDelay)
	c.offerSentMs[t.TaskID] = c.nowMs()
	c.claimsMu.Unlock()
	c.broadcaster.Broadcast(context.Background(), env)
}

// PullTasks implements spec.md §4.1: returns up to max tasks the agent may
// claim locally, according to the fair-share policy, skipping tasks whose
// resource class or model requirement the agent cannot satisfy.
func (c *Coordinator) PullTasks(agentID string, resourceClass store.ResourceClass, max int) ([]store.Task, error) {
	agent, ok, err := c.store.GetAgent(agentID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, xerr.Logical(xerr.CodeUnknownAgent, "agent is not registered")
	}

	picked := c.scheduler.Pull(resourceClass, agent.ActiveModelParamSize, max)
	out := make([]store.Task, 0, len(picked))
	now := c.nowMs()
	for _, p := range picked {
		var claimed store.Task
		err := c.store.WithTaskLock(p.taskID, func() error {
			t, ok, err := c.store.GetTask(p.taskID)
			if err != nil {
				return err
			}
			if !ok || t.Status != store.TaskQueued {
				return xerr.Logical("task_not_queued", "task is no longer queued")
			}
			t.Status = store.TaskClaimed
			t.ClaimedBy = agentID
			t.ClaimedAtMs = now
			if err := c.store.PutTask(t); err != nil {
				return err
			}
			claimed = t
			return nil
		})
		if err != nil {
			c.log.Warn("pull could not claim task", "taskId", p.taskID, "err", err)
			continue
		}
		out = append(out, claimed)
	}
	return out, nil
}

// ReportResultRequest is the payload of POST /report (spec.md §6.1). The
// provider computes TxID and the credits it expects to earn itself (the
// fixed multiplier table and the published base rate are both public),
// signs the resulting transaction bytes, and submits that signature
// alongside the result; the coordinator recomputes the same credits and
// accepts only if the two agree byte-for-byte (spec.md §4.3 step 2-3).
type ReportResultRequest struct {
	TaskID              string  `json:"taskId"`
	AgentID             string  `json:"agentId"`
	TxID                string  `json:"txId"`
	Success             bool    `json:"success"`
	Output              string  `json:"output"`
	CPUSeconds          float64 `json:"cpuSeconds"`
	FailureReason       string  `json:"failureReason"`
	ResultSignature     []byte  `json:"resultSignature"`
	ProviderTxSignature []byte  `json:"providerTxSignature"`
}

type resultSigned struct {
	TaskID     string  `json:"taskId"`
	Output     string  `json:"output"`
	CPUSeconds float64 `json:"cpuSeconds"`
}

func resultSigningBytes(taskID, output string, cpuSeconds float64) ([]byte, error) {
	return json.Marshal(resultSigned{taskID, output, cpuSeconds})
}

// ReportResult implements spec.md §4.1 and §4.3: verifies the reporter is
// the claimer and that its result signature verifies, transitions the task
// to completed or failed, and on success records the dual-signed
// credit transaction and orders it into the chain. A task forwarded from
// another coordinator is not settled here: its outcome is announced back
// to the originator, which records the transaction.
func (c *Coordinator) ReportResult(req ReportResultRequest) error {
	var task store.Task
	var agent store.Agent
	err := c.store.WithTaskLock(req.TaskID, func() error {
		t, ok, err := c.store.GetTask(req.TaskID)
		if err != nil {
			return err
		}
		if !ok {
			return xerr.Logical("unknown_task", "task does not exist")
		}
		if t.ClaimedBy != req.AgentID {
			return xerr.Logical(xerr.CodeNotClaimer, "reporter did not claim this task")
		}
		a, ok, err := c.store.GetAgent(req.AgentID)
		if err != nil {
			return err
		}
		if !ok {
			return xerr.Logical(xerr.CodeUnknownAgent, "reporting agent is not registered")
		}
		resultBytes, err := resultSigningBytes(req.TaskID, req.Output, req.CPUSeconds)
		if err != nil {
			return err
		}
		if !crypto.Verify(a.PublicKey, resultBytes, req.ResultSignature) {
			return xerr.Validation(xerr.CodeBadSignature, "result signature does not verify")
		}

		now := c.nowMs()
		t.Result = &store.TaskResult{Output: req.Output, CPUSeconds: req.CPUSeconds, Signature: req.ResultSignature}
		t.CompletedAtMs = now
		if req.Success {
			t.Status = store.TaskCompleted
		} else {
			t.Status = store.TaskFailed
			t.FailureReason = req.FailureReason
		}
		if err := c.store.PutTask(t); err != nil {
			return err
		}
		task, agent = t, a
		return nil
	})
	if err != nil {
		return err
	}
	credits := req.CPUSeconds * c.cfg.BaseRatePerCPUSec * ledger.ModelQualityMultiplier(agent.ActiveModelParamSize)
	if task.ForwardedTo != "" {
		// The originator settles forwarded tasks (HandleForwardedResult);
		// this coordinator only announces the outcome back to it.
		c.AnnounceForwardedResult(task, req, credits)
		return nil
	}
	if !req.Success {
		return nil
	}

	tx := ledger.CreditTransaction{
		TxID:                req.TxID,
		RequesterID:         task.RequesterID,
		ProviderID:          req.AgentID,
		RequesterAccountID:  task.RequesterAccountID,
		ProviderAccountID:   agent.AccountID,
		Credits:             credits,
		CPUSeconds:          req.CPUSeconds,
		TaskHash:            taskHash(task.Input),
		Timestamp:           task.BidTimestampMs,
		RequesterSignature:  task.RequesterSignature,
		ProviderSignature:   req.ProviderTxSignature,
		Reason:              ledger.ReasonTaskPayment,
	}
	return c.engine.RecordTransaction(tx, c.nowMs())
}

// StatusSnapshot is the payload of GET /status (spec.md §4.1, §6.1).
type StatusSnapshot struct {
	QueueDepth   int `json:"queueDepth"`
	AgentCount   int `json:"agentCount"`
	ChainLength  int `json:"chainLength"`
}

func (c *Coordinator) Status() (StatusSnapshot, error) {
	agents, err := c.store.ListAgents()
	if err != nil {
		return StatusSnapshot{}, err
	}
	snap := StatusSnapshot{
		QueueDepth:  c.scheduler.PendingCount(),
		AgentCount:  len(agents),
		ChainLength: c.engine.Chain().Len(),
	}
	metrics.QueueDepth.Set(float64(snap.QueueDepth))
	metrics.AgentCount.Set(float64(snap.AgentCount))
	metrics.ChainLength.Set(float64(snap.ChainLength))
	return snap, nil
}

// Balance returns an account's current credit balance (spec.md §4.3's
// "maintain per-account credit balances" responsibility).
func (c *Coordinator) Balance(accountID string) float64 {
	return c.engine.Balance(accountID)
}

// RecentTransactions returns an account's bounded transaction history, for
// the GET /status-style per-account audit trail (see SPEC_FULL.md's
// eth_transfer_logs-style supplemented feature).
func (c *Coordinator) RecentTransactions(accountID string) []ledger.CreditTransaction {
	return c.engine.RecentTransactions(accountID)
}

// AgentCapability is one entry of GET /capacity (spec.md §4.1, §6.1).
type AgentCapability struct {
	AgentID        string  `json:"agentId"`
	ActiveModel    string  `json:"activeModel"`
	ActiveModelParamSize float64 `json:"activeModelParamSize"`
	CurrentLoad    int     `json:"currentLoad"`
	MaxConcurrentTasks int `json:"maxConcurrentTasks"`
}

// Capacity reports every agent not yet past the staleness threshold
// (spec.md §8: "A appears in Capacity() iff now - A.lastSeenMs <=
// staleThreshold"). Filtered here rather than left to the reaper, since
// the reaper only sweeps once per cycle and the invariant must hold on
// every read, not just between cycles.
func (c *Coordinator) Capacity() ([]AgentCapability, error) {
	agents, err := c.store.ListAgents()
	if err != nil {
		return nil, err
	}
	now := c.nowMs()
	out := make([]AgentCapability, 0, len(agents))
	for _, a := range agents {
		if time.Duration(now-a.LastSeenMs)*time.Millisecond > c.cfg.StaleThreshold {
			continue
		}
		out = append(out, AgentCapability{
			AgentID:               a.AgentID,
			ActiveModel:           a.ActiveModel,
			ActiveModelParamSize:  a.ActiveModelParamSize,
			CurrentLoad:           a.CurrentLoad,
			MaxConcurrentTasks:    a.MaxConcurrentTasks,
		})
	}
	return out, nil
}

// ClaimWindow returns the open claim window for a task offered via the
// mesh, if any, so the mesh-ingress task group can feed in task_claim
// messages it receives (spec.md §4.2 "gossip claim delay").
func (c *Coordinator) ClaimWindow(taskID string) (*mesh.ClaimWindow, bool) {
	c.claimsMu.Lock()
	defer c.claimsMu.Unlock()
	w, ok := c.claims[taskID]
	return w, ok
}
