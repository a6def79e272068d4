// Copyright 2026 The EdgeCoder Authors
// This file is part of the EdgeCoder library.
//
// The EdgeCoder library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package node

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/codyrs82/edgecoder/adapters"
	"github.com/codyrs82/edgecoder/coordinator"
	"github.com/codyrs82/edgecoder/crypto"
	"github.com/codyrs82/edgecoder/internal/gossip"
	"github.com/codyrs82/edgecoder/internal/xlog"
	"github.com/codyrs82/edgecoder/ledger"
	"github.com/codyrs82/edgecoder/mesh"
	"github.com/codyrs82/edgecoder/pricing"
	"github.com/codyrs82/edgecoder/store"
)

// Config carries the runtime-mode and timing tunables for a Node (spec.md
// §9 "runtime mode selects which [collaborator] to instantiate").
type Config struct {
	ListenAddr     string
	MeshAuthToken  string
	ResourceClass  store.ResourceClass
	ClaimDelay     time.Duration
	PeerProbeEvery time.Duration // default 45s
	PricingEvery   time.Duration // default 60s
	SnapshotEvery  time.Duration // default 30s
	ReaperEvery    time.Duration // default 30s
	IssuanceEvery  time.Duration // default 24h
	GossipFanout   int
	CoordinatorCfg coordinator.Config

	// Worker-mode self-registration (spec.md §9: a Node's embedded Worker
	// registers with its own composed Coordinator exactly as a remote agent
	// would over HTTP, just via the loopback call instead of the wire).
	WorkerAccountID            string
	WorkerActiveModel          string
	WorkerActiveModelParamSize float64
	WorkerMaxConcurrentTasks   int
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:     ":7545",
		ResourceClass:  store.ResourceCPU,
		ClaimDelay:     250 * time.Millisecond,
		PeerProbeEvery: 45 * time.Second,
		PricingEvery:   60 * time.Second,
		SnapshotEvery:  30 * time.Second,
		ReaperEvery:    30 * time.Second,
		IssuanceEvery:  24 * time.Hour,
		GossipFanout:   8,
		CoordinatorCfg: coordinator.DefaultConfig(),
	}
}

// Node composes an optional Coordinator, Worker, and inference facade
// (spec.md §9's redesign away from "every node runs everything"): runtime
// mode decides which of these three is non-nil. Every field below is this
// Node's shared infrastructure regardless of mode.
type Node struct {
	id       string
	cfg      Config
	identity *crypto.Identity

	store  store.PersistentStore
	engine *ledger.Engine
	coord  *coordinator.Coordinator

	worker    adapters.Worker
	inference adapters.ModelBackend
	ble       *bleCollaborator

	peers       *mesh.PeerTable
	transport   mesh.Transport
	broadcaster *mesh.Broadcaster
	pipeline    *mesh.Pipeline
	federated   *mesh.FederatedCapabilities
	priceWindow *pricing.Window

	server       *coordinator.Server
	reaper       *coordinator.Reaper
	dispatcher   *Dispatcher
	claimSweeper *claimSweeper
	reconciler   *reconciler
	issuance     *issuanceOrchestrator

	log *slog.Logger

	backgroundCtx context.Context
	cancel        context.CancelFunc
}

// New builds a Node. transport may be nil for a single-node deployment
// that never dials peers.
func New(id string, cfg Config, st store.PersistentStore, identity *crypto.Identity, transport mesh.Transport) *Node {
	peers := mesh.NewPeerTable()
	fanout := cfg.GossipFanout
	var broadcaster *mesh.Broadcaster
	if transport != nil {
		broadcaster = mesh.NewBroadcaster(peers, transport, fanout)
	}

	engine := ledger.NewEngine(ledger.NewIdentitySigner(id, identity))
	coordCfg := cfg.CoordinatorCfg
	coordCfg.ClaimDelay = cfg.ClaimDelay
	coord := coordinator.New(id, st, engine, broadcaster, identity, coordCfg)

	federated := mesh.NewFederatedCapabilities(cfg.PricingEvery)
	priceWindow := pricing.NewWindow(cfg.PricingEvery)
	coord.SetFederation(federated, priceWindow, pricing.DefaultConfig())

	n := &Node{
		id:            id,
		cfg:           cfg,
		identity:      identity,
		store:         st,
		engine:        engine,
		coord:         coord,
		peers:         peers,
		transport:     transport,
		broadcaster:   broadcaster,
		federated:     federated,
		priceWindow:   priceWindow,
		reaper:        coordinator.NewReaper(coord, cfg.ReaperEvery),
		log:           xlog.New("node", "nodeId", id),
		backgroundCtx: context.Background(),
	}
	n.claimSweeper = newClaimSweeper(n)
	n.reconciler = newReconciler(n)
	n.issuance = newIssuanceOrchestrator(n, cfg.IssuanceEvery)

	pipeline, err := mesh.NewPipeline(mesh.DefaultPipelineConfig(), nil)
	if err != nil {
		// DefaultPipelineConfig's DedupCapacity is a positive literal; the
		// only failure mode is lru.New rejecting a non-positive size.
		panic(fmt.Sprintf("node: default pipeline config is invalid: %v", err))
	}
	n.pipeline = pipeline
	n.dispatcher = newDispatcher(n)

	server := coordinator.NewServer(coord, cfg.MeshAuthToken)
	server.SetMeshIngress(pipeline, peers)
	server.SetEnvelopeHandler(n.dispatcher)
	n.server = server

	return n
}

// Ingest runs env through the receive pipeline and, once accepted as
// non-duplicate, dispatches it (the same path POST /mesh/ingest drives),
// exposed directly for transports that deliver envelopes without an HTTP
// round trip (an in-process fake, a websocket frame handler) and for tests.
func (n *Node) Ingest(env *mesh.Envelope) error {
	outcome, err := n.pipeline.Process(env)
	if err != nil {
		return err
	}
	if outcome == mesh.OutcomeDuplicate {
		return nil
	}
	return n.dispatcher.HandleEnvelope(env)
}

// SetWorker attaches a local Worker, enabling the worker-pool task group.
func (n *Node) SetWorker(w adapters.Worker) { n.worker = w }

// SetInference attaches a local ModelBackend facade.
func (n *Node) SetInference(m adapters.ModelBackend) { n.inference = m }

// SetBLE attaches the platform Bluetooth LE transport, enabling the local
// mesh task group (spec.md §4.4). A Node with no nearby-peer hardware never
// calls this and the task group never starts.
func (n *Node) SetBLE(port adapters.BLEPort) { n.ble = newBLECollaborator(n, port) }

func (n *Node) ctx() context.Context            { return n.backgroundCtx }
func (n *Node) identityPublic() ed25519.PublicKey { return n.identity.Public }
func (n *Node) sign(env *mesh.Envelope) error    { return env.Sign(n.identity) }

// Coordinator exposes the composed Coordinator, e.g. for an HTTP front-end
// outside this package or for tests driving it directly.
func (n *Node) Coordinator() *coordinator.Coordinator { return n.coord }

// AddPeer seeds this node's peer table, e.g. from a static bootstrap list
// in Config or a discovery mechanism outside this package's scope.
func (n *Node) AddPeer(p mesh.Peer) { n.peers.Upsert(p) }

// Stop requests every task group started by Start to shut down, mirroring
// go-ethereum's node.Node Start/Close lifecycle. A Node that was never
// started has nothing to stop.
func (n *Node) Stop() {
	if n.cancel != nil {
		n.cancel()
	}
}

// Start runs every applicable task group (spec.md §5) until ctx is
// cancelled, returning the first group's error (context.Canceled on clean
// shutdown is not treated as a failure).
func (n *Node) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	n.backgroundCtx = ctx
	n.cancel = cancel
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	mux := http.NewServeMux()
	mux.Handle("/mesh/ws", gossip.WSHandler(n.Ingest, n.log))
	mux.HandleFunc("/healthz", n.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", n.server.Router())
	httpServer := &http.Server{Addr: n.cfg.ListenAddr, Handler: mux}
	g.Go(func() error {
		n.log.Info("http-ingress group starting", "addr", n.cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http-ingress: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		n.reaper.Run(gctx)
		return nil
	})

	g.Go(func() error { n.runMetricsRefreshGroup(gctx); return nil })

	if n.broadcaster != nil {
		g.Go(func() error { n.runMeshBroadcastGroup(gctx); return nil })
		g.Go(func() error { n.runPeerProbeGroup(gctx); return nil })
	}

	g.Go(func() error { n.claimSweeper.run(gctx); return nil })
	g.Go(func() error { n.issuance.run(gctx); return nil })

	if n.worker != nil {
		if err := n.registerSelfAsAgent(); err != nil {
			return fmt.Errorf("worker self-registration: %w", err)
		}
		g.Go(func() error { n.runWorkerPoolGroup(gctx); return nil })
	}

	if n.ble != nil {
		g.Go(func() error { n.ble.run(gctx); return nil })
	}

	n.log.Info("node started", "resourceClass", n.cfg.ResourceClass)
	err := g.Wait()
	if err != nil && gctx.Err() != nil {
		return nil
	}
	return err
}

// runMeshBroadcastGroup periodically broadcasts this node's capability
// summary, price proposal, and ordering snapshot (spec.md §4.2, §4.3, §4.5).
func (n *Node) runMeshBroadcastGroup(ctx context.Context) {
	ticker := time.NewTicker(n.cfg.PricingEvery)
	defer ticker.Stop()
	snapshotTicker := time.NewTicker(n.cfg.SnapshotEvery)
	defer snapshotTicker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.broadcastCapabilitySummary()
			if err := n.coord.ProposePrice(n.cfg.ResourceClass); err != nil {
				n.log.Warn("price proposal failed", "err", err)
			}
		case <-snapshotTicker.C:
			n.reconciler.broadcastSnapshot()
		}
	}
}

func (n *Node) broadcastCapabilitySummary() {
	agents, err := n.store.ListAgents()
	if err != nil {
		n.log.Warn("list agents for capability_summary failed", "err", err)
		return
	}
	byModel := make(map[string]mesh.ModelAvailability)
	for _, a := range agents {
		av := byModel[a.ActiveModel]
		av.AgentCount++
		av.TotalParamCapacity += a.ActiveModelParamSize
		av.AvgLoad = (av.AvgLoad*float64(av.AgentCount-1) + float64(a.CurrentLoad)) / float64(av.AgentCount)
		byModel[a.ActiveModel] = av
	}
	summary := mesh.CapabilitySummary{CoordinatorID: n.id, ModelAvailability: byModel}
	env, err := mesh.NewEnvelope(mesh.TypeCapabilitySummary, n.id, n.identityPublic(), 5, summary)
	if err != nil {
		n.log.Warn("build capability_summary failed", "err", err)
		return
	}
	if err := n.sign(env); err != nil {
		n.log.Warn("sign capability_summary failed", "err", err)
		return
	}
	n.broadcaster.Broadcast(n.ctx(), env)
}

// runMetricsRefreshGroup keeps the prometheus gauges fed by Coordinator.Status
// current even on a single-node deployment with no mesh broadcaster running.
func (n *Node) runMetricsRefreshGroup(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := n.coord.Status(); err != nil {
				n.log.Warn("metrics status refresh failed", "err", err)
			}
		}
	}
}

// runPeerProbeGroup prunes peers that have missed three consecutive
// liveness probes (spec.md §4.2's periodic peer refresh).
func (n *Node) runPeerProbeGroup(ctx context.Context) {
	ticker := time.NewTicker(n.cfg.PeerProbeEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range n.peers.PruneStale(3 * n.cfg.PeerProbeEvery) {
				n.log.Info("pruned stale peer", "peerId", id)
			}
		}
	}
}

// runWorkerPoolGroup implements the local worker loop: pull claimed tasks
// through the loopback coordinator API, execute them, report results (the
// coordinator/worker separation spec.md §9 calls for), communicating only
// through EnqueueTask/PullTasks/ReportResult rather than direct calls into
// coordinator internals.
func (n *Node) runWorkerPoolGroup(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.pullAndExecuteOnce(ctx)
		}
	}
}

// handleHealthz reports per-component liveness for orchestration probes
// (SPEC_FULL's supplemented "structured health endpoint"), unauthenticated
// like /status.
func (n *Node) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	health := map[string]any{
		"ok":           true,
		"nodeId":       n.id,
		"peers":        len(n.peers.All()),
		"chainLength":  n.engine.Chain().Len(),
		"hasWorker":    n.worker != nil,
		"hasInference": n.inference != nil,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(health)
}

func (n *Node) workerAgentID() string { return n.id + "-worker" }

// registerSelfAsAgent registers this node's embedded Worker as an agent of
// its own composed Coordinator, signing the request with the node's own
// identity the same way a standalone agent process would sign one sent
// over /register.
func (n *Node) registerSelfAsAgent() error {
	req := coordinator.RegisterRequest{
		AgentID:              n.workerAgentID(),
		AccountID:            n.cfg.WorkerAccountID,
		PublicKey:            n.identityPublic(),
		ActiveModel:          n.cfg.WorkerActiveModel,
		ActiveModelParamSize: n.cfg.WorkerActiveModelParamSize,
		MaxConcurrentTasks:   n.cfg.WorkerMaxConcurrentTasks,
	}
	b, err := req.SigningBytes()
	if err != nil {
		return err
	}
	req.Signature = n.identity.Sign(b)
	_, err = n.coord.RegisterAgent(req)
	return err
}

func (n *Node) pullAndExecuteOnce(ctx context.Context) {
	tasks, err := n.coord.PullTasks(n.workerAgentID(), n.cfg.ResourceClass, 1)
	if err != nil || len(tasks) == 0 {
		return
	}
	for _, t := range tasks {
		result, execErr := n.worker.Execute(ctx, t.TaskID, t.Kind, t.Language, t.Input)
		req := coordinator.ReportResultRequest{
			TaskID:              t.TaskID,
			AgentID:             n.workerAgentID(),
			TxID:                uuid.NewString(),
			Success:             execErr == nil,
			Output:              result.Output,
			CPUSeconds:          result.CPUSeconds,
			ResultSignature:     result.ProviderSignature,
			ProviderTxSignature: result.ProviderSignature,
		}
		if execErr != nil {
			req.FailureReason = execErr.Error()
		}
		if err := n.coord.ReportResult(req); err != nil {
			n.log.Warn("report result failed", "taskId", t.TaskID, "err", err)
		}
	}
}
