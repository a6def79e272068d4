// Copyright 2026 The EdgeCoder Authors
// This file is part of the EdgeCoder library.
//
// The EdgeCoder library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package coordinator

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/codyrs82/edgecoder/internal/xerr"
	"github.com/codyrs82/edgecoder/ledger"
	"github.com/codyrs82/edgecoder/mesh"
	"github.com/codyrs82/edgecoder/store"
)

// Server exposes a Coordinator over the HTTP API of spec.md §6.1, routed
// with httprouter the way the teacher routes its own JSON-RPC/REST
// surfaces.
type Server struct {
	coord     *Coordinator
	meshToken string

	pipeline        *mesh.Pipeline
	peers           *mesh.PeerTable
	envelopeHandler EnvelopeHandler
}

// EnvelopeHandler dispatches an accepted mesh envelope. *Coordinator
// implements it directly for the message types it owns; a node composing
// more than a coordinator (mesh-ingress task group, claim arbitration,
// issuance orchestration) can install a richer handler via
// SetEnvelopeHandler without this package needing to know about it.
type EnvelopeHandler interface {
	HandleEnvelope(env *mesh.Envelope) error
}

func NewServer(coord *Coordinator, meshToken string) *Server {
	return &Server{coord: coord, meshToken: meshToken}
}

// SetEnvelopeHandler overrides what /mesh/ingest dispatches accepted
// envelopes to, once pipeline validation has passed. Defaults to the
// Server's own Coordinator.
func (s *Server) SetEnvelopeHandler(h EnvelopeHandler) {
	s.envelopeHandler = h
}

// SetMeshIngress wires the receive pipeline and peer table so /mesh/ingest
// and /mesh/peers become available (spec.md §6.1). A Server that never
// calls this only exposes the task/agent API, e.g. a single-peer test node.
func (s *Server) SetMeshIngress(pipeline *mesh.Pipeline, peers *mesh.PeerTable) {
	s.pipeline = pipeline
	s.peers = peers
}

// Router builds the httprouter.Router; /status is public, every other
// route requires the mesh auth token (spec.md §6.1's Auth column).
func (s *Server) Router() *httprouter.Router {
	r := httprouter.New()
	r.POST("/register", s.authenticated(s.handleRegister))
	r.POST("/heartbeat", s.authenticated(s.handleHeartbeat))
	r.POST("/enqueue", s.authenticated(s.handleEnqueue))
	r.POST("/pull", s.authenticated(s.handlePull))
	r.POST("/report", s.authenticated(s.handleReport))
	r.GET("/status", s.handleStatus)
	r.GET("/capacity", s.authenticated(s.handleCapacity))
	r.POST("/mesh/ingest", s.authenticated(s.handleMeshIngest))
	r.GET("/mesh/peers", s.authenticated(s.handleMeshPeers))
	r.GET("/mesh/capabilities", s.authenticated(s.handleMeshCapabilities))
	r.POST("/credits/ble-sync", s.authenticated(s.handleBLESync))
	r.GET("/credits/:accountId", s.authenticated(s.handleAccountCredits))
	return r
}

func (s *Server) authenticated(h httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		if s.meshToken != "" && req.Header.Get("Authorization") != "Bearer "+s.meshToken {
			writeError(w, http.StatusUnauthorized, xerr.Auth("bad_mesh_token", "missing or invalid mesh auth token"))
			return
		}
		h(w, req, ps)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	body := errorBody{Error: err.Error()}
	if xe, ok := xerr.As(err); ok {
		body.Code = xe.Code
	}
	writeJSON(w, status, body)
}

// statusFor translates the taxonomy of spec.md §7 into HTTP status codes.
func statusFor(err error) int {
	xe, ok := xerr.As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch xe.Kind {
	case xerr.KindValidation:
		return http.StatusBadRequest
	case xerr.KindAuth:
		return http.StatusForbidden
	case xerr.KindTransient:
		return http.StatusServiceUnavailable
	case xerr.KindLogical:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	var body RegisterRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, xerr.Validation("bad_json", err.Error()))
		return
	}
	agentID, err := s.coord.RegisterAgent(body)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "agentId": agentID})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	var body HeartbeatRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, xerr.Validation("bad_json", err.Error()))
		return
	}
	if err := s.coord.Heartbeat(body); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleEnqueue(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	var body store.Task
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, xerr.Validation("bad_json", err.Error()))
		return
	}
	t, err := s.coord.EnqueueTask(body)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"taskId": t.TaskID, "status": t.Status})
}

type pullRequest struct {
	AgentID       string              `json:"agentId"`
	ResourceClass store.ResourceClass `json:"resourceClass"`
	Max           int                 `json:"max"`
}

func (s *Server) handlePull(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	var body pullRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, xerr.Validation("bad_json", err.Error()))
		return
	}
	if body.Max <= 0 {
		body.Max = 1
	}
	tasks, err := s.coord.PullTasks(body.AgentID, body.ResourceClass, body.Max)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleReport(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	var body ReportResultRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, xerr.Validation("bad_json", err.Error()))
		return
	}
	if err := s.coord.ReportResult(body); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	snap, err := s.coord.Status()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCapacity(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	caps, err := s.coord.Capacity()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, caps)
}

// handleMeshIngest implements POST /mesh/ingest: runs the envelope through
// the receive pipeline (spec.md §4.2 steps 1-7), then dispatches accepted,
// non-duplicate messages to the coordinator (spec.md §6.1).
func (s *Server) handleMeshIngest(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	if s.pipeline == nil {
		writeError(w, http.StatusServiceUnavailable, xerr.Transient("mesh_disabled", "mesh ingress is not configured on this node", nil))
		return
	}
	var env mesh.Envelope
	if err := json.NewDecoder(req.Body).Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, xerr.Validation("bad_json", err.Error()))
		return
	}
	outcome, err := s.pipeline.Process(&env)
	if err != nil {
		// Gossip validation failures are dropped after logging, not
		// surfaced as a hard error to the sender (spec.md §7).
		writeJSON(w, http.StatusOK, map[string]any{"accepted": false, "reason": err.Error()})
		return
	}
	if outcome == mesh.OutcomeDuplicate {
		writeJSON(w, http.StatusOK, map[string]any{"accepted": false, "duplicate": true})
		return
	}
	handler := s.envelopeHandler
	if handler == nil {
		handler = s.coord
	}
	if err := handler.HandleEnvelope(&env); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"accepted": true, "handled": false, "reason": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accepted": true, "handled": true})
}

func (s *Server) handleMeshPeers(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	if s.peers == nil {
		writeJSON(w, http.StatusOK, []mesh.Peer{})
		return
	}
	writeJSON(w, http.StatusOK, s.peers.All())
}

func (s *Server) handleMeshCapabilities(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	model := req.URL.Query().Get("model")
	if model == "" {
		writeError(w, http.StatusBadRequest, xerr.Validation("missing_model", "model query parameter is required"))
		return
	}
	writeJSON(w, http.StatusOK, s.coord.FederatedModelAvailability(model))
}

type bleSyncRequest struct {
	Transactions []ledger.CreditTransaction `json:"transactions"`
}

// handleBLESync implements POST /credits/ble-sync: ingests a batch of
// offline BLE transactions, deduplicating by txId (spec.md §4.4, §8
// scenario 4).
func (s *Server) handleBLESync(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	var body bleSyncRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, xerr.Validation("bad_json", err.Error()))
		return
	}
	result := s.coord.ApplyBLEBatch(body.Transactions)
	writeJSON(w, http.StatusOK, map[string]any{
		"applied": result.Applied, "skipped": result.Skipped, "total": result.Total,
	})
}

// handleAccountCredits implements GET /credits/:accountId: current balance
// plus the bounded recent-transaction audit ring (SPEC_FULL.md's
// eth_transfer_logs-style supplemented feature).
func (s *Server) handleAccountCredits(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	accountID := ps.ByName("accountId")
	writeJSON(w, http.StatusOK, map[string]any{
		"accountId":          accountID,
		"balance":            s.coord.Balance(accountID),
		"recentTransactions": s.coord.RecentTransactions(accountID),
	})
}
