// Copyright 2026 The EdgeCoder Authors
// This file is part of the EdgeCoder library.
//
// The EdgeCoder library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package coordinator

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codyrs82/edgecoder/crypto"
	"github.com/codyrs82/edgecoder/ledger"
	"github.com/codyrs82/edgecoder/mesh"
)

func doRequest(t *testing.T, r http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandleStatusIsPublic(t *testing.T) {
	c, _ := newTestCoordinator(t)
	srv := NewServer(c, "secret")
	rec := doRequest(t, srv.Router(), http.MethodGet, "/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthenticatedRouteRejectsMissingToken(t *testing.T) {
	c, _ := newTestCoordinator(t)
	srv := NewServer(c, "secret")
	rec := doRequest(t, srv.Router(), http.MethodGet, "/capacity", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleRegisterEndToEnd(t *testing.T) {
	c, _ := newTestCoordinator(t)
	srv := NewServer(c, "secret")

	id, err := crypto.GenerateIdentity()
	require.NoError(t, err)
	req := RegisterRequest{AgentID: "a1", AccountID: "acct-a1", PublicKey: id.Public}
	b, err := req.signingBytes()
	require.NoError(t, err)
	req.Signature = id.Sign(b)

	rec := doRequest(t, srv.Router(), http.MethodPost, "/register", "secret", req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleRegisterBadSignatureReturns403(t *testing.T) {
	c, _ := newTestCoordinator(t)
	srv := NewServer(c, "secret")

	impostor, _ := crypto.GenerateIdentity()
	legit, _ := crypto.GenerateIdentity()
	req := RegisterRequest{AgentID: "a1", AccountID: "acct-a1", PublicKey: legit.Public}
	b, err := req.signingBytes()
	require.NoError(t, err)
	req.Signature = impostor.Sign(b)

	rec := doRequest(t, srv.Router(), http.MethodPost, "/register", "secret", req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleMeshIngestWithoutPipelineIsUnavailable(t *testing.T) {
	c, _ := newTestCoordinator(t)
	srv := NewServer(c, "secret")
	env := mesh.Envelope{Type: mesh.TypeCapabilitySummary}
	rec := doRequest(t, srv.Router(), http.MethodPost, "/mesh/ingest", "secret", env)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleBLESyncAppliedThenSkippedOnReplay(t *testing.T) {
	c, coordID := newTestCoordinator(t)
	srv := NewServer(c, "secret")

	requester, _ := crypto.GenerateIdentity()
	provider, _ := crypto.GenerateIdentity()
	c.engine.RegisterAccountKey("acct-r", requester.Public)
	c.engine.RegisterAccountKey("acct-p", provider.Public)
	_ = coordID

	th := taskHash("ble-task")
	bidBytes, err := ledger.RequesterBidBytes(th, 100, "acct-r")
	require.NoError(t, err)
	tx := ledger.CreditTransaction{
		TxID: "ble-tx-1", RequesterID: "r", ProviderID: "p",
		RequesterAccountID: "acct-r", ProviderAccountID: "acct-p",
		Credits: 1.6, CPUSeconds: 3.2, TaskHash: th, Timestamp: 100,
		RequesterSignature: requester.Sign(bidBytes),
		Reason:             ledger.ReasonTaskPayment,
	}
	txBytes, err := ledger.ProviderTxBytes(tx)
	require.NoError(t, err)
	tx.ProviderSignature = provider.Sign(txBytes)

	body := bleSyncRequest{Transactions: []ledger.CreditTransaction{tx}}
	rec := doRequest(t, srv.Router(), http.MethodPost, "/credits/ble-sync", "secret", body)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp["applied"], 1)
	require.Empty(t, resp["skipped"])

	rec2 := doRequest(t, srv.Router(), http.MethodPost, "/credits/ble-sync", "secret", body)
	var resp2 map[string]any
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &resp2))
	require.Empty(t, resp2["applied"])
	require.Len(t, resp2["skipped"], 1)

	creditsRec := doRequest(t, srv.Router(), http.MethodGet, "/credits/acct-p", "secret", nil)
	require.Equal(t, http.StatusOK, creditsRec.Code)
	var creditsResp map[string]any
	require.NoError(t, json.Unmarshal(creditsRec.Body.Bytes(), &creditsResp))
	require.Equal(t, 1.6, creditsResp["balance"])
	require.Len(t, creditsResp["recentTransactions"], 1)
}
