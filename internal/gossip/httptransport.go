// Copyright 2026 The EdgeCoder Authors
// This file is part of the EdgeCoder library.
//
// The EdgeCoder library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package gossip provides mesh.Transport implementations: a plain HTTP POST
// transport for store-and-forward relay, and a persistent websocket duplex
// link for low-latency task_offer/task_claim exchange (spec.md §4.2, §6.1).
package gossip

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/codyrs82/edgecoder/mesh"
)

// HTTPTransport delivers envelopes by POSTing to a peer's /mesh/ingest, the
// same endpoint coordinator.Server exposes (spec.md §6.1). This is the
// store-and-forward path: every hop is a self-contained request, so it
// tolerates a peer being briefly unreachable without losing the broadcaster's
// fan-out loop to a blocked connection.
type HTTPTransport struct {
	client    *http.Client
	authToken string
}

func NewHTTPTransport(authToken string, timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPTransport{client: &http.Client{Timeout: timeout}, authToken: authToken}
}

func (t *HTTPTransport) Send(ctx context.Context, peer mesh.Peer, env *mesh.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, peer.URL+"/mesh/ingest", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build mesh ingest request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+t.authToken)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to %s: %w", peer.ID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("peer %s rejected envelope: status %d", peer.ID, resp.StatusCode)
	}
	return nil
}

var _ mesh.Transport = (*HTTPTransport)(nil)
