// Copyright 2026 The EdgeCoder Authors
// This file is part of the EdgeCoder library.
//
// The EdgeCoder library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package gossip

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codyrs82/edgecoder/internal/xlog"
	"github.com/codyrs82/edgecoder/mesh"
)

// WSTransport is the persistent duplex link complementing HTTPTransport's
// store-and-forward relay: one long-lived websocket connection per peer,
// kept open for the low-latency task_offer/task_claim exchange where a
// fresh HTTP connection per message would add needless round-trip latency
// to the gossip claim race (spec.md §4.2).
type WSTransport struct {
	mu    sync.Mutex
	conns map[string]*wsConn
	log   *slog.Logger
}

type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func NewWSTransport() *WSTransport {
	return &WSTransport{conns: make(map[string]*wsConn), log: xlog.New("gossip.ws")}
}

// Send dials (or reuses) the peer's websocket endpoint and writes env as a
// single JSON text frame. A dial failure drops the cached connection so the
// next Send re-dials rather than retrying a dead socket forever.
func (t *WSTransport) Send(ctx context.Context, peer mesh.Peer, env *mesh.Envelope) error {
	c, err := t.connFor(ctx, peer)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteJSON(env); err != nil {
		t.drop(peer.ID)
		return fmt.Errorf("write to peer %s: %w", peer.ID, err)
	}
	return nil
}

func (t *WSTransport) connFor(ctx context.Context, peer mesh.Peer) (*wsConn, error) {
	t.mu.Lock()
	c, ok := t.conns[peer.ID]
	t.mu.Unlock()
	if ok {
		return c, nil
	}

	u, err := peerWSURL(peer.URL)
	if err != nil {
		return nil, fmt.Errorf("peer %s: %w", peer.ID, err)
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("dial peer %s: %w", peer.ID, err)
	}

	c = &wsConn{conn: conn}
	t.mu.Lock()
	t.conns[peer.ID] = c
	t.mu.Unlock()
	return c, nil
}

func (t *WSTransport) drop(peerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.conns[peerID]; ok {
		c.conn.Close()
		delete(t.conns, peerID)
	}
}

// Close tears down every open peer connection, e.g. on node shutdown.
func (t *WSTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, c := range t.conns {
		c.conn.Close()
		delete(t.conns, id)
	}
}

func peerWSURL(httpURL string) (string, error) {
	u, err := url.Parse(httpURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/mesh/ws"
	return u.String(), nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WSHandler upgrades GET /mesh/ws and reads a stream of JSON envelope
// frames, handing each to ingest; the server side of WSTransport's link.
// It never writes back; replies (e.g. an answering task_claim) go out over
// the recipient's own WSTransport.Send to the sender's advertised peer URL.
func WSHandler(ingest func(env *mesh.Envelope) error, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("websocket upgrade failed", "err", err)
			return
		}
		defer conn.Close()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env mesh.Envelope
			if err := json.Unmarshal(raw, &env); err != nil {
				log.Warn("bad envelope frame", "err", err)
				continue
			}
			if err := ingest(&env); err != nil {
				log.Debug("envelope not handled", "messageId", env.MessageID, "err", err)
			}
		}
	}
}

var _ mesh.Transport = (*WSTransport)(nil)
