// Copyright 2026 The EdgeCoder Authors
// This file is part of the EdgeCoder library.
//
// The EdgeCoder library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Command edgecoder-node runs a single EdgeCoder coordinator: the mesh
// gossip endpoint, the credit ledger, and the task-queue HTTP API described
// in spec.md §§4-6, wired the way cmd/geth wires node.Node.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/codyrs82/edgecoder/crypto"
	"github.com/codyrs82/edgecoder/internal/config"
	"github.com/codyrs82/edgecoder/internal/gossip"
	"github.com/codyrs82/edgecoder/internal/xlog"
	"github.com/codyrs82/edgecoder/mesh"
	"github.com/codyrs82/edgecoder/node"
	"github.com/codyrs82/edgecoder/store"
)

var (
	configFlag = &cli.StringFlag{Name: "config", Usage: "path to a TOML config file", EnvVars: []string{"EDGECODER_CONFIG"}}
	nodeIDFlag = &cli.StringFlag{Name: "node-id", Usage: "this coordinator's mesh identifier"}
	listenFlag = &cli.StringFlag{Name: "listen-addr", Usage: "HTTP/mesh listen address, overrides config file"}
	dataDirFlag = &cli.StringFlag{Name: "data-dir", Usage: "directory for the node key and pebble database", Value: "./data"}
	memoryFlag = &cli.BoolFlag{Name: "memory", Usage: "use an in-memory store instead of pebble (single-run testing only)"}
	peerFlag = &cli.StringSliceFlag{Name: "peer", Usage: "static mesh peer as id=url, repeatable"}
)

func main() {
	app := &cli.App{
		Name:  "edgecoder-node",
		Usage: "run an EdgeCoder mesh coordinator",
		Flags: []cli.Flag{configFlag, nodeIDFlag, listenFlag, dataDirFlag, memoryFlag, peerFlag},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a startup failure to one of spec.md §6.1's documented
// process exit codes, the way cmd/geth's Fatalf chooses an os.Exit code by
// failure category instead of always exiting 1.
func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, errMisconfig):
		return config.ExitMisconfig
	case errors.Is(err, errUpstreamDown):
		return config.ExitUpstreamDown
	default:
		return config.ExitInternal
	}
}

var (
	errMisconfig    = fmt.Errorf("misconfiguration")
	errUpstreamDown = fmt.Errorf("upstream dependency unavailable")
)

func run(c *cli.Context) error {
	if _, err := maxprocs.Set(maxprocs.Logger(func(string, ...any) {})); err != nil {
		// GOMAXPROCS tuning is a best-effort container affordance; a
		// cgroup-less host (a laptop, a CI runner) is not a fatal error.
		fmt.Fprintf(os.Stderr, "edgecoder-node: automaxprocs: %v\n", err)
	}

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("%w: load config: %v", errMisconfig, err)
	}
	if v := c.String("node-id"); v != "" {
		cfg.NodeID = v
	}
	if v := c.String("listen-addr"); v != "" {
		cfg.ListenAddr = v
	}
	if v := c.String("data-dir"); v != "" {
		cfg.DataDir = v
	}
	if cfg.NodeID == "" {
		return fmt.Errorf("%w: node-id must be set (flag --node-id or config node_id)", errMisconfig)
	}

	xlog.Init(xlog.Config{FilePath: cfg.LogFile})
	log := xlog.New("main")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("%w: create data dir: %v", errMisconfig, err)
	}

	identity, err := loadOrCreateIdentity(filepath.Join(cfg.DataDir, "nodekey"))
	if err != nil {
		return fmt.Errorf("%w: %v", errMisconfig, err)
	}

	var st store.PersistentStore
	if c.Bool("memory") {
		st = store.NewMemoryStore()
	} else {
		pebbleStore, err := store.OpenPebbleStore(filepath.Join(cfg.DataDir, "db"))
		if err != nil {
			return fmt.Errorf("%w: open pebble store: %v", errUpstreamDown, err)
		}
		st = pebbleStore
	}

	transport := gossip.NewHTTPTransport(cfg.MeshAuthToken, 0)

	nodeCfg := node.DefaultConfig()
	nodeCfg.ListenAddr = cfg.ListenAddr
	nodeCfg.MeshAuthToken = cfg.MeshAuthToken
	if cfg.ClaimDelayMs > 0 {
		nodeCfg.ClaimDelay = time.Duration(cfg.ClaimDelayMs) * time.Millisecond
	}
	if cfg.GossipFanout > 0 {
		nodeCfg.GossipFanout = cfg.GossipFanout
	}
	if cfg.IssuanceIntervalSec > 0 {
		nodeCfg.IssuanceEvery = time.Duration(cfg.IssuanceIntervalSec) * time.Second
	}
	nodeCfg.CoordinatorCfg.BaseRatePerCPUSec = cfg.BaseRatePerCPUSec

	n := node.New(cfg.NodeID, nodeCfg, st, identity, transport)

	for _, spec := range c.StringSlice("peer") {
		id, url, ok := strings.Cut(spec, "=")
		if !ok {
			return fmt.Errorf("%w: --peer must be id=url, got %q", errMisconfig, spec)
		}
		n.AddPeer(mesh.Peer{ID: id, URL: url})
	}
	for _, spec := range cfg.BootstrapURLs {
		id, url, ok := strings.Cut(spec, "=")
		if !ok {
			log.Warn("ignoring malformed bootstrap_urls entry, want id=url", "entry", spec)
			continue
		}
		n.AddPeer(mesh.Peer{ID: id, URL: url})
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info("starting edgecoder-node", "nodeId", cfg.NodeID, "listenAddr", cfg.ListenAddr, "dataDir", cfg.DataDir)
	if err := n.Start(ctx); err != nil {
		return fmt.Errorf("node run: %v", err)
	}
	return nil
}

func loadOrCreateIdentity(path string) (*crypto.Identity, error) {
	seed, err := os.ReadFile(path)
	if err == nil {
		return crypto.IdentityFromSeed(seed)
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read node key %s: %w", path, err)
	}
	identity, err := crypto.GenerateIdentity()
	if err != nil {
		return nil, fmt.Errorf("generate node key: %w", err)
	}
	if err := os.WriteFile(path, identity.Seed(), 0o600); err != nil {
		return nil, fmt.Errorf("persist node key %s: %w", path, err)
	}
	return identity, nil
}
