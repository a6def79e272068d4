// Copyright 2026 The EdgeCoder Authors
// This file is part of the EdgeCoder library.
//
// The EdgeCoder library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package config loads the node's TOML configuration file and layers the
// environment variables and CLI flags named in spec.md §6.1 on top of it,
// mirroring how the upstream node resolves config.toml against flags.
package config

import (
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the fully resolved node configuration.
type Config struct {
	NodeID              string   `toml:"node_id"`
	ListenAddr          string   `toml:"listen_addr"`
	MeshAuthToken       string   `toml:"mesh_auth_token"`
	BootstrapURLs       []string `toml:"bootstrap_urls"`
	DatabaseURL         string   `toml:"database_url"`
	OllamaHost          string   `toml:"ollama_host"`
	OllamaModel         string   `toml:"ollama_model"`
	DataDir             string   `toml:"data_dir"`
	LogFile             string   `toml:"log_file"`
	StaleThresholdMs    int64    `toml:"stale_threshold_ms"`
	ClaimDelayMs        int64    `toml:"claim_delay_ms"`
	GossipFanout        int      `toml:"gossip_fanout"`
	IssuanceIntervalSec int64    `toml:"issuance_interval_sec"`
	BaseRatePerCPUSec   float64  `toml:"base_rate_per_cpu_sec"`
}

// Default returns the spec's documented defaults (§4.1, §4.2, §4.3).
func Default() Config {
	return Config{
		ListenAddr:          ":7545",
		StaleThresholdMs:    120_000,
		ClaimDelayMs:        250,
		GossipFanout:        8,
		IssuanceIntervalSec: 24 * 60 * 60,
		BaseRatePerCPUSec:   1.0,
		DataDir:             "./data",
	}
}

// Load reads a TOML file at path (if non-empty and present), then applies
// environment variable overrides, the way the upstream CLI layers file
// config under flags and env.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return cfg, err
			}
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		cfg.OllamaHost = v
	}
	if v := os.Getenv("OLLAMA_MODEL"); v != "" {
		cfg.OllamaModel = v
	}
	if v := os.Getenv("MESH_AUTH_TOKEN"); v != "" {
		cfg.MeshAuthToken = v
	}
	if v := os.Getenv("COORDINATOR_BOOTSTRAP_URLS"); v != "" {
		cfg.BootstrapURLs = splitCommaList(v)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
}

func splitCommaList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Exit codes for CLI front-ends (spec.md §6.1).
const (
	ExitOK             = 0
	ExitMisconfig      = 2
	ExitInvalidUsage   = 64
	ExitUpstreamDown   = 69
	ExitInternal       = 70
)
