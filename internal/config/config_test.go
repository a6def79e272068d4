// Copyright 2026 The EdgeCoder Authors
// This file is part of the EdgeCoder library.
//
// The EdgeCoder library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadWithNoPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadWithMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadFromTOMLFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
node_id = "node-1"
listen_addr = ":9000"
gossip_fanout = 3
base_rate_per_cpu_sec = 2.5
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "node-1", cfg.NodeID)
	require.Equal(t, ":9000", cfg.ListenAddr)
	require.Equal(t, 3, cfg.GossipFanout)
	require.Equal(t, 2.5, cfg.BaseRatePerCPUSec)
	// Fields the file doesn't set keep their default.
	require.Equal(t, int64(250), cfg.ClaimDelayMs)
}

func TestApplyEnvOverridesFileAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`ollama_host = "http://file-host"`), 0o600))

	t.Setenv("OLLAMA_HOST", "http://env-host")
	t.Setenv("MESH_AUTH_TOKEN", "env-token")
	t.Setenv("COORDINATOR_BOOTSTRAP_URLS", "c1=http://a, c2=http://b ,")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "http://env-host", cfg.OllamaHost)
	require.Equal(t, "env-token", cfg.MeshAuthToken)
	require.Equal(t, []string{"c1=http://a", "c2=http://b"}, cfg.BootstrapURLs)
}
