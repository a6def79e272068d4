// Copyright 2026 The EdgeCoder Authors
// This file is part of the EdgeCoder library.
//
// The EdgeCoder library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package xlog

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewChildTagsComponentName(t *testing.T) {
	var buf bytes.Buffer
	rootMu.Lock()
	root = slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	rootMu.Unlock()

	New("coordinator").Info("agent registered", "agentId", "a1")

	out := buf.String()
	require.Contains(t, out, "component=coordinator")
	require.Contains(t, out, "agentId=a1")
	require.True(t, strings.Contains(out, "agent registered"))
}

func TestMaxOrFallsBackToDefault(t *testing.T) {
	require.Equal(t, 100, maxOr(0, 100))
	require.Equal(t, 100, maxOr(-1, 100))
	require.Equal(t, 42, maxOr(42, 100))
}
