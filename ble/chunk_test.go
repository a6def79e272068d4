// Copyright 2026 The EdgeCoder Authors
// This file is part of the EdgeCoder library.
//
// The EdgeCoder library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package ble

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeChunksRoundTrip(t *testing.T) {
	// spec.md §8 round-trip law: encodeChunks then decodeChunks yields the
	// original bytes for any non-empty data and mtu > headerSize.
	data := []byte(strings.Repeat("edgecoder-task-payload-", 200))
	frames, err := EncodeChunks(data, MTU)
	require.NoError(t, err)
	require.Greater(t, len(frames), 1)

	got, err := DecodeChunks(frames)
	require.NoError(t, err)
	require.True(t, bytes.Equal(data, got))
}

func TestEncodeChunksSmallPayloadSingleChunk(t *testing.T) {
	data := []byte("hello")
	frames, err := EncodeChunks(data, MTU)
	require.NoError(t, err)
	require.Len(t, frames, 1)

	c, err := DecodeChunk(frames[0])
	require.NoError(t, err)
	require.Equal(t, uint16(0), c.SeqNo)
	require.Equal(t, uint16(1), c.TotalChunks)
	require.Equal(t, data, c.Data)
}

func TestEncodeChunksRejectsMTUTooSmall(t *testing.T) {
	_, err := EncodeChunks([]byte("hello"), HeaderSize)
	require.Error(t, err)
}

func TestReassemblerRejectsMissingSequence(t *testing.T) {
	data := []byte(strings.Repeat("x", 2000))
	frames, err := EncodeChunks(data, 100)
	require.NoError(t, err)
	require.Greater(t, len(frames), 2)

	r := NewReassembler()
	var lastErr error
	for i, f := range frames {
		if i == 1 {
			continue // drop the second chunk
		}
		c, derr := DecodeChunk(f)
		require.NoError(t, derr)
		_, _, lastErr = r.Add(c)
	}
	require.Error(t, lastErr)
}

func TestReassemblerRejectsConflictingTotalChunks(t *testing.T) {
	r := NewReassembler()
	_, _, err := r.Add(Chunk{SeqNo: 0, TotalChunks: 3, Data: []byte("a")})
	require.NoError(t, err)
	_, _, err = r.Add(Chunk{SeqNo: 1, TotalChunks: 5, Data: []byte("b")})
	require.Error(t, err)
}

func TestReassemblerTimesOutWithoutNewChunk(t *testing.T) {
	now := time.UnixMilli(0)
	r := NewReassembler()
	r.now = func() time.Time { return now }

	_, done, err := r.Add(Chunk{SeqNo: 0, TotalChunks: 2, Data: []byte("a")})
	require.NoError(t, err)
	require.False(t, done)

	now = now.Add(6 * time.Second)
	_, _, err = r.Add(Chunk{SeqNo: 1, TotalChunks: 2, Data: []byte("b")})
	require.Error(t, err)
}
