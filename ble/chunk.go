// Copyright 2026 The EdgeCoder Authors
// This file is part of the EdgeCoder library.
//
// The EdgeCoder library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package ble

import (
	"encoding/binary"
	"fmt"
	"time"
)

// MTU is the GATT characteristic payload ceiling per chunk (spec.md §4.4).
const MTU = 512

// HeaderSize is the 4-byte big-endian chunk header: uint16 seqNo (0-indexed),
// uint16 totalChunks (spec.md §6.2).
const HeaderSize = 4

// ReassemblyTimeout is how long the transport waits for the next chunk
// before giving up (spec.md §4.4).
const ReassemblyTimeout = 5 * time.Second

// Chunk is one framed piece of a chunked transfer.
type Chunk struct {
	SeqNo       uint16
	TotalChunks uint16
	Data        []byte
}

// Encode serializes a chunk with its 4-byte header.
func (c Chunk) Encode() []byte {
	out := make([]byte, HeaderSize+len(c.Data))
	binary.BigEndian.PutUint16(out[0:2], c.SeqNo)
	binary.BigEndian.PutUint16(out[2:4], c.TotalChunks)
	copy(out[HeaderSize:], c.Data)
	return out
}

// DecodeChunk parses a single framed chunk.
func DecodeChunk(raw []byte) (Chunk, error) {
	if len(raw) < HeaderSize {
		return Chunk{}, fmt.Errorf("ble: chunk shorter than header (%d bytes)", len(raw))
	}
	return Chunk{
		SeqNo:       binary.BigEndian.Uint16(raw[0:2]),
		TotalChunks: binary.BigEndian.Uint16(raw[2:4]),
		Data:        raw[HeaderSize:],
	}, nil
}

// EncodeChunks splits data into chunks of at most mtu-HeaderSize payload
// bytes each, framed with the chunk header. mtu must exceed HeaderSize.
func EncodeChunks(data []byte, mtu int) ([][]byte, error) {
	if mtu <= HeaderSize {
		return nil, fmt.Errorf("ble: mtu %d must exceed header size %d", mtu, HeaderSize)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("ble: cannot chunk empty data")
	}
	payloadSize := mtu - HeaderSize
	total := (len(data) + payloadSize - 1) / payloadSize
	if total > 1<<16-1 {
		return nil, fmt.Errorf("ble: data requires %d chunks, exceeds uint16 totalChunks", total)
	}
	out := make([][]byte, 0, total)
	for i := 0; i < total; i++ {
		start := i * payloadSize
		end := start + payloadSize
		if end > len(data) {
			end = len(data)
		}
		c := Chunk{SeqNo: uint16(i), TotalChunks: uint16(total), Data: data[start:end]}
		out = append(out, c.Encode())
	}
	return out, nil
}

// Reassembler collects chunks for a single in-flight transfer and rejects
// reassemblies with missing sequence numbers (spec.md §4.4).
type Reassembler struct {
	total    uint16
	chunks   map[uint16][]byte
	lastSeen time.Time
	now      func() time.Time
}

func NewReassembler() *Reassembler {
	return &Reassembler{chunks: make(map[uint16][]byte), now: time.Now}
}

// Add ingests one decoded chunk. It returns (data, true, nil) once every
// sequence number 0..totalChunks-1 has been seen; an error if chunks from
// conflicting transfers (different totalChunks) are mixed, if the final
// chunk (seqNo totalChunks-1) arrives while an earlier sequence number is
// still missing, or if more than ReassemblyTimeout has elapsed since the
// previous chunk.
func (r *Reassembler) Add(c Chunk) (data []byte, done bool, err error) {
	now := r.now()
	if !r.lastSeen.IsZero() && now.Sub(r.lastSeen) > ReassemblyTimeout {
		return nil, false, fmt.Errorf("ble: reassembly timed out waiting for chunk %d", c.SeqNo)
	}
	if r.total == 0 {
		r.total = c.TotalChunks
	} else if r.total != c.TotalChunks {
		return nil, false, fmt.Errorf("ble: conflicting totalChunks %d vs %d", c.TotalChunks, r.total)
	}
	r.chunks[c.SeqNo] = c.Data
	r.lastSeen = now

	if uint16(len(r.chunks)) < r.total && c.SeqNo != r.total-1 {
		return nil, false, nil
	}
	out := make([]byte, 0)
	for seq := uint16(0); seq < r.total; seq++ {
		part, ok := r.chunks[seq]
		if !ok {
			return nil, false, fmt.Errorf("ble: missing sequence number %d in reassembly", seq)
		}
		out = append(out, part...)
	}
	return out, true, nil
}

// DecodeChunks is the convenience round-trip counterpart to EncodeChunks,
// reassembling a full set of already-ordered raw chunk frames (spec.md §8
// round-trip law: encodeChunks then decodeChunks yields data byte-for-byte).
func DecodeChunks(frames [][]byte) ([]byte, error) {
	r := NewReassembler()
	var out []byte
	for _, f := range frames {
		c, err := DecodeChunk(f)
		if err != nil {
			return nil, err
		}
		data, done, err := r.Add(c)
		if err != nil {
			return nil, err
		}
		if done {
			out = data
		}
	}
	if out == nil {
		return nil, fmt.Errorf("ble: reassembly incomplete")
	}
	return out, nil
}
