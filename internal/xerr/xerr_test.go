// Copyright 2026 The EdgeCoder Authors
// This file is part of the EdgeCoder library.
//
// The EdgeCoder library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package xerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorFormatsWithAndWithoutCause(t *testing.T) {
	plain := Validation("bad_input", "field is required")
	require.Equal(t, "bad_input: field is required", plain.Error())

	cause := errors.New("dial tcp: refused")
	wrapped := Transient("upstream_down", "could not reach ollama", cause)
	require.Equal(t, "upstream_down: could not reach ollama: dial tcp: refused", wrapped.Error())
	require.ErrorIs(t, wrapped, cause)
}

func TestOfMatchesKind(t *testing.T) {
	err := Auth("bad_mesh_token", "missing mesh auth token")
	require.True(t, Of(err, KindAuth))
	require.False(t, Of(err, KindValidation))
	require.False(t, Of(errors.New("plain"), KindAuth))
}

func TestAsExtractsStructuredError(t *testing.T) {
	err := Logical("duplicate_tx", "transaction id already recorded")
	got, ok := As(err)
	require.True(t, ok)
	require.Equal(t, "duplicate_tx", got.Code)

	_, ok = As(errors.New("plain"))
	require.False(t, ok)
}

func TestCorruptionCarriesCause(t *testing.T) {
	cause := errors.New("checksum mismatch")
	err := Corruption(CodeHashMismatch, "ordering chain hash mismatch", cause)
	require.Equal(t, KindCorruption, err.Kind)
	require.ErrorIs(t, err, cause)
}
