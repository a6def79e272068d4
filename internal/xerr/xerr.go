// Copyright 2026 The EdgeCoder Authors
// This file is part of the EdgeCoder library.
//
// The EdgeCoder library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package xerr defines the typed error taxonomy every EdgeCoder component
// reports through: Validation, Auth, Transient, Logical and Corruption.
// External interfaces (HTTP, gossip) translate these uniformly instead of
// string-matching error text.
package xerr

import "fmt"

// Kind classifies an error for uniform handling at every boundary.
type Kind string

const (
	KindValidation Kind = "validation"
	KindAuth       Kind = "auth"
	KindTransient  Kind = "transient"
	KindLogical    Kind = "logical"
	KindCorruption Kind = "corruption"
)

// Error is a structured error carrying a stable machine-readable Code, a
// Kind that determines retry/propagation policy, and an optional wrapped
// cause.
type Error struct {
	Kind Kind
	Code string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, code, msg string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg, Err: cause}
}

func Validation(code, msg string) *Error        { return newErr(KindValidation, code, msg, nil) }
func Auth(code, msg string) *Error              { return newErr(KindAuth, code, msg, nil) }
func Transient(code, msg string, err error) *Error { return newErr(KindTransient, code, msg, err) }
func Logical(code, msg string) *Error           { return newErr(KindLogical, code, msg, nil) }
func Corruption(code, msg string, err error) *Error { return newErr(KindCorruption, code, msg, err) }

// Common stable codes referenced by spec.md §7/§8.
const (
	CodeUnknownAgent       = "unknown_agent"
	CodeNotClaimer         = "not_claimer"
	CodeTaskExpired        = "task_expired"
	CodeMaxRetries         = "max_retries_exceeded"
	CodeReplay             = "replay"
	CodeRateLimited        = "rate_limited"
	CodeBadSignature       = "bad_signature"
	CodeUnknownSender      = "unknown_sender_key"
	CodeChainDivergence    = "chain_divergence"
	CodeHashMismatch       = "hash_chain_mismatch"
)

// Of reports whether err is an *Error of the given Kind.
func Of(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}

// As extracts the *Error from err if it is one.
func As(err error) (*Error, bool) {
	e, ok := err.(*Error)
	return e, ok
}
