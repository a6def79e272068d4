// Copyright 2026 The EdgeCoder Authors
// This file is part of the EdgeCoder library.
//
// The EdgeCoder library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package mesh

import (
	"encoding/json"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/codyrs82/edgecoder/crypto"
	"github.com/codyrs82/edgecoder/internal/metrics"
	"github.com/codyrs82/edgecoder/internal/xerr"
	"github.com/codyrs82/edgecoder/internal/xlog"
)

// PipelineConfig carries the tunables named in spec.md §4.2.
type PipelineConfig struct {
	SkewWindow    time.Duration // default 60s
	ReplayWindow  time.Duration // default 5m
	RateLimitMsgs int           // default 200
	RateLimitPer  time.Duration // default 10s
	DedupCapacity int           // default 10000
}

func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		SkewWindow:    60 * time.Second,
		ReplayWindow:  5 * time.Minute,
		RateLimitMsgs: 200,
		RateLimitPer:  10 * time.Second,
		DedupCapacity: 10_000,
	}
}

// PayloadValidator performs type-specific payload validation (spec.md §4.2
// step 7), e.g. capability_summary.agentCount >= 0.
type PayloadValidator func(typ MessageType, payload json.RawMessage) error

// Pipeline is the ordered receive pipeline every inbound envelope passes
// through before being accepted for local processing and/or relay.
type Pipeline struct {
	cfg       PipelineConfig
	nonces    *crypto.NonceCache
	limiter   *crypto.SenderRateLimiter
	identities *crypto.IdentityRegistry
	dedup     *lru.Cache
	validate  PayloadValidator
	log       *slog.Logger

	now func() time.Time
}

// NewPipeline builds a receive pipeline. validate may be nil to skip
// type-specific payload checks.
func NewPipeline(cfg PipelineConfig, validate PayloadValidator) (*Pipeline, error) {
	dedup, err := lru.New(cfg.DedupCapacity)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		cfg:        cfg,
		nonces:     crypto.NewNonceCache(cfg.ReplayWindow),
		limiter:    crypto.NewSenderRateLimiter(cfg.RateLimitMsgs, cfg.RateLimitPer),
		identities: crypto.NewIdentityRegistry(),
		dedup:      dedup,
		validate:   validate,
		log:        xlog.New("mesh.pipeline"),
		now:        time.Now,
	}, nil
}

// Outcome is the result of running an envelope through the pipeline.
type Outcome int

const (
	OutcomeAccept Outcome = iota
	OutcomeDuplicate // silently dropped, not an error (step 6)
	OutcomeRejected
)

// Process runs steps 1-7 of spec.md §4.2 in order, short-circuiting on the
// first failure. A duplicate messageId is reported distinctly from a
// rejection since the spec requires it be dropped silently, not logged as
// an error.
func (p *Pipeline) Process(env *Envelope) (Outcome, error) {
	reject := func(reason string, err error) (Outcome, error) {
		metrics.GossipRejected.WithLabelValues(reason).Inc()
		return OutcomeRejected, err
	}

	if env == nil {
		return reject("envelope_empty", xerr.Validation("envelope_empty", "nil envelope"))
	}
	// Step 1: required fields present.
	if env.SenderID == "" || env.MessageID == "" || len(env.SenderPublicKey) == 0 || env.Signature == nil {
		return reject("envelope_incomplete", xerr.Validation("envelope_incomplete", "missing required envelope field"))
	}

	now := p.now()

	// Step 2: clock skew.
	skew := now.Sub(time.UnixMilli(env.Timestamp))
	if skew < 0 {
		skew = -skew
	}
	if skew > p.cfg.SkewWindow {
		return reject("clock_skew", xerr.Validation("clock_skew", "envelope timestamp outside skew window"))
	}

	// Step 3: replay window.
	if p.nonces.Seen(env.SenderID, env.Nonce, now) {
		return reject(xerr.CodeReplay, xerr.Validation(xerr.CodeReplay, "nonce already seen within replay window"))
	}

	// Step 4: per-sender rate limit.
	if !p.limiter.Allow(env.SenderID) {
		return reject(xerr.CodeRateLimited, xerr.Transient(xerr.CodeRateLimited, "sender exceeded gossip rate limit", nil))
	}

	// Step 5: signature + identity pinning.
	if !env.VerifySignature() {
		return reject(xerr.CodeBadSignature, xerr.Validation(xerr.CodeBadSignature, "envelope signature does not verify"))
	}
	if err := p.identities.Observe(env.SenderID, env.SenderPublicKey); err != nil {
		return reject(xerr.CodeUnknownSender, xerr.Validation(xerr.CodeUnknownSender, err.Error()))
	}

	// Step 6: messageId dedup (LRU of last 10000 ids); duplicates are
	// dropped silently, not rejected as an error.
	if p.dedup.Contains(env.MessageID) {
		metrics.GossipDuplicate.Inc()
		return OutcomeDuplicate, nil
	}
	p.dedup.Add(env.MessageID, struct{}{})

	// Step 7: type-specific payload validation.
	if p.validate != nil {
		if err := p.validate(env.Type, env.Payload); err != nil {
			return reject("payload_invalid", xerr.Validation("payload_invalid", err.Error()))
		}
	}

	metrics.GossipAccepted.Inc()
	return OutcomeAccept, nil
}
