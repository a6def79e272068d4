// Copyright 2026 The EdgeCoder Authors
// This file is part of the EdgeCoder library.
//
// The EdgeCoder library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package coordinator

import (
	"encoding/json"
	"fmt"

	"github.com/codyrs82/edgecoder/internal/xerr"
	"github.com/codyrs82/edgecoder/mesh"
	"github.com/codyrs82/edgecoder/pricing"
)

// HandleEnvelope dispatches one already-pipeline-accepted envelope to the
// coordinator state it affects (spec.md §4.2's "each node merges them
// according to message-type-specific rules"). It covers the federation and
// pricing message types this package owns; peer lifecycle, gossip claim
// arbitration, ordering-chain reconciliation, and issuance-epoch messages
// are dispatched by the node package's mesh-ingress group instead, since
// they reach beyond a single Coordinator's state.
func (c *Coordinator) HandleEnvelope(env *mesh.Envelope) error {
	switch env.Type {
	case mesh.TypeCapabilitySummary:
		var summary mesh.CapabilitySummary
		if err := json.Unmarshal(env.Payload, &summary); err != nil {
			return xerr.Validation("bad_capability_summary", err.Error())
		}
		if c.federated == nil {
			return xerr.Logical("federation_disabled", "coordinator has no federated capability store configured")
		}
		c.federated.Merge(summary)
		return nil

	case mesh.TypePriceProposal:
		var p pricing.Proposal
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return xerr.Validation("bad_price_proposal", err.Error())
		}
		return c.HandlePriceProposal(p)

	case mesh.TypeTaskForward:
		var fwd pricing.TaskForward
		if err := json.Unmarshal(env.Payload, &fwd); err != nil {
			return xerr.Validation("bad_task_forward", err.Error())
		}
		_, err := c.AcceptForwardedTask(fwd)
		return err

	case mesh.TypeResultAnnounce:
		var res pricing.TaskForwardResult
		if err := json.Unmarshal(env.Payload, &res); err != nil {
			return xerr.Validation("bad_result_announce", err.Error())
		}
		if res.OriginatorID != c.id {
			// Not addressed to us: AnnounceForwardedResult broadcasts to
			// the whole fan-out set, so coordinators other than the
			// originator receive it too and ignore it here.
			return nil
		}
		return c.HandleForwardedResult(res)

	default:
		return fmt.Errorf("coordinator: no handler for mesh message type %q", env.Type)
	}
}
