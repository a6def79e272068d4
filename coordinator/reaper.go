// Copyright 2026 The EdgeCoder Authors
// This file is part of the EdgeCoder library.
//
// The EdgeCoder library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package coordinator

import (
	"context"
	"log/slog"
	"time"

	"github.com/codyrs82/edgecoder/internal/xerr"
	"github.com/codyrs82/edgecoder/internal/xlog"
	"github.com/codyrs82/edgecoder/mesh"
	"github.com/codyrs82/edgecoder/store"
)

// Reaper runs the background eviction and timeout-sweep cycles of spec.md
// §4.1 and §5: a 30s eviction cycle removing stale agents and requeuing
// their claimed tasks, plus a timeout sweep that returns claimed tasks to
// the queue after 2x their timeout, dead-lettering them after three
// retries.
type Reaper struct {
	coord    *Coordinator
	interval time.Duration
	log      *slog.Logger
}

func NewReaper(coord *Coordinator, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reaper{coord: coord, interval: interval, log: xlog.New("coordinator.reaper")}
}

// Run executes eviction/timeout cycles every interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Cycle()
		}
	}
}

// Cycle runs one eviction + timeout sweep immediately. Exposed so tests can
// drive deterministic cycles without waiting on the ticker.
func (r *Reaper) Cycle() {
	r.evictStaleAgents()
	r.sweepTimedOutTasks()
}

func (r *Reaper) evictStaleAgents() {
	c := r.coord
	agents, err := c.store.ListAgents()
	if err != nil {
		r.log.Warn("list agents failed", "err", err)
		return
	}
	now := c.nowMs()
	for _, a := range agents {
		if time.Duration(now-a.LastSeenMs)*time.Millisecond <= c.cfg.StaleThreshold {
			continue
		}
		r.reapAgent(a)
	}
}

func (r *Reaper) reapAgent(a store.Agent) {
	c := r.coord
	if err := c.store.WithAgentLock(a.AgentID, func() error { return c.store.DeleteAgent(a.AgentID) }); err != nil {
		r.log.Warn("reap agent delete failed", "agentId", a.AgentID, "err", err)
		return
	}

	tasks, err := c.store.ListTasks()
	if err != nil {
		r.log.Warn("list tasks during reap failed", "err", err)
	} else {
		for _, t := range tasks {
			if t.ClaimedBy == a.AgentID && t.Status == store.TaskClaimed {
				r.requeueOrDeadLetter(t)
			}
		}
	}

	r.log.Info("reaped stale agent", "agentId", a.AgentID)
	if c.broadcaster != nil && c.identity != nil {
		payload := map[string]string{"agentId": a.AgentID, "status": "stale"}
		env, err := mesh.NewEnvelope(mesh.TypePeerAnnounce, c.id, c.identity.Public, 3, payload)
		if err != nil {
			r.log.Warn("build stale peer_announce failed", "agentId", a.AgentID, "err", err)
			return
		}
		if err := env.Sign(c.identity); err != nil {
			r.log.Warn("sign stale peer_announce failed", "agentId", a.AgentID, "err", err)
			return
		}
		c.broadcaster.Broadcast(context.Background(), env)
	}
}

func (r *Reaper) sweepTimedOutTasks() {
	c := r.coord
	tasks, err := c.store.ListTasks()
	if err != nil {
		r.log.Warn("list tasks during sweep failed", "err", err)
		return
	}
	now := c.nowMs()
	for _, t := range tasks {
		if t.Status != store.TaskClaimed {
			continue
		}
		deadline := t.ClaimedAtMs + c.cfg.TimeoutFactor*t.TimeoutMs
		if now < deadline {
			continue
		}
		r.requeueOrDeadLetter(t)
	}
}

// requeueOrDeadLetter returns a claimed task to the queue, or marks it
// failed with max_retries_exceeded after three requeues (spec.md §4.1:
// "after 3 re-queues the task transitions to failed").
func (r *Reaper) requeueOrDeadLetter(t store.Task) {
	c := r.coord
	err := c.store.WithTaskLock(t.TaskID, func() error {
		cur, ok, err := c.store.GetTask(t.TaskID)
		if err != nil || !ok || cur.Status != store.TaskClaimed {
			return err
		}
		cur.RetryCount++
		cur.ClaimedBy = ""
		cur.ClaimedAtMs = 0
		if cur.RetryCount > c.cfg.MaxRetries {
			cur.Status = store.TaskFailed
			cur.FailureReason = xerr.CodeMaxRetries
			return c.store.PutTask(cur)
		}
		cur.Status = store.TaskQueued
		if err := c.store.PutTask(cur); err != nil {
			return err
		}
		c.scheduler.Requeue(&pendingTask{
			taskID:            cur.TaskID,
			projectID:         cur.ProjectMeta.ProjectID,
			priority:          cur.ProjectMeta.Priority,
			enqueuedAtMs:      cur.EnqueuedAtMs,
			resourceClass:     cur.ProjectMeta.ResourceClass,
			requiredModelSize: cur.RequiredModelSize,
		})
		return nil
	})
	if err != nil {
		r.log.Warn("requeue/dead-letter failed", "taskId", t.TaskID, "err", err)
	}
}
