// Copyright 2026 The EdgeCoder Authors
// This file is part of the EdgeCoder library.
//
// The EdgeCoder library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package coordinator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codyrs82/edgecoder/store"
)

// TestReaperReapsStaleAgentAndRequeuesTask reproduces spec.md §8 scenario
// 6: a dead agent's claimed task is re-queued within one reaper cycle.
func TestReaperReapsStaleAgentAndRequeuesTask(t *testing.T) {
	c, _ := newTestCoordinator(t)
	base := time.UnixMilli(0)
	c.now = func() time.Time { return base }

	registerAgent(t, c, "a9", "acct-a9", 7)

	_, err := c.EnqueueTask(store.Task{
		TaskID:      "t9",
		Input:       "x",
		TimeoutMs:   5000,
		ProjectMeta: store.ProjectMeta{ProjectID: "p", ResourceClass: store.ResourceCPU},
	})
	require.NoError(t, err)

	pulled, err := c.PullTasks("a9", store.ResourceCPU, 1)
	require.NoError(t, err)
	require.Len(t, pulled, 1)

	c.now = func() time.Time { return base.Add(125 * time.Second) }

	reaper := NewReaper(c, time.Minute)
	reaper.Cycle()

	_, ok, err := c.store.GetAgent("a9")
	require.NoError(t, err)
	require.False(t, ok)

	task, ok, err := c.store.GetTask("t9")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, store.TaskQueued, task.Status)
	require.Equal(t, "", task.ClaimedBy)
}

func TestReaperDeadLettersAfterThreeRequeues(t *testing.T) {
	c, _ := newTestCoordinator(t)
	registerAgent(t, c, "a1", "acct-a1", 7)

	_, err := c.EnqueueTask(store.Task{
		TaskID:      "t1",
		Input:       "x",
		TimeoutMs:   1000,
		ProjectMeta: store.ProjectMeta{ProjectID: "p", ResourceClass: store.ResourceCPU},
	})
	require.NoError(t, err)

	base := time.UnixMilli(0)
	clock := base
	c.now = func() time.Time { return clock }

	reaper := NewReaper(c, time.Minute)
	for i := 0; i < 4; i++ {
		pulled, err := c.PullTasks("a1", store.ResourceCPU, 1)
		require.NoError(t, err)
		require.Len(t, pulled, 1)

		clock = clock.Add(3 * time.Second) // past 2x timeoutMs
		reaper.Cycle()
	}

	task, ok, err := c.store.GetTask("t1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, store.TaskFailed, task.Status)
}
