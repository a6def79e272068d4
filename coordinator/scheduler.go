// Copyright 2026 The EdgeCoder Authors
// This file is part of the EdgeCoder library.
//
// The EdgeCoder library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package coordinator implements spec.md §4.1: task intake, the fair-share
// scheduler, agent lifecycle, and result reporting with credit settlement.
package coordinator

import (
	"sync"

	"github.com/codyrs82/edgecoder/store"
)

// pendingTask is the scheduler's lightweight queue entry. Task state
// (status, claim, result) lives in the PersistentStore; the scheduler only
// orders taskIds within their project.
type pendingTask struct {
	taskID            string
	projectID         string
	priority          int
	enqueuedAtMs      int64
	resourceClass     store.ResourceClass
	requiredModelSize float64
}

// Scheduler implements spec.md §4.1's fair-share policy: tasks are grouped
// by projectId; PullTasks selects the project with the lowest virtual
// time that has an eligible pending task, advances that project's virtual
// time by one quantum, and returns its highest-priority task. The task
// queue is mutated only through this type, per spec.md §5's "task queue is
// mutated only through the scheduler".
type Scheduler struct {
	mu          sync.Mutex
	byProject   map[string][]*pendingTask
	virtualTime map[string]float64
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		byProject:   make(map[string][]*pendingTask),
		virtualTime: make(map[string]float64),
	}
}

// Enqueue adds a task to its project's pending list.
func (s *Scheduler) Enqueue(t *pendingTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueueLocked(t)
}

func (s *Scheduler) enqueueLocked(t *pendingTask) {
	s.byProject[t.projectID] = append(s.byProject[t.projectID], t)
	if _, ok := s.virtualTime[t.projectID]; !ok {
		s.virtualTime[t.projectID] = 0
	}
}

// Requeue returns a previously pulled task to the scheduler, e.g. after a
// claim timeout (spec.md §4.1 "claimed -> queued (reclaimable)").
func (s *Scheduler) Requeue(t *pendingTask) {
	s.Enqueue(t)
}

// Remove drops a pending task without scheduling it, used when a gossip
// claim window awards a still-queued task to a remote coordinator's agent.
func (s *Scheduler) Remove(projectID, taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.byProject[projectID]
	for i, t := range list {
		if t.taskID == taskID {
			s.byProject[projectID] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

func eligible(t *pendingTask, resourceClass store.ResourceClass, agentParamSize float64) bool {
	return t.resourceClass == resourceClass && agentParamSize >= t.requiredModelSize
}

// Pull selects up to max eligible tasks in fair-share order for an agent
// able to serve resourceClass with model capacity agentParamSize.
func (s *Scheduler) Pull(resourceClass store.ResourceClass, agentParamSize float64, max int) []*pendingTask {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*pendingTask
	for len(out) < max {
		projectID, ok := s.lowestEligibleProjectLocked(resourceClass, agentParamSize)
		if !ok {
			break
		}
		task := s.popHighestPriorityLocked(projectID, resourceClass, agentParamSize)
		if task == nil {
			break
		}
		s.virtualTime[projectID]++
		out = append(out, task)
	}
	return out
}

// lowestEligibleProjectLocked picks the project with the lowest virtual
// time among those with at least one eligible pending task, breaking ties
// by the oldest eligible enqueue time then by projectId (spec.md §4.1).
func (s *Scheduler) lowestEligibleProjectLocked(resourceClass store.ResourceClass, agentParamSize float64) (string, bool) {
	type candidate struct {
		projectID string
		vt        float64
		oldest    int64
	}
	var best *candidate
	for projectID, tasks := range s.byProject {
		oldest := int64(-1)
		for _, t := range tasks {
			if !eligible(t, resourceClass, agentParamSize) {
				continue
			}
			if oldest == -1 || t.enqueuedAtMs < oldest {
				oldest = t.enqueuedAtMs
			}
		}
		if oldest == -1 {
			continue
		}
		vt := s.virtualTime[projectID]
		c := candidate{projectID: projectID, vt: vt, oldest: oldest}
		switch {
		case best == nil:
			best = &c
		case c.vt < best.vt:
			best = &c
		case c.vt == best.vt && c.oldest < best.oldest:
			best = &c
		case c.vt == best.vt && c.oldest == best.oldest && c.projectID < best.projectID:
			best = &c
		}
	}
	if best == nil {
		return "", false
	}
	return best.projectID, true
}

// popHighestPriorityLocked removes and returns the highest-priority
// eligible task in projectID, ties broken by oldest enqueue time.
func (s *Scheduler) popHighestPriorityLocked(projectID string, resourceClass store.ResourceClass, agentParamSize float64) *pendingTask {
	tasks := s.byProject[projectID]
	bestIdx := -1
	for i, t := range tasks {
		if !eligible(t, resourceClass, agentParamSize) {
			continue
		}
		if bestIdx == -1 {
			bestIdx = i
			continue
		}
		b := tasks[bestIdx]
		if t.priority > b.priority || (t.priority == b.priority && t.enqueuedAtMs < b.enqueuedAtMs) {
			bestIdx = i
		}
	}
	if bestIdx == -1 {
		return nil
	}
	task := tasks[bestIdx]
	s.byProject[projectID] = append(tasks[:bestIdx:bestIdx], tasks[bestIdx+1:]...)
	return task
}

// PendingCount reports the total number of queued tasks across all
// projects, used by Status().
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, tasks := range s.byProject {
		n += len(tasks)
	}
	return n
}
