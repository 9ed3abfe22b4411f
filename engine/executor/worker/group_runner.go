// Copyright 2022 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

// Package worker runs the node groups dispatched to a worker, each one in
// its own background goroutine.
package worker

import (
	"context"
	"sort"
	"sync"

	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/dflow-engine/dflow/engine/pkg/clock"
	"github.com/dflow-engine/dflow/pkg/errors"
)

// Group is a dispatched node group. IDs are unique among the groups
// running at the same time.
type Group interface {
	ID() string
	Run(ctx context.Context) error
}

// GroupState is the lifecycle state of a submitted group.
type GroupState int32

// All group states
const (
	GroupQueued GroupState = iota + 1
	GroupRunning
	GroupStopping
)

func (s GroupState) String() string {
	switch s {
	case GroupQueued:
		return "queued"
	case GroupRunning:
		return "running"
	case GroupStopping:
		return "stopping"
	}
	return "unknown"
}

// GroupInfo describes a group known to the runner.
type GroupInfo struct {
	ID    string `json:"id"`
	State string `json:"state"`
	// QueuedMs is the time the group waited before it was launched.
	QueuedMs int64 `json:"queued-ms"`
	// RunningMs is the time since launch.
	RunningMs int64 `json:"running-ms"`
}

type groupEntry struct {
	Group
	state      atomic.Int32
	submitTime clock.MonotonicTime
	launchTime clock.MonotonicTime
	cancel     context.CancelFunc
}

func (e *groupEntry) transit(from []GroupState, to GroupState) {
	old := GroupState(e.state.Swap(int32(to)))
	for _, s := range from {
		if s == old {
			return
		}
	}
	log.Panic("unexpected group state",
		zap.String("id", e.ID()),
		zap.Stringer("from", old),
		zap.Stringer("to", to))
}

// GroupRunner receives groups in a FIFO way and runs them in independent
// background goroutines.
type GroupRunner struct {
	inQueue chan *groupEntry
	wg      sync.WaitGroup
	clock   clock.Clock

	mu      sync.Mutex
	closed  bool
	running map[string]*groupEntry
	count   atomic.Int64
}

// NewGroupRunner creates a runner whose submission queue holds at most
// queueSize groups.
func NewGroupRunner(queueSize int) *GroupRunner {
	return &GroupRunner{
		inQueue: make(chan *groupEntry, queueSize),
		clock:   clock.New(),
		running: make(map[string]*groupEntry),
	}
}

// Submit enqueues a group. It fails with ErrRuntimeIncomingQueueFull
// instead of blocking.
func (r *GroupRunner) Submit(g Group) error {
	entry := &groupEntry{Group: g, submitTime: r.clock.Mono()}
	entry.state.Store(int32(GroupQueued))
	select {
	case r.inQueue <- entry:
		return nil
	default:
	}
	return errors.ErrRuntimeIncomingQueueFull.GenWithStackByArgs()
}

// Run launches the submitted groups until ctx is canceled, then cancels
// the running ones and waits for them.
func (r *GroupRunner) Run(ctx context.Context) error {
	defer r.stopAll()

	for {
		select {
		case <-ctx.Done():
			return errors.Trace(ctx.Err())
		case entry := <-r.inQueue:
			if err := r.launch(entry); err != nil {
				log.Warn("launch node group failed",
					zap.String("id", entry.ID()), zap.Error(err))
			}
		}
	}
}

// RunningCount returns the number of launched groups that have not
// returned yet.
func (r *GroupRunner) RunningCount() int64 {
	return r.count.Load()
}

// Groups returns the launched groups ordered by ID.
func (r *GroupRunner) Groups() []GroupInfo {
	now := r.clock.Mono()
	r.mu.Lock()
	ret := make([]GroupInfo, 0, len(r.running))
	for id, e := range r.running {
		ret = append(ret, GroupInfo{
			ID:        id,
			State:     GroupState(e.state.Load()).String(),
			QueuedMs:  e.launchTime.Sub(e.submitTime).Milliseconds(),
			RunningMs: now.Sub(e.launchTime).Milliseconds(),
		})
	}
	r.mu.Unlock()
	sort.Slice(ret, func(i, j int) bool { return ret[i].ID < ret[j].ID })
	return ret
}

func (r *GroupRunner) stopAll() {
	r.mu.Lock()
	r.closed = true
	for id, e := range r.running {
		log.Info("cancel node group", zap.String("id", id))
		e.cancel()
	}
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *GroupRunner) launch(entry *groupEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.ErrRuntimeClosed.GenWithStackByArgs()
	}
	id := entry.ID()
	if _, ok := r.running[id]; ok {
		return errors.ErrRuntimeDuplicateTaskID.GenWithStackByArgs(id)
	}

	ctx, cancel := context.WithCancel(context.Background())
	entry.cancel = cancel
	entry.launchTime = r.clock.Mono()
	r.running[id] = entry
	r.count.Inc()
	runningGroupGauge.Inc()
	queueDuration.Observe(entry.launchTime.Sub(entry.submitTime).Seconds())

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.runGroup(ctx, entry)
	}()
	return nil
}

func (r *GroupRunner) runGroup(ctx context.Context, entry *groupEntry) {
	var err error
	defer func() {
		if v := recover(); v != nil {
			err = errors.Errorf("node group panicked: %v", v)
			log.Error("node group panicked", zap.String("id", entry.ID()), zap.Error(err))
		}
		entry.transit([]GroupState{GroupQueued, GroupRunning}, GroupStopping)
		entry.cancel()

		r.mu.Lock()
		delete(r.running, entry.ID())
		r.mu.Unlock()
		left := r.count.Dec()
		runningGroupGauge.Dec()
		log.Info("node group stopped",
			zap.String("id", entry.ID()),
			zap.Int64("running-groups", left),
			zap.Error(err))
	}()

	entry.transit([]GroupState{GroupQueued}, GroupRunning)
	log.Info("node group launched",
		zap.String("id", entry.ID()),
		zap.Int64("running-groups", r.count.Load()))
	err = entry.Run(ctx)
}
