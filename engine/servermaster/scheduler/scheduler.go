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

// Package scheduler drives one application from submission to completion.
//
// The graph is partitioned into node groups and bundles. Bundles are
// gated by a dependency manager: a bundle holding an initial node is free
// from the start, and a bundle fed by file edges is released once every
// producing group has terminated. Free bundles are dispatched group by
// group, every dispatch getting a fresh serial.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dflow-engine/dflow/engine/model"
	"github.com/dflow-engine/dflow/engine/pkg/clock"
	"github.com/dflow-engine/dflow/engine/servermaster/depmgr"
	"github.com/dflow-engine/dflow/engine/servermaster/planner"
	"github.com/dflow-engine/dflow/pkg/errors"
	"github.com/dflow-engine/dflow/pkg/logutil"
	"go.uber.org/zap"
)

// State is the state of an application.
type State int32

// All application states
const (
	StateSetup State = iota
	StateRunning
	StateFinished
	StateFailed
)

var stateNames = map[State]string{
	StateSetup:    "setup",
	StateRunning:  "running",
	StateFinished: "finished",
	StateFailed:   "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	for st, name := range stateNames {
		if name == string(text) {
			*s = st
			return nil
		}
	}
	return errors.ErrInvalidArgument.GenWithStackByArgs(fmt.Sprintf("unknown state %q", text))
}

// Terminal reports whether no more work will be scheduled.
func (s State) Terminal() bool {
	return s == StateFinished || s == StateFailed
}

// flight is a dispatched node group waiting for its summary, or a group
// waiting to be dispatched again.
type flight struct {
	group   model.GroupID
	task    *model.GroupTask
	worker  model.WorkerID
	pending bool
	backoff *groupBackoff
}

// GroupStatus describes a node group in flight.
type GroupStatus struct {
	Serial  model.Serial   `json:"serial"`
	Group   model.GroupID  `json:"group"`
	Worker  model.WorkerID `json:"worker-id,omitempty"`
	Pending bool           `json:"pending"`
	Tries   int            `json:"tries,omitempty"`
}

// Status is a snapshot of an application.
type Status struct {
	Name      string                 `json:"name"`
	State     State                  `json:"state"`
	Error     string                 `json:"error,omitempty"`
	Groups    int                    `json:"groups"`
	Bundles   int                    `json:"bundles"`
	InFlight  []GroupStatus          `json:"in-flight"`
	Summaries []*model.ResultSummary `json:"summaries"`
}

// Scheduler schedules the node groups of one application. All methods
// are safe for concurrent use.
type Scheduler struct {
	mu sync.Mutex

	graph      *model.Graph
	partition  *model.Partition
	deps       *depmgr.Manager[model.GroupID, model.BundleID]
	dispatcher Dispatcher
	cfg        *Config
	clocker    clock.Clock
	logger     *zap.Logger

	state      State
	failure    error
	lastSerial model.Serial
	inFlight   map[model.Serial]*flight
	summaries  []*model.ResultSummary
}

// New creates a Scheduler for a validated graph.
func New(graph *model.Graph, dispatcher Dispatcher, cfg *Config, clocker clock.Clock) *Scheduler {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if clocker == nil {
		clocker = clock.New()
	}
	return &Scheduler{
		graph:      graph,
		deps:       depmgr.NewManager[model.GroupID, model.BundleID](),
		dispatcher: dispatcher,
		cfg:        cfg,
		clocker:    clocker,
		logger:     logutil.NewLogger4App(graph.Name),
		state:      StateSetup,
		inFlight:   make(map[model.Serial]*flight),
	}
}

// Setup partitions the graph and registers the dependencies between
// bundles. Nothing is dispatched if it fails.
func (s *Scheduler) Setup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateSetup {
		return errors.ErrInvalidArgument.GenWithStackByArgs(
			fmt.Sprintf("application %s is already set up", s.graph.Name))
	}
	p, err := planner.Partition(s.graph)
	if err != nil {
		return err
	}

	reachable := make(map[model.BundleID]struct{}, len(p.Bundles))
	for _, n := range s.graph.InitialNodes() {
		gid, _ := p.GroupOf(n.Name)
		bid := p.BundleOf(gid)
		s.deps.InsertFree(bid)
		reachable[bid] = struct{}{}
	}
	for _, e := range s.graph.EdgesOf(model.EdgeFile) {
		from, _ := p.GroupOf(e.From)
		to, _ := p.GroupOf(e.To)
		bid := p.BundleOf(to)
		s.deps.InsertDependency(from, bid)
		reachable[bid] = struct{}{}
	}
	for _, b := range p.Bundles {
		if _, ok := reachable[b.ID]; !ok {
			return errors.ErrUnreachableBundle.GenWithStackByArgs(b.ID, b.Groups)
		}
	}

	s.partition = p
	s.state = StateRunning
	s.logger.Info("application set up",
		zap.Int("nodes", len(s.graph.Nodes)),
		zap.Int("groups", len(p.Groups)),
		zap.Int("bundles", len(p.Bundles)))
	return nil
}

// ScheduleReadyUnits dispatches every group of every free bundle. It
// returns false if no bundle was free.
func (s *Scheduler) ScheduleReadyUnits(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduleLocked(ctx)
}

func (s *Scheduler) scheduleLocked(ctx context.Context) bool {
	if s.state != StateRunning {
		return false
	}
	bundles := s.deps.ObtainFreeDependents()
	if len(bundles) == 0 {
		return false
	}
	sort.Slice(bundles, func(i, j int) bool { return bundles[i] < bundles[j] })
	for _, bid := range bundles {
		for _, gid := range s.partition.Bundle(bid).Groups {
			s.lastSerial++
			f := &flight{
				group: gid,
				task:  model.NewGroupTask(s.graph, s.partition.Group(gid), s.lastSerial),
			}
			s.inFlight[f.task.Serial] = f
			s.dispatchLocked(ctx, f)
			if s.state != StateRunning {
				return true
			}
		}
	}
	return true
}

// dispatchLocked dispatches f and applies the dispatch policy on failure.
func (s *Scheduler) dispatchLocked(ctx context.Context, f *flight) {
	worker, err := s.dispatcher.Dispatch(ctx, f.task)
	if err == nil {
		f.worker = worker
		f.pending = false
		s.logger.Info("node group dispatched",
			zap.Int64("group-serial", f.task.Serial),
			zap.Int("group", int(f.group)),
			zap.String("worker-id", string(worker)))
		return
	}

	if s.cfg.DispatchPolicy == PolicyAbort {
		delete(s.inFlight, f.task.Serial)
		s.failLocked(err)
		return
	}
	if f.backoff == nil {
		f.backoff = newGroupBackoff(s.clocker, &s.cfg.Backoff)
	}
	f.backoff.Fail()
	f.pending = true
	if f.backoff.Terminate() {
		delete(s.inFlight, f.task.Serial)
		s.logger.Warn("give up dispatching node group",
			zap.Int64("group-serial", f.task.Serial),
			zap.Int("tries", f.backoff.Tries()))
		s.failLocked(err)
		return
	}
	s.logger.Warn("node group is pending",
		zap.Int64("group-serial", f.task.Serial),
		zap.Int("tries", f.backoff.Tries()),
		logutil.ShortError(err))
}

// RetryPending dispatches again the pending groups whose backoff allows
// it. A retried group gets a fresh serial, so a late summary of the
// previous attempt is rejected.
func (s *Scheduler) RetryPending(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRunning {
		return
	}
	serials := make([]model.Serial, 0, len(s.inFlight))
	for serial, f := range s.inFlight {
		if f.pending && f.backoff.Allow() {
			serials = append(serials, serial)
		}
	}
	sort.Slice(serials, func(i, j int) bool { return serials[i] < serials[j] })
	for _, serial := range serials {
		f := s.inFlight[serial]
		delete(s.inFlight, serial)
		s.lastSerial++
		f.task = model.NewGroupTask(s.graph, s.partition.Group(f.group), s.lastSerial)
		s.inFlight[f.task.Serial] = f
		s.dispatchLocked(ctx, f)
		if s.state != StateRunning {
			return
		}
	}
}

// HandleTermination records the summary of a group in flight, releases
// the bundles it gates and schedules them.
func (s *Scheduler) HandleTermination(ctx context.Context, summary *model.ResultSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.inFlight[summary.Serial]
	if !ok || f.pending {
		return errors.ErrUnknownGroupSerial.GenWithStackByArgs(s.graph.Name, summary.Serial)
	}
	delete(s.inFlight, summary.Serial)
	s.summaries = append(s.summaries, summary)
	s.logger.Info("node group terminated", zap.Stringer("summary", summary))

	if s.state != StateRunning {
		return nil
	}
	if summary.Outcome != model.OutcomeSuccess {
		s.failLocked(errors.ErrNodeFailed.GenWithStackByArgs(failedNodes(summary)))
		return nil
	}
	s.deps.RemoveDependency(f.group)
	s.scheduleLocked(ctx)
	if s.state == StateRunning && s.finishedLocked() {
		s.state = StateFinished
		s.logger.Info("application finished")
	}
	return nil
}

func failedNodes(summary *model.ResultSummary) string {
	nodes := make([]string, 0, len(summary.Errors))
	for node := range summary.Errors {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	return fmt.Sprintf("%v in group %d", nodes, summary.Serial)
}

func (s *Scheduler) failLocked(err error) {
	s.state = StateFailed
	s.failure = err
	s.logger.Warn("application failed", zap.Error(err))
}

// Finished reports whether every bundle has been dispatched and every
// group has terminated.
func (s *Scheduler) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishedLocked()
}

func (s *Scheduler) finishedLocked() bool {
	return !s.deps.HasLockedDependents() &&
		!s.deps.HasFreeDependents() &&
		len(s.inFlight) == 0
}

// State returns the state of the application.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns why the application failed.
func (s *Scheduler) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// Status returns a snapshot of the application.
func (s *Scheduler) Status() *Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := &Status{
		Name:      s.graph.Name,
		State:     s.state,
		InFlight:  make([]GroupStatus, 0, len(s.inFlight)),
		Summaries: append([]*model.ResultSummary(nil), s.summaries...),
	}
	if s.failure != nil {
		st.Error = s.failure.Error()
	}
	if s.partition != nil {
		st.Groups = len(s.partition.Groups)
		st.Bundles = len(s.partition.Bundles)
	}
	for serial, f := range s.inFlight {
		gs := GroupStatus{Serial: serial, Group: f.group, Worker: f.worker, Pending: f.pending}
		if f.backoff != nil {
			gs.Tries = f.backoff.Tries()
		}
		st.InFlight = append(st.InFlight, gs)
	}
	sort.Slice(st.InFlight, func(i, j int) bool { return st.InFlight[i].Serial < st.InFlight[j].Serial })
	return st
}
