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

package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dflow-engine/dflow/engine/model"
	"github.com/dflow-engine/dflow/engine/pkg/clock"
	"github.com/dflow-engine/dflow/pkg/errors"
	perrors "github.com/pingcap/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type mockDispatcher struct {
	mu    sync.Mutex
	tasks []*model.GroupTask
	// failures is the number of upcoming dispatches that fail
	failures int
}

func (d *mockDispatcher) Dispatch(_ context.Context, task *model.GroupTask) (model.WorkerID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failures > 0 {
		d.failures--
		return "", errors.ErrNoWorkerAvailable.GenWithStackByArgs(task.ID())
	}
	d.tasks = append(d.tasks, task)
	return "worker-1", nil
}

func (d *mockDispatcher) take() []*model.GroupTask {
	d.mu.Lock()
	defer d.mu.Unlock()
	ret := d.tasks
	d.tasks = nil
	return ret
}

func node(name string, tp model.NodeType) *model.Node {
	return &model.Node{Name: name, Type: tp, Behavior: "relay"}
}

func edge(from, to string, mode model.EdgeMode) *model.Edge {
	return &model.Edge{From: from, To: to, Mode: mode}
}

func success(task *model.GroupTask) *model.ResultSummary {
	return &model.ResultSummary{
		AppName:  task.AppName,
		Serial:   task.Serial,
		WorkerID: "worker-1",
		Outcome:  model.OutcomeSuccess,
	}
}

func newTestScheduler(t *testing.T, g *model.Graph, cfg *Config) (*Scheduler, *mockDispatcher, *clock.Mock) {
	require.NoError(t, g.Validate())
	d := &mockDispatcher{}
	clocker := clock.NewMock()
	clocker.Set(time.Now())
	s := New(g, d, cfg, clocker)
	return s, d, clocker
}

func taskNodes(task *model.GroupTask) []string {
	var ret []string
	for _, n := range task.Nodes {
		ret = append(ret, n.Name)
	}
	return ret
}

func TestSetupRejectsBadPartitions(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		g   *model.Graph
		err *perrors.Error
	}{
		{
			// file edge inside one bundle
			g: &model.Graph{
				Name:  "temporal",
				Nodes: []*model.Node{node("a", model.NodeInitial), node("b", model.NodeCommon), node("c", model.NodeFinal)},
				Edges: []*model.Edge{
					edge("a", "b", model.EdgeTCP), edge("b", "c", model.EdgeTCP), edge("a", "c", model.EdgeFile),
				},
			},
			err: errors.ErrTemporalOrdering,
		},
		{
			// two bundles waiting for each other
			g: &model.Graph{
				Name:  "cycle",
				Nodes: []*model.Node{node("a", model.NodeInitial), node("b", model.NodeCommon)},
				Edges: []*model.Edge{edge("a", "b", model.EdgeFile), edge("b", "a", model.EdgeFile)},
			},
			err: errors.ErrCyclicDependency,
		},
		{
			// b is never fed
			g: &model.Graph{
				Name:  "island",
				Nodes: []*model.Node{node("a", model.NodeInitial), node("b", model.NodeCommon)},
			},
			err: errors.ErrUnreachableBundle,
		},
	}
	for _, tc := range testCases {
		s, d, _ := newTestScheduler(t, tc.g, nil)
		err := s.Setup()
		require.ErrorIs(t, err, tc.err, tc.g.Name)
		require.Equal(t, StateSetup, s.State())
		require.False(t, s.ScheduleReadyUnits(context.Background()))
		require.Empty(t, d.take())
	}
}

func TestSchedulePipeline(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	// bundle {a,b} runs first, c only after its file input is complete
	g := &model.Graph{
		Name:  "pipeline",
		Nodes: []*model.Node{node("a", model.NodeInitial), node("b", model.NodeCommon), node("c", model.NodeFinal)},
		Edges: []*model.Edge{edge("a", "b", model.EdgeTCP), edge("b", "c", model.EdgeFile)},
	}
	s, d, _ := newTestScheduler(t, g, nil)
	require.NoError(t, s.Setup())
	require.Equal(t, StateRunning, s.State())
	require.False(t, s.Finished())

	require.True(t, s.ScheduleReadyUnits(ctx))
	first := d.take()
	require.Len(t, first, 2)
	require.Equal(t, []string{"a"}, taskNodes(first[0]))
	require.Equal(t, []string{"b"}, taskNodes(first[1]))
	require.Equal(t, model.Serial(1), first[0].Serial)
	require.Equal(t, model.Serial(2), first[1].Serial)
	// nothing else is free
	require.False(t, s.ScheduleReadyUnits(ctx))

	require.NoError(t, s.HandleTermination(ctx, success(first[0])))
	require.Empty(t, d.take())
	require.NoError(t, s.HandleTermination(ctx, success(first[1])))
	second := d.take()
	require.Len(t, second, 1)
	require.Equal(t, []string{"c"}, taskNodes(second[0]))
	require.Equal(t, model.Serial(3), second[0].Serial)
	require.False(t, s.Finished())

	require.NoError(t, s.HandleTermination(ctx, success(second[0])))
	require.True(t, s.Finished())
	require.Equal(t, StateFinished, s.State())

	status := s.Status()
	require.Equal(t, 3, status.Groups)
	require.Equal(t, 2, status.Bundles)
	require.Len(t, status.Summaries, 3)
	require.Empty(t, status.InFlight)
}

func TestScheduleFanOutBundle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	// a reads a file and feeds b and c over tcp, b and c write files
	a := node("a", model.NodeInitial)
	a.Inputs = []string{"in/a"}
	b := node("b", model.NodeFinal)
	b.Outputs = []string{"out/b"}
	c := node("c", model.NodeFinal)
	c.Outputs = []string{"out/c"}
	g := &model.Graph{
		Name:  "fanout",
		Nodes: []*model.Node{a, b, c},
		Edges: []*model.Edge{edge("a", "b", model.EdgeTCP), edge("a", "c", model.EdgeTCP)},
	}
	s, d, _ := newTestScheduler(t, g, nil)
	require.NoError(t, s.Setup())

	// the single bundle is free at once since a is initial
	require.True(t, s.ScheduleReadyUnits(ctx))
	tasks := d.take()
	require.Len(t, tasks, 3)
	status := s.Status()
	require.Equal(t, 3, status.Groups)
	require.Equal(t, 1, status.Bundles)

	require.NoError(t, s.HandleTermination(ctx, success(tasks[0])))
	require.False(t, s.Finished())
	require.NoError(t, s.HandleTermination(ctx, success(tasks[1])))
	require.False(t, s.Finished())
	require.NoError(t, s.HandleTermination(ctx, success(tasks[2])))
	require.True(t, s.Finished())
	require.Equal(t, StateFinished, s.State())
}

func TestHandleTerminationUnknownSerial(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	g := &model.Graph{Name: "single", Nodes: []*model.Node{node("a", model.NodeInitial)}}
	s, d, _ := newTestScheduler(t, g, nil)
	require.NoError(t, s.Setup())
	require.True(t, s.ScheduleReadyUnits(ctx))
	task := d.take()[0]

	err := s.HandleTermination(ctx, &model.ResultSummary{AppName: "single", Serial: 42, Outcome: model.OutcomeSuccess})
	require.True(t, errors.IsCode(err, errors.ErrUnknownGroupSerial), "%v", err)
	require.Equal(t, StateRunning, s.State())

	require.NoError(t, s.HandleTermination(ctx, success(task)))
	require.Equal(t, StateFinished, s.State())
	// a second report of the same group is unknown as well
	err = s.HandleTermination(ctx, success(task))
	require.True(t, errors.IsCode(err, errors.ErrUnknownGroupSerial), "%v", err)
}

func TestFailureSummaryFailsApplication(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	g := &model.Graph{
		Name:  "failing",
		Nodes: []*model.Node{node("a", model.NodeInitial), node("b", model.NodeFinal)},
		Edges: []*model.Edge{edge("a", "b", model.EdgeFile)},
	}
	s, d, _ := newTestScheduler(t, g, nil)
	require.NoError(t, s.Setup())
	require.True(t, s.ScheduleReadyUnits(ctx))
	task := d.take()[0]

	summary := success(task)
	summary.Outcome = model.OutcomeFailure
	summary.Errors = map[model.NodeName]string{"a": "boom"}
	require.NoError(t, s.HandleTermination(ctx, summary))
	require.Equal(t, StateFailed, s.State())
	require.True(t, errors.IsCode(s.Err(), errors.ErrNodeFailed), "%v", s.Err())
	require.Regexp(t, "\\[a\\]", s.Err().Error())
	// b is never released
	require.Empty(t, d.take())
	require.False(t, s.ScheduleReadyUnits(ctx))
	require.Equal(t, "failed", s.Status().State.String())
}

func TestDispatchPolicyAbort(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	g := &model.Graph{Name: "abort", Nodes: []*model.Node{node("a", model.NodeInitial)}}
	cfg := NewDefaultConfig()
	cfg.DispatchPolicy = PolicyAbort
	s, d, _ := newTestScheduler(t, g, cfg)
	d.failures = 1
	require.NoError(t, s.Setup())

	require.True(t, s.ScheduleReadyUnits(ctx))
	require.Equal(t, StateFailed, s.State())
	require.True(t, errors.IsCode(s.Err(), errors.ErrNoWorkerAvailable), "%v", s.Err())
	require.Empty(t, s.Status().InFlight)
}

func TestDispatchPolicyRetry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	g := &model.Graph{Name: "retry", Nodes: []*model.Node{node("a", model.NodeInitial)}}
	s, d, clocker := newTestScheduler(t, g, NewDefaultConfig())
	d.failures = 2
	require.NoError(t, s.Setup())

	require.True(t, s.ScheduleReadyUnits(ctx))
	require.Equal(t, StateRunning, s.State())
	status := s.Status()
	require.Len(t, status.InFlight, 1)
	require.True(t, status.InFlight[0].Pending)
	require.Equal(t, 1, status.InFlight[0].Tries)
	// a pending group cannot report
	require.ErrorIs(t, s.HandleTermination(ctx, &model.ResultSummary{
		AppName: "retry", Serial: 1, Outcome: model.OutcomeSuccess,
	}), errors.ErrUnknownGroupSerial)

	// not allowed before the backoff expires
	s.RetryPending(ctx)
	require.Equal(t, 1, s.Status().InFlight[0].Tries)

	clocker.Add(defaultBackoffInitInterval * 2)
	s.RetryPending(ctx)
	require.Equal(t, 2, s.Status().InFlight[0].Tries)

	clocker.Add(defaultBackoffInitInterval * 4)
	s.RetryPending(ctx)
	tasks := d.take()
	require.Len(t, tasks, 1)
	// every dispatch gets a fresh serial
	require.Equal(t, model.Serial(3), tasks[0].Serial)
	status = s.Status()
	require.False(t, status.InFlight[0].Pending)
	require.Equal(t, model.WorkerID("worker-1"), status.InFlight[0].Worker)

	require.NoError(t, s.HandleTermination(ctx, success(tasks[0])))
	require.Equal(t, StateFinished, s.State())
}

func TestDispatchPolicyRetryExhausted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	g := &model.Graph{Name: "exhausted", Nodes: []*model.Node{node("a", model.NodeInitial)}}
	cfg := NewDefaultConfig()
	cfg.Backoff.MaxTries = 2
	s, d, clocker := newTestScheduler(t, g, cfg)
	d.failures = 10
	require.NoError(t, s.Setup())

	require.True(t, s.ScheduleReadyUnits(ctx))
	require.Equal(t, StateRunning, s.State())
	clocker.Add(time.Minute)
	s.RetryPending(ctx)
	require.Equal(t, StateFailed, s.State())
	require.True(t, errors.IsCode(s.Err(), errors.ErrNoWorkerAvailable), "%v", s.Err())
	require.Empty(t, s.Status().InFlight)
}
