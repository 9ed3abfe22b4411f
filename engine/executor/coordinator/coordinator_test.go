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

package coordinator

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dflow-engine/dflow/engine/framework/behavior"
	"github.com/dflow-engine/dflow/engine/framework/registry"
	"github.com/dflow-engine/dflow/engine/model"
	"github.com/dflow-engine/dflow/engine/pkg/storage"
	"github.com/dflow-engine/dflow/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type memEndpoints struct {
	mu    sync.Mutex
	addrs map[string]string
}

func newMemEndpoints() *memEndpoints {
	return &memEndpoints{addrs: make(map[string]string)}
}

func (m *memEndpoints) PublishEndpoint(_ context.Context, app string, node model.NodeName, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addrs[app+"/"+node] = addr
	return nil
}

func (m *memEndpoints) ResolveEndpoint(_ context.Context, app string, node model.NodeName) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	addr, ok := m.addrs[app+"/"+node]
	if !ok {
		return "", errors.ErrEndpointNotPublished.GenWithStackByArgs(node, app)
	}
	return addr, nil
}

type chanReporter struct {
	summaries chan *model.ResultSummary
}

func (r *chanReporter) ReportResult(_ context.Context, s *model.ResultSummary) error {
	r.summaries <- s
	return nil
}

type failing struct{ after int }

func (f *failing) Process(ctx context.Context, rec model.Record, out behavior.Emitter) error {
	if f.after == 0 {
		return errors.New("injected failure")
	}
	f.after--
	return out.Emit(ctx, rec)
}

func (f *failing) Flush(context.Context, behavior.Emitter) error { return nil }

type panicking struct {
	seen map[string]int
}

func (p *panicking) Process(ctx context.Context, rec model.Record, out behavior.Emitter) error {
	if err := out.Emit(ctx, rec); err != nil {
		return err
	}
	// seen is never allocated.
	p.seen[rec.Key]++
	return nil
}

func (p *panicking) Flush(context.Context, behavior.Emitter) error { return nil }

type testEnv struct {
	store     storage.Storage
	endpoints *memEndpoints
	reporter  *chanReporter
	behaviors registry.Registry
	cfg       Config
}

func newTestEnv(t *testing.T) *testEnv {
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	behaviors := registry.NewRegistry()
	registry.RegisterBuiltins(behaviors)
	behaviors.MustRegisterBehavior("fail-after-2", func(map[string]string) (behavior.Behavior, error) {
		return &failing{after: 2}, nil
	})
	behaviors.MustRegisterBehavior("nil-map", func(map[string]string) (behavior.Behavior, error) {
		return &panicking{}, nil
	})
	cfg := DefaultConfig()
	cfg.ResolveTimeout = 5 * time.Second
	cfg.ResolveInterval = 5 * time.Millisecond
	cfg.AcceptTimeout = 5 * time.Second
	return &testEnv{
		store:     store,
		endpoints: newMemEndpoints(),
		reporter:  &chanReporter{summaries: make(chan *model.ResultSummary, 16)},
		behaviors: behaviors,
		cfg:       cfg,
	}
}

func (e *testEnv) newCoordinator(task *model.GroupTask) *Coordinator {
	return New("worker-1", task, e.cfg, Deps{
		Behaviors: e.behaviors,
		Storage:   e.store,
		Endpoints: e.endpoints,
		Reporter:  e.reporter,
	})
}

func (e *testEnv) writeFile(t *testing.T, path string, lines []string) {
	w, err := e.store.Create(context.Background(), path)
	require.NoError(t, err)
	_, err = io.WriteString(w, strings.Join(lines, "\n")+"\n")
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func (e *testEnv) readLines(t *testing.T, path string) []string {
	r, err := e.store.Open(context.Background(), path)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	text := strings.TrimSuffix(string(data), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

func (e *testEnv) requireNoStream(t *testing.T, path string) {
	_, err := e.store.Open(context.Background(), path)
	require.True(t, errors.IsCode(err, errors.ErrStorageOpen), "%v", err)
}

// runGroups runs one coordinator per group concurrently, as separate
// workers would.
func (e *testEnv) runGroups(t *testing.T, g *model.Graph, groups [][]model.NodeName) map[model.Serial]*model.ResultSummary {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, len(groups))
	for i, nodes := range groups {
		task := model.NewGroupTask(g, &model.NodeGroup{ID: model.GroupID(i), Nodes: nodes}, model.Serial(i+1))
		c := e.newCoordinator(task)
		require.Equal(t, fmt.Sprintf("%s/%d", g.Name, i+1), c.ID())
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- c.Run(ctx)
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	ret := make(map[model.Serial]*model.ResultSummary, len(groups))
	for range groups {
		s := <-e.reporter.summaries
		ret[s.Serial] = s
	}
	return ret
}

func inputLines(n int) []string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("line %d", i+1)
	}
	return lines
}

func TestCoordinatorTCPFanOut(t *testing.T) {
	env := newTestEnv(t)
	env.writeFile(t, "in.txt", inputLines(100))

	g := &model.Graph{
		Name: "fanout",
		Nodes: []*model.Node{
			{Name: "a", Type: model.NodeInitial, Behavior: behavior.Relay, Inputs: []string{"in.txt"}},
			{Name: "b", Type: model.NodeFinal, Behavior: behavior.Relay, Outputs: []string{"out/b"}},
			{Name: "c", Type: model.NodeFinal, Behavior: behavior.Relay, Outputs: []string{"out/c"}},
		},
		Edges: []*model.Edge{
			{From: "a", To: "b", Mode: model.EdgeTCP},
			{From: "a", To: "c", Mode: model.EdgeTCP},
		},
	}
	require.NoError(t, g.Validate())

	summaries := env.runGroups(t, g, [][]model.NodeName{{"a"}, {"b"}, {"c"}})
	for serial, s := range summaries {
		require.Equal(t, model.OutcomeSuccess, s.Outcome, "serial %d: %s", serial, s)
		require.Equal(t, model.WorkerID("worker-1"), s.WorkerID)
		require.Len(t, s.Timings, 1)
		require.Empty(t, s.Errors)
	}

	// every input line reaches exactly one of the two consumers
	got := append(env.readLines(t, "out/b"), env.readLines(t, "out/c")...)
	require.Len(t, got, 100)
	sort.Strings(got)
	expected := make([]string, 0, 100)
	for i, line := range inputLines(100) {
		expected = append(expected, fmt.Sprintf("%d\t%s", i+1, line))
	}
	sort.Strings(expected)
	require.Equal(t, expected, got)
}

func TestCoordinatorSharedMemoryWordCount(t *testing.T) {
	env := newTestEnv(t)
	env.writeFile(t, "words.txt", []string{"a b a", "c b a", ""})

	g := &model.Graph{
		Name: "wc",
		Nodes: []*model.Node{
			{Name: "split", Type: model.NodeInitial, Behavior: behavior.Split, Inputs: []string{"words.txt"}, FanOut: model.FanOutHash},
			{Name: "count0", Type: model.NodeFinal, Behavior: behavior.Count, Outputs: []string{"out/0"}},
			{Name: "count1", Type: model.NodeFinal, Behavior: behavior.Count, Outputs: []string{"out/1"}},
		},
		Edges: []*model.Edge{
			{From: "split", To: "count0", Mode: model.EdgeSharedMemory},
			{From: "split", To: "count1", Mode: model.EdgeSharedMemory},
		},
	}
	require.NoError(t, g.Validate())

	summaries := env.runGroups(t, g, [][]model.NodeName{{"split", "count0", "count1"}})
	require.Equal(t, model.OutcomeSuccess, summaries[1].Outcome, "%s", summaries[1])
	require.Len(t, summaries[1].Timings, 3)

	got := append(env.readLines(t, "out/0"), env.readLines(t, "out/1")...)
	sort.Strings(got)
	require.Equal(t, []string{"a\t3", "b\t2", "c\t1"}, got)
}

func TestCoordinatorFileEdge(t *testing.T) {
	env := newTestEnv(t)
	env.writeFile(t, "in.txt", inputLines(10))

	g := &model.Graph{
		Name: "staged",
		Nodes: []*model.Node{
			{Name: "p", Type: model.NodeInitial, Behavior: behavior.Grep, Params: map[string]string{"pattern": "line [0-4]$"}, Inputs: []string{"in.txt"}},
			{Name: "q", Type: model.NodeFinal, Behavior: behavior.Relay, Outputs: []string{"out.txt"}},
		},
		Edges: []*model.Edge{{From: "p", To: "q", Mode: model.EdgeFile}},
	}
	require.NoError(t, g.Validate())

	// the producer runs to completion before the consumer starts
	first := env.runGroups(t, g, [][]model.NodeName{{"p"}})
	require.Equal(t, model.OutcomeSuccess, first[1].Outcome)

	task := model.NewGroupTask(g, &model.NodeGroup{ID: 1, Nodes: []model.NodeName{"q"}}, 2)
	summary := env.newCoordinator(task).Execute(context.Background())
	require.Equal(t, model.OutcomeSuccess, summary.Outcome, "%s", summary)
	require.Equal(t, []string{"1\tline 1", "2\tline 2", "3\tline 3", "4\tline 4"},
		env.readLines(t, "out.txt"))
}

func TestCoordinatorNodeFailure(t *testing.T) {
	env := newTestEnv(t)
	env.writeFile(t, "in.txt", inputLines(200))

	g := &model.Graph{
		Name: "broken",
		Nodes: []*model.Node{
			{Name: "a", Type: model.NodeInitial, Behavior: behavior.Relay, Inputs: []string{"in.txt"}},
			{Name: "b", Behavior: "fail-after-2"},
			{Name: "c", Type: model.NodeFinal, Behavior: behavior.Relay, Outputs: []string{"out.txt"}},
		},
		Edges: []*model.Edge{
			{From: "a", To: "b", Mode: model.EdgeSharedMemory},
			{From: "b", To: "c", Mode: model.EdgeSharedMemory},
		},
	}
	require.NoError(t, g.Validate())

	summaries := env.runGroups(t, g, [][]model.NodeName{{"a", "b", "c"}})
	s := summaries[1]
	require.Equal(t, model.OutcomeFailure, s.Outcome)
	require.Contains(t, s.Errors, "b")
	require.Contains(t, s.Errors["b"], "injected failure")
	// c sees the failure of b instead of an end of stream
	require.Contains(t, s.Errors["c"], "injected failure")
	require.Len(t, s.Timings, 3)
	// the partial output of c is never published
	env.requireNoStream(t, "out.txt")
}

func TestCoordinatorNodePanic(t *testing.T) {
	env := newTestEnv(t)
	env.writeFile(t, "in.txt", inputLines(20))

	g := &model.Graph{
		Name: "panicky",
		Nodes: []*model.Node{
			{Name: "a", Type: model.NodeInitial, Behavior: behavior.Relay, Inputs: []string{"in.txt"}},
			{Name: "b", Behavior: "nil-map"},
			{Name: "c", Type: model.NodeFinal, Behavior: behavior.Relay, Outputs: []string{"out.txt"}},
		},
		Edges: []*model.Edge{
			{From: "a", To: "b", Mode: model.EdgeSharedMemory},
			{From: "b", To: "c", Mode: model.EdgeSharedMemory},
		},
	}
	require.NoError(t, g.Validate())

	summaries := env.runGroups(t, g, [][]model.NodeName{{"a", "b", "c"}})
	s := summaries[1]
	require.Equal(t, model.OutcomeFailure, s.Outcome, "%s", s)
	require.Regexp(t, "ErrNodeFailed", s.Errors["b"])
	require.Contains(t, s.Errors["b"], "nil map")
	require.Contains(t, s.Errors, "c")
	require.Len(t, s.Timings, 3)
	env.requireNoStream(t, "out.txt")
}

func TestCoordinatorUnknownBehavior(t *testing.T) {
	env := newTestEnv(t)
	g := &model.Graph{
		Name: "unknown",
		Nodes: []*model.Node{
			{Name: "a", Behavior: "no-such-behavior"},
			{Name: "b", Type: model.NodeFinal, Behavior: behavior.Relay, Outputs: []string{"out.txt"}},
		},
		Edges: []*model.Edge{{From: "a", To: "b", Mode: model.EdgeSharedMemory}},
	}
	task := model.NewGroupTask(g, &model.NodeGroup{ID: 0, Nodes: []model.NodeName{"a", "b"}}, 1)
	summary := env.newCoordinator(task).Execute(context.Background())
	require.Equal(t, model.OutcomeFailure, summary.Outcome)
	require.Regexp(t, "ErrBehaviorNotFound", summary.Errors["a"])
	env.requireNoStream(t, "out.txt")
}

func TestCoordinatorMissingInput(t *testing.T) {
	env := newTestEnv(t)
	g := &model.Graph{
		Name: "missing",
		Nodes: []*model.Node{
			{Name: "a", Type: model.NodeInitial, Behavior: behavior.Relay, Inputs: []string{"nowhere.txt"}},
		},
	}
	task := model.NewGroupTask(g, &model.NodeGroup{ID: 0, Nodes: []model.NodeName{"a"}}, 1)
	summary := env.newCoordinator(task).Execute(context.Background())
	require.Equal(t, model.OutcomeFailure, summary.Outcome)
	require.Regexp(t, "ErrStorageOpen", summary.Errors["a"])
}

func TestCoordinatorResolveTimeout(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.ResolveTimeout = 100 * time.Millisecond
	g := &model.Graph{
		Name: "lonely",
		Nodes: []*model.Node{
			{Name: "a", Behavior: behavior.Relay},
			{Name: "b", Behavior: behavior.Relay},
		},
		Edges: []*model.Edge{{From: "a", To: "b", Mode: model.EdgeTCP}},
	}
	// b is never started, so its endpoint is never published
	task := model.NewGroupTask(g, &model.NodeGroup{ID: 0, Nodes: []model.NodeName{"a"}}, 1)
	summary := env.newCoordinator(task).Execute(context.Background())
	require.Equal(t, model.OutcomeFailure, summary.Outcome)
	require.Regexp(t, "ErrResolveTimeout", summary.Errors["a"])
}
