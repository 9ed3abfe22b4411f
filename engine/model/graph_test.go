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

package model

import (
	"encoding/json"
	"testing"

	"github.com/dflow-engine/dflow/pkg/errors"
	"github.com/stretchr/testify/require"
)

func newTestGraph() *Graph {
	return &Graph{
		Name: "app",
		Nodes: []*Node{
			{Name: "a", Type: NodeInitial, Behavior: "relay", Inputs: []string{"in/a"}},
			{Name: "b", Type: NodeFinal, Behavior: "relay", Outputs: []string{"out/b"}},
			{Name: "c", Type: NodeFinal, Behavior: "relay", Outputs: []string{"out/c"}},
		},
		Edges: []*Edge{
			{From: "a", To: "b", Mode: EdgeTCP},
			{From: "a", To: "c", Mode: EdgeFile},
		},
	}
}

func TestGraphValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, newTestGraph().Validate())

	testCases := []struct {
		mutate func(g *Graph)
		err    string
	}{
		{func(g *Graph) { g.Name = "" }, ".*ErrInvalidGraph.*name is empty.*"},
		{func(g *Graph) { g.Name = "a/b" }, ".*ErrInvalidGraph.*"},
		{func(g *Graph) { g.Nodes = nil }, ".*ErrInvalidGraph.*no node.*"},
		{func(g *Graph) { g.Nodes[1].Name = "a" }, ".*duplicate node name a.*"},
		{func(g *Graph) { g.Nodes[0].FanOut = "broadcast" }, ".*unknown fan-out.*"},
		{func(g *Graph) { g.Edges[0].To = "z" }, ".*unknown target.*"},
		{func(g *Graph) { g.Edges[0].From = "z" }, ".*unknown source.*"},
		{func(g *Graph) { g.Edges[0].To = "a" }, ".*self loop.*"},
		{func(g *Graph) { g.Nodes[2].Outputs = []string{"out/b"} }, ".*ErrDuplicateOutput.*out/b.*"},
		{func(g *Graph) { g.Nodes[2].Outputs = []string{"app/a-c"} }, ".*ErrDuplicateOutput.*app/a-c.*"},
		{func(g *Graph) {
			g.Edges = append(g.Edges, &Edge{From: "a", To: "c", Mode: EdgeFile})
		}, ".*ErrDuplicateOutput.*"},
		{func(g *Graph) {
			g.Edges = append(g.Edges, &Edge{From: "a", To: "b", Mode: EdgeTCP})
		}, ".*duplicate edge a -\\(tcp\\)-> b.*"},
	}
	for _, tc := range testCases {
		g := newTestGraph()
		tc.mutate(g)
		err := g.Validate()
		require.Error(t, err)
		require.Regexp(t, tc.err, err.Error())
	}
}

func TestGraphJSONRoundTrip(t *testing.T) {
	t.Parallel()

	data := `{
		"name": "wc",
		"nodes": [
			{"name": "m", "type": "initial", "behavior": "split", "fan-out": "hash", "inputs": ["in.txt"]},
			{"name": "r", "type": "FINAL", "behavior": "count", "outputs": ["out.txt"]}
		],
		"edges": [{"from": "m", "to": "r", "mode": "file"}]
	}`
	var g Graph
	require.NoError(t, json.Unmarshal([]byte(data), &g))
	require.NoError(t, g.Validate())
	require.Equal(t, NodeInitial, g.Nodes[0].Type)
	require.Equal(t, NodeFinal, g.Nodes[1].Type)
	require.Equal(t, FanOutHash, g.Nodes[0].FanOut)
	require.Equal(t, EdgeFile, g.Edges[0].Mode)
	require.Equal(t, "wc/m-r", g.Edges[0].FilePath(g.Name))

	var bad Graph
	err := json.Unmarshal([]byte(`{"edges": [{"mode": "pigeon"}]}`), &bad)
	require.Error(t, err)
}

func TestNewGroupTask(t *testing.T) {
	t.Parallel()

	g := newTestGraph()
	task := NewGroupTask(g, &NodeGroup{ID: 0, Nodes: []NodeName{"b"}}, 7)
	require.Equal(t, "app/7", task.ID())
	require.Len(t, task.Nodes, 1)
	require.True(t, task.Contains("b"))
	require.False(t, task.Contains("a"))
	require.Len(t, task.Edges, 1)
	require.Equal(t, "a", task.Edges[0].From)
}

func TestResultSummaryValidate(t *testing.T) {
	t.Parallel()

	s := &ResultSummary{AppName: "app", Serial: 1, Outcome: OutcomeSuccess}
	require.NoError(t, s.Validate())
	s.Outcome = "MAYBE"
	require.True(t, errors.ErrInvalidArgument.Equal(s.Validate()))
	s.AppName = ""
	require.Error(t, s.Validate())
}
