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
	"fmt"
	"path"
	"strings"

	"github.com/dflow-engine/dflow/pkg/errors"
)

// NodeType tags a node by the role it plays in the application.
type NodeType int32

// All node types
const (
	NodeCommon NodeType = iota
	// NodeInitial nodes are fed by external inputs and start the application.
	NodeInitial
	// NodeFinal nodes write the externally consumed outputs.
	NodeFinal
)

var nodeTypeNames = map[NodeType]string{
	NodeCommon:  "common",
	NodeInitial: "initial",
	NodeFinal:   "final",
}

func (t NodeType) String() string {
	if name, ok := nodeTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("NodeType(%d)", int32(t))
}

// MarshalText implements encoding.TextMarshaler.
func (t NodeType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *NodeType) UnmarshalText(text []byte) error {
	for tp, name := range nodeTypeNames {
		if strings.EqualFold(name, string(text)) {
			*t = tp
			return nil
		}
	}
	return errors.ErrInvalidGraph.GenWithStackByArgs(fmt.Sprintf("unknown node type %q", text))
}

// EdgeMode is the communication mode of an edge.
type EdgeMode int32

// All edge modes
const (
	// EdgeSharedMemory requires both ends to run together in one process.
	EdgeSharedMemory EdgeMode = iota
	// EdgeTCP requires both ends to run at the same time, possibly on
	// different workers.
	EdgeTCP
	// EdgeFile requires the producer to finish before the consumer starts.
	EdgeFile
)

var edgeModeNames = map[EdgeMode]string{
	EdgeSharedMemory: "shm",
	EdgeTCP:          "tcp",
	EdgeFile:         "file",
}

func (m EdgeMode) String() string {
	if name, ok := edgeModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("EdgeMode(%d)", int32(m))
}

// MarshalText implements encoding.TextMarshaler.
func (m EdgeMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *EdgeMode) UnmarshalText(text []byte) error {
	for mode, name := range edgeModeNames {
		if strings.EqualFold(name, string(text)) {
			*m = mode
			return nil
		}
	}
	return errors.ErrInvalidGraph.GenWithStackByArgs(fmt.Sprintf("unknown edge mode %q", text))
}

// FanOut selects how a node spreads its records over its outputs.
type FanOut string

// All fan-out policies
const (
	// FanOutRandom picks a live output uniformly at random.
	FanOutRandom FanOut = "random"
	// FanOutHash picks hash(key) mod partitions, so equal keys meet
	// in the same downstream partition.
	FanOutHash FanOut = "hash"
)

// NodeName is the identity of a node, unique within one application.
type NodeName = string

// Node is a unit of computation.
type Node struct {
	Name     NodeName          `json:"name"`
	Type     NodeType          `json:"type"`
	Behavior string            `json:"behavior"`
	Params   map[string]string `json:"params,omitempty"`

	FanOut FanOut `json:"fan-out,omitempty"`
	// Partitions is the modulus of hash fan-out. Zero means the number
	// of outputs of the node.
	Partitions int `json:"partitions,omitempty"`

	// Inputs are external locations read by the node.
	Inputs []string `json:"inputs,omitempty"`
	// Outputs are external locations written by the node.
	Outputs []string `json:"outputs,omitempty"`
}

// Edge is a directed channel between two nodes.
type Edge struct {
	From NodeName `json:"from"`
	To   NodeName `json:"to"`
	Mode EdgeMode `json:"mode"`
}

// FilePath returns the storage location backing a file edge.
func (e *Edge) FilePath(appName string) string {
	return path.Join(appName, fmt.Sprintf("%s-%s", e.From, e.To))
}

func (e *Edge) String() string {
	return fmt.Sprintf("%s -(%s)-> %s", e.From, e.Mode, e.To)
}

// Graph is an application: a directed multigraph of nodes.
type Graph struct {
	Name  string  `json:"name"`
	Nodes []*Node `json:"nodes"`
	Edges []*Edge `json:"edges"`
}

// Node returns the node with the given name.
func (g *Graph) Node(name NodeName) (*Node, bool) {
	for _, n := range g.Nodes {
		if n.Name == name {
			return n, true
		}
	}
	return nil, false
}

// Validate checks the graph is well formed. Partitioning related checks
// are done by the planner.
func (g *Graph) Validate() error {
	if g.Name == "" {
		return errors.ErrInvalidGraph.GenWithStackByArgs("application name is empty")
	}
	if strings.ContainsAny(g.Name, "/ ") {
		return errors.ErrInvalidGraph.GenWithStackByArgs(
			fmt.Sprintf("application name %q contains '/' or space", g.Name))
	}
	if len(g.Nodes) == 0 {
		return errors.ErrInvalidGraph.GenWithStackByArgs("application has no node")
	}

	nodes := make(map[NodeName]*Node, len(g.Nodes))
	for _, n := range g.Nodes {
		if n == nil || n.Name == "" {
			return errors.ErrInvalidGraph.GenWithStackByArgs("node name is empty")
		}
		if _, ok := nodes[n.Name]; ok {
			return errors.ErrInvalidGraph.GenWithStackByArgs(
				fmt.Sprintf("duplicate node name %s", n.Name))
		}
		switch n.FanOut {
		case "", FanOutRandom, FanOutHash:
		default:
			return errors.ErrInvalidGraph.GenWithStackByArgs(
				fmt.Sprintf("node %s has unknown fan-out %q", n.Name, n.FanOut))
		}
		if n.Partitions < 0 {
			return errors.ErrInvalidGraph.GenWithStackByArgs(
				fmt.Sprintf("node %s has negative partitions", n.Name))
		}
		nodes[n.Name] = n
	}

	// Output locations share one namespace.
	owners := make(map[string]NodeName)
	claim := func(location string, owner NodeName) error {
		if prev, ok := owners[location]; ok {
			return errors.ErrDuplicateOutput.GenWithStackByArgs(location, prev, owner)
		}
		owners[location] = owner
		return nil
	}
	for _, n := range g.Nodes {
		for _, out := range n.Outputs {
			if err := claim(out, n.Name); err != nil {
				return err
			}
		}
	}

	edges := make(map[Edge]struct{}, len(g.Edges))
	for _, e := range g.Edges {
		if e == nil {
			return errors.ErrInvalidGraph.GenWithStackByArgs("nil edge")
		}
		if _, ok := nodes[e.From]; !ok {
			return errors.ErrInvalidGraph.GenWithStackByArgs(
				fmt.Sprintf("edge %s has unknown source", e))
		}
		if _, ok := nodes[e.To]; !ok {
			return errors.ErrInvalidGraph.GenWithStackByArgs(
				fmt.Sprintf("edge %s has unknown target", e))
		}
		if e.From == e.To {
			return errors.ErrInvalidGraph.GenWithStackByArgs(
				fmt.Sprintf("edge %s is a self loop", e))
		}
		if _, ok := edgeModeNames[e.Mode]; !ok {
			return errors.ErrInvalidGraph.GenWithStackByArgs(
				fmt.Sprintf("edge %s has unknown mode", e))
		}
		if e.Mode == EdgeFile {
			if err := claim(e.FilePath(g.Name), e.From); err != nil {
				return err
			}
		}
		key := *e
		if _, ok := edges[key]; ok {
			return errors.ErrInvalidGraph.GenWithStackByArgs(
				fmt.Sprintf("duplicate edge %s", e))
		}
		edges[key] = struct{}{}
	}
	return nil
}

// InitialNodes returns the nodes marked initial, in declaration order.
func (g *Graph) InitialNodes() []*Node {
	var ret []*Node
	for _, n := range g.Nodes {
		if n.Type == NodeInitial {
			ret = append(ret, n)
		}
	}
	return ret
}

// EdgesOf returns the edges with the given mode, in declaration order.
func (g *Graph) EdgesOf(mode EdgeMode) []*Edge {
	var ret []*Edge
	for _, e := range g.Edges {
		if e.Mode == mode {
			ret = append(ret, e)
		}
	}
	return ret
}
