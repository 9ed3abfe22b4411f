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
	"strings"

	"github.com/dflow-engine/dflow/pkg/errors"
)

// Serial is the execution identifier of a dispatched node group. A fresh
// serial is assigned on every dispatch.
type Serial = int64

// GroupTask is everything a worker needs to run one node group.
type GroupTask struct {
	AppName string  `json:"app-name"`
	Serial  Serial  `json:"serial"`
	Nodes   []*Node `json:"nodes"`
	// Edges holds every edge that has at least one end in Nodes.
	Edges []*Edge `json:"edges"`
}

// NewGroupTask builds the task of a group of the graph.
func NewGroupTask(g *Graph, group *NodeGroup, serial Serial) *GroupTask {
	members := make(map[NodeName]struct{}, len(group.Nodes))
	for _, n := range group.Nodes {
		members[n] = struct{}{}
	}
	task := &GroupTask{
		AppName: g.Name,
		Serial:  serial,
	}
	for _, n := range g.Nodes {
		if _, ok := members[n.Name]; ok {
			task.Nodes = append(task.Nodes, n)
		}
	}
	for _, e := range g.Edges {
		_, fromIn := members[e.From]
		_, toIn := members[e.To]
		if fromIn || toIn {
			task.Edges = append(task.Edges, e)
		}
	}
	return task
}

// Contains reports whether the node is a member of the task.
func (t *GroupTask) Contains(name NodeName) bool {
	for _, n := range t.Nodes {
		if n.Name == name {
			return true
		}
	}
	return false
}

// ID returns a printable identity of the task.
func (t *GroupTask) ID() string {
	return fmt.Sprintf("%s/%d", t.AppName, t.Serial)
}

// Outcome is the result of running one node group.
type Outcome string

// All outcomes
const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
)

// NodeTiming is the time spent by one node, in milliseconds.
type NodeTiming struct {
	WallMs int64 `json:"wall-ms"`
	CPUMs  int64 `json:"cpu-ms"`
	UserMs int64 `json:"user-ms"`
}

// ResultSummary is produced once per completed node group.
type ResultSummary struct {
	AppName  string                  `json:"app-name"`
	Serial   Serial                  `json:"serial"`
	WorkerID WorkerID                `json:"worker-id"`
	Outcome  Outcome                 `json:"outcome"`
	Timings  map[NodeName]NodeTiming `json:"timings"`
	// Errors holds the failure reason of every failed node.
	Errors map[NodeName]string `json:"errors,omitempty"`
}

// Validate checks the summary can be handled by the manager.
func (s *ResultSummary) Validate() error {
	if s.AppName == "" {
		return errors.ErrInvalidArgument.GenWithStackByArgs("app-name is empty")
	}
	switch s.Outcome {
	case OutcomeSuccess, OutcomeFailure:
	default:
		return errors.ErrInvalidArgument.GenWithStackByArgs(
			fmt.Sprintf("unknown outcome %q", s.Outcome))
	}
	return nil
}

func (s *ResultSummary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s/%d %s", s.AppName, s.Serial, s.Outcome)
	for node, reason := range s.Errors {
		fmt.Fprintf(&b, " [%s: %s]", node, reason)
	}
	return b.String()
}

// Record is the element flowing through channels. Its content is opaque
// to the engine.
type Record struct {
	Key   string `json:"key" msgpack:"k"`
	Value []byte `json:"value" msgpack:"v"`
}
