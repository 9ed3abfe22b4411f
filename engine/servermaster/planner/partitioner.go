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

// Package planner turns an application graph into the co-location units
// the scheduler works with.
//
// Nodes joined by shared memory edges must share a process, so they form
// a node group. Groups joined by TCP edges must run at the same time, so
// they form a bundle. File edges order bundles: the producer's bundle has
// to finish before the consumer's bundle starts, which is impossible when
// both ends are in one bundle or when bundles wait on each other in a
// cycle.
package planner

import (
	stdErrors "errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dflow-engine/dflow/engine/model"
	"github.com/dflow-engine/dflow/engine/servermaster/planner/util"
	"github.com/dflow-engine/dflow/pkg/errors"
)

// Partition computes the node groups and bundles of the graph. The graph
// must have been validated.
func Partition(g *model.Graph) (*model.Partition, error) {
	nodeIndex := make(map[model.NodeName]int, len(g.Nodes))
	for i, n := range g.Nodes {
		nodeIndex[n.Name] = i
	}

	// Step 1: node groups are the components of the shared memory subgraph.
	nodeSets := util.NewUnionFind(len(g.Nodes))
	for _, e := range g.EdgesOf(model.EdgeSharedMemory) {
		nodeSets.Union(nodeIndex[e.From], nodeIndex[e.To])
	}
	var groups []*model.NodeGroup
	groupOfNode := make([]model.GroupID, len(g.Nodes))
	for _, members := range nodeSets.Components() {
		group := &model.NodeGroup{ID: model.GroupID(len(groups))}
		for _, idx := range members {
			group.Nodes = append(group.Nodes, g.Nodes[idx].Name)
			groupOfNode[idx] = group.ID
		}
		groups = append(groups, group)
	}

	// Step 2: bundles are the components of the TCP subgraph over groups.
	groupSets := util.NewUnionFind(len(groups))
	for _, e := range g.EdgesOf(model.EdgeTCP) {
		groupSets.Union(
			int(groupOfNode[nodeIndex[e.From]]),
			int(groupOfNode[nodeIndex[e.To]]))
	}
	var bundles []*model.Bundle
	for _, members := range groupSets.Components() {
		bundle := &model.Bundle{ID: model.BundleID(len(bundles))}
		for _, gid := range members {
			bundle.Groups = append(bundle.Groups, model.GroupID(gid))
		}
		bundles = append(bundles, bundle)
	}

	p := model.NewPartition(groups, bundles)

	// Step 3: file edges must order distinct bundles without cycles.
	successors := make(map[model.BundleID][]model.BundleID)
	for _, e := range g.EdgesOf(model.EdgeFile) {
		from := p.BundleOf(groupOfNode[nodeIndex[e.From]])
		to := p.BundleOf(groupOfNode[nodeIndex[e.To]])
		if from == to {
			return nil, errors.ErrTemporalOrdering.GenWithStackByArgs(e.From, e.To)
		}
		successors[from] = appendUnique(successors[from], to)
	}

	roots := make([]model.BundleID, 0, len(bundles))
	for _, b := range bundles {
		roots = append(roots, b.ID)
	}
	walker := util.NewDAGWalker(func(b model.BundleID) []model.BundleID {
		return successors[b]
	}, nil)
	if err := walker.Walk(roots); err != nil {
		var cycleErr *util.CycleError[model.BundleID]
		if stdErrors.As(err, &cycleErr) {
			return nil, errors.ErrCyclicDependency.GenWithStackByArgs(
				describeCycle(p, cycleErr.Cycle))
		}
		return nil, errors.Trace(err)
	}
	return p, nil
}

func appendUnique(list []model.BundleID, id model.BundleID) []model.BundleID {
	for _, existing := range list {
		if existing == id {
			return list
		}
	}
	return append(list, id)
}

func describeCycle(p *model.Partition, cycle []model.BundleID) string {
	parts := make([]string, 0, len(cycle))
	for _, bid := range cycle {
		var nodes []string
		for _, gid := range p.Bundle(bid).Groups {
			nodes = append(nodes, p.Group(gid).Nodes...)
		}
		sort.Strings(nodes)
		parts = append(parts, fmt.Sprintf("bundle-%d{%s}", bid, strings.Join(nodes, ",")))
	}
	return strings.Join(parts, " -> ")
}
