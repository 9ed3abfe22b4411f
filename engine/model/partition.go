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

type (
	// GroupID indexes a NodeGroup inside its Partition.
	GroupID int
	// BundleID indexes a Bundle inside its Partition.
	BundleID int
)

// NodeGroup is a maximal set of nodes connected by shared memory edges.
// Its members always run together in one worker process.
type NodeGroup struct {
	ID    GroupID    `json:"id"`
	Nodes []NodeName `json:"nodes"`
}

// Bundle is a maximal set of node groups connected by TCP edges.
// Its members are dispatched together.
type Bundle struct {
	ID     BundleID  `json:"id"`
	Groups []GroupID `json:"groups"`
}

// Partition owns the groups and bundles of one application and resolves
// the memberships between nodes, groups and bundles.
type Partition struct {
	Groups  []*NodeGroup
	Bundles []*Bundle

	groupOf  map[NodeName]GroupID
	bundleOf []BundleID
}

// NewPartition creates a Partition from its groups and bundles. IDs must
// be the positions in the slices.
func NewPartition(groups []*NodeGroup, bundles []*Bundle) *Partition {
	p := &Partition{
		Groups:   groups,
		Bundles:  bundles,
		groupOf:  make(map[NodeName]GroupID),
		bundleOf: make([]BundleID, len(groups)),
	}
	for _, g := range groups {
		for _, n := range g.Nodes {
			p.groupOf[n] = g.ID
		}
	}
	for _, b := range bundles {
		for _, gid := range b.Groups {
			p.bundleOf[gid] = b.ID
		}
	}
	return p
}

// GroupOf returns the group a node belongs to.
func (p *Partition) GroupOf(node NodeName) (GroupID, bool) {
	gid, ok := p.groupOf[node]
	return gid, ok
}

// BundleOf returns the bundle a group belongs to.
func (p *Partition) BundleOf(group GroupID) BundleID {
	return p.bundleOf[group]
}

// Group returns the group with the given ID.
func (p *Partition) Group(id GroupID) *NodeGroup {
	return p.Groups[id]
}

// Bundle returns the bundle with the given ID.
func (p *Partition) Bundle(id BundleID) *Bundle {
	return p.Bundles[id]
}
