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

package util

import (
	"github.com/pingcap/errors"
)

type color int

const (
	white color = iota // not visited
	grey               // on the current DFS path
	black              // fully explored
)

// CycleError is returned by DAGWalker.Walk when the graph is not acyclic.
type CycleError[V comparable] struct {
	// Cycle lists the vertices of the cycle, the first vertex is
	// repeated at the end.
	Cycle []V
}

func (e *CycleError[V]) Error() string {
	return "cycle detected"
}

// DAGWalker walks a directed graph depth first and calls onVertex for
// each vertex once all of its successors have been visited.
// NOTE: We use a struct instead of a function to provide better extensibility
// for the future in case we want to implement more complicated graph algorithms.
type DAGWalker[V comparable] struct {
	successors func(V) []V
	onVertex   func(V) error

	colors map[V]color
	path   []V
}

// NewDAGWalker creates a new DAGWalker. onVertex may be nil.
func NewDAGWalker[V comparable](successors func(V) []V, onVertex func(V) error) *DAGWalker[V] {
	return &DAGWalker[V]{
		successors: successors,
		onVertex:   onVertex,
	}
}

// Walk visits every vertex reachable from roots. It fails with a
// *CycleError if a cycle is reachable.
func (w *DAGWalker[V]) Walk(roots []V) error {
	w.colors = make(map[V]color)
	w.path = w.path[:0]
	for _, root := range roots {
		if w.colors[root] != white {
			continue
		}
		if err := w.doWalk(root); err != nil {
			return err
		}
	}
	return nil
}

func (w *DAGWalker[V]) doWalk(v V) error {
	w.colors[v] = grey
	w.path = append(w.path, v)
	for _, next := range w.successors(v) {
		switch w.colors[next] {
		case grey:
			return &CycleError[V]{Cycle: w.cycleFrom(next)}
		case white:
			if err := w.doWalk(next); err != nil {
				return err
			}
		}
	}
	w.path = w.path[:len(w.path)-1]
	w.colors[v] = black
	if w.onVertex != nil {
		if err := w.onVertex(v); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (w *DAGWalker[V]) cycleFrom(v V) []V {
	for i := len(w.path) - 1; i >= 0; i-- {
		if w.path[i] == v {
			cycle := append([]V(nil), w.path[i:]...)
			return append(cycle, v)
		}
	}
	return []V{v, v}
}
