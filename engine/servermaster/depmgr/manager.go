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

package depmgr

import (
	"sync"
)

// Manager gates dependents behind triggers. A dependent is locked while at
// least one of its triggers has not been removed, and becomes free once
// all of them are. Free dependents are handed out by ObtainFreeDependents
// exactly once.
//
// All methods are safe for concurrent use.
type Manager[T comparable, D comparable] struct {
	mu sync.Mutex

	// dependents maps a trigger to the dependents it still gates.
	dependents map[T]map[D]struct{}
	// locks is the number of distinct pending triggers of a dependent.
	locks map[D]int
	free  map[D]struct{}
}

// NewManager creates an empty Manager.
func NewManager[T comparable, D comparable]() *Manager[T, D] {
	return &Manager[T, D]{
		dependents: make(map[T]map[D]struct{}),
		locks:      make(map[D]int),
		free:       make(map[D]struct{}),
	}
}

// InsertDependency makes dependent wait for trigger. Inserting the same
// pair twice has no further effect. A dependent that was free becomes
// locked again.
func (m *Manager[T, D]) InsertDependency(trigger T, dependent D) {
	m.mu.Lock()
	defer m.mu.Unlock()

	gated, ok := m.dependents[trigger]
	if !ok {
		gated = make(map[D]struct{})
		m.dependents[trigger] = gated
	}
	if _, exists := gated[dependent]; exists {
		return
	}
	gated[dependent] = struct{}{}
	m.locks[dependent]++
	delete(m.free, dependent)
}

// InsertFree registers a dependent that waits for nothing. It has no effect
// if the dependent is currently locked.
func (m *Manager[T, D]) InsertFree(dependent D) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.locks[dependent] > 0 {
		return
	}
	m.free[dependent] = struct{}{}
}

// RemoveDependency fires trigger. Every dependent it gated loses one lock,
// and those left without locks become free. Removing an unknown trigger
// is a no-op.
func (m *Manager[T, D]) RemoveDependency(trigger T) {
	m.mu.Lock()
	defer m.mu.Unlock()

	gated, ok := m.dependents[trigger]
	if !ok {
		return
	}
	delete(m.dependents, trigger)
	for dependent := range gated {
		m.locks[dependent]--
		if m.locks[dependent] <= 0 {
			delete(m.locks, dependent)
			m.free[dependent] = struct{}{}
		}
	}
}

// HasFreeDependents reports whether ObtainFreeDependents would return
// anything.
func (m *Manager[T, D]) HasFreeDependents() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.free) > 0
}

// HasLockedDependents reports whether some dependent still waits for a
// trigger.
func (m *Manager[T, D]) HasLockedDependents() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks) > 0
}

// ObtainFreeDependents removes and returns every free dependent. The order
// of the result is unspecified.
func (m *Manager[T, D]) ObtainFreeDependents() []D {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.free) == 0 {
		return nil
	}
	ret := make([]D, 0, len(m.free))
	for dependent := range m.free {
		ret = append(ret, dependent)
	}
	m.free = make(map[D]struct{})
	return ret
}
