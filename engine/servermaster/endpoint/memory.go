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

package endpoint

import (
	"context"
	"sync"

	"github.com/dflow-engine/dflow/engine/model"
	"github.com/dflow-engine/dflow/pkg/errors"
)

// MemoryRegistry keeps endpoints in the manager process.
type MemoryRegistry struct {
	mu        sync.RWMutex
	endpoints map[string]map[model.NodeName]string
}

// NewMemoryRegistry creates an empty MemoryRegistry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		endpoints: make(map[string]map[model.NodeName]string),
	}
}

// Publish implements Registry.
func (r *MemoryRegistry) Publish(_ context.Context, appName string, node model.NodeName, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	nodes, ok := r.endpoints[appName]
	if !ok {
		nodes = make(map[model.NodeName]string)
		r.endpoints[appName] = nodes
	}
	nodes[node] = addr
	return nil
}

// Resolve implements Registry.
func (r *MemoryRegistry) Resolve(_ context.Context, appName string, node model.NodeName) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	addr, ok := r.endpoints[appName][node]
	if !ok {
		return "", errors.ErrEndpointNotPublished.GenWithStackByArgs(node, appName)
	}
	return addr, nil
}

// RemoveApplication implements Registry.
func (r *MemoryRegistry) RemoveApplication(_ context.Context, appName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.endpoints, appName)
	return nil
}

// Close implements Registry.
func (r *MemoryRegistry) Close() error {
	return nil
}
