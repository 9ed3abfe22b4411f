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

package registry

import (
	"sync"

	"github.com/dflow-engine/dflow/engine/framework/behavior"
	"github.com/dflow-engine/dflow/pkg/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// Registry maps behavior names to their factories. Nodes name their
// behavior, and workers create it through the registry.
type Registry interface {
	MustRegisterBehavior(name string, factory behavior.Factory)
	RegisterBehavior(name string, factory behavior.Factory) (ok bool)
	CreateBehavior(name string, params map[string]string) (behavior.Behavior, error)
}

type registryImpl struct {
	mu         sync.RWMutex
	factoryMap map[string]behavior.Factory
}

var (
	globalRegistry     Registry
	globalRegistryOnce sync.Once
)

// GlobalBehaviorRegistry returns the process wide registry, with the
// built-in behaviors registered.
func GlobalBehaviorRegistry() Registry {
	globalRegistryOnce.Do(func() {
		globalRegistry = NewRegistry()
		RegisterBuiltins(globalRegistry)
	})
	return globalRegistry
}

// NewRegistry creates an empty registry.
func NewRegistry() Registry {
	return &registryImpl{
		factoryMap: make(map[string]behavior.Factory),
	}
}

// MustRegisterBehavior implements Registry.MustRegisterBehavior
func (r *registryImpl) MustRegisterBehavior(name string, factory behavior.Factory) {
	if ok := r.RegisterBehavior(name, factory); !ok {
		log.Panic("duplicate behavior", zap.String("behavior", name))
	}
	log.Debug("register behavior", zap.String("behavior", name))
}

// RegisterBehavior implements Registry.RegisterBehavior
func (r *registryImpl) RegisterBehavior(name string, factory behavior.Factory) (ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factoryMap[name]; exists {
		return false
	}
	r.factoryMap[name] = factory
	return true
}

// CreateBehavior implements Registry.CreateBehavior
func (r *registryImpl) CreateBehavior(name string, params map[string]string) (behavior.Behavior, error) {
	r.mu.RLock()
	factory, ok := r.factoryMap[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.ErrBehaviorNotFound.GenWithStackByArgs(name)
	}

	b, err := factory(params)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return b, nil
}

// RegisterBuiltins registers the behaviors shipped with the engine.
func RegisterBuiltins(r Registry) {
	r.MustRegisterBehavior(behavior.Relay, behavior.NewRelay)
	r.MustRegisterBehavior(behavior.Count, behavior.NewCount)
	r.MustRegisterBehavior(behavior.Sum, behavior.NewSum)
	r.MustRegisterBehavior(behavior.Grep, behavior.NewGrep)
	r.MustRegisterBehavior(behavior.Split, behavior.NewSplit)
}
