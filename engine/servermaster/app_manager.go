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

package servermaster

import (
	"context"
	"sort"
	"sync"

	"github.com/dflow-engine/dflow/engine/model"
	"github.com/dflow-engine/dflow/engine/pkg/clock"
	"github.com/dflow-engine/dflow/engine/servermaster/endpoint"
	"github.com/dflow-engine/dflow/engine/servermaster/scheduler"
	"github.com/dflow-engine/dflow/pkg/errors"
	"github.com/dflow-engine/dflow/pkg/logutil"
	"go.uber.org/zap"
)

type appEntry struct {
	sched *scheduler.Scheduler
	// released is set once the endpoints of a terminated application
	// have been removed from the registry.
	released bool
}

// AppManager holds the scheduler of every application submitted to the
// manager.
type AppManager struct {
	mu   sync.RWMutex
	apps map[string]*appEntry

	dispatcher scheduler.Dispatcher
	cfg        *scheduler.Config
	endpoints  endpoint.Registry
	clocker    clock.Clock
}

// NewAppManager creates an AppManager.
func NewAppManager(
	dispatcher scheduler.Dispatcher,
	cfg *scheduler.Config,
	endpoints endpoint.Registry,
	clocker clock.Clock,
) *AppManager {
	return &AppManager{
		apps:       make(map[string]*appEntry),
		dispatcher: dispatcher,
		cfg:        cfg,
		endpoints:  endpoints,
		clocker:    clocker,
	}
}

// Submit registers an application and dispatches its first bundles. A
// graph that can not be scheduled is rejected before anything is
// dispatched.
func (m *AppManager) Submit(ctx context.Context, graph *model.Graph) (*scheduler.Status, error) {
	if err := graph.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if _, ok := m.apps[graph.Name]; ok {
		m.mu.Unlock()
		return nil, errors.ErrApplicationAlreadyExists.GenWithStackByArgs(graph.Name)
	}
	sched := scheduler.New(graph, m.dispatcher, m.cfg, m.clocker)
	if err := sched.Setup(); err != nil {
		m.mu.Unlock()
		logutil.NewLogger4App(graph.Name).Warn("application rejected", zap.Error(err))
		return nil, err
	}
	entry := &appEntry{sched: sched}
	m.apps[graph.Name] = entry
	m.mu.Unlock()

	sched.ScheduleReadyUnits(ctx)
	m.afterProgress(ctx, graph.Name, entry)
	return sched.Status(), nil
}

func (m *AppManager) get(appName string) (*appEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.apps[appName]
	if !ok {
		return nil, errors.ErrApplicationNotFound.GenWithStackByArgs(appName)
	}
	return entry, nil
}

// Query returns the status of an application.
func (m *AppManager) Query(appName string) (*scheduler.Status, error) {
	entry, err := m.get(appName)
	if err != nil {
		return nil, err
	}
	return entry.sched.Status(), nil
}

// List returns the status of every application, ordered by name.
func (m *AppManager) List() []*scheduler.Status {
	m.mu.RLock()
	ret := make([]*scheduler.Status, 0, len(m.apps))
	for _, entry := range m.apps {
		ret = append(ret, entry.sched.Status())
	}
	m.mu.RUnlock()
	sort.Slice(ret, func(i, j int) bool { return ret[i].Name < ret[j].Name })
	return ret
}

// HandleTermination hands the summary of a node group over to the
// scheduler of its application.
func (m *AppManager) HandleTermination(ctx context.Context, summary *model.ResultSummary) error {
	if err := summary.Validate(); err != nil {
		return err
	}
	entry, err := m.get(summary.AppName)
	if err != nil {
		return err
	}
	if err := entry.sched.HandleTermination(ctx, summary); err != nil {
		return err
	}
	serverTerminationCounter.WithLabelValues(string(summary.Outcome)).Inc()
	m.afterProgress(ctx, summary.AppName, entry)
	return nil
}

// PublishEndpoint records the TCP address of a node of a running
// application.
func (m *AppManager) PublishEndpoint(
	ctx context.Context, appName string, node model.NodeName, addr string,
) error {
	if addr == "" {
		return errors.ErrInvalidArgument.GenWithStackByArgs("endpoint address is empty")
	}
	entry, err := m.get(appName)
	if err != nil {
		return err
	}
	if entry.sched.State().Terminal() {
		return errors.ErrApplicationNotRunning.GenWithStackByArgs(appName)
	}
	return m.endpoints.Publish(ctx, appName, node, addr)
}

// ResolveEndpoint returns the TCP address of a node, or
// ErrEndpointNotPublished.
func (m *AppManager) ResolveEndpoint(
	ctx context.Context, appName string, node model.NodeName,
) (string, error) {
	if _, err := m.get(appName); err != nil {
		return "", err
	}
	return m.endpoints.Resolve(ctx, appName, node)
}

// Tick retries the pending node groups of every running application.
func (m *AppManager) Tick(ctx context.Context) {
	m.mu.RLock()
	names := make([]string, 0, len(m.apps))
	entries := make([]*appEntry, 0, len(m.apps))
	for name, entry := range m.apps {
		names = append(names, name)
		entries = append(entries, entry)
	}
	m.mu.RUnlock()

	for i, entry := range entries {
		if !entry.sched.State().Terminal() {
			entry.sched.RetryPending(ctx)
		}
		m.afterProgress(ctx, names[i], entry)
	}
	m.updateMetrics()
}

// afterProgress releases the endpoints of an application once it
// terminated.
func (m *AppManager) afterProgress(ctx context.Context, appName string, entry *appEntry) {
	if !entry.sched.State().Terminal() {
		return
	}
	m.mu.Lock()
	released := entry.released
	entry.released = true
	m.mu.Unlock()
	if released {
		return
	}

	logger := logutil.NewLogger4App(appName)
	if err := m.endpoints.RemoveApplication(ctx, appName); err != nil {
		logger.Warn("release endpoints failed", logutil.ShortError(err))
	}
	if err := entry.sched.Err(); err != nil {
		logger.Warn("application terminated with error", zap.Error(err))
	} else {
		logger.Info("application terminated")
	}
	m.updateMetrics()
}

func (m *AppManager) updateMetrics() {
	counts := make(map[scheduler.State]int)
	m.mu.RLock()
	for _, entry := range m.apps {
		counts[entry.sched.State()]++
	}
	m.mu.RUnlock()
	for _, st := range []scheduler.State{
		scheduler.StateRunning, scheduler.StateFinished, scheduler.StateFailed,
	} {
		serverAppNumGauge.WithLabelValues(st.String()).Set(float64(counts[st]))
	}
}
