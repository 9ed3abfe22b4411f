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

// Package coordinator runs one dispatched node group on a worker.
//
// A run has three phases. Wiring gives every node a multiplexer fed by
// all of its inputs, opens the TCP listeners of the group and publishes
// their addresses. Execution runs every node in its own goroutine, reading
// from its multiplexer and writing through its fan-out shuffler. Completion
// joins the nodes and assembles the result summary, which is then handed
// to the reporter.
package coordinator

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/dflow-engine/dflow/engine/framework/registry"
	"github.com/dflow-engine/dflow/engine/model"
	"github.com/dflow-engine/dflow/engine/pkg/channel"
	"github.com/dflow-engine/dflow/engine/pkg/clock"
	"github.com/dflow-engine/dflow/engine/pkg/storage"
	"github.com/dflow-engine/dflow/pkg/errors"
	"github.com/dflow-engine/dflow/pkg/logutil"
	"go.uber.org/zap"
)

const (
	defaultResolveTimeout  = 30 * time.Second
	defaultResolveInterval = 50 * time.Millisecond
	defaultAcceptTimeout   = 60 * time.Second
)

// Config tunes the data path of a node group.
type Config struct {
	// ListenHost is the interface TCP listeners bind to.
	ListenHost string `toml:"listen-host" json:"listen-host"`
	// AdvertiseHost is the host published to remote producers.
	AdvertiseHost string `toml:"advertise-host" json:"advertise-host"`
	// MuxCapacity is the queue size of every node's multiplexer.
	MuxCapacity int `toml:"mux-capacity" json:"mux-capacity"`
	// ResolveTimeout bounds how long a producer waits for the address
	// of a TCP consumer to be published.
	ResolveTimeout time.Duration `toml:"resolve-timeout" json:"resolve-timeout"`
	// ResolveInterval is the first polling interval of address resolution.
	ResolveInterval time.Duration `toml:"resolve-interval" json:"resolve-interval"`
	// AcceptTimeout bounds how long a TCP consumer waits for its
	// producers to connect.
	AcceptTimeout time.Duration `toml:"accept-timeout" json:"accept-timeout"`
}

// DefaultConfig returns the default data path configuration.
func DefaultConfig() Config {
	return Config{
		ListenHost:      "127.0.0.1",
		AdvertiseHost:   "127.0.0.1",
		MuxCapacity:     channel.DefaultMuxCapacity,
		ResolveTimeout:  defaultResolveTimeout,
		ResolveInterval: defaultResolveInterval,
		AcceptTimeout:   defaultAcceptTimeout,
	}
}

// Adjust fills the zero fields with defaults.
func (c *Config) Adjust() {
	def := DefaultConfig()
	if c.ListenHost == "" {
		c.ListenHost = def.ListenHost
	}
	if c.AdvertiseHost == "" {
		c.AdvertiseHost = c.ListenHost
		if c.AdvertiseHost == "0.0.0.0" || c.AdvertiseHost == "::" {
			c.AdvertiseHost = def.AdvertiseHost
		}
	}
	if c.MuxCapacity <= 0 {
		c.MuxCapacity = def.MuxCapacity
	}
	if c.ResolveTimeout <= 0 {
		c.ResolveTimeout = def.ResolveTimeout
	}
	if c.ResolveInterval <= 0 {
		c.ResolveInterval = def.ResolveInterval
	}
	if c.AcceptTimeout <= 0 {
		c.AcceptTimeout = def.AcceptTimeout
	}
}

// EndpointRegistry publishes and resolves the TCP addresses of consumer
// nodes. ResolveEndpoint returns ErrEndpointNotPublished until the
// consumer has published.
type EndpointRegistry interface {
	PublishEndpoint(ctx context.Context, appName string, node model.NodeName, addr string) error
	ResolveEndpoint(ctx context.Context, appName string, node model.NodeName) (string, error)
}

// Reporter delivers the summary of a completed node group.
type Reporter interface {
	ReportResult(ctx context.Context, summary *model.ResultSummary) error
}

// Deps are the collaborators of a Coordinator.
type Deps struct {
	Behaviors registry.Registry
	Storage   storage.Storage
	Endpoints EndpointRegistry
	Reporter  Reporter
	// Clock defaults to the real clock.
	Clock clock.Clock
}

// Coordinator executes one GroupTask.
type Coordinator struct {
	workerID model.WorkerID
	task     *model.GroupTask
	cfg      Config
	deps     Deps
	logger   *zap.Logger
}

// New creates a Coordinator for task.
func New(workerID model.WorkerID, task *model.GroupTask, cfg Config, deps Deps) *Coordinator {
	cfg.Adjust()
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Behaviors == nil {
		deps.Behaviors = registry.GlobalBehaviorRegistry()
	}
	return &Coordinator{
		workerID: workerID,
		task:     task,
		cfg:      cfg,
		deps:     deps,
		logger:   logutil.NewLogger4Group(string(workerID), task.AppName, task.Serial),
	}
}

// ID returns the ID of the task being run.
func (c *Coordinator) ID() string {
	return c.task.ID()
}

// Run executes the task and reports its summary.
func (c *Coordinator) Run(ctx context.Context) error {
	summary := c.Execute(ctx)
	if err := c.deps.Reporter.ReportResult(ctx, summary); err != nil {
		c.logger.Warn("report result failed",
			zap.Stringer("summary", summary), zap.Error(err))
		return errors.Trace(err)
	}
	return nil
}

// Execute wires, runs and joins every node of the task. It never fails:
// node errors are recorded in the returned summary.
func (c *Coordinator) Execute(ctx context.Context) *model.ResultSummary {
	c.logger.Info("node group started", zap.Int("nodes", len(c.task.Nodes)))
	g := c.wire(ctx)

	type result struct {
		timing model.NodeTiming
		err    error
	}
	results := make([]result, len(g.nodes))
	var wg sync.WaitGroup
	for i, rt := range g.nodes {
		wg.Add(1)
		go func(i int, rt *nodeRuntime) {
			defer wg.Done()
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()

			watch := clock.StartStopwatch(c.deps.Clock)
			timer := startThreadTimer()
			err := c.runNode(rt, g)
			cpuMs, userMs := timer.stop()
			results[i] = result{
				timing: model.NodeTiming{
					WallMs: watch.Elapsed().Milliseconds(),
					CPUMs:  cpuMs,
					UserMs: userMs,
				},
				err: err,
			}
		}(i, rt)
	}
	wg.Wait()
	g.wait()

	summary := &model.ResultSummary{
		AppName:  c.task.AppName,
		Serial:   c.task.Serial,
		WorkerID: c.workerID,
		Outcome:  model.OutcomeSuccess,
		Timings:  make(map[model.NodeName]model.NodeTiming, len(g.nodes)),
	}
	for i, rt := range g.nodes {
		name := rt.node.Name
		summary.Timings[name] = results[i].timing
		nodeDuration.Observe(float64(results[i].timing.WallMs) / 1000)
		if err := results[i].err; err != nil {
			if summary.Errors == nil {
				summary.Errors = make(map[model.NodeName]string)
			}
			summary.Outcome = model.OutcomeFailure
			summary.Errors[name] = err.Error()
			c.logger.Warn("node failed", zap.String("node", name), zap.Error(err))
		}
	}
	groupCounter.WithLabelValues(string(summary.Outcome)).Inc()
	c.logger.Info("node group finished", zap.Stringer("summary", summary))
	return summary
}
