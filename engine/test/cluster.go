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

// Package test runs a manager and its workers in one process.
package test

import (
	"context"
	"fmt"
	"sync"

	"github.com/phayes/freeport"
	"github.com/pingcap/log"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/dflow-engine/dflow/engine/executor"
	"github.com/dflow-engine/dflow/engine/servermaster"
	"github.com/dflow-engine/dflow/pkg/errors"
)

// ClusterConfig describes an in-process cluster.
type ClusterConfig struct {
	WorkerNum int
	// DataDir is the local storage shared by every worker.
	DataDir string
	// AdjustMaster and AdjustWorker, when set, modify the default
	// configurations before they are adjusted.
	AdjustMaster func(cfg *servermaster.Config)
	AdjustWorker func(i int, cfg *executor.Config)
}

// Cluster is a running manager with its workers.
type Cluster struct {
	ManagerAddr string
	Manager     *servermaster.Server
	Workers     []*executor.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	errs   error
}

// StartCluster starts a manager and cfg.WorkerNum workers on free local
// ports. Workers register in background.
func StartCluster(ctx context.Context, cfg ClusterConfig) (*Cluster, error) {
	ports, err := freeport.GetFreePorts(cfg.WorkerNum + 1)
	if err != nil {
		return nil, errors.Trace(err)
	}

	masterCfg := servermaster.GetDefaultMasterConfig()
	masterCfg.Addr = fmt.Sprintf("127.0.0.1:%d", ports[0])
	if cfg.AdjustMaster != nil {
		cfg.AdjustMaster(masterCfg)
	}
	if err := masterCfg.Adjust(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	c := &Cluster{ManagerAddr: masterCfg.AdvertiseAddr, cancel: cancel}
	c.Manager, err = servermaster.NewServer(ctx, masterCfg)
	if err != nil {
		cancel()
		return nil, err
	}

	for i := 0; i < cfg.WorkerNum; i++ {
		workerCfg := executor.GetDefaultExecutorConfig()
		workerCfg.Name = fmt.Sprintf("worker-%d", i)
		workerCfg.Join = c.ManagerAddr
		workerCfg.Addr = fmt.Sprintf("127.0.0.1:%d", ports[i+1])
		workerCfg.Storage.Local.BaseDir = cfg.DataDir
		if cfg.AdjustWorker != nil {
			cfg.AdjustWorker(i, workerCfg)
		}
		if err := workerCfg.Adjust(); err != nil {
			cancel()
			return nil, err
		}
		w, err := executor.NewServer(ctx, workerCfg)
		if err != nil {
			cancel()
			return nil, err
		}
		c.Workers = append(c.Workers, w)
	}

	c.run(ctx, "manager", c.Manager.Run)
	for i, w := range c.Workers {
		c.run(ctx, fmt.Sprintf("worker-%d", i), w.Run)
	}
	return c, nil
}

func (c *Cluster) run(ctx context.Context, name string, fn func(context.Context) error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := fn(ctx); err != nil {
			log.Warn("cluster member exits with error", zap.String("member", name), zap.Error(err))
			c.mu.Lock()
			c.errs = multierr.Append(c.errs, err)
			c.mu.Unlock()
		}
	}()
}

// Stop stops every member and returns the errors they exited with.
func (c *Cluster) Stop() error {
	c.cancel()
	c.wg.Wait()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errs
}
