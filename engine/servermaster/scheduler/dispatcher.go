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

package scheduler

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/dflow-engine/dflow/engine/model"
	"github.com/dflow-engine/dflow/pkg/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// Dispatcher hands a node group to some worker of the cluster.
type Dispatcher interface {
	// Dispatch returns the worker that accepted the task, or
	// ErrNoWorkerAvailable when none did.
	Dispatch(ctx context.Context, task *model.GroupTask) (model.WorkerID, error)
}

// WorkerPool is the set of registered workers.
type WorkerPool interface {
	// Workers returns the workers currently registered.
	Workers() []*model.WorkerInfo
	// RemoveWorker drops a worker that failed to accept a task. It comes
	// back with its next heartbeat.
	RemoveWorker(id model.WorkerID)
}

// WorkerClient sends a task to the worker listening on addr.
type WorkerClient interface {
	DispatchGroup(ctx context.Context, addr string, task *model.GroupTask) error
}

// RandomDispatcher tries the registered workers in a random order until
// one accepts the task. A worker whose dispatch call fails is removed
// from the pool.
type RandomDispatcher struct {
	pool   WorkerPool
	client WorkerClient

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRandomDispatcher creates a RandomDispatcher.
func NewRandomDispatcher(pool WorkerPool, client WorkerClient) *RandomDispatcher {
	return &RandomDispatcher{
		pool:   pool,
		client: client,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// candidates returns the workers in the order they should be tried.
func (d *RandomDispatcher) candidates() []*model.WorkerInfo {
	workers := d.pool.Workers()
	// sort first so the order only depends on the random source
	sort.Slice(workers, func(i, j int) bool { return workers[i].ID < workers[j].ID })
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rnd.Shuffle(len(workers), func(i, j int) {
		workers[i], workers[j] = workers[j], workers[i]
	})
	return workers
}

// Dispatch implements Dispatcher.
func (d *RandomDispatcher) Dispatch(ctx context.Context, task *model.GroupTask) (model.WorkerID, error) {
	var lastErr error
	for _, worker := range d.candidates() {
		err := d.client.DispatchGroup(ctx, worker.Addr, task)
		if err == nil {
			return worker.ID, nil
		}
		if ctx.Err() != nil {
			return "", errors.Trace(ctx.Err())
		}
		log.Warn("dispatch node group failed, remove worker from pool",
			zap.String("worker-id", string(worker.ID)),
			zap.String("address", worker.Addr),
			zap.String("task", task.ID()),
			zap.Error(err))
		d.pool.RemoveWorker(worker.ID)
		lastErr = errors.WrapError(errors.ErrDispatchFailed, err, worker.ID)
	}
	if lastErr != nil {
		return "", errors.WrapError(errors.ErrNoWorkerAvailable, lastErr, task.ID())
	}
	return "", errors.ErrNoWorkerAvailable.GenWithStackByArgs(task.ID())
}
