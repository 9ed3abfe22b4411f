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
	"sort"
	"sync"
	"time"

	"github.com/dflow-engine/dflow/engine/model"
	"github.com/dflow-engine/dflow/engine/pkg/clock"
	"github.com/dflow-engine/dflow/pkg/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// WorkerPool holds the workers that registered to the manager. A worker
// stays in the pool as long as it heartbeats within the TTL.
type WorkerPool struct {
	mu      sync.RWMutex
	workers map[model.WorkerID]*model.WorkerInfo

	ttl     time.Duration
	clocker clock.Clock
	logger  *zap.Logger
}

// NewWorkerPool creates an empty WorkerPool.
func NewWorkerPool(ttl time.Duration, clocker clock.Clock) *WorkerPool {
	return &WorkerPool{
		workers: make(map[model.WorkerID]*model.WorkerInfo),
		ttl:     ttl,
		clocker: clocker,
		logger:  log.L(),
	}
}

// Register adds a worker, or refreshes the heartbeat of a known one.
// A worker that moved to another address is updated.
func (p *WorkerPool) Register(info *model.WorkerInfo) error {
	if info.ID == "" || info.Addr == "" {
		return errors.ErrInvalidArgument.GenWithStackByArgs("worker id and address are required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clocker.Now()
	if old, ok := p.workers[info.ID]; ok && old.Addr == info.Addr {
		old.LastSeen = now
		return nil
	}
	p.workers[info.ID] = &model.WorkerInfo{ID: info.ID, Addr: info.Addr, LastSeen: now}
	serverWorkerNumGauge.Set(float64(len(p.workers)))
	p.logger.Info("worker registered",
		zap.String("worker-id", string(info.ID)),
		zap.String("address", info.Addr))
	return nil
}

// Workers implements scheduler.WorkerPool. The returned infos are copies.
func (p *WorkerPool) Workers() []*model.WorkerInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ret := make([]*model.WorkerInfo, 0, len(p.workers))
	for _, w := range p.workers {
		info := *w
		ret = append(ret, &info)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].ID < ret[j].ID })
	return ret
}

// RemoveWorker implements scheduler.WorkerPool.
func (p *WorkerPool) RemoveWorker(id model.WorkerID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.workers[id]; !ok {
		p.logger.Info("trying to remove non-existent worker",
			zap.String("worker-id", string(id)))
		return
	}
	delete(p.workers, id)
	serverWorkerNumGauge.Set(float64(len(p.workers)))
	p.logger.Info("worker removed", zap.String("worker-id", string(id)))
}

// ExpireWorkers removes the workers whose last heartbeat is older than
// the TTL and returns their IDs.
func (p *WorkerPool) ExpireWorkers() []model.WorkerID {
	p.mu.Lock()
	defer p.mu.Unlock()

	var expired []model.WorkerID
	for id, w := range p.workers {
		if p.clocker.Since(w.LastSeen) > p.ttl {
			expired = append(expired, id)
			delete(p.workers, id)
			p.logger.Warn("worker heartbeat timed out",
				zap.String("worker-id", string(id)),
				zap.Time("last-seen", w.LastSeen))
		}
	}
	if len(expired) > 0 {
		serverWorkerNumGauge.Set(float64(len(p.workers)))
		serverWorkerExpiredCounter.Add(float64(len(expired)))
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i] < expired[j] })
	return expired
}

// Len returns the number of registered workers.
func (p *WorkerPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.workers)
}
