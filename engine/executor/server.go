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

// Package executor implements the worker: it registers to the manager,
// keeps a heartbeat and runs the node groups dispatched to it.
package executor

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pingcap/log"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/dflow-engine/dflow/engine/executor/coordinator"
	"github.com/dflow-engine/dflow/engine/executor/worker"
	"github.com/dflow-engine/dflow/engine/model"
	"github.com/dflow-engine/dflow/engine/pkg/client"
	"github.com/dflow-engine/dflow/engine/pkg/clock"
	"github.com/dflow-engine/dflow/engine/pkg/openapi"
	"github.com/dflow-engine/dflow/engine/pkg/promutil"
	"github.com/dflow-engine/dflow/engine/pkg/storage"
	"github.com/dflow-engine/dflow/pkg/errors"
	"github.com/dflow-engine/dflow/pkg/logutil"
	"github.com/dflow-engine/dflow/pkg/retry"
)

const shutdownTimeout = 5 * time.Second

// Server is the worker server.
type Server struct {
	cfg     *Config
	clocker clock.Clock

	managerClient client.ManagerClient
	storage       storage.Storage
	groupRunner   *worker.GroupRunner
	router        *gin.Engine

	mu                sync.Mutex
	info              *model.WorkerInfo
	listener          net.Listener
	lastHeartbeatTime time.Time
}

// NewServer creates a new worker server. cfg must have been adjusted.
func NewServer(ctx context.Context, cfg *Config) (*Server, error) {
	managerClient, err := client.NewManagerClient(cfg.JoinAddrs(),
		client.WithRequestTimeout(cfg.RequestTimeout),
		client.WithRetryDuration(cfg.HeartbeatTTL))
	if err != nil {
		return nil, err
	}
	store, err := storage.New(ctx, &cfg.Storage)
	if err != nil {
		return nil, err
	}

	id := cfg.Name
	if id == "" {
		id = uuid.New().String()
	}
	s := &Server{
		cfg:           cfg,
		clocker:       clock.New(),
		managerClient: managerClient,
		storage:       store,
		groupRunner:   worker.NewGroupRunner(cfg.QueueSize),
		info: &model.WorkerInfo{
			ID:   model.WorkerID(id),
			Addr: cfg.AdvertiseAddr,
		},
	}

	s.router = openapi.NewRouter()
	s.router.GET("/metrics", gin.WrapH(promutil.HTTPHandlerForMetric()))
	RegisterOpenAPIRoutes(s.router, NewOpenAPI(s))
	return s, nil
}

// Info returns a copy of the worker info.
func (s *Server) Info() model.WorkerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.info
}

// Handler returns the HTTP handler of the worker API.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) addGroup(task *model.GroupTask) error {
	info := s.Info()
	c := coordinator.New(info.ID, task, s.cfg.Coordinator, coordinator.Deps{
		Storage:   s.storage,
		Endpoints: s.managerClient,
		Reporter:  s.managerClient,
	})
	if err := s.groupRunner.Submit(c); err != nil {
		log.Warn("reject node group",
			zap.String("app-name", task.AppName),
			zap.Int64("serial", task.Serial),
			zap.Error(err))
		return err
	}
	executorAcceptedCounter.WithLabelValues(string(info.ID)).Inc()
	return nil
}

// Run serves the worker API, registers to the manager and keeps the
// heartbeat until ctx is canceled or the heartbeat expires.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return errors.Trace(err)
	}
	s.mu.Lock()
	s.listener = ln
	if _, port, err := net.SplitHostPort(s.info.Addr); err == nil && port == "0" {
		s.info.Addr = ln.Addr().String()
	}
	s.mu.Unlock()
	log.Info("worker started",
		zap.String("id", string(s.info.ID)),
		zap.String("addr", ln.Addr().String()),
		zap.String("advertise-addr", s.Info().Addr))

	wg, ctx := errgroup.WithContext(ctx)
	httpSrv := &http.Server{Handler: s.router}

	wg.Go(func() error {
		err := httpSrv.Serve(ln)
		if err != nil && err != http.ErrServerClosed {
			log.Error("http server returned", logutil.ShortError(err))
			return errors.Trace(err)
		}
		return nil
	})

	wg.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Trace(httpSrv.Shutdown(sctx))
	})

	wg.Go(func() error {
		err := s.groupRunner.Run(ctx)
		if errors.Cause(err) == context.Canceled {
			return nil
		}
		return err
	})

	wg.Go(func() error {
		if err := s.selfRegister(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		err := s.keepHeartbeat(ctx)
		log.Info("heartbeat quits", zap.Error(err))
		return err
	})

	return wg.Wait()
}

func (s *Server) selfRegister(ctx context.Context) error {
	info := s.Info()
	err := retry.Do(ctx, func() error {
		return s.managerClient.RegisterWorker(ctx, &info)
	},
		retry.WithBackoffBaseDelay(200 /* 200 ms */),
		retry.WithBackoffMaxDelay(3000 /* 3 seconds */),
		retry.WithMaxTries(15),
		retry.WithIsRetryableErr(func(err error) bool {
			if errors.IsCode(err, errors.ErrManagerUnavailable) {
				log.Info("manager is not available, retry later")
				return true
			}
			return false
		}),
	)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.lastHeartbeatTime = s.clocker.Now()
	s.mu.Unlock()
	log.Info("register successful", zap.Any("info", info))
	return nil
}

// keepHeartbeat refreshes the registration of the worker periodically.
// It fails once no heartbeat succeeded for the heartbeat TTL.
func (s *Server) keepHeartbeat(ctx context.Context) error {
	ticker := s.clocker.Ticker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	info := s.Info()
	gauge := executorHeartbeatGauge.WithLabelValues(string(info.ID))
	rl := rate.NewLimiter(rate.Every(time.Second*5), 1 /*burst*/)
	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-ticker.C:
			if err := s.heartbeatOnce(ctx, &info, t); err != nil {
				gauge.Set(0)
				if ctx.Err() != nil {
					return nil
				}
				log.Warn("heartbeat failed", logutil.ShortError(err))
				if s.heartbeatExpired(s.clocker.Now()) {
					return errors.WrapError(errors.ErrWorkerHeartbeat, err)
				}
				continue
			}
			gauge.Set(1)
			if rl.Allow() {
				log.Info("heartbeat success", zap.String("id", string(info.ID)))
			}
		}
	}
}

func (s *Server) heartbeatOnce(ctx context.Context, info *model.WorkerInfo, t time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.HeartbeatTTL)
	defer cancel()
	if err := s.managerClient.RegisterWorker(ctx, info); err != nil {
		return err
	}
	// The tick time is earlier than the time the manager records, so the
	// worker never believes it is alive longer than the manager does.
	s.mu.Lock()
	s.lastHeartbeatTime = t
	s.mu.Unlock()
	return nil
}

func (s *Server) heartbeatExpired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeartbeatTime.Add(s.cfg.HeartbeatTTL).Before(now)
}
