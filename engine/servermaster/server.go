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

// Package servermaster implements the manager: it accepts applications,
// keeps the registered workers and drives the scheduler of every
// application from the terminations the workers report.
package servermaster

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pingcap/log"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dflow-engine/dflow/engine/pkg/client"
	"github.com/dflow-engine/dflow/engine/pkg/clock"
	"github.com/dflow-engine/dflow/engine/pkg/openapi"
	"github.com/dflow-engine/dflow/engine/pkg/promutil"
	"github.com/dflow-engine/dflow/engine/servermaster/endpoint"
	"github.com/dflow-engine/dflow/engine/servermaster/scheduler"
	"github.com/dflow-engine/dflow/pkg/errors"
	"github.com/dflow-engine/dflow/pkg/logutil"
)

const shutdownTimeout = 5 * time.Second

// Server is the manager server.
type Server struct {
	cfg     *Config
	clocker clock.Clock

	pool      *WorkerPool
	apps      *AppManager
	endpoints endpoint.Registry
	router    *gin.Engine

	mu       sync.Mutex
	listener net.Listener
	// lifetime bounds work started on behalf of a request that must
	// outlive it, such as dispatching node groups.
	lifetime context.Context
}

// NewServer creates a new manager server. cfg must have been adjusted.
func NewServer(ctx context.Context, cfg *Config) (*Server, error) {
	endpoints, err := endpoint.NewRegistry(ctx, cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	clocker := clock.New()
	s := &Server{
		cfg:       cfg,
		clocker:   clocker,
		pool:      NewWorkerPool(cfg.WorkerTTL, clocker),
		endpoints: endpoints,
		lifetime:  context.Background(),
	}
	dispatcher := scheduler.NewRandomDispatcher(s.pool, client.NewWorkerClient(cfg.DispatchTimeout))
	s.apps = NewAppManager(dispatcher, cfg.Scheduler, endpoints, clocker)

	s.router = openapi.NewRouter()
	s.router.GET("/metrics", gin.WrapH(promutil.HTTPHandlerForMetric()))
	RegisterOpenAPIRoutes(s.router, NewOpenAPI(s))
	return s, nil
}

// Handler returns the HTTP handler of the manager API.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the address the server listens on, once Run started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// lifetimeCtx returns the context of the running server. Dispatches use it
// instead of the request context, so a client hanging up does not leave
// node groups half dispatched.
func (s *Server) lifetimeCtx() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lifetime
}

// Run serves the manager API until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return errors.Trace(err)
	}
	s.mu.Lock()
	s.listener = ln
	s.lifetime = ctx
	s.mu.Unlock()
	log.Info("manager started",
		zap.String("addr", ln.Addr().String()),
		zap.String("advertise-addr", s.cfg.AdvertiseAddr))

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
		return s.tickLoop(ctx)
	})

	err = wg.Wait()
	if cerr := s.endpoints.Close(); cerr != nil {
		log.Warn("close endpoint registry failed", logutil.ShortError(cerr))
	}
	return err
}

// tickLoop expires silent workers and retries pending node groups.
func (s *Server) tickLoop(ctx context.Context) error {
	ticker := s.clocker.Ticker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.pool.ExpireWorkers()
			s.apps.Tick(ctx)
		}
	}
}
