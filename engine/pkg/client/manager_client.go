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

package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/dflow-engine/dflow/engine/model"
	"github.com/dflow-engine/dflow/engine/pkg/client/internal"
	"github.com/dflow-engine/dflow/engine/pkg/openapi"
	"github.com/dflow-engine/dflow/engine/servermaster/scheduler"
	"github.com/dflow-engine/dflow/pkg/errors"
	"github.com/dflow-engine/dflow/pkg/httputil"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// ManagerClient is the client of the manager API. Requests are sent to
// the manager endpoints in turn until one of them answers.
type ManagerClient interface {
	// SubmitApplication registers an application.
	SubmitApplication(ctx context.Context, graph *model.Graph) error
	// QueryApplication returns the status of an application.
	QueryApplication(ctx context.Context, appName string) (*scheduler.Status, error)
	// ReportResult delivers the summary of a completed node group.
	ReportResult(ctx context.Context, summary *model.ResultSummary) error
	// PublishEndpoint publishes the TCP address of a consumer node.
	PublishEndpoint(ctx context.Context, appName string, node model.NodeName, addr string) error
	// ResolveEndpoint returns the address of a consumer node, or
	// ErrEndpointNotPublished.
	ResolveEndpoint(ctx context.Context, appName string, node model.NodeName) (string, error)
	// RegisterWorker registers a worker, or refreshes its heartbeat.
	RegisterWorker(ctx context.Context, info *model.WorkerInfo) error
	// ListWorkers returns the workers alive on the manager.
	ListWorkers(ctx context.Context) ([]*model.WorkerInfo, error)
}

// ManagerClientOption configures a ManagerClient.
type ManagerClientOption func(*managerClientImpl)

// WithRequestTimeout bounds a single request to one endpoint.
func WithRequestTimeout(d time.Duration) ManagerClientOption {
	return func(c *managerClientImpl) {
		c.http = httputil.NewClient(d)
	}
}

// WithRetryDuration bounds the time spent retrying a request when no
// endpoint answers.
func WithRetryDuration(d time.Duration) ManagerClientOption {
	return func(c *managerClientImpl) {
		c.callOpts = append(c.callOpts, internal.WithRetryDuration(d))
	}
}

type managerClientImpl struct {
	http     *httputil.Client
	addrs    []string
	callOpts []internal.CallOption

	mu sync.Mutex
	// preferred is the index of the endpoint that answered last.
	preferred int
}

// NewManagerClient creates a client of the managers at addrs.
func NewManagerClient(addrs []string, opts ...ManagerClientOption) (ManagerClient, error) {
	if len(addrs) == 0 {
		return nil, errors.ErrInvalidArgument.GenWithStackByArgs("no manager address")
	}
	c := &managerClientImpl{
		http: httputil.NewClient(defaultRequestTimeout),
	}
	for _, addr := range addrs {
		c.addrs = append(c.addrs, normalizeAddr(addr))
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *managerClientImpl) SubmitApplication(ctx context.Context, graph *model.Graph) error {
	// submitting twice fails with ErrApplicationAlreadyExists, so a lost
	// answer is not retried
	return c.call(ctx, http.MethodPost, apiPrefix+"/applications", graph, nil,
		internal.WithForceNoRetry())
}

func (c *managerClientImpl) QueryApplication(ctx context.Context, appName string) (*scheduler.Status, error) {
	status := &scheduler.Status{}
	path := fmt.Sprintf("%s/applications/%s", apiPrefix, url.PathEscape(appName))
	if err := c.call(ctx, http.MethodGet, path, nil, status); err != nil {
		return nil, err
	}
	return status, nil
}

func (c *managerClientImpl) ReportResult(ctx context.Context, summary *model.ResultSummary) error {
	path := fmt.Sprintf("%s/applications/%s/terminations", apiPrefix, url.PathEscape(summary.AppName))
	return c.call(ctx, http.MethodPost, path, summary, nil)
}

func (c *managerClientImpl) PublishEndpoint(
	ctx context.Context, appName string, node model.NodeName, addr string,
) error {
	return c.call(ctx, http.MethodPut, endpointPath(appName, node),
		&openapi.EndpointInfo{Address: addr}, nil)
}

func (c *managerClientImpl) ResolveEndpoint(
	ctx context.Context, appName string, node model.NodeName,
) (string, error) {
	var info openapi.EndpointInfo
	if err := c.call(ctx, http.MethodGet, endpointPath(appName, node), nil, &info); err != nil {
		return "", err
	}
	return info.Address, nil
}

func (c *managerClientImpl) RegisterWorker(ctx context.Context, info *model.WorkerInfo) error {
	return c.call(ctx, http.MethodPost, apiPrefix+"/workers", info, nil)
}

func (c *managerClientImpl) ListWorkers(ctx context.Context) ([]*model.WorkerInfo, error) {
	var workers []*model.WorkerInfo
	if err := c.call(ctx, http.MethodGet, apiPrefix+"/workers", nil, &workers); err != nil {
		return nil, err
	}
	return workers, nil
}

func endpointPath(appName string, node model.NodeName) string {
	return fmt.Sprintf("%s/applications/%s/endpoints/%s",
		apiPrefix, url.PathEscape(appName), url.PathEscape(node))
}

func (c *managerClientImpl) call(
	ctx context.Context, method, path string, in, out interface{}, opts ...internal.CallOption,
) error {
	opts = append(append([]internal.CallOption(nil), c.callOpts...), opts...)
	_, err := internal.NewCall(func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.tryEndpoints(ctx, method, path, in, out)
	}, opts...).Do(ctx)
	return err
}

// tryEndpoints sends the request to every endpoint, starting from the
// preferred one, until one of them answers.
func (c *managerClientImpl) tryEndpoints(
	ctx context.Context, method, path string, in, out interface{},
) error {
	c.mu.Lock()
	start := c.preferred
	c.mu.Unlock()

	var lastErr error
	for i := range c.addrs {
		idx := (start + i) % len(c.addrs)
		err := c.http.DoJSON(ctx, c.addrs[idx]+path, method, in, out)
		if err == nil {
			c.prefer(idx)
			return nil
		}
		if apiErr, ok := fromResponseError(err); ok {
			c.prefer(idx)
			return apiErr
		}
		if ctx.Err() != nil {
			return errors.Trace(ctx.Err())
		}
		log.Debug("manager endpoint unavailable",
			zap.String("address", c.addrs[idx]),
			zap.String("path", path),
			zap.Error(err))
		lastErr = err
	}
	return errors.WrapError(errors.ErrManagerUnavailable, lastErr)
}

func (c *managerClientImpl) prefer(idx int) {
	c.mu.Lock()
	c.preferred = idx
	c.mu.Unlock()
}
