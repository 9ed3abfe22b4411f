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
	"net/http"
	"time"

	"github.com/dflow-engine/dflow/engine/model"
	"github.com/dflow-engine/dflow/pkg/errors"
	"github.com/dflow-engine/dflow/pkg/httputil"
)

// WorkerClient is the client of the worker API.
type WorkerClient struct {
	http *httputil.Client
}

// NewWorkerClient creates a WorkerClient. A zero timeout selects the
// default one.
func NewWorkerClient(timeout time.Duration) *WorkerClient {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &WorkerClient{http: httputil.NewClient(timeout)}
}

// DispatchGroup hands a node group over to the worker at addr. It returns
// once the worker accepted the task, not when the task completes.
func (c *WorkerClient) DispatchGroup(ctx context.Context, addr string, task *model.GroupTask) error {
	err := c.http.DoJSON(ctx, normalizeAddr(addr)+apiPrefix+"/groups", http.MethodPost, task, nil)
	if err == nil {
		return nil
	}
	if apiErr, ok := fromResponseError(err); ok {
		return apiErr
	}
	return errors.Trace(err)
}
