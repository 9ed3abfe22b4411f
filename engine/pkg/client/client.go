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

// Package client provides the HTTP clients of the manager and worker APIs.
package client

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/dflow-engine/dflow/engine/pkg/openapi"
	"github.com/dflow-engine/dflow/pkg/errors"
	"github.com/dflow-engine/dflow/pkg/httputil"
)

const defaultRequestTimeout = 5 * time.Second

// apiPrefix is the path prefix of every engine API.
const apiPrefix = "/api/v1"

// normalizeAddr turns a host:port address into a base URL.
func normalizeAddr(addr string) string {
	addr = strings.TrimRight(addr, "/")
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return addr
}

// fromResponseError converts a failed request into the error the remote
// API answered with. ok is false if the peer did not answer at all, or
// answered with a server error not produced by the API, in which case
// the request may be sent to another peer.
func fromResponseError(err error) (apiErr error, ok bool) {
	var statusErr *httputil.StatusError
	if !errors.As(err, &statusErr) {
		return nil, false
	}
	var body openapi.HTTPError
	if jsonErr := json.Unmarshal(statusErr.Body, &body); jsonErr == nil && body.Code != "" {
		return body.ToError(), true
	}
	if statusErr.StatusCode >= http.StatusInternalServerError {
		return nil, false
	}
	return errors.Trace(statusErr), true
}
