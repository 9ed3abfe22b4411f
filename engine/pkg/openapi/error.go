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

// Package openapi holds the pieces shared by the HTTP APIs of the manager
// and the workers: the error body, its status mapping and gin middleware.
package openapi

import (
	"net/http"
	"strings"

	"github.com/dflow-engine/dflow/pkg/errors"
)

// HTTPError is the body of every failed API request.
type HTTPError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewHTTPError converts err to an HTTPError. The RFC code prefix is
// stripped from the message so that the receiver can rebuild the error.
func NewHTTPError(err error) *HTTPError {
	code := string(errors.RFCCode(err))
	msg := strings.TrimPrefix(err.Error(), "["+code+"]")
	return &HTTPError{Code: code, Message: msg}
}

// Error rebuilds the normalized error carried by the body.
func (e *HTTPError) ToError() error {
	return errors.FromRFCCode(e.Code, e.Message)
}

// HTTPStatusCode returns the status an API answers with when it fails
// with err.
func HTTPStatusCode(err error) int {
	switch errors.RFCCode(err) {
	case errors.ErrInvalidArgument.RFCCode(),
		errors.ErrInvalidGraph.RFCCode(),
		errors.ErrDuplicateOutput.RFCCode(),
		errors.ErrTemporalOrdering.RFCCode(),
		errors.ErrCyclicDependency.RFCCode(),
		errors.ErrUnreachableBundle.RFCCode():
		return http.StatusBadRequest
	case errors.ErrApplicationNotFound.RFCCode(),
		errors.ErrEndpointNotPublished.RFCCode(),
		errors.ErrUnknownGroupSerial.RFCCode():
		return http.StatusNotFound
	case errors.ErrApplicationAlreadyExists.RFCCode(),
		errors.ErrApplicationNotRunning.RFCCode(),
		errors.ErrRuntimeDuplicateTaskID.RFCCode():
		return http.StatusConflict
	case errors.ErrNoWorkerAvailable.RFCCode(),
		errors.ErrRuntimeIncomingQueueFull.RFCCode(),
		errors.ErrRuntimeIsClosed.RFCCode():
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
