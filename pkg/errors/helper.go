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

package errors

import (
	stdErrors "errors"

	"github.com/pingcap/errors"
)

// Re-export the commonly used helpers so that callers only need to
// import this package.
var (
	New       = errors.New
	Errorf    = errors.Errorf
	Trace     = errors.Trace
	Annotate  = errors.Annotate
	Annotatef = errors.Annotatef
	Cause     = errors.Cause
	Is        = stdErrors.Is
	As        = stdErrors.As
)

// WrapError generates a new error based on given `*errors.Error`, wraps the err
// as cause error.
// If given `err` is nil, returns a nil error, which is a the different behavior
// against `Wrap` function in pingcap/errors.
func WrapError(rfcError *errors.Error, err error, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return rfcError.Wrap(err).GenWithStackByCause(args...)
}

// normalized is every error defined in this package, indexed by RFC code.
var normalized = map[errors.RFCErrorCode]*errors.Error{}

func init() {
	for _, e := range []*errors.Error{
		ErrUnknown, ErrInvalidArgument,
		ErrInvalidGraph, ErrDuplicateOutput, ErrTemporalOrdering,
		ErrCyclicDependency, ErrUnreachableBundle,
		ErrApplicationAlreadyExists, ErrApplicationNotFound, ErrApplicationNotRunning,
		ErrUnknownGroupSerial, ErrNoWorkerAvailable, ErrDispatchFailed,
		ErrEndpointNotPublished, ErrEndpointRegistry,
		ErrMasterDecodeConfigFile, ErrMasterConfigUnknownItem,
		ErrExecutorDecodeConfigFile, ErrExecutorConfigUnknownItem, ErrManagerUnavailable, ErrWorkerHeartbeat,
		ErrRuntimeIncomingQueueFull, ErrRuntimeIsClosed, ErrRuntimeClosed, ErrRuntimeDuplicateTaskID,
		ErrBehaviorNotFound, ErrBehaviorAlreadyExists, ErrNodeFailed, ErrResolveTimeout,
		ErrEndOfStream, ErrUnknownOrigin, ErrNoLiveOutput,
		ErrChannelHandshake, ErrChannelEncode, ErrChannelDecode,
		ErrStorageOpen, ErrStorageCreate, ErrStorageUnsupported,
	} {
		normalized[e.RFCCode()] = e
	}
}

// RFCCode returns the RFC code of the outermost normalized error of err, or
// ErrUnknown's code if err is not a normalized error.
func RFCCode(err error) errors.RFCErrorCode {
	var e *errors.Error
	if stdErrors.As(err, &e) {
		return e.RFCCode()
	}
	type causer interface {
		Cause() error
	}
	for err != nil {
		if e, ok := err.(*errors.Error); ok {
			return e.RFCCode()
		}
		c, ok := err.(causer)
		if !ok {
			break
		}
		err = c.Cause()
	}
	return ErrUnknown.RFCCode()
}

// IsCode reports whether the outermost normalized error of err is target.
// Unlike (*Error).Equal, it does not look past an error created by
// WrapError into its cause.
func IsCode(err error, target *errors.Error) bool {
	return err != nil && RFCCode(err) == target.RFCCode()
}

// FromRFCCode rebuilds an error received from a remote peer. The message is
// kept as is, and the result compares equal to the normalized error with the
// same code, if any.
func FromRFCCode(code string, message string) error {
	e, ok := normalized[errors.RFCErrorCode(code)]
	if !ok {
		e = ErrUnknown
	}
	return e.FastGen("%s", message)
}
