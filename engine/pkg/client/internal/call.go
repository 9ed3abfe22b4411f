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

package internal

import (
	"context"
	"time"

	"github.com/dflow-engine/dflow/pkg/errors"
	"github.com/dflow-engine/dflow/pkg/retry"
)

const defaultRetryDuration = 10 * time.Second

// Call represents an API call to the manager.
type Call[RespT any] struct {
	f    func(context.Context) (RespT, error)
	opts *callerOpts
}

type callerOpts struct {
	forceNoRetry  bool
	retryDuration time.Duration
}

// CallOption represents an option used to modify the
// behavior of Call.
type CallOption func(*callerOpts)

// WithForceNoRetry forbids a call from being retried.
// It is typically used if the service provides no idempotency
// guarantee at all.
func WithForceNoRetry() CallOption {
	return func(opts *callerOpts) {
		opts.forceNoRetry = true
	}
}

// WithRetryDuration bounds the time spent retrying the call.
func WithRetryDuration(d time.Duration) CallOption {
	return func(opts *callerOpts) {
		if d > 0 {
			opts.retryDuration = d
		}
	}
}

// NewCall creates a new Call.
func NewCall[RespT any](f func(context.Context) (RespT, error), ops ...CallOption) *Call[RespT] {
	opts := &callerOpts{retryDuration: defaultRetryDuration}
	for _, op := range ops {
		op(opts)
	}
	return &Call[RespT]{
		f:    f,
		opts: opts,
	}
}

// Do actually performs the Call.
func (c *Call[RespT]) Do(ctx context.Context) (RespT, error) {
	var resp RespT
	err := retry.Do(ctx, func() error {
		var err error
		resp, err = c.f(ctx)
		return err
	}, retry.WithIsRetryableErr(c.isRetryable),
		retry.WithInfiniteTries(),
		retry.WithBackoffBaseDelay(10),
		retry.WithBackoffMaxDelay(1000),
		retry.WithTotalRetryDuration(c.opts.retryDuration))
	return resp, err
}

// isRetryable only retries calls no manager endpoint answered. Errors
// returned by the manager itself are final.
func (c *Call[RespT]) isRetryable(errIn error) bool {
	if c.opts.forceNoRetry {
		return false
	}
	return errors.IsCode(errIn, errors.ErrManagerUnavailable)
}
