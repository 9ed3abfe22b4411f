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

package retry

import (
	"context"
	"math"

	"github.com/cenkalti/backoff/v4"
	"github.com/pingcap/errors"
)

// Operation is the action need to retry
type Operation func() error

// Do executes operation until it succeeds, returns an error the options
// consider fatal, exhausts its tries or its total duration, or ctx is done.
func Do(ctx context.Context, operation Operation, opts ...Option) error {
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}
	o := setOptions(opts...)

	var (
		tries int
		fatal bool
	)
	err := backoff.Retry(func() error {
		tries++
		err := operation()
		if err != nil && !o.isRetryable(err) {
			fatal = true
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(newBackOff(o), ctx))

	switch {
	case err == nil || fatal:
		return err
	case ctx.Err() != nil:
		return errors.Trace(ctx.Err())
	case float64(tries) >= o.maxTries:
		return errors.Annotatef(err, "reach maximum try: %v", o.maxTries)
	default:
		return errors.Annotatef(err, "reach maximum retry time: %v", o.totalRetryDuration)
	}
}

func setOptions(opts ...Option) *retryOptions {
	retryOption := newRetryOptions()
	for _, opt := range opts {
		opt(retryOption)
	}
	return retryOption
}

// newBackOff builds a jittered exponential policy that allows at most
// maxTries calls.
func newBackOff(o *retryOptions) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = o.backoffBase
	exp.MaxInterval = o.backoffCap
	exp.Multiplier = 2
	exp.RandomizationFactor = 0.5
	// Zero never stops on elapsed time.
	exp.MaxElapsedTime = o.totalRetryDuration
	exp.Reset()
	if math.IsInf(o.maxTries, 1) {
		return exp
	}
	return backoff.WithMaxRetries(exp, uint64(o.maxTries)-1)
}
