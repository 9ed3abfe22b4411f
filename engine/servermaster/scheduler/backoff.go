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

package scheduler

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dflow-engine/dflow/engine/pkg/clock"
)

// groupBackoff decides when a pending node group can be dispatched again,
// and when to give up on it.
//   - Each failed dispatch moves the next allowed time forward by the
//     next exponential interval.
//   - After MaxTries failures the group is terminated.
type groupBackoff struct {
	clocker clock.Clock
	config  *BackoffConfig

	errBackoff      *backoff.ExponentialBackOff
	failures        int
	lastFailure     time.Time
	backoffInterval time.Duration
}

func newGroupBackoff(clocker clock.Clock, config *BackoffConfig) *groupBackoff {
	errBackoff := backoff.NewExponentialBackOff()
	errBackoff.InitialInterval = config.InitialInterval
	errBackoff.MaxInterval = config.MaxInterval
	errBackoff.Multiplier = config.Multiplier
	// MaxElapsedTime=0 means the backoff never stops, MaxTries bounds it.
	errBackoff.MaxElapsedTime = 0
	errBackoff.Reset()

	return &groupBackoff{
		clocker:    clocker,
		config:     config,
		errBackoff: errBackoff,
	}
}

// Terminate returns whether the group failed too many times.
func (b *groupBackoff) Terminate() bool {
	return b.failures >= b.config.MaxTries
}

// Allow returns whether a new dispatch is allowed.
func (b *groupBackoff) Allow() bool {
	return b.clocker.Since(b.lastFailure) >= b.backoffInterval
}

// Fail is called when a dispatch fails.
func (b *groupBackoff) Fail() {
	b.failures++
	b.lastFailure = b.clocker.Now()
	b.backoffInterval = b.errBackoff.NextBackOff()
}

// Tries returns the number of failed dispatches.
func (b *groupBackoff) Tries() int {
	return b.failures
}
