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
	"fmt"
	"time"

	"github.com/dflow-engine/dflow/pkg/errors"
)

// DispatchPolicy decides what happens to a node group no worker accepts.
type DispatchPolicy string

// All dispatch policies
const (
	// PolicyAbort fails the application at once.
	PolicyAbort DispatchPolicy = "abort"
	// PolicyRetry keeps the group pending and dispatches it again with
	// exponential backoff, until the tries are exhausted.
	PolicyRetry DispatchPolicy = "retry"
)

const (
	defaultBackoffInitInterval = 500 * time.Millisecond
	defaultBackoffMaxInterval  = 10 * time.Second
	defaultBackoffMultiplier   = 2.0
	defaultBackoffMaxTries     = 8
)

// BackoffConfig is used to configure the dispatch backoff of a group
type BackoffConfig struct {
	InitialInterval time.Duration `toml:"initial-interval" json:"initial-interval"`
	MaxInterval     time.Duration `toml:"max-interval" json:"max-interval"`
	Multiplier      float64       `toml:"multiplier" json:"multiplier"`
	MaxTries        int           `toml:"max-tries" json:"max-tries"`
}

// Config is the scheduling configuration of the manager.
type Config struct {
	DispatchPolicy DispatchPolicy `toml:"dispatch-policy" json:"dispatch-policy"`
	Backoff        BackoffConfig  `toml:"backoff" json:"backoff"`
}

// NewDefaultConfig creates a default scheduling config
func NewDefaultConfig() *Config {
	return &Config{
		DispatchPolicy: PolicyRetry,
		Backoff: BackoffConfig{
			InitialInterval: defaultBackoffInitInterval,
			MaxInterval:     defaultBackoffMaxInterval,
			Multiplier:      defaultBackoffMultiplier,
			MaxTries:        defaultBackoffMaxTries,
		},
	}
}

// Adjust validates the config and fills the zero fields with defaults.
func (c *Config) Adjust() error {
	def := NewDefaultConfig()
	switch c.DispatchPolicy {
	case "":
		c.DispatchPolicy = def.DispatchPolicy
	case PolicyAbort, PolicyRetry:
	default:
		return errors.ErrInvalidArgument.GenWithStackByArgs(
			fmt.Sprintf("unknown dispatch-policy %q", c.DispatchPolicy))
	}
	if c.Backoff.InitialInterval <= 0 {
		c.Backoff.InitialInterval = def.Backoff.InitialInterval
	}
	if c.Backoff.MaxInterval <= 0 {
		c.Backoff.MaxInterval = def.Backoff.MaxInterval
	}
	if c.Backoff.Multiplier < 1 {
		c.Backoff.Multiplier = def.Backoff.Multiplier
	}
	if c.Backoff.MaxTries <= 0 {
		c.Backoff.MaxTries = def.Backoff.MaxTries
	}
	return nil
}
