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

// Package endpoint keeps the TCP addresses published by consumer nodes
// until the producers of their applications resolve them.
package endpoint

import (
	"context"
	"strings"
	"time"

	"github.com/dflow-engine/dflow/engine/model"
	"github.com/dflow-engine/dflow/pkg/errors"
)

// Backend names
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Registry stores published endpoints. Implementations are safe for
// concurrent use.
type Registry interface {
	// Publish records the address of a node. A second publish of the same
	// node overwrites the first one.
	Publish(ctx context.Context, appName string, node model.NodeName, addr string) error
	// Resolve returns the address of a node, or ErrEndpointNotPublished.
	Resolve(ctx context.Context, appName string, node model.NodeName) (string, error)
	// RemoveApplication forgets every endpoint of an application.
	RemoveApplication(ctx context.Context, appName string) error
	// Close releases the resources held by the registry.
	Close() error
}

// RedisConfig is the connection configuration of the Redis backend.
type RedisConfig struct {
	Addr     string `toml:"addr" json:"addr"`
	Password string `toml:"password" json:"password"`
	DB       int    `toml:"db" json:"db"`
	// KeyPrefix namespaces the keys of one cluster.
	KeyPrefix string `toml:"key-prefix" json:"key-prefix"`
	// TTL expires the endpoints of an application left behind by a
	// crashed manager. Zero disables expiration.
	TTL time.Duration `toml:"ttl" json:"ttl"`
}

// Config selects and configures the registry backend.
type Config struct {
	Backend string      `toml:"backend" json:"backend"`
	Redis   RedisConfig `toml:"redis" json:"redis"`
}

// DefaultConfig returns the in-memory configuration.
func DefaultConfig() Config {
	return Config{
		Backend: BackendMemory,
		Redis: RedisConfig{
			Addr:      "127.0.0.1:6379",
			KeyPrefix: "dflow",
			TTL:       24 * time.Hour,
		},
	}
}

// Adjust validates the configuration.
func (c *Config) Adjust() error {
	c.Backend = strings.ToLower(c.Backend)
	switch c.Backend {
	case "":
		c.Backend = BackendMemory
	case BackendMemory:
	case BackendRedis:
		if c.Redis.Addr == "" {
			return errors.ErrInvalidArgument.GenWithStackByArgs("endpoint redis addr is empty")
		}
		if c.Redis.KeyPrefix == "" {
			c.Redis.KeyPrefix = DefaultConfig().Redis.KeyPrefix
		}
	default:
		return errors.ErrInvalidArgument.GenWithStackByArgs("unknown endpoint backend " + c.Backend)
	}
	return nil
}

// NewRegistry creates the registry selected by cfg.
func NewRegistry(ctx context.Context, cfg Config) (Registry, error) {
	if err := cfg.Adjust(); err != nil {
		return nil, err
	}
	if cfg.Backend == BackendRedis {
		return NewRedisRegistry(ctx, cfg.Redis)
	}
	return NewMemoryRegistry(), nil
}
