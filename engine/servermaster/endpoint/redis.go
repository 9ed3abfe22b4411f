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

package endpoint

import (
	"context"
	"time"

	"github.com/dflow-engine/dflow/engine/model"
	"github.com/dflow-engine/dflow/pkg/errors"
	"github.com/pingcap/log"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisPingTimeout = 5 * time.Second

// RedisRegistry shares endpoints through Redis, so that every manager of
// a cluster resolves the same addresses. The endpoints of an application
// are the fields of one hash.
type RedisRegistry struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisRegistry connects to Redis and creates a RedisRegistry.
func NewRedisRegistry(ctx context.Context, cfg RedisConfig) (*RedisRegistry, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.WrapError(errors.ErrEndpointRegistry, err)
	}
	log.Info("endpoint registry connected to redis", zap.String("addr", cfg.Addr))
	return NewRedisRegistryFromClient(client, cfg.KeyPrefix, cfg.TTL), nil
}

// NewRedisRegistryFromClient creates a registry from an existing client.
func NewRedisRegistryFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisRegistry {
	return &RedisRegistry{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisRegistry) appKey(appName string) string {
	return r.prefix + ":endpoints:" + appName
}

// Publish implements Registry.
func (r *RedisRegistry) Publish(ctx context.Context, appName string, node model.NodeName, addr string) error {
	key := r.appKey(appName)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, node, addr)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.WrapError(errors.ErrEndpointRegistry, err)
	}
	return nil
}

// Resolve implements Registry.
func (r *RedisRegistry) Resolve(ctx context.Context, appName string, node model.NodeName) (string, error) {
	addr, err := r.client.HGet(ctx, r.appKey(appName), node).Result()
	if err != nil {
		if err == redis.Nil {
			return "", errors.ErrEndpointNotPublished.GenWithStackByArgs(node, appName)
		}
		return "", errors.WrapError(errors.ErrEndpointRegistry, err)
	}
	return addr, nil
}

// RemoveApplication implements Registry.
func (r *RedisRegistry) RemoveApplication(ctx context.Context, appName string) error {
	if err := r.client.Del(ctx, r.appKey(appName)).Err(); err != nil {
		return errors.WrapError(errors.ErrEndpointRegistry, err)
	}
	return nil
}

// Close implements Registry.
func (r *RedisRegistry) Close() error {
	return errors.Trace(r.client.Close())
}
