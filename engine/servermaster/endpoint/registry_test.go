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
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/dflow-engine/dflow/pkg/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// testRegistry exercises the contract every backend must satisfy.
func testRegistry(t *testing.T, r Registry, appName string) {
	ctx := context.Background()

	_, err := r.Resolve(ctx, appName, "b")
	require.True(t, errors.ErrEndpointNotPublished.Equal(err), "%v", err)

	require.NoError(t, r.Publish(ctx, appName, "b", "127.0.0.1:4000"))
	require.NoError(t, r.Publish(ctx, appName, "c", "127.0.0.1:4001"))
	addr, err := r.Resolve(ctx, appName, "b")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:4000", addr)

	// a retried group publishes again
	require.NoError(t, r.Publish(ctx, appName, "b", "127.0.0.1:5000"))
	addr, err = r.Resolve(ctx, appName, "b")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:5000", addr)

	_, err = r.Resolve(ctx, appName+"-other", "b")
	require.True(t, errors.ErrEndpointNotPublished.Equal(err))

	require.NoError(t, r.RemoveApplication(ctx, appName))
	_, err = r.Resolve(ctx, appName, "c")
	require.True(t, errors.ErrEndpointNotPublished.Equal(err))

	require.NoError(t, r.Close())
}

func TestMemoryRegistry(t *testing.T) {
	t.Parallel()

	r, err := NewRegistry(context.Background(), Config{})
	require.NoError(t, err)
	require.IsType(t, &MemoryRegistry{}, r)
	testRegistry(t, r, "wc")
}

// TestRedisRegistry runs against the server named by DFLOW_TEST_REDIS_ADDR.
func TestRedisRegistry(t *testing.T) {
	addr := os.Getenv("DFLOW_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("DFLOW_TEST_REDIS_ADDR is not set")
	}

	cfg := DefaultConfig()
	cfg.Backend = BackendRedis
	cfg.Redis.Addr = addr
	cfg.Redis.TTL = time.Minute
	r, err := NewRegistry(context.Background(), cfg)
	require.NoError(t, err)
	testRegistry(t, r, fmt.Sprintf("wc-%s", uuid.NewString()))
}

func TestConfigAdjust(t *testing.T) {
	t.Parallel()

	cfg := Config{Backend: "Redis"}
	require.True(t, errors.ErrInvalidArgument.Equal(cfg.Adjust()))

	cfg = DefaultConfig()
	cfg.Backend = "etcd"
	require.True(t, errors.ErrInvalidArgument.Equal(cfg.Adjust()))

	cfg = DefaultConfig()
	cfg.Backend = "REDIS"
	cfg.Redis.KeyPrefix = ""
	require.NoError(t, cfg.Adjust())
	require.Equal(t, BackendRedis, cfg.Backend)
	require.Equal(t, "dflow", cfg.Redis.KeyPrefix)

	_, err := NewRegistry(context.Background(), Config{Backend: "etcd"})
	require.Error(t, err)
}
