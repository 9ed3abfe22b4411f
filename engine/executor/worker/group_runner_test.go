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

package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/goleak"

	"github.com/dflow-engine/dflow/engine/pkg/clock"
	"github.com/dflow-engine/dflow/pkg/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type dummyGroup struct {
	id       string
	finished chan struct{}
	runs     atomic.Int32
	ctxErr   atomic.Error
	panics   bool
}

func newDummyGroup(id string) *dummyGroup {
	return &dummyGroup{id: id, finished: make(chan struct{})}
}

func (d *dummyGroup) ID() string {
	return d.id
}

func (d *dummyGroup) Run(ctx context.Context) error {
	d.runs.Inc()
	if d.panics {
		panic("dummy panic")
	}
	select {
	case <-ctx.Done():
		d.ctxErr.Store(ctx.Err())
		return ctx.Err()
	case <-d.finished:
		return nil
	}
}

func (d *dummyGroup) finish() {
	close(d.finished)
}

func startRunner(ctx context.Context, t *testing.T, r *GroupRunner) *sync.WaitGroup {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := r.Run(ctx)
		require.Error(t, err)
		require.Regexp(t, "context canceled", err.Error())
	}()
	return &wg
}

func TestGroupRunnerBasics(t *testing.T) {
	const groupNum = 100
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := NewGroupRunner(groupNum)
	wg := startRunner(ctx, t, r)

	var groups []*dummyGroup
	for i := 0; i < groupNum; i++ {
		g := newDummyGroup(fmt.Sprintf("app/%03d", i))
		groups = append(groups, g)
		require.NoError(t, r.Submit(g))
	}
	require.Eventually(t, func() bool {
		return r.RunningCount() == groupNum
	}, time.Second, 10*time.Millisecond)

	infos := r.Groups()
	require.Len(t, infos, groupNum)
	require.Equal(t, "app/000", infos[0].ID)
	require.Equal(t, "app/099", infos[groupNum-1].ID)
	require.Eventually(t, func() bool {
		for _, info := range r.Groups() {
			if info.State != "running" {
				return false
			}
		}
		return true
	}, time.Second, 10*time.Millisecond)

	for _, g := range groups {
		g.finish()
	}
	require.Eventually(t, func() bool {
		return r.RunningCount() == 0
	}, time.Second, 10*time.Millisecond)
	require.Empty(t, r.Groups())

	cancel()
	wg.Wait()
	for _, g := range groups {
		require.Equal(t, int32(1), g.runs.Load())
	}
}

func TestGroupRunnerQueueTime(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := NewGroupRunner(10)
	mockClock := clock.NewMock()
	mockClock.Set(time.Unix(100, 0))
	r.clock = mockClock

	g := newDummyGroup("app/1")
	require.NoError(t, r.Submit(g))
	mockClock.Add(3 * time.Second)

	wg := startRunner(ctx, t, r)
	require.Eventually(t, func() bool {
		return r.RunningCount() == 1
	}, time.Second, 10*time.Millisecond)
	mockClock.Add(2 * time.Second)

	infos := r.Groups()
	require.Len(t, infos, 1)
	require.Equal(t, int64(3000), infos[0].QueuedMs)
	require.Equal(t, int64(2000), infos[0].RunningMs)

	g.finish()
	cancel()
	wg.Wait()
}

func TestGroupRunnerQueueFull(t *testing.T) {
	t.Parallel()

	r := NewGroupRunner(1)
	require.NoError(t, r.Submit(newDummyGroup("app/1")))
	err := r.Submit(newDummyGroup("app/2"))
	require.True(t, errors.ErrRuntimeIncomingQueueFull.Equal(err))
}

func TestGroupRunnerDuplicateID(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := NewGroupRunner(10)
	wg := startRunner(ctx, t, r)

	first := newDummyGroup("app/1")
	require.NoError(t, r.Submit(first))
	require.Eventually(t, func() bool {
		return first.runs.Load() == 1
	}, time.Second, 10*time.Millisecond)

	// The duplicate is dropped by the runner loop, not by Submit.
	second := newDummyGroup("app/1")
	require.NoError(t, r.Submit(second))
	third := newDummyGroup("app/2")
	require.NoError(t, r.Submit(third))
	require.Eventually(t, func() bool {
		return third.runs.Load() == 1
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, int32(0), second.runs.Load())
	require.Equal(t, int64(2), r.RunningCount())

	first.finish()
	third.finish()
	require.Eventually(t, func() bool {
		return r.RunningCount() == 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	wg.Wait()
}

func TestGroupRunnerCancelOnExit(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := NewGroupRunner(10)
	wg := startRunner(ctx, t, r)

	g := newDummyGroup("app/1")
	require.NoError(t, r.Submit(g))
	require.Eventually(t, func() bool {
		return r.RunningCount() == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	wg.Wait()
	require.Equal(t, int64(0), r.RunningCount())
	require.ErrorIs(t, g.ctxErr.Load(), context.Canceled)
}

func TestGroupRunnerRecoversPanic(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := NewGroupRunner(10)
	wg := startRunner(ctx, t, r)

	bad := newDummyGroup("app/1")
	bad.panics = true
	require.NoError(t, r.Submit(bad))
	require.Eventually(t, func() bool {
		return bad.runs.Load() == 1 && r.RunningCount() == 0
	}, time.Second, 10*time.Millisecond)

	// The ID is free again once the group stopped.
	again := newDummyGroup("app/1")
	require.NoError(t, r.Submit(again))
	require.Eventually(t, func() bool {
		return again.runs.Load() == 1
	}, time.Second, 10*time.Millisecond)
	again.finish()

	cancel()
	wg.Wait()
}
