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

package depmgr

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestReferenceCounting(t *testing.T) {
	t.Parallel()

	m := NewManager[string, int]()
	m.InsertDependency("t1", 1)
	m.InsertDependency("t2", 1)
	// duplicated pair is counted once
	m.InsertDependency("t1", 1)
	require.True(t, m.HasLockedDependents())
	require.False(t, m.HasFreeDependents())

	m.RemoveDependency("t1")
	require.True(t, m.HasLockedDependents())
	require.False(t, m.HasFreeDependents())

	m.RemoveDependency("t2")
	require.False(t, m.HasLockedDependents())
	require.True(t, m.HasFreeDependents())
	require.Equal(t, []int{1}, m.ObtainFreeDependents())

	// removing again does nothing
	m.RemoveDependency("t2")
	require.False(t, m.HasFreeDependents())
}

func TestObtainIsDestructive(t *testing.T) {
	t.Parallel()

	m := NewManager[string, int]()
	m.InsertFree(1)
	m.InsertFree(2)
	m.InsertFree(2)
	require.ElementsMatch(t, []int{1, 2}, m.ObtainFreeDependents())
	require.Empty(t, m.ObtainFreeDependents())
	require.False(t, m.HasFreeDependents())
}

func TestInsertFreeOnLockedDependent(t *testing.T) {
	t.Parallel()

	m := NewManager[string, int]()
	m.InsertDependency("t", 1)
	m.InsertFree(1)
	require.False(t, m.HasFreeDependents())

	m.RemoveDependency("t")
	require.Equal(t, []int{1}, m.ObtainFreeDependents())
}

func TestLockingAFreeDependent(t *testing.T) {
	t.Parallel()

	m := NewManager[string, int]()
	m.InsertFree(1)
	m.InsertDependency("t", 1)
	require.False(t, m.HasFreeDependents())
	require.True(t, m.HasLockedDependents())

	m.RemoveDependency("t")
	require.Equal(t, []int{1}, m.ObtainFreeDependents())
}

func TestTriggerGatesSeveralDependents(t *testing.T) {
	t.Parallel()

	m := NewManager[string, int]()
	m.InsertDependency("t", 1)
	m.InsertDependency("t", 2)
	m.InsertDependency("u", 2)

	m.RemoveDependency("t")
	require.Equal(t, []int{1}, m.ObtainFreeDependents())
	require.True(t, m.HasLockedDependents())

	m.RemoveDependency("u")
	require.Equal(t, []int{2}, m.ObtainFreeDependents())
	require.False(t, m.HasLockedDependents())
}

func TestConcurrentRemoval(t *testing.T) {
	t.Parallel()

	const triggers = 64
	m := NewManager[int, string]()
	for i := 0; i < triggers; i++ {
		m.InsertDependency(i, "sink")
	}

	var wg sync.WaitGroup
	for i := 0; i < triggers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.RemoveDependency(i)
		}(i)
	}
	wg.Wait()

	require.False(t, m.HasLockedDependents())
	require.Equal(t, []string{"sink"}, m.ObtainFreeDependents())
}
