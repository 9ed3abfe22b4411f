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

package channel

import (
	"context"
	"fmt"
	"testing"

	"github.com/dflow-engine/dflow/engine/model"
	"github.com/dflow-engine/dflow/pkg/errors"
	"github.com/stretchr/testify/require"
)

type mockSender struct {
	records []model.Record
	fail    bool
	closed  bool
	aborted error
}

func (s *mockSender) Send(_ context.Context, rec model.Record) error {
	if s.fail {
		return errors.New("broken pipe")
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *mockSender) Close() error {
	s.closed = true
	return nil
}

func (s *mockSender) Abort(err error) error {
	s.aborted = err
	return nil
}

func newMockSenders(n int) ([]*mockSender, []Sender) {
	mocks := make([]*mockSender, n)
	senders := make([]Sender, n)
	for i := range mocks {
		mocks[i] = &mockSender{}
		senders[i] = mocks[i]
	}
	return mocks, senders
}

func TestKeyIndexDeterministicAndFullRange(t *testing.T) {
	t.Parallel()

	for _, partitions := range []int{1, 3, 8} {
		seen := make(map[int]struct{})
		for i := 0; i < 1000; i++ {
			key := fmt.Sprintf("key-%d", i)
			idx := KeyIndex(key, partitions)
			require.Equal(t, idx, KeyIndex(key, partitions))
			require.GreaterOrEqual(t, idx, 0)
			require.Less(t, idx, partitions)
			seen[idx] = struct{}{}
		}
		require.Len(t, seen, partitions)
	}
}

func TestHashShuffler(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mocks, senders := newMockSenders(3)
	s, err := NewShuffler(model.FanOutHash, senders, 0)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		require.NoError(t, s.Send(ctx, model.Record{Key: fmt.Sprintf("k%d", i%10)}))
	}
	// Every key lands in exactly one output.
	owner := make(map[string]int)
	for i, m := range mocks {
		for _, rec := range m.records {
			if prev, ok := owner[rec.Key]; ok {
				require.Equal(t, prev, i)
			}
			owner[rec.Key] = i
			require.Equal(t, KeyIndex(rec.Key, 3), i)
		}
	}
	require.Len(t, owner, 10)

	require.NoError(t, s.Close())
	for _, m := range mocks {
		require.True(t, m.closed)
	}

	failed := errors.New("node failed")
	require.NoError(t, s.Abort(failed))
	for _, m := range mocks {
		require.Equal(t, failed, m.aborted)
	}

	_, err = NewHashShuffler(senders, 4)
	require.True(t, errors.ErrInvalidArgument.Equal(err))
}

func TestRandomShufflerSkipsDeadOutputs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mocks, senders := newMockSenders(3)
	mocks[1].fail = true
	s := newRandomShufflerWithSeed(senders, 42)
	for i := 0; i < 300; i++ {
		require.NoError(t, s.Send(ctx, model.Record{Key: "k"}))
	}
	require.Empty(t, mocks[1].records)
	require.Equal(t, 300, len(mocks[0].records)+len(mocks[2].records))
	require.NotEmpty(t, mocks[0].records)
	require.NotEmpty(t, mocks[2].records)

	mocks[0].fail = true
	mocks[2].fail = true
	err := s.Send(ctx, model.Record{Key: "k"})
	require.True(t, errors.IsCode(err, errors.ErrNoLiveOutput), "%v", err)

	_, err = NewShuffler("broadcast", senders, 0)
	require.Error(t, err)
}
