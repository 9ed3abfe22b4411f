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
	"math/rand"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dflow-engine/dflow/engine/model"
	"github.com/dflow-engine/dflow/pkg/errors"
	"go.uber.org/multierr"
)

// Shuffler spreads the records of a node over its output channels.
type Shuffler interface {
	Send(ctx context.Context, rec model.Record) error
	// Close closes every output.
	Close() error
	// Abort aborts every output with err.
	Abort(err error) error
}

// NewShuffler creates the shuffler for the given fan-out policy.
// partitions only applies to hash fan-out, zero means len(outputs).
func NewShuffler(policy model.FanOut, outputs []Sender, partitions int) (Shuffler, error) {
	switch policy {
	case "", model.FanOutRandom:
		return NewRandomShuffler(outputs), nil
	case model.FanOutHash:
		return NewHashShuffler(outputs, partitions)
	default:
		return nil, errors.ErrInvalidArgument.GenWithStackByArgs(
			fmt.Sprintf("unknown fan-out %q", policy))
	}
}

func closeAll(outputs []Sender) error {
	var err error
	for _, out := range outputs {
		err = multierr.Append(err, out.Close())
	}
	return err
}

// AbortAll aborts every output with cause.
func AbortAll(outputs []Sender, cause error) error {
	var err error
	for _, out := range outputs {
		err = multierr.Append(err, out.Abort(cause))
	}
	return err
}

// RandomShuffler sends every record to an output picked uniformly at
// random among the live ones. An output whose Send fails is no longer
// live.
type RandomShuffler struct {
	outputs []Sender
	live    []int
	random  *rand.Rand
}

// NewRandomShuffler creates a RandomShuffler.
func NewRandomShuffler(outputs []Sender) *RandomShuffler {
	return newRandomShufflerWithSeed(outputs, time.Now().UnixNano())
}

func newRandomShufflerWithSeed(outputs []Sender, seed int64) *RandomShuffler {
	live := make([]int, len(outputs))
	for i := range live {
		live[i] = i
	}
	return &RandomShuffler{
		outputs: outputs,
		live:    live,
		random:  rand.New(rand.NewSource(seed)),
	}
}

// Send implements Shuffler.
func (s *RandomShuffler) Send(ctx context.Context, rec model.Record) error {
	var lastErr error
	for len(s.live) > 0 {
		pos := s.random.Intn(len(s.live))
		err := s.outputs[s.live[pos]].Send(ctx, rec)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return errors.Trace(ctx.Err())
		}
		lastErr = err
		s.live = append(s.live[:pos], s.live[pos+1:]...)
	}
	if lastErr != nil {
		return errors.WrapError(errors.ErrNoLiveOutput, lastErr)
	}
	return errors.ErrNoLiveOutput.GenWithStackByArgs()
}

// Close implements Shuffler.
func (s *RandomShuffler) Close() error {
	return closeAll(s.outputs)
}

// Abort implements Shuffler.
func (s *RandomShuffler) Abort(err error) error {
	return AbortAll(s.outputs, err)
}

// HashShuffler sends a record to output KeyIndex(key, partitions), so
// records with equal keys always meet in the same output.
type HashShuffler struct {
	outputs    []Sender
	partitions int
}

// NewHashShuffler creates a HashShuffler. partitions must not exceed the
// number of outputs, zero means len(outputs).
func NewHashShuffler(outputs []Sender, partitions int) (*HashShuffler, error) {
	if partitions == 0 {
		partitions = len(outputs)
	}
	if partitions < 0 || partitions > len(outputs) {
		return nil, errors.ErrInvalidArgument.GenWithStackByArgs(
			fmt.Sprintf("%d partitions over %d outputs", partitions, len(outputs)))
	}
	return &HashShuffler{outputs: outputs, partitions: partitions}, nil
}

// Send implements Shuffler.
func (s *HashShuffler) Send(ctx context.Context, rec model.Record) error {
	if s.partitions == 0 {
		return errors.ErrNoLiveOutput.GenWithStackByArgs()
	}
	return s.outputs[KeyIndex(rec.Key, s.partitions)].Send(ctx, rec)
}

// Close implements Shuffler.
func (s *HashShuffler) Close() error {
	return closeAll(s.outputs)
}

// Abort implements Shuffler.
func (s *HashShuffler) Abort(err error) error {
	return AbortAll(s.outputs, err)
}

// KeyIndex returns the partition of key among partitions, which must be
// positive.
func KeyIndex(key string, partitions int) int {
	return int(xxhash.Sum64String(key) % uint64(partitions))
}
