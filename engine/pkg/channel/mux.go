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

// Package channel implements the data path between nodes: the fan-in
// multiplexer every node reads from, the senders feeding it from shared
// memory, TCP or file streams, and the fan-out shufflers nodes write to.
package channel

import (
	"context"
	"sync"

	"github.com/dflow-engine/dflow/pkg/errors"
)

// DefaultMuxCapacity is the queue size of a multiplexer when none is given.
const DefaultMuxCapacity = 32

// Mux merges the elements written by a fixed set of named origins into one
// bounded FIFO queue. Writers block while the queue is full. The stream
// ends once every origin is closed and the queue is drained.
type Mux[T any] struct {
	mu      sync.Mutex
	origins map[string]struct{}
	err     error

	queue chan T
	// done is closed when no origin is left or one of them aborted.
	done     chan struct{}
	doneOnce sync.Once
}

// NewMux creates a multiplexer fed by the given origins. A capacity not
// greater than zero means DefaultMuxCapacity.
func NewMux[T any](capacity int, origins ...string) *Mux[T] {
	if capacity <= 0 {
		capacity = DefaultMuxCapacity
	}
	m := &Mux[T]{
		origins: make(map[string]struct{}, len(origins)),
		queue:   make(chan T, capacity),
		done:    make(chan struct{}),
	}
	for _, origin := range origins {
		m.origins[origin] = struct{}{}
	}
	if len(m.origins) == 0 {
		m.finish()
	}
	return m
}

func (m *Mux[T]) finish() {
	m.doneOnce.Do(func() { close(m.done) })
}

func (m *Mux[T]) isLive(origin string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.origins[origin]
	return ok
}

// Write appends e on behalf of origin, blocking while the queue is full.
// Once the multiplexer is aborted, Write fails with the abort error
// instead of blocking.
func (m *Mux[T]) Write(ctx context.Context, origin string, e T) error {
	if !m.isLive(origin) {
		return errors.ErrUnknownOrigin.GenWithStackByArgs(origin)
	}
	select {
	case m.queue <- e:
		return nil
	case <-m.done:
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.err
	case <-ctx.Done():
		return errors.Trace(ctx.Err())
	}
}

// TryRead returns the head of the queue without blocking.
func (m *Mux[T]) TryRead() (T, bool) {
	select {
	case e := <-m.queue:
		return e, true
	default:
		var zero T
		return zero, false
	}
}

// Read returns the head of the queue, blocking until an element is
// available. It returns ErrEndOfStream once the queue is empty and every
// origin has been closed, or the error an origin aborted with.
func (m *Mux[T]) Read(ctx context.Context) (T, error) {
	if e, ok := m.TryRead(); ok {
		return e, nil
	}
	select {
	case e := <-m.queue:
		return e, nil
	case <-m.done:
		// Writes racing with the last Close may still be queued.
		if e, ok := m.TryRead(); ok {
			return e, nil
		}
		var zero T
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.err != nil {
			return zero, m.err
		}
		return zero, errors.ErrEndOfStream.FastGenByArgs()
	case <-ctx.Done():
		var zero T
		return zero, errors.Trace(ctx.Err())
	}
}

// Close removes origin from the live set. Closing an origin twice is a
// no-op.
func (m *Mux[T]) Close(origin string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.origins, origin)
	if len(m.origins) == 0 {
		m.finish()
	}
}

// Abort removes origin and ends the stream with err once the queue is
// drained. An empty origin aborts the stream on behalf of the reader.
func (m *Mux[T]) Abort(origin string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.origins, origin)
	if m.err == nil {
		m.err = err
	}
	m.finish()
}

// Origins returns the number of live origins.
func (m *Mux[T]) Origins() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.origins)
}
