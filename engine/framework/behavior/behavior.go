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

// Package behavior defines what a node does with the records it reads,
// and ships the built-in behaviors.
package behavior

import (
	"context"

	"github.com/dflow-engine/dflow/engine/model"
)

// Emitter receives the records produced by a behavior.
type Emitter interface {
	Emit(ctx context.Context, rec model.Record) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, rec model.Record) error

// Emit implements Emitter.
func (f EmitterFunc) Emit(ctx context.Context, rec model.Record) error {
	return f(ctx, rec)
}

// Behavior is the computation of a node. A Behavior instance serves a
// single node and is only called from that node's goroutine.
type Behavior interface {
	// Process handles one input record.
	Process(ctx context.Context, rec model.Record, out Emitter) error
	// Flush is called once after the last input record.
	Flush(ctx context.Context, out Emitter) error
}

// Factory creates a Behavior from the parameters of a node.
type Factory func(params map[string]string) (Behavior, error)

// Names of the built-in behaviors
const (
	Relay = "relay"
	Count = "count"
	Sum   = "sum"
	Grep  = "grep"
	Split = "split"
)
