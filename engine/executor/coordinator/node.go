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

package coordinator

import (
	"context"
	"fmt"

	"github.com/dflow-engine/dflow/engine/framework/behavior"
	"github.com/dflow-engine/dflow/engine/model"
	"github.com/dflow-engine/dflow/engine/pkg/channel"
	"github.com/dflow-engine/dflow/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// runNode drives one node until its input stream ends. On failure the
// inputs of the node are aborted, so its producers do not block, and the
// outputs are aborted so consumers and storage never take a partial
// stream for a finished one. A panicking behavior fails the node.
func (c *Coordinator) runNode(rt *nodeRuntime, g *groupRuntime) (err error) {
	ctx := rt.ctx
	outputs, openErr := c.openOutputs(ctx, g, rt)

	var shuffler channel.Shuffler
	if openErr == nil && len(outputs) > 0 {
		shuffler, openErr = channel.NewShuffler(rt.node.FanOut, outputs, rt.node.Partitions)
	}
	defer func() {
		if err != nil {
			var abortErr error
			if shuffler != nil {
				abortErr = shuffler.Abort(err)
			} else {
				abortErr = channel.AbortAll(outputs, err)
			}
			if abortErr != nil {
				rt.logger.Warn("abort outputs failed", zap.Error(abortErr))
			}
			rt.mux.Abort("", err)
			rt.cancel()
			return
		}
		var closeErr error
		if shuffler != nil {
			closeErr = shuffler.Close()
		} else {
			closeErr = closeSenders(outputs)
		}
		if closeErr != nil {
			err = errors.Trace(closeErr)
		}
	}()
	defer func() {
		if v := recover(); v != nil {
			err = errors.ErrNodeFailed.GenWithStackByArgs(
				fmt.Sprintf("%s: panic: %v", rt.node.Name, v))
			rt.logger.Error("node panicked", zap.Error(err), zap.Stack("stack"))
		}
	}()
	if openErr != nil {
		return errors.Trace(openErr)
	}

	b, err := c.deps.Behaviors.CreateBehavior(rt.node.Behavior, rt.node.Params)
	if err != nil {
		return err
	}

	var read, emitted int64
	out := emitterFor(shuffler, &emitted)
	defer func() {
		recordsIn.Add(float64(read))
		recordsOut.Add(float64(emitted))
		rt.logger.Debug("node finished",
			zap.Int64("read", read), zap.Int64("emitted", emitted), zap.Error(err))
	}()
	for {
		rec, err := rt.mux.Read(ctx)
		if err != nil {
			if errors.ErrEndOfStream.Equal(err) {
				break
			}
			return err
		}
		read++
		if err := b.Process(ctx, rec, out); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(b.Flush(ctx, out))
}

func closeSenders(outputs []channel.Sender) error {
	var err error
	for _, out := range outputs {
		err = multierr.Append(err, out.Close())
	}
	return err
}

// emitterFor returns the emitter of a node writing through shuffler. A
// node without any output discards what it emits.
func emitterFor(shuffler channel.Shuffler, emitted *int64) behavior.Emitter {
	return behavior.EmitterFunc(func(ctx context.Context, rec model.Record) error {
		*emitted++
		if shuffler == nil {
			return nil
		}
		return shuffler.Send(ctx, rec)
	})
}
