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

package behavior

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/dflow-engine/dflow/engine/model"
	"github.com/dflow-engine/dflow/pkg/errors"
)

type relay struct{}

// NewRelay forwards every record unchanged.
func NewRelay(map[string]string) (Behavior, error) {
	return relay{}, nil
}

func (relay) Process(ctx context.Context, rec model.Record, out Emitter) error {
	return out.Emit(ctx, rec)
}

func (relay) Flush(context.Context, Emitter) error {
	return nil
}

// keyedTotals accumulates an integer per key and emits the totals in key
// order on flush.
type keyedTotals struct {
	totals map[string]int64
	// value extracts the amount carried by a record.
	value func(rec model.Record) (int64, error)
}

func (b *keyedTotals) Process(_ context.Context, rec model.Record, _ Emitter) error {
	v, err := b.value(rec)
	if err != nil {
		return err
	}
	b.totals[rec.Key] += v
	return nil
}

func (b *keyedTotals) Flush(ctx context.Context, out Emitter) error {
	keys := make([]string, 0, len(b.totals))
	for k := range b.totals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		rec := model.Record{Key: k, Value: []byte(strconv.FormatInt(b.totals[k], 10))}
		if err := out.Emit(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// NewCount counts the records of every key.
func NewCount(map[string]string) (Behavior, error) {
	return &keyedTotals{
		totals: make(map[string]int64),
		value:  func(model.Record) (int64, error) { return 1, nil },
	}, nil
}

// NewSum adds up the decimal values of every key.
func NewSum(map[string]string) (Behavior, error) {
	return &keyedTotals{
		totals: make(map[string]int64),
		value: func(rec model.Record) (int64, error) {
			v, err := strconv.ParseInt(strings.TrimSpace(string(rec.Value)), 10, 64)
			if err != nil {
				return 0, errors.ErrInvalidArgument.GenWithStackByArgs(
					fmt.Sprintf("value %q of key %q is not an integer", rec.Value, rec.Key))
			}
			return v, nil
		},
	}, nil
}

type grep struct {
	pattern *regexp.Regexp
}

// NewGrep forwards the records whose value matches params["pattern"].
func NewGrep(params map[string]string) (Behavior, error) {
	expr, ok := params["pattern"]
	if !ok || expr == "" {
		return nil, errors.ErrInvalidArgument.GenWithStackByArgs("grep requires a pattern")
	}
	pattern, err := regexp.Compile(expr)
	if err != nil {
		return nil, errors.WrapError(errors.ErrInvalidArgument, err, "invalid grep pattern")
	}
	return &grep{pattern: pattern}, nil
}

func (b *grep) Process(ctx context.Context, rec model.Record, out Emitter) error {
	if !b.pattern.Match(rec.Value) {
		return nil
	}
	return out.Emit(ctx, rec)
}

func (b *grep) Flush(context.Context, Emitter) error {
	return nil
}

type split struct{}

// NewSplit emits one record per word of the value, keyed by the word.
func NewSplit(map[string]string) (Behavior, error) {
	return split{}, nil
}

var one = []byte("1")

func (split) Process(ctx context.Context, rec model.Record, out Emitter) error {
	for _, word := range strings.Fields(string(rec.Value)) {
		if err := out.Emit(ctx, model.Record{Key: word, Value: one}); err != nil {
			return err
		}
	}
	return nil
}

func (split) Flush(context.Context, Emitter) error {
	return nil
}
