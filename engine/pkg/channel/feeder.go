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
	stdErrors "errors"
	"io"

	"github.com/dflow-engine/dflow/engine/model"
	"github.com/dflow-engine/dflow/pkg/errors"
)

// FeedStream decodes the records of r into mux as origin, then closes the
// origin. A broken stream aborts the origin with the decode error. r is
// closed before FeedStream returns.
func FeedStream(ctx context.Context, r io.ReadCloser, mux *Mux[model.Record], origin string) (err error) {
	defer func() {
		closeErr := r.Close()
		if err == nil {
			err = errors.Trace(closeErr)
		}
		if err != nil {
			mux.Abort(origin, err)
			return
		}
		mux.Close(origin)
	}()

	reader := newRecordReader(r)
	for {
		rec, err := reader.next()
		if stdErrors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := mux.Write(ctx, origin, rec); err != nil {
			return err
		}
	}
}
