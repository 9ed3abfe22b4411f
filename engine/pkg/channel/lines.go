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
	"bufio"
	"bytes"
	"context"
	"io"
	"strconv"

	"github.com/dflow-engine/dflow/engine/model"
	"github.com/dflow-engine/dflow/pkg/errors"
	"go.uber.org/multierr"
)

// maxLineSize bounds a single line of an external input.
const maxLineSize = 16 << 20

// FeedLines turns every line of a text stream into a record, keyed by its
// line number, and writes it into mux as origin. It is used for the
// external inputs of an application. r is closed before FeedLines returns.
func FeedLines(ctx context.Context, r io.ReadCloser, mux *Mux[model.Record], origin string) (err error) {
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

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	var lineNo int64
	for scanner.Scan() {
		lineNo++
		rec := model.Record{
			Key:   strconv.FormatInt(lineNo, 10),
			Value: bytes.Clone(scanner.Bytes()),
		}
		if err := mux.Write(ctx, origin, rec); err != nil {
			return err
		}
	}
	return errors.Trace(scanner.Err())
}

// LineSender writes records as text lines, "key\tvalue" or just the value
// when the key is empty. It is used for the external outputs of an
// application.
type LineSender struct {
	w   io.WriteCloser
	buf *bufio.Writer
}

// NewLineSender creates a LineSender. Closing the sender closes w.
func NewLineSender(w io.WriteCloser) *LineSender {
	return &LineSender{w: w, buf: bufio.NewWriter(w)}
}

// Send implements Sender.
func (s *LineSender) Send(ctx context.Context, rec model.Record) error {
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}
	if rec.Key != "" {
		if _, err := s.buf.WriteString(rec.Key); err != nil {
			return errors.Trace(err)
		}
		if err := s.buf.WriteByte('\t'); err != nil {
			return errors.Trace(err)
		}
	}
	if _, err := s.buf.Write(rec.Value); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(s.buf.WriteByte('\n'))
}

// Close implements Sender.
func (s *LineSender) Close() error {
	return multierr.Append(errors.Trace(s.buf.Flush()), errors.Trace(s.w.Close()))
}

// Abort implements Sender.
func (s *LineSender) Abort(error) error {
	return discardOrClose(s.w)
}
