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
	stdErrors "errors"
	"io"

	"github.com/dflow-engine/dflow/engine/model"
	"github.com/dflow-engine/dflow/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// handshake is the first message of a TCP stream. It names the producer
// so the consumer can attribute the stream to an origin of its mux.
type handshake struct {
	Origin string `msgpack:"origin"`
}

// recordWriter encodes records as a msgpack stream.
type recordWriter struct {
	buf *bufio.Writer
	enc *msgpack.Encoder
}

func newRecordWriter(w io.Writer) *recordWriter {
	buf := bufio.NewWriter(w)
	return &recordWriter{
		buf: buf,
		enc: msgpack.NewEncoder(buf),
	}
}

func (w *recordWriter) encode(v interface{}) error {
	if err := w.enc.Encode(v); err != nil {
		return errors.WrapError(errors.ErrChannelEncode, err)
	}
	return nil
}

func (w *recordWriter) flush() error {
	return errors.WrapError(errors.ErrChannelEncode, w.buf.Flush())
}

// recordReader decodes a msgpack stream written by recordWriter.
type recordReader struct {
	dec *msgpack.Decoder
}

func newRecordReader(r io.Reader) *recordReader {
	return &recordReader{dec: msgpack.NewDecoder(bufio.NewReader(r))}
}

// decode returns io.EOF on a clean end of stream.
func (r *recordReader) decode(v interface{}) error {
	err := r.dec.Decode(v)
	if err == nil {
		return nil
	}
	if stdErrors.Is(err, io.EOF) {
		return io.EOF
	}
	return errors.WrapError(errors.ErrChannelDecode, err)
}

func (r *recordReader) next() (model.Record, error) {
	var rec model.Record
	err := r.decode(&rec)
	return rec, err
}
