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
	"io"
	"net"
	"sync"

	"github.com/dflow-engine/dflow/engine/model"
	"github.com/dflow-engine/dflow/pkg/errors"
	"go.uber.org/multierr"
)

// Sender is the write end of one output channel of a node.
type Sender interface {
	// Send delivers a record, blocking under backpressure.
	Send(ctx context.Context, rec model.Record) error
	// Close ends the stream. It must be called exactly once.
	Close() error
	// Abort ends the stream as failed, in place of Close. The consumer
	// sees err, or a broken stream, instead of a clean end.
	Abort(err error) error
}

// discarder is implemented by storage writers that can drop a partial
// stream.
type discarder interface {
	Discard() error
}

func discardOrClose(w io.WriteCloser) error {
	if d, ok := w.(discarder); ok {
		return d.Discard()
	}
	return errors.Trace(w.Close())
}

// MuxSender writes into a multiplexer of the same process.
type MuxSender struct {
	mux    *Mux[model.Record]
	origin string
}

// NewMuxSender creates a sender writing into mux as origin.
func NewMuxSender(mux *Mux[model.Record], origin string) *MuxSender {
	return &MuxSender{mux: mux, origin: origin}
}

// Send implements Sender.
func (s *MuxSender) Send(ctx context.Context, rec model.Record) error {
	return s.mux.Write(ctx, s.origin, rec)
}

// Close implements Sender.
func (s *MuxSender) Close() error {
	s.mux.Close(s.origin)
	return nil
}

// Abort implements Sender.
func (s *MuxSender) Abort(err error) error {
	s.mux.Abort(s.origin, err)
	return nil
}

// StreamSender writes records to a byte stream, typically a file.
type StreamSender struct {
	w      io.WriteCloser
	writer *recordWriter
}

// NewStreamSender creates a sender encoding records into w. Closing the
// sender closes w.
func NewStreamSender(w io.WriteCloser) *StreamSender {
	return &StreamSender{w: w, writer: newRecordWriter(w)}
}

// Send implements Sender.
func (s *StreamSender) Send(ctx context.Context, rec model.Record) error {
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}
	return s.writer.encode(&rec)
}

// Close implements Sender.
func (s *StreamSender) Close() error {
	return multierr.Append(s.writer.flush(), errors.Trace(s.w.Close()))
}

// Abort implements Sender. Buffered records are dropped and the stream
// is discarded when the writer supports it.
func (s *StreamSender) Abort(error) error {
	return discardOrClose(s.w)
}

// TCPSender streams records to a Listener on another node.
type TCPSender struct {
	conn   net.Conn
	writer *recordWriter
	// stop detaches the connection from the dial context.
	stop func() bool

	closeOnce sync.Once
	closeErr  error
}

// DialTCP connects to the listener at addr and announces origin. The
// connection is torn down if ctx is canceled before Close.
func DialTCP(ctx context.Context, addr string, origin string) (*TCPSender, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Trace(err)
	}
	s := &TCPSender{
		conn:   conn,
		writer: newRecordWriter(conn),
	}
	// A canceled producer must not look like a finished one.
	s.stop = context.AfterFunc(ctx, func() {
		_ = resetConn(conn)
	})
	// The handshake goes out now, not with the first batch of records.
	err = s.writer.encode(&handshake{Origin: origin})
	if err == nil {
		err = s.writer.flush()
	}
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Send implements Sender.
func (s *TCPSender) Send(ctx context.Context, rec model.Record) error {
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}
	return s.writer.encode(&rec)
}

// Close implements Sender. Buffered records are flushed before the write
// side of the connection is shut down.
func (s *TCPSender) Close() error {
	s.closeOnce.Do(func() {
		s.stop()
		err := s.writer.flush()
		if tcpConn, ok := s.conn.(*net.TCPConn); ok && err == nil {
			err = errors.Trace(tcpConn.CloseWrite())
		}
		s.closeErr = multierr.Append(err, errors.Trace(s.conn.Close()))
	})
	return s.closeErr
}

// Abort implements Sender. The connection is reset without flushing, so
// the listener fails the origin instead of ending it.
func (s *TCPSender) Abort(error) error {
	s.closeOnce.Do(func() {
		s.stop()
		s.closeErr = resetConn(s.conn)
	})
	return s.closeErr
}

// resetConn closes conn without an orderly shutdown, so the peer reads an
// error rather than EOF.
func resetConn(conn net.Conn) error {
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetLinger(0)
	}
	return errors.Trace(conn.Close())
}
