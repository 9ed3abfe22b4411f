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
	"net"
	"sync"
	"time"

	"github.com/dflow-engine/dflow/engine/model"
	"github.com/dflow-engine/dflow/pkg/errors"
	"github.com/dflow-engine/dflow/pkg/logutil"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

const defaultHandshakeTimeout = 5 * time.Second

// Listener accepts the TCP streams of the remote producers of one node
// and relays their records into the node's multiplexer.
type Listener struct {
	ln     net.Listener
	mux    *Mux[model.Record]
	logger *zap.Logger

	// handshakeTimeout bounds the wait for the origin announcement of a
	// freshly accepted connection.
	handshakeTimeout time.Duration

	mu       sync.Mutex
	expected map[string]struct{}

	wg sync.WaitGroup
}

// Listen opens a TCP listener on addr for the given remote origins. The
// origins must be among the origins of mux.
func Listen(addr string, mux *Mux[model.Record], origins []string, logger *zap.Logger) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if logger == nil {
		logger = log.L()
	}
	l := &Listener{
		ln:               ln,
		mux:              mux,
		logger:           logger,
		handshakeTimeout: defaultHandshakeTimeout,
		expected:         make(map[string]struct{}, len(origins)),
	}
	for _, origin := range origins {
		l.expected[origin] = struct{}{}
	}
	return l, nil
}

// Addr returns the address producers should dial.
func (l *Listener) Addr() string {
	return l.ln.Addr().String()
}

// Serve accepts connections until every expected origin has connected,
// ctx is canceled or acceptTimeout expires. A zero acceptTimeout waits
// forever. Each connection announces its origin on its own goroutine, so a
// slow producer never holds up the others. Relays keep running after Serve
// returns, Wait joins them. Origins that never connected are aborted.
func (l *Listener) Serve(ctx context.Context, acceptTimeout time.Duration) error {
	stop := context.AfterFunc(ctx, func() {
		_ = l.ln.Close()
	})
	defer stop()
	defer l.ln.Close()
	if l.pending() == 0 {
		return nil
	}
	if tcpLn, ok := l.ln.(*net.TCPListener); ok && acceptTimeout > 0 {
		_ = tcpLn.SetDeadline(time.Now().Add(acceptTimeout))
	}

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			// The last claim closes the listener.
			if l.pending() == 0 && ctx.Err() == nil {
				return nil
			}
			l.abortPending(errors.Trace(err))
			if ctx.Err() != nil {
				return errors.Trace(ctx.Err())
			}
			return errors.Trace(err)
		}
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.serveConn(ctx, conn)
		}()
	}
}

// Close stops accepting connections. Origins that never connected are
// left untouched.
func (l *Listener) Close() error {
	return errors.Trace(l.ln.Close())
}

// Wait blocks until every relay has returned.
func (l *Listener) Wait() {
	l.wg.Wait()
}

func (l *Listener) pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.expected)
}

// claim marks origin as connected. It fails if the origin is unknown or
// has already connected. Claiming the last origin stops Serve.
func (l *Listener) claim(origin string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.expected[origin]; !ok {
		return false
	}
	delete(l.expected, origin)
	if len(l.expected) == 0 {
		_ = l.ln.Close()
	}
	return true
}

func (l *Listener) abortPending(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for origin := range l.expected {
		l.mux.Abort(origin, err)
		delete(l.expected, origin)
	}
}

func (l *Listener) serveConn(ctx context.Context, conn net.Conn) {
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()
	defer conn.Close()

	reader, origin, ok := l.handshake(conn)
	if !ok {
		return
	}
	l.relay(ctx, reader, origin)
}

func (l *Listener) handshake(conn net.Conn) (*recordReader, string, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(l.handshakeTimeout))
	reader := newRecordReader(conn)
	var hs handshake
	if err := reader.decode(&hs); err != nil {
		l.logger.Warn("read handshake failed",
			zap.String("remote-addr", conn.RemoteAddr().String()),
			logutil.ShortError(err))
		return nil, "", false
	}
	_ = conn.SetReadDeadline(time.Time{})
	if !l.claim(hs.Origin) {
		l.logger.Warn("reject connection from unexpected origin",
			zap.String("origin", hs.Origin),
			zap.String("remote-addr", conn.RemoteAddr().String()))
		return nil, "", false
	}
	return reader, hs.Origin, true
}

func (l *Listener) relay(ctx context.Context, reader *recordReader, origin string) {
	var count int64
	for {
		rec, err := reader.next()
		if stdErrors.Is(err, io.EOF) {
			l.mux.Close(origin)
			l.logger.Debug("tcp stream finished",
				zap.String("origin", origin), zap.Int64("records", count))
			return
		}
		if err == nil {
			err = l.mux.Write(ctx, origin, rec)
		}
		if err != nil {
			if ctx.Err() != nil {
				err = errors.Trace(ctx.Err())
			}
			l.logger.Warn("tcp stream broken",
				zap.String("origin", origin), zap.Error(err))
			l.mux.Abort(origin, err)
			return
		}
		count++
	}
}
