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
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dflow-engine/dflow/engine/model"
	"github.com/dflow-engine/dflow/engine/pkg/channel"
	"github.com/dflow-engine/dflow/pkg/errors"
	"github.com/dflow-engine/dflow/pkg/logutil"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const maxResolveInterval = time.Second

// edgeOrigin is the multiplexer origin of the consumer end of an edge.
func edgeOrigin(e *model.Edge) string {
	return e.From + "/" + e.Mode.String()
}

// inputOrigin is the multiplexer origin of an external input.
func inputOrigin(path string) string {
	return "input:" + path
}

type nodeRuntime struct {
	node   *model.Node
	mux    *channel.Mux[model.Record]
	logger *zap.Logger

	// ctx scopes everything feeding mux. It is canceled when the node
	// fails, so producers stop instead of waiting for a dead consumer.
	ctx    context.Context
	cancel context.CancelFunc

	inEdges  []*model.Edge
	outEdges []*model.Edge
}

// groupRuntime holds the data path of a running task.
type groupRuntime struct {
	nodes  []*nodeRuntime
	byName map[model.NodeName]*nodeRuntime

	// wg tracks feeders and listeners.
	wg        sync.WaitGroup
	mu        sync.Mutex
	listeners []*channel.Listener
}

func (g *groupRuntime) goFeed(fn func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fn()
	}()
}

// wait joins every feeder, listener and relay, then releases the node
// contexts.
func (g *groupRuntime) wait() {
	g.wg.Wait()
	g.mu.Lock()
	for _, l := range g.listeners {
		l.Wait()
	}
	g.mu.Unlock()
	for _, rt := range g.nodes {
		rt.cancel()
	}
}

// wire builds the multiplexers of every node and starts everything
// feeding them. Failures are recorded by aborting the affected origins,
// so they surface as errors of the consuming node.
func (c *Coordinator) wire(ctx context.Context) *groupRuntime {
	g := &groupRuntime{
		byName: make(map[model.NodeName]*nodeRuntime, len(c.task.Nodes)),
	}
	for _, n := range c.task.Nodes {
		rt := &nodeRuntime{
			node:   n,
			logger: logutil.WithNode(c.logger, n.Name),
		}
		rt.ctx, rt.cancel = context.WithCancel(ctx)
		g.nodes = append(g.nodes, rt)
		g.byName[n.Name] = rt
	}
	for _, e := range c.task.Edges {
		if rt, ok := g.byName[e.From]; ok {
			rt.outEdges = append(rt.outEdges, e)
		}
		if rt, ok := g.byName[e.To]; ok {
			rt.inEdges = append(rt.inEdges, e)
		}
	}

	for _, rt := range g.nodes {
		origins := make([]string, 0, len(rt.inEdges)+len(rt.node.Inputs))
		for _, e := range rt.inEdges {
			origins = append(origins, edgeOrigin(e))
		}
		for _, in := range rt.node.Inputs {
			origins = append(origins, inputOrigin(in))
		}
		rt.mux = channel.NewMux[model.Record](c.cfg.MuxCapacity, origins...)
	}

	for _, rt := range g.nodes {
		c.wireInputs(g, rt)
	}
	return g
}

func (c *Coordinator) wireInputs(g *groupRuntime, rt *nodeRuntime) {
	var tcpOrigins []string
	for _, e := range rt.inEdges {
		switch e.Mode {
		case model.EdgeTCP:
			tcpOrigins = append(tcpOrigins, edgeOrigin(e))
		case model.EdgeFile:
			c.feedFile(g, rt, e.FilePath(c.task.AppName), edgeOrigin(e), channel.FeedStream)
		}
		// shared memory producers write directly into rt.mux
	}
	for _, in := range rt.node.Inputs {
		c.feedFile(g, rt, in, inputOrigin(in), channel.FeedLines)
	}
	if len(tcpOrigins) > 0 {
		c.listen(g, rt, tcpOrigins)
	}
}

type feedFunc func(ctx context.Context, r io.ReadCloser, mux *channel.Mux[model.Record], origin string) error

func (c *Coordinator) feedFile(g *groupRuntime, rt *nodeRuntime, path string, origin string, feed feedFunc) {
	r, err := c.deps.Storage.Open(rt.ctx, path)
	if err != nil {
		rt.mux.Abort(origin, err)
		return
	}
	g.goFeed(func() {
		if err := feed(rt.ctx, r, rt.mux, origin); err != nil {
			rt.logger.Warn("feed input failed",
				zap.String("path", path), zap.Error(err))
		}
	})
}

// listen opens the TCP listener of a node and publishes its address.
func (c *Coordinator) listen(g *groupRuntime, rt *nodeRuntime, origins []string) {
	abort := func(err error) {
		for _, origin := range origins {
			rt.mux.Abort(origin, err)
		}
	}
	ln, err := channel.Listen(net.JoinHostPort(c.cfg.ListenHost, "0"), rt.mux, origins, rt.logger)
	if err != nil {
		abort(err)
		return
	}
	_, port, err := net.SplitHostPort(ln.Addr())
	if err == nil {
		addr := net.JoinHostPort(c.cfg.AdvertiseHost, port)
		err = c.deps.Endpoints.PublishEndpoint(rt.ctx, c.task.AppName, rt.node.Name, addr)
	}
	if err != nil {
		abort(err)
		_ = ln.Close()
		return
	}
	rt.logger.Debug("listening", zap.String("address", ln.Addr()),
		zap.Strings("origins", origins))

	g.mu.Lock()
	g.listeners = append(g.listeners, ln)
	g.mu.Unlock()
	g.goFeed(func() {
		if err := ln.Serve(rt.ctx, c.cfg.AcceptTimeout); err != nil {
			rt.logger.Warn("accept producers failed", zap.Error(err))
		}
	})
}

// openOutputs opens every output of a node in a fixed order: edges in
// declaration order, then external outputs. It tries all of them even
// after a failure, so consumers that could be reached see the end of
// the stream.
func (c *Coordinator) openOutputs(ctx context.Context, g *groupRuntime, rt *nodeRuntime) ([]channel.Sender, error) {
	var (
		outputs []channel.Sender
		errs    error
	)
	for _, e := range rt.outEdges {
		sender, err := c.openEdge(ctx, g, e)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		outputs = append(outputs, sender)
	}
	for _, out := range rt.node.Outputs {
		w, err := c.deps.Storage.Create(ctx, out)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		outputs = append(outputs, channel.NewLineSender(w))
	}
	return outputs, errs
}

func (c *Coordinator) openEdge(ctx context.Context, g *groupRuntime, e *model.Edge) (channel.Sender, error) {
	switch e.Mode {
	case model.EdgeSharedMemory:
		consumer, ok := g.byName[e.To]
		if !ok {
			return nil, errors.ErrInvalidGraph.GenWithStackByArgs(
				"shared memory edge " + e.String() + " leaves the node group")
		}
		return channel.NewMuxSender(consumer.mux, edgeOrigin(e)), nil
	case model.EdgeTCP:
		addr, err := c.resolve(ctx, e.To)
		if err != nil {
			return nil, err
		}
		return channel.DialTCP(ctx, addr, edgeOrigin(e))
	case model.EdgeFile:
		w, err := c.deps.Storage.Create(ctx, e.FilePath(c.task.AppName))
		if err != nil {
			return nil, err
		}
		return channel.NewStreamSender(w), nil
	default:
		return nil, errors.ErrInvalidGraph.GenWithStackByArgs(
			"edge " + e.String() + " has mode " + strconv.Itoa(int(e.Mode)))
	}
}

// resolve polls the endpoint registry until the consumer has published
// its address.
func (c *Coordinator) resolve(ctx context.Context, node model.NodeName) (string, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.ResolveInterval
	bo.MaxInterval = maxResolveInterval
	bo.MaxElapsedTime = c.cfg.ResolveTimeout
	bo.Reset()

	var addr string
	err := backoff.Retry(func() error {
		var err error
		addr, err = c.deps.Endpoints.ResolveEndpoint(ctx, c.task.AppName, node)
		if err != nil && !errors.Is(err, errors.ErrEndpointNotPublished) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(bo, ctx))
	if err == nil {
		return addr, nil
	}
	if errors.Is(err, errors.ErrEndpointNotPublished) {
		return "", errors.ErrResolveTimeout.GenWithStackByArgs(node)
	}
	return "", errors.Trace(err)
}
