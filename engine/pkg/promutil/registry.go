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

package promutil

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var _ prometheus.Gatherer = globalMetricRegistry

// NOTICE: we don't use prometheus.DefaultRegistry in case of incorrect usage of a
// non-wrapped metric by node behaviors
var globalMetricRegistry = NewRegistry()

func init() {
	globalMetricRegistry.MustRegister(systemID, collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	globalMetricRegistry.MustRegister(systemID, collectors.NewGoCollector())
}

// Registry is used for registering metric
type Registry struct {
	sync.Mutex
	*prometheus.Registry

	// collectorByOwner is for cleaning all collectors of an application
	collectorByOwner map[string][]prometheus.Collector
}

// NewRegistry return a new Registry
func NewRegistry() *Registry {
	return &Registry{
		Registry:         prometheus.NewRegistry(),
		collectorByOwner: make(map[string][]prometheus.Collector),
	}
}

// MustRegister registers the provided Collector on behalf of owner
func (r *Registry) MustRegister(owner string, c prometheus.Collector) {
	if c == nil {
		return
	}
	r.Lock()
	defer r.Unlock()

	r.Registry.MustRegister(c)
	r.collectorByOwner[owner] = append(r.collectorByOwner[owner], c)
}

// Unregister unregisters all Collectors of owner
func (r *Registry) Unregister(owner string) {
	r.Lock()
	defer r.Unlock()

	for _, collector := range r.collectorByOwner[owner] {
		r.Registry.Unregister(collector)
	}
	delete(r.collectorByOwner, owner)
}

// wrappingFactory creates metrics carrying const labels and a name prefix,
// and registers them to r on behalf of id.
type wrappingFactory struct {
	r           *Registry
	prefix      string
	id          string
	constLabels prometheus.Labels
}

func (f *wrappingFactory) wrapName(namespace string) string {
	if f.prefix == "" {
		return namespace
	}
	if namespace == "" {
		return f.prefix
	}
	return f.prefix + "_" + namespace
}

func (f *wrappingFactory) wrapLabels(labels prometheus.Labels) prometheus.Labels {
	ret := make(prometheus.Labels, len(labels)+len(f.constLabels))
	for k, v := range labels {
		ret[k] = v
	}
	for k, v := range f.constLabels {
		ret[k] = v
	}
	return ret
}

// NewCounter implements Factory.NewCounter.
func (f *wrappingFactory) NewCounter(opts prometheus.CounterOpts) prometheus.Counter {
	opts.Namespace = f.wrapName(opts.Namespace)
	opts.ConstLabels = f.wrapLabels(opts.ConstLabels)
	c := prometheus.NewCounter(opts)
	f.r.MustRegister(f.id, c)
	return c
}

// NewCounterVec implements Factory.NewCounterVec.
func (f *wrappingFactory) NewCounterVec(opts prometheus.CounterOpts, labelNames []string) *prometheus.CounterVec {
	opts.Namespace = f.wrapName(opts.Namespace)
	opts.ConstLabels = f.wrapLabels(opts.ConstLabels)
	c := prometheus.NewCounterVec(opts, labelNames)
	f.r.MustRegister(f.id, c)
	return c
}

// NewGauge implements Factory.NewGauge.
func (f *wrappingFactory) NewGauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	opts.Namespace = f.wrapName(opts.Namespace)
	opts.ConstLabels = f.wrapLabels(opts.ConstLabels)
	c := prometheus.NewGauge(opts)
	f.r.MustRegister(f.id, c)
	return c
}

// NewGaugeVec implements Factory.NewGaugeVec.
func (f *wrappingFactory) NewGaugeVec(opts prometheus.GaugeOpts, labelNames []string) *prometheus.GaugeVec {
	opts.Namespace = f.wrapName(opts.Namespace)
	opts.ConstLabels = f.wrapLabels(opts.ConstLabels)
	c := prometheus.NewGaugeVec(opts, labelNames)
	f.r.MustRegister(f.id, c)
	return c
}

// NewHistogram implements Factory.NewHistogram.
func (f *wrappingFactory) NewHistogram(opts prometheus.HistogramOpts) prometheus.Histogram {
	opts.Namespace = f.wrapName(opts.Namespace)
	opts.ConstLabels = f.wrapLabels(opts.ConstLabels)
	c := prometheus.NewHistogram(opts)
	f.r.MustRegister(f.id, c)
	return c
}

// NewHistogramVec implements Factory.NewHistogramVec.
func (f *wrappingFactory) NewHistogramVec(opts prometheus.HistogramOpts, labelNames []string) *prometheus.HistogramVec {
	opts.Namespace = f.wrapName(opts.Namespace)
	opts.ConstLabels = f.wrapLabels(opts.ConstLabels)
	c := prometheus.NewHistogramVec(opts, labelNames)
	f.r.MustRegister(f.id, c)
	return c
}
