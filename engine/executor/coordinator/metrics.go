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
	"github.com/dflow-engine/dflow/engine/pkg/promutil"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	coordinatorFactory = promutil.NewFactory4Framework()
	groupCounter       = coordinatorFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "worker",
			Subsystem: "coordinator",
			Name:      "node_group_total",
			Help:      "number of node groups run on this worker, by outcome",
		}, []string{"outcome"})
	recordCounter = coordinatorFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "worker",
			Subsystem: "coordinator",
			Name:      "record_total",
			Help:      "number of records read or emitted by nodes",
		}, []string{"direction"})
	recordsIn    = recordCounter.WithLabelValues("in")
	recordsOut   = recordCounter.WithLabelValues("out")
	nodeDuration = coordinatorFactory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "worker",
			Subsystem: "coordinator",
			Name:      "node_duration_seconds",
			Help:      "wall time spent by a node",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 12),
		})
)
