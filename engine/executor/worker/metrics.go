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

package worker

import (
	"github.com/dflow-engine/dflow/engine/pkg/promutil"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	runnerFactory     = promutil.NewFactory4Framework()
	runningGroupGauge = runnerFactory.NewGauge(prometheus.GaugeOpts{
		Namespace: "worker",
		Subsystem: "runner",
		Name:      "running_groups",
		Help:      "number of node groups running on this worker",
	})
	queueDuration = runnerFactory.NewHistogram(prometheus.HistogramOpts{
		Namespace: "worker",
		Subsystem: "runner",
		Name:      "queue_duration_seconds",
		Help:      "time node groups wait between dispatch and launch",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
	})
)
