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

package executor

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dflow-engine/dflow/engine/pkg/promutil"
)

var (
	executorFactory        = promutil.NewFactory4Framework()
	executorHeartbeatGauge = executorFactory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "worker",
		Subsystem: "server",
		Name:      "heartbeat_success",
		Help:      "1 when the latest heartbeat to the manager succeeded",
	}, []string{"worker"})
	executorAcceptedCounter = executorFactory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worker",
		Subsystem: "server",
		Name:      "accepted_groups_total",
		Help:      "number of node groups accepted by this worker",
	}, []string{"worker"})
)
