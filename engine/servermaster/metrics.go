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

package servermaster

import (
	"github.com/dflow-engine/dflow/engine/pkg/promutil"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	serverFactory        = promutil.NewFactory4Framework()
	serverWorkerNumGauge = serverFactory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "manager",
			Subsystem: "cluster",
			Name:      "worker_num",
			Help:      "number of workers registered in this cluster",
		})
	serverAppNumGauge = serverFactory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "manager",
			Subsystem: "cluster",
			Name:      "application_num",
			Help:      "number of applications in this cluster",
		}, []string{"state"})
	serverTerminationCounter = serverFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "manager",
			Subsystem: "cluster",
			Name:      "group_terminations_total",
			Help:      "number of node group terminations handled",
		}, []string{"outcome"})
	serverWorkerExpiredCounter = serverFactory.NewCounter(
		prometheus.CounterOpts{
			Namespace: "manager",
			Subsystem: "cluster",
			Name:      "worker_expired_total",
			Help:      "number of workers removed for missing heartbeats",
		})
)
