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
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	systemID              = "dflow-system"
	frameworkID           = "dflow-framework"
	frameworkMetricPrefix = "dflow"

	constLabelFrameworkKey = "framework"
	constLabelAppKey       = "app"
)

// HTTPHandlerForMetric return http.Handler for prometheus metric
func HTTPHandlerForMetric() http.Handler {
	return promhttp.HandlerFor(globalMetricRegistry, promhttp.HandlerOpts{})
}

// NewFactory4Framework return a Factory for the engine itself
func NewFactory4Framework() Factory {
	return newFactory4Framework(globalMetricRegistry)
}

func newFactory4Framework(reg *Registry) Factory {
	return &wrappingFactory{
		r:      reg,
		prefix: frameworkMetricPrefix,
		id:     frameworkID,
		constLabels: prometheus.Labels{
			constLabelFrameworkKey: "true",
		},
	}
}

// NewFactory4App return a Factory for metrics scoped to one application.
// They are removed by UnregisterAppMetrics.
func NewFactory4App(appName string) Factory {
	return newFactory4App(globalMetricRegistry, appName)
}

func newFactory4App(reg *Registry, appName string) Factory {
	return &wrappingFactory{
		r:      reg,
		prefix: frameworkMetricPrefix,
		id:     appName,
		constLabels: prometheus.Labels{
			constLabelAppKey: appName,
		},
	}
}

// UnregisterAppMetrics unregisters all metrics of an application
func UnregisterAppMetrics(appName string) {
	globalMetricRegistry.Unregister(appName)
}
