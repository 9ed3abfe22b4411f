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

package logutil

import (
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

const (
	constFieldAppKey    = "app-name"
	constFieldSerialKey = "group-serial"
	constFieldWorkerKey = "worker-id"
	constFieldNodeKey   = "node"
)

// NewLogger4App returns a new logger for an application on the manager.
func NewLogger4App(appName string) *zap.Logger {
	return log.L().With(zap.String(constFieldAppKey, appName))
}

// NewLogger4Group returns a new logger for a node group running on a worker.
func NewLogger4Group(workerID string, appName string, serial int64) *zap.Logger {
	return log.L().With(
		zap.String(constFieldWorkerKey, workerID),
		zap.String(constFieldAppKey, appName),
		zap.Int64(constFieldSerialKey, serial),
	)
}

// WithNode derives a logger for a single node of a group.
func WithNode(logger *zap.Logger, node string) *zap.Logger {
	return logger.With(zap.String(constFieldNodeKey, node))
}
