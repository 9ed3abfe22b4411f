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

package model

import (
	"encoding/json"
	"time"
)

// WorkerID identifies a worker process in the cluster.
type WorkerID string

// WorkerInfo describes a registered worker.
type WorkerInfo struct {
	ID   WorkerID `json:"id"`
	Addr string   `json:"address"`

	// LastSeen is the time of the latest registration or heartbeat.
	LastSeen time.Time `json:"last-seen"`
}

// WorkerStatus is the status of a worker known by the manager.
type WorkerStatus int32

// All worker statuses
const (
	WorkerOnline WorkerStatus = iota
	WorkerRemoved
)

// WorkerStatusNameMapping maps worker status to a printable name.
var WorkerStatusNameMapping = map[WorkerStatus]string{
	WorkerOnline:  "online",
	WorkerRemoved: "removed",
}

func (s WorkerStatus) String() string {
	val, ok := WorkerStatusNameMapping[s]
	if !ok {
		return "unknown"
	}
	return val
}

// ToJSON encodes the worker info.
func (e *WorkerInfo) ToJSON() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
