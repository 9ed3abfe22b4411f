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

//go:build !linux

package coordinator

// threadTimer is a no-op where per-thread CPU times are not exposed.
type threadTimer struct{}

func startThreadTimer() *threadTimer {
	return &threadTimer{}
}

func (t *threadTimer) stop() (cpuMs int64, userMs int64) {
	return 0, 0
}
