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

//go:build linux

package coordinator

import (
	"os"

	"github.com/pingcap/log"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// threadTimer reads the CPU time of the calling OS thread. The goroutine
// using it must be locked to its thread.
type threadTimer struct {
	tid   int32
	start *cpu.TimesStat
}

func startThreadTimer() *threadTimer {
	t := &threadTimer{tid: int32(unix.Gettid())}
	t.start = t.read()
	return t
}

func (t *threadTimer) read() *cpu.TimesStat {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Debug("read process failed", zap.Error(err))
		return nil
	}
	threads, err := proc.Threads()
	if err != nil {
		log.Debug("read thread times failed", zap.Error(err))
		return nil
	}
	return threads[t.tid]
}

// stop returns the CPU time (user plus system) and the user time spent
// since start, in milliseconds.
func (t *threadTimer) stop() (cpuMs int64, userMs int64) {
	end := t.read()
	if t.start == nil || end == nil {
		return 0, 0
	}
	user := end.User - t.start.User
	system := end.System - t.start.System
	return secondsToMs(user + system), secondsToMs(user)
}

func secondsToMs(s float64) int64 {
	if s < 0 {
		return 0
	}
	return int64(s * 1000)
}
