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

package errors

import (
	"github.com/pingcap/errors"
)

// all dataflow engine errors
var (
	// general errors
	ErrUnknown = errors.Normalize(
		"unknown error",
		errors.RFCCodeText("DFLOW:ErrUnknown"),
	)
	ErrInvalidArgument = errors.Normalize(
		"invalid argument: %s",
		errors.RFCCodeText("DFLOW:ErrInvalidArgument"),
	)

	// graph structure errors, detected before anything is dispatched
	ErrInvalidGraph = errors.Normalize(
		"invalid application graph: %s",
		errors.RFCCodeText("DFLOW:ErrInvalidGraph"),
	)
	ErrDuplicateOutput = errors.Normalize(
		"output location %s is claimed by both node %s and node %s",
		errors.RFCCodeText("DFLOW:ErrDuplicateOutput"),
	)
	ErrTemporalOrdering = errors.Normalize(
		"file edge %s -> %s joins nodes of the same bundle, producer-before-consumer ordering cannot be honored",
		errors.RFCCodeText("DFLOW:ErrTemporalOrdering"),
	)
	ErrCyclicDependency = errors.Normalize(
		"cyclic file dependency between bundles: %s",
		errors.RFCCodeText("DFLOW:ErrCyclicDependency"),
	)
	ErrUnreachableBundle = errors.Normalize(
		"bundle %d (groups %v) has no initial node and no incoming file edge",
		errors.RFCCodeText("DFLOW:ErrUnreachableBundle"),
	)

	// manager related errors
	ErrMasterDecodeConfigFile = errors.Normalize(
		"decode config file failed",
		errors.RFCCodeText("DFLOW:ErrMasterDecodeConfigFile"),
	)
	ErrMasterConfigUnknownItem = errors.Normalize(
		"master config contains unknown configuration options: %s",
		errors.RFCCodeText("DFLOW:ErrMasterConfigUnknownItem"),
	)
	ErrApplicationAlreadyExists = errors.Normalize(
		"application already exists: %s",
		errors.RFCCodeText("DFLOW:ErrApplicationAlreadyExists"),
	)
	ErrApplicationNotFound = errors.Normalize(
		"application not found: %s",
		errors.RFCCodeText("DFLOW:ErrApplicationNotFound"),
	)
	ErrApplicationNotRunning = errors.Normalize(
		"application %s is not running, state: %s",
		errors.RFCCodeText("DFLOW:ErrApplicationNotRunning"),
	)
	ErrUnknownGroupSerial = errors.Normalize(
		"application %s has no node group in flight with serial %d",
		errors.RFCCodeText("DFLOW:ErrUnknownGroupSerial"),
	)
	ErrNoWorkerAvailable = errors.Normalize(
		"no worker is available to run node group %s",
		errors.RFCCodeText("DFLOW:ErrNoWorkerAvailable"),
	)
	ErrDispatchFailed = errors.Normalize(
		"dispatch node group to worker %s failed",
		errors.RFCCodeText("DFLOW:ErrDispatchFailed"),
	)
	ErrEndpointNotPublished = errors.Normalize(
		"endpoint of node %s in application %s is not published yet",
		errors.RFCCodeText("DFLOW:ErrEndpointNotPublished"),
	)
	ErrEndpointRegistry = errors.Normalize(
		"endpoint registry returns error",
		errors.RFCCodeText("DFLOW:ErrEndpointRegistry"),
	)

	// executor related errors
	ErrExecutorDecodeConfigFile = errors.Normalize(
		"decode config file failed",
		errors.RFCCodeText("DFLOW:ErrExecutorDecodeConfigFile"),
	)
	ErrExecutorConfigUnknownItem = errors.Normalize(
		"executor config contains unknown configuration options: %s",
		errors.RFCCodeText("DFLOW:ErrExecutorConfigUnknownItem"),
	)
	ErrManagerUnavailable = errors.Normalize(
		"no manager endpoint accepted the request",
		errors.RFCCodeText("DFLOW:ErrManagerUnavailable"),
	)
	ErrWorkerHeartbeat = errors.Normalize(
		"heartbeat to manager failed",
		errors.RFCCodeText("DFLOW:ErrWorkerHeartbeat"),
	)
	ErrRuntimeIncomingQueueFull = errors.Normalize(
		"worker has too many pending node groups",
		errors.RFCCodeText("DFLOW:ErrRuntimeIncomingQueueFull"),
	)
	ErrRuntimeIsClosed = errors.Normalize(
		"runtime has been closed",
		errors.RFCCodeText("DFLOW:ErrRuntimeIsClosed"),
	)
	ErrRuntimeClosed = errors.Normalize(
		"runtime has been closed",
		errors.RFCCodeText("DFLOW:ErrRuntimeClosed"),
	)
	ErrRuntimeDuplicateTaskID = errors.Normalize(
		"trying to add a task with the same ID as an existing one: %s",
		errors.RFCCodeText("DFLOW:ErrRuntimeDuplicateTaskID"),
	)
	ErrBehaviorNotFound = errors.Normalize(
		"node behavior is not registered: %s",
		errors.RFCCodeText("DFLOW:ErrBehaviorNotFound"),
	)
	ErrBehaviorAlreadyExists = errors.Normalize(
		"node behavior is already registered: %s",
		errors.RFCCodeText("DFLOW:ErrBehaviorAlreadyExists"),
	)
	ErrNodeFailed = errors.Normalize(
		"node %s failed",
		errors.RFCCodeText("DFLOW:ErrNodeFailed"),
	)
	ErrResolveTimeout = errors.Normalize(
		"resolving endpoint of node %s timed out",
		errors.RFCCodeText("DFLOW:ErrResolveTimeout"),
	)

	// channel errors
	ErrEndOfStream = errors.Normalize(
		"end of stream",
		errors.RFCCodeText("DFLOW:ErrEndOfStream"),
	)
	ErrUnknownOrigin = errors.Normalize(
		"origin %s is not a live producer of this multiplexer",
		errors.RFCCodeText("DFLOW:ErrUnknownOrigin"),
	)
	ErrNoLiveOutput = errors.Normalize(
		"no live output channel is left",
		errors.RFCCodeText("DFLOW:ErrNoLiveOutput"),
	)
	ErrChannelHandshake = errors.Normalize(
		"channel handshake failed: %s",
		errors.RFCCodeText("DFLOW:ErrChannelHandshake"),
	)
	ErrChannelEncode = errors.Normalize(
		"encode record failed",
		errors.RFCCodeText("DFLOW:ErrChannelEncode"),
	)
	ErrChannelDecode = errors.Normalize(
		"decode record failed",
		errors.RFCCodeText("DFLOW:ErrChannelDecode"),
	)

	// storage errors
	ErrStorageOpen = errors.Normalize(
		"open storage path %s failed",
		errors.RFCCodeText("DFLOW:ErrStorageOpen"),
	)
	ErrStorageCreate = errors.Normalize(
		"create storage path %s failed",
		errors.RFCCodeText("DFLOW:ErrStorageCreate"),
	)
	ErrStorageUnsupported = errors.Normalize(
		"unsupported storage type: %s",
		errors.RFCCodeText("DFLOW:ErrStorageUnsupported"),
	)
)
