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
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dflow-engine/dflow/engine/executor/worker"
	"github.com/dflow-engine/dflow/engine/model"
	"github.com/dflow-engine/dflow/engine/pkg/openapi"
	"github.com/dflow-engine/dflow/pkg/errors"
)

// OpenAPI provides API for the worker.
type OpenAPI struct {
	server *Server
}

// NewOpenAPI creates a new OpenAPI.
func NewOpenAPI(server *Server) *OpenAPI {
	return &OpenAPI{server: server}
}

// RegisterOpenAPIRoutes registers routes for OpenAPI.
func RegisterOpenAPIRoutes(router *gin.Engine, api *OpenAPI) {
	v1 := router.Group("/api/v1")
	v1.POST("/groups", api.DispatchGroup)
	v1.GET("/status", api.GetStatus)
}

// DispatchGroup accepts a node group. The group runs in background and
// its summary is reported to the manager.
// @Success 202
// @Failure 400,503 {object} openapi.HTTPError
// @Router /api/v1/groups [post]
func (o *OpenAPI) DispatchGroup(c *gin.Context) {
	var task model.GroupTask
	if !openapi.BindJSON(c, &task) {
		return
	}
	if task.AppName == "" || len(task.Nodes) == 0 {
		_ = c.Error(errors.ErrInvalidArgument.GenWithStackByArgs("node group has no application or node"))
		return
	}
	if err := o.server.addGroup(&task); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusAccepted)
}

// WorkerStatus is the status of a worker.
type WorkerStatus struct {
	ID            model.WorkerID `json:"id"`
	Address       string         `json:"address"`
	RunningGroups int64          `json:"running-groups"`
	// Groups lists the node groups launched on the worker.
	Groups []worker.GroupInfo `json:"groups"`
}

// GetStatus returns the status of the worker.
// @Router /api/v1/status [get]
func (o *OpenAPI) GetStatus(c *gin.Context) {
	info := o.server.Info()
	c.JSON(http.StatusOK, &WorkerStatus{
		ID:            info.ID,
		Address:       info.Addr,
		RunningGroups: o.server.groupRunner.RunningCount(),
		Groups:        o.server.groupRunner.Groups(),
	})
}
