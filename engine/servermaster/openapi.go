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
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dflow-engine/dflow/engine/model"
	"github.com/dflow-engine/dflow/engine/pkg/openapi"
	"github.com/dflow-engine/dflow/pkg/errors"
)

const (
	// apiOpVarApp is the key of application name in HTTP API.
	apiOpVarApp = "app"
	// apiOpVarNode is the key of node name in HTTP API.
	apiOpVarNode = "node"
)

// OpenAPI provides API for servermaster.
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

	appGroup := v1.Group("/applications")
	appGroup.GET("", api.ListApplications)
	appGroup.POST("", api.SubmitApplication)
	appGroup.GET("/:app", api.QueryApplication)
	appGroup.POST("/:app/terminations", api.HandleTermination)
	appGroup.PUT("/:app/endpoints/:node", api.PublishEndpoint)
	appGroup.GET("/:app/endpoints/:node", api.ResolveEndpoint)

	workerGroup := v1.Group("/workers")
	workerGroup.GET("", api.ListWorkers)
	workerGroup.POST("", api.RegisterWorker)
}

// ListApplications lists all applications.
// @Router /api/v1/applications [get]
func (o *OpenAPI) ListApplications(c *gin.Context) {
	c.JSON(http.StatusOK, o.server.apps.List())
}

// SubmitApplication registers an application.
// @Success 202
// @Failure 400,409,500
// @Router /api/v1/applications [post]
func (o *OpenAPI) SubmitApplication(c *gin.Context) {
	var graph model.Graph
	if !openapi.BindJSON(c, &graph) {
		return
	}
	status, err := o.server.apps.Submit(o.server.lifetimeCtx(), &graph)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, status)
}

// QueryApplication returns the status of an application.
// @Success 200
// @Failure 404
// @Router /api/v1/applications/{app} [get]
func (o *OpenAPI) QueryApplication(c *gin.Context) {
	status, err := o.server.apps.Query(c.Param(apiOpVarApp))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// HandleTermination receives the summary of a completed node group.
// @Success 200
// @Failure 400,404
// @Router /api/v1/applications/{app}/terminations [post]
func (o *OpenAPI) HandleTermination(c *gin.Context) {
	var summary model.ResultSummary
	if !openapi.BindJSON(c, &summary) {
		return
	}
	if app := c.Param(apiOpVarApp); summary.AppName != app {
		_ = c.Error(errors.ErrInvalidArgument.GenWithStackByArgs(
			"summary of application " + summary.AppName + " posted to " + app))
		return
	}
	if err := o.server.apps.HandleTermination(o.server.lifetimeCtx(), &summary); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusOK)
}

// PublishEndpoint publishes the TCP address of a node.
// @Success 200
// @Failure 400,404,409
// @Router /api/v1/applications/{app}/endpoints/{node} [put]
func (o *OpenAPI) PublishEndpoint(c *gin.Context) {
	var info openapi.EndpointInfo
	if !openapi.BindJSON(c, &info) {
		return
	}
	err := o.server.apps.PublishEndpoint(c.Request.Context(),
		c.Param(apiOpVarApp), c.Param(apiOpVarNode), info.Address)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusOK)
}

// ResolveEndpoint returns the TCP address of a node.
// @Success 200
// @Failure 404
// @Router /api/v1/applications/{app}/endpoints/{node} [get]
func (o *OpenAPI) ResolveEndpoint(c *gin.Context) {
	addr, err := o.server.apps.ResolveEndpoint(c.Request.Context(),
		c.Param(apiOpVarApp), c.Param(apiOpVarNode))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, &openapi.EndpointInfo{Address: addr})
}

// ListWorkers lists the registered workers.
// @Router /api/v1/workers [get]
func (o *OpenAPI) ListWorkers(c *gin.Context) {
	c.JSON(http.StatusOK, o.server.pool.Workers())
}

// RegisterWorker registers a worker or refreshes its heartbeat.
// @Success 200
// @Failure 400
// @Router /api/v1/workers [post]
func (o *OpenAPI) RegisterWorker(c *gin.Context) {
	var info model.WorkerInfo
	if !openapi.BindJSON(c, &info) {
		return
	}
	if err := o.server.pool.Register(&info); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusOK)
}
