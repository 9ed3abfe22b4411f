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

package openapi

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/dflow-engine/dflow/pkg/errors"
)

// LogMiddleware logs the api requests.
func LogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()

		var stdErr error
		if err := c.Errors.Last(); err != nil {
			stdErr = err.Err
		}
		log.Debug("api request",
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("ip", c.ClientIP()),
			zap.Error(stdErr),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

// ErrorHandleMiddleware puts the error into response.
func ErrorHandleMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		// handlers return right after recording an error, so there is
		// at most one
		lastError := c.Errors.Last()
		if lastError == nil {
			return
		}
		err := lastError.Err
		c.JSON(HTTPStatusCode(err), NewHTTPError(err))
		c.Abort()
	}
}

// NewRouter creates a gin engine with the middleware of the engine APIs.
func NewRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), LogMiddleware(), ErrorHandleMiddleware())
	return router
}

// BindJSON decodes the request body into obj. Decoding errors that are
// not normalized are reported as invalid arguments.
func BindJSON(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		if errors.RFCCode(err) == errors.ErrUnknown.RFCCode() {
			err = errors.ErrInvalidArgument.GenWithStackByArgs(err.Error())
		}
		_ = c.Error(err)
		return false
	}
	return true
}
