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

package cli

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dflow-engine/dflow/engine/model"
	"github.com/dflow-engine/dflow/engine/pkg/cmd/util"
	"github.com/dflow-engine/dflow/engine/servermaster/scheduler"
	"github.com/dflow-engine/dflow/pkg/errors"
)

// appSubmitOptions defines flags for app submit.
type appSubmitOptions struct {
	generalOpts *appGeneralOptions

	graphPath    string
	wait         bool
	pollInterval time.Duration

	graph *model.Graph
}

// newAppSubmitOptions creates new app submit options.
func newAppSubmitOptions(generalOpts *appGeneralOptions) *appSubmitOptions {
	return &appSubmitOptions{generalOpts: generalOpts}
}

// addFlags receives a *cobra.Command reference and binds
// flags related to template printing to it.
func (o *appSubmitOptions) addFlags(cmd *cobra.Command) {
	if o == nil {
		return
	}

	cmd.Flags().StringVar(&o.graphPath, "graph", "", "path of the JSON file describing the application")
	cmd.Flags().BoolVar(&o.wait, "wait", false, "wait until the application finishes or fails")
	cmd.Flags().DurationVar(&o.pollInterval, "poll-interval", time.Second, "interval of status polling when waiting")
}

// validate checks that the provided options are valid.
func (o *appSubmitOptions) validate() error {
	if err := o.generalOpts.validate(); err != nil {
		return err
	}
	graph, err := readGraph(o.graphPath)
	if err != nil {
		return err
	}
	if err := graph.Validate(); err != nil {
		return err
	}
	o.graph = graph
	return nil
}

func readGraph(path string) (*model.Graph, error) {
	if path == "" {
		return nil, errors.ErrInvalidArgument.GenWithStackByArgs("graph can't be empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapError(errors.ErrInvalidArgument, err, "read graph file")
	}
	var graph model.Graph
	if err := json.Unmarshal(data, &graph); err != nil {
		return nil, errors.WrapError(errors.ErrInvalidGraph, err, "decode graph file")
	}
	return &graph, nil
}

// run the `cli app submit` command.
func (o *appSubmitOptions) run(ctx context.Context, cmd *cobra.Command) error {
	cli := o.generalOpts.managerClient
	if err := cli.SubmitApplication(ctx, o.graph); err != nil {
		return err
	}
	log.Info("submit application successfully", zap.String("app-name", o.graph.Name))
	if !o.wait {
		return nil
	}

	status, err := waitApplication(ctx, cli.QueryApplication, o.graph.Name, o.pollInterval)
	if err != nil {
		return err
	}
	if err := util.JSONPrint(cmd, status); err != nil {
		return err
	}
	if status.State != scheduler.StateFinished {
		return errors.ErrApplicationNotRunning.GenWithStackByArgs(status.Name, status.State)
	}
	return nil
}

type queryFunc func(ctx context.Context, appName string) (*scheduler.Status, error)

// waitApplication polls the status of an application until it reaches a
// terminal state.
func waitApplication(
	ctx context.Context, query queryFunc, appName string, interval time.Duration,
) (*scheduler.Status, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		status, err := query(ctx, appName)
		if err != nil {
			return nil, err
		}
		if status.State.Terminal() {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return nil, errors.Trace(ctx.Err())
		case <-ticker.C:
		}
	}
}

// newCmdAppSubmit creates the `cli app submit` command.
func newCmdAppSubmit(generalOpts *appGeneralOptions) *cobra.Command {
	o := newAppSubmitOptions(generalOpts)

	command := &cobra.Command{
		Use:   "submit",
		Short: "Submit a new application",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := util.InitCmd(cmd)
			defer cancel()
			if err := o.validate(); err != nil {
				return err
			}
			return o.run(ctx, cmd)
		},
	}

	o.addFlags(command)

	return command
}
