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

	"github.com/spf13/cobra"

	"github.com/dflow-engine/dflow/engine/pkg/cmd/util"
	"github.com/dflow-engine/dflow/pkg/errors"
)

// queryAppOptions defines flags for app query.
type queryAppOptions struct {
	generalOpts *appGeneralOptions

	appName string
}

// newQueryAppOptions creates new query app options.
func newQueryAppOptions(generalOpts *appGeneralOptions) *queryAppOptions {
	return &queryAppOptions{generalOpts: generalOpts}
}

// addFlags receives a *cobra.Command reference and binds
// flags related to template printing to it.
func (o *queryAppOptions) addFlags(cmd *cobra.Command) {
	if o == nil {
		return
	}

	cmd.Flags().StringVar(&o.appName, "app", "", "application name")
}

func (o *queryAppOptions) validate() error {
	if o.appName == "" {
		return errors.ErrInvalidArgument.GenWithStackByArgs("app can't be empty")
	}
	return o.generalOpts.validate()
}

// run the `cli app query` command.
func (o *queryAppOptions) run(ctx context.Context, cmd *cobra.Command) error {
	status, err := o.generalOpts.managerClient.QueryApplication(ctx, o.appName)
	if err != nil {
		return err
	}
	return util.JSONPrint(cmd, status)
}

// newCmdAppQuery creates the `cli app query` command.
func newCmdAppQuery(generalOpts *appGeneralOptions) *cobra.Command {
	o := newQueryAppOptions(generalOpts)

	command := &cobra.Command{
		Use:   "query",
		Short: "Query the status of an application",
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
