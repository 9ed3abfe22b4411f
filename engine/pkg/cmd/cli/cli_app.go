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
	"time"

	"github.com/spf13/cobra"

	"github.com/dflow-engine/dflow/engine/pkg/client"
	"github.com/dflow-engine/dflow/pkg/errors"
)

// appGeneralOptions defines some general options of application management
type appGeneralOptions struct {
	managerClient client.ManagerClient
	managerAddrs  []string
	timeout       time.Duration
}

func newAppGeneralOptions() *appGeneralOptions {
	return &appGeneralOptions{}
}

// addFlags receives a *cobra.Command reference and binds
// flags related to template printing to it.
func (o *appGeneralOptions) addFlags(cmd *cobra.Command) {
	if o == nil {
		return
	}

	cmd.PersistentFlags().StringSliceVar(&o.managerAddrs, "manager-addrs", nil, "manager addresses")
	cmd.PersistentFlags().DurationVar(&o.timeout, "timeout", 10*time.Second, "timeout of a request to the managers")
}

// validate checks that the provided options are valid and creates the
// manager client.
func (o *appGeneralOptions) validate() error {
	if len(o.managerAddrs) == 0 {
		return errors.ErrInvalidArgument.GenWithStackByArgs("manager-addrs can't be empty")
	}
	cli, err := client.NewManagerClient(o.managerAddrs,
		client.WithRequestTimeout(o.timeout),
		client.WithRetryDuration(o.timeout))
	if err != nil {
		return err
	}
	o.managerClient = cli
	return nil
}

// newCmdApp creates the `cli app` command.
func newCmdApp() *cobra.Command {
	o := newAppGeneralOptions()

	cmds := &cobra.Command{
		Use:   "app",
		Short: "Manage applications",
		Args:  cobra.NoArgs,
	}

	o.addFlags(cmds)

	cmds.AddCommand(newCmdAppSubmit(o))
	cmds.AddCommand(newCmdAppQuery(o))

	return cmds
}
