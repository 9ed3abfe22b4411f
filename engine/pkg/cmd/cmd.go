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

// Package cmd assembles the commands of the dflow binary.
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/dflow-engine/dflow/engine/pkg/cmd/cli"
	"github.com/dflow-engine/dflow/engine/pkg/cmd/executor"
	"github.com/dflow-engine/dflow/engine/pkg/cmd/master"
)

// NewCmd creates the root command.
func NewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dflow",
		Short: "Dataflow engine",
		Long:  `Run dataflow applications across a cluster of workers`,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
}

// Run runs the root command.
func Run() {
	cmd := NewCmd()

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.AddCommand(master.NewCmdMaster())
	cmd.AddCommand(executor.NewCmdExecutor())
	cmd.AddCommand(cli.NewCmdCli())

	if err := cmd.Execute(); err != nil {
		cmd.PrintErrln(err)
		os.Exit(1)
	}
}
