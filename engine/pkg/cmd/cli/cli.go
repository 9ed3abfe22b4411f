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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/mattn/go-shellwords"
	"github.com/spf13/cobra"
)

const historyFileName = "dflow-cli.history"

// NewCmdCli creates the `cli` command.
func NewCmdCli() *cobra.Command {
	var interact bool
	cmds := &cobra.Command{
		Use:   "cli",
		Short: "Manage applications of a dataflow engine cluster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if interact {
				return runShell(cmd.OutOrStdout())
			}
			return cmd.Help()
		},
	}
	cmds.PersistentFlags().BoolVarP(&interact, "interact", "i", false, "Run cli with readline")
	cmds.AddCommand(newCmdApp())
	return cmds
}

func historyFile() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, historyFileName)
}

// runShell reads commands line by line until exit, EOF or interrupt.
func runShell(out io.Writer) error {
	l, err := readline.NewEx(&readline.Config{
		Prompt:            "\033[31mdflow»\033[0m ",
		HistoryFile:       historyFile(),
		InterruptPrompt:   "^C",
		EOFPrompt:         "^D",
		HistorySearchFold: true,
	})
	if err != nil {
		return err
	}
	defer l.Close()

	for {
		line, err := l.Readline()
		switch {
		case err == readline.ErrInterrupt || err == io.EOF:
			return nil
		case err != nil:
			continue
		}
		if !executeLine(line, out) {
			return nil
		}
	}
}

// executeLine runs one shell line as a `cli` invocation and reports
// whether the shell should keep reading.
func executeLine(line string, out io.Writer) bool {
	line = strings.TrimSpace(line)
	switch line {
	case "":
		return true
	case "exit", "quit":
		return false
	}
	args, err := shellwords.Parse(line)
	if err != nil {
		fmt.Fprintf(out, "parse command err: %v\n", err)
		return true
	}

	command := NewCmdCli()
	command.SetArgs(args)
	command.SetOut(out)
	command.SetErr(out)
	command.SilenceUsage = true
	if err := command.Execute(); err != nil {
		fmt.Fprintln(out, err)
	}
	return true
}
