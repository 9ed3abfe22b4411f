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

package master

import (
	"context"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/dflow-engine/dflow/engine/pkg/cmd/util"
	"github.com/dflow-engine/dflow/engine/servermaster"
	"github.com/dflow-engine/dflow/pkg/errors"
	"github.com/dflow-engine/dflow/pkg/logutil"
)

// options defines flags for the `master` command.
type options struct {
	masterConfig         *servermaster.Config
	masterConfigFilePath string
}

// newOptions creates new options for the `master` command.
func newOptions() *options {
	return &options{
		masterConfig: servermaster.GetDefaultMasterConfig(),
	}
}

// addFlags receives a *cobra.Command reference and binds
// flags related to template printing to it.
func (o *options) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.masterConfig.Addr, "addr", o.masterConfig.Addr, "Set the listening address for the manager")
	cmd.Flags().StringVar(&o.masterConfig.AdvertiseAddr, "advertise-addr", o.masterConfig.AdvertiseAddr, "Set the advertise listening address for client communication")
	cmd.Flags().DurationVar(&o.masterConfig.WorkerTTL, "worker-ttl", o.masterConfig.WorkerTTL, "how long a worker stays registered without heartbeat")

	cmd.Flags().StringVar(&o.masterConfigFilePath, "config", "", "Path of the configuration file")
	cmd.Flags().StringVar(&o.masterConfig.LogConf.File, "log-file", o.masterConfig.LogConf.File, "log file path")
	cmd.Flags().StringVar(&o.masterConfig.LogConf.Level, "log-level", o.masterConfig.LogConf.Level, "log level (etc: debug|info|warn|error)")
}

// run runs the server cmd.
func (o *options) run(cmd *cobra.Command) error {
	err := logutil.InitLogger(&o.masterConfig.LogConf)
	if err != nil {
		return errors.Trace(err)
	}

	if os.Getenv(gin.EnvGinMode) == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := util.InitCmd(cmd)
	defer cancel()

	log.Info("dataflow manager starts", zap.Stringer("config", o.masterConfig))
	server, err := servermaster.NewServer(ctx, o.masterConfig)
	if err != nil {
		log.Error("create dataflow manager with error", zap.Error(err))
		return errors.Trace(err)
	}

	err = server.Run(ctx)
	if err != nil && errors.Cause(err) != context.Canceled {
		log.Error("run dataflow manager with error", zap.Error(err))
		return errors.Trace(err)
	}
	log.Info("dataflow manager exits successfully")

	return nil
}

// complete adapts from the command line args and config file to the data required.
func (o *options) complete(cmd *cobra.Command) error {
	cfg := servermaster.GetDefaultMasterConfig()

	if len(o.masterConfigFilePath) > 0 {
		if err := cfg.ConfigFromFile(o.masterConfigFilePath); err != nil {
			return err
		}
		cfg.ConfigFile = o.masterConfigFilePath
	}

	cmd.Flags().Visit(func(flag *pflag.Flag) {
		switch flag.Name {
		case "addr":
			cfg.Addr = o.masterConfig.Addr
		case "advertise-addr":
			cfg.AdvertiseAddr = o.masterConfig.AdvertiseAddr
		case "worker-ttl":
			cfg.WorkerTTL = o.masterConfig.WorkerTTL
		case "config":
			// do nothing
		case "log-file":
			cfg.LogConf.File = o.masterConfig.LogConf.File
		case "log-level":
			cfg.LogConf.Level = o.masterConfig.LogConf.Level
		default:
			log.Panic("unknown flag, please report a bug", zap.String("flagName", flag.Name))
		}
	})

	if err := cfg.Adjust(); err != nil {
		return errors.Trace(err)
	}

	o.masterConfig = cfg

	return nil
}

// NewCmdMaster creates the `master` command.
func NewCmdMaster() *cobra.Command {
	o := newOptions()

	command := &cobra.Command{
		Use:   "master",
		Short: "Start a dataflow manager",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.complete(cmd); err != nil {
				return err
			}
			return o.run(cmd)
		},
	}

	o.addFlags(command)

	return command
}
