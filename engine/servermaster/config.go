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
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dflow-engine/dflow/engine/servermaster/endpoint"
	"github.com/dflow-engine/dflow/engine/servermaster/scheduler"
	"github.com/dflow-engine/dflow/pkg/errors"
	"github.com/dflow-engine/dflow/pkg/logutil"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

const (
	defaultMasterAddr      = "127.0.0.1:10240"
	defaultWorkerTTL       = 10 * time.Second
	defaultTickInterval    = 200 * time.Millisecond
	defaultDispatchTimeout = 3 * time.Second
)

// Config is the configuration for the manager.
type Config struct {
	LogConf logutil.Config `toml:"log" json:"log"`

	Addr          string `toml:"addr" json:"addr"`
	AdvertiseAddr string `toml:"advertise-addr" json:"advertise-addr"`

	ConfigFile string `toml:"config-file" json:"config-file"`

	// WorkerTTL is how long a worker stays registered without a heartbeat.
	WorkerTTL time.Duration `toml:"worker-ttl" json:"worker-ttl"`
	// TickInterval is the period of the loop that retries pending node
	// groups and expires silent workers.
	TickInterval time.Duration `toml:"tick-interval" json:"tick-interval"`
	// DispatchTimeout bounds one dispatch request to a worker.
	DispatchTimeout time.Duration `toml:"dispatch-timeout" json:"dispatch-timeout"`

	Scheduler *scheduler.Config `toml:"scheduler" json:"scheduler"`
	Endpoint  endpoint.Config   `toml:"endpoint" json:"endpoint"`
}

func (c *Config) String() string {
	cfg, err := json.Marshal(c)
	if err != nil {
		log.L().Error("marshal to json", zap.Reflect("master config", c), logutil.ShortError(err))
	}
	return string(cfg)
}

// Toml returns TOML format representation of config.
func (c *Config) Toml() (string, error) {
	var b bytes.Buffer

	err := toml.NewEncoder(&b).Encode(c)
	if err != nil {
		log.L().Error("fail to marshal config to toml", logutil.ShortError(err))
	}

	return b.String(), nil
}

// Adjust adjusts the master configuration
func (c *Config) Adjust() error {
	c.LogConf.Adjust()
	if c.Addr == "" {
		c.Addr = defaultMasterAddr
	}
	if c.AdvertiseAddr == "" {
		c.AdvertiseAddr = c.Addr
	}
	if c.WorkerTTL <= 0 {
		c.WorkerTTL = defaultWorkerTTL
	}
	if c.TickInterval <= 0 {
		c.TickInterval = defaultTickInterval
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = defaultDispatchTimeout
	}
	if c.Scheduler == nil {
		c.Scheduler = scheduler.NewDefaultConfig()
	}
	if err := c.Scheduler.Adjust(); err != nil {
		return err
	}
	return c.Endpoint.Adjust()
}

// ConfigFromFile loads config from file and merges items into Config.
func (c *Config) ConfigFromFile(path string) error {
	metaData, err := toml.DecodeFile(path, c)
	if err != nil {
		return errors.WrapError(errors.ErrMasterDecodeConfigFile, err)
	}
	return checkUndecodedItems(metaData)
}

func (c *Config) configFromString(data string) error {
	metaData, err := toml.Decode(data, c)
	if err != nil {
		return errors.WrapError(errors.ErrMasterDecodeConfigFile, err)
	}
	return checkUndecodedItems(metaData)
}

// GetDefaultMasterConfig returns a default master config
func GetDefaultMasterConfig() *Config {
	return &Config{
		LogConf: logutil.Config{
			Level: "info",
			File:  "",
		},
		Addr:            defaultMasterAddr,
		WorkerTTL:       defaultWorkerTTL,
		TickInterval:    defaultTickInterval,
		DispatchTimeout: defaultDispatchTimeout,
		Scheduler:       scheduler.NewDefaultConfig(),
		Endpoint:        endpoint.DefaultConfig(),
	}
}

func checkUndecodedItems(metaData toml.MetaData) error {
	undecoded := metaData.Undecoded()
	if len(undecoded) > 0 {
		var undecodedItems []string
		for _, item := range undecoded {
			undecodedItems = append(undecodedItems, item.String())
		}
		return errors.ErrMasterConfigUnknownItem.GenWithStackByArgs(strings.Join(undecodedItems, ","))
	}
	return nil
}
