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
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/dflow-engine/dflow/engine/executor/coordinator"
	"github.com/dflow-engine/dflow/engine/pkg/storage"
	"github.com/dflow-engine/dflow/pkg/errors"
	"github.com/dflow-engine/dflow/pkg/logutil"
)

const (
	defaultWorkerAddr        = "127.0.0.1:10340"
	defaultHeartbeatInterval = 2 * time.Second
	defaultHeartbeatTTL      = 10 * time.Second
	defaultRequestTimeout    = 3 * time.Second
	defaultQueueSize         = 1024
)

// Config is the configuration for a worker.
type Config struct {
	// Name is the worker ID. A random one is generated when it is empty.
	Name string `toml:"name" json:"name"`

	LogConf logutil.Config `toml:"log" json:"log"`

	// Join is a comma separated list of manager addresses.
	Join          string `toml:"join" json:"join"`
	Addr          string `toml:"addr" json:"addr"`
	AdvertiseAddr string `toml:"advertise-addr" json:"advertise-addr"`

	ConfigFile string `toml:"config-file" json:"config-file"`

	HeartbeatInterval time.Duration `toml:"heartbeat-interval" json:"heartbeat-interval"`
	// HeartbeatTTL is how long the worker keeps running without a
	// successful heartbeat.
	HeartbeatTTL   time.Duration `toml:"heartbeat-ttl" json:"heartbeat-ttl"`
	RequestTimeout time.Duration `toml:"request-timeout" json:"request-timeout"`
	// QueueSize bounds the node groups accepted but not launched yet.
	QueueSize int `toml:"queue-size" json:"queue-size"`

	Coordinator coordinator.Config `toml:"coordinator" json:"coordinator"`
	Storage     storage.Config     `toml:"storage" json:"storage"`
}

func (c *Config) String() string {
	cfg, err := json.Marshal(c)
	if err != nil {
		log.L().Error("marshal to json", zap.Reflect("executor config", c), logutil.ShortError(err))
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

// JoinAddrs returns the manager addresses.
func (c *Config) JoinAddrs() []string {
	var addrs []string
	for _, addr := range strings.Split(c.Join, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			addrs = append(addrs, addr)
		}
	}
	return addrs
}

// Adjust adjusts the executor configuration
func (c *Config) Adjust() error {
	c.LogConf.Adjust()
	if len(c.JoinAddrs()) == 0 {
		return errors.ErrInvalidArgument.GenWithStackByArgs("join is empty")
	}
	if c.Addr == "" {
		c.Addr = defaultWorkerAddr
	}
	if c.AdvertiseAddr == "" {
		c.AdvertiseAddr = c.Addr
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.HeartbeatTTL <= 0 {
		c.HeartbeatTTL = defaultHeartbeatTTL
	}
	if c.HeartbeatTTL < c.HeartbeatInterval {
		return errors.ErrInvalidArgument.GenWithStackByArgs(
			"heartbeat-ttl must not be shorter than heartbeat-interval")
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	c.Coordinator.Adjust()
	if c.Storage.Type == "" {
		c.Storage.Type = storage.TypeLocal
	}
	return nil
}

// ConfigFromFile loads config from file and merges items into Config.
func (c *Config) ConfigFromFile(path string) error {
	metaData, err := toml.DecodeFile(path, c)
	if err != nil {
		return errors.WrapError(errors.ErrExecutorDecodeConfigFile, err)
	}
	return checkUndecodedItems(metaData)
}

func (c *Config) configFromString(data string) error {
	metaData, err := toml.Decode(data, c)
	if err != nil {
		return errors.WrapError(errors.ErrExecutorDecodeConfigFile, err)
	}
	return checkUndecodedItems(metaData)
}

// GetDefaultExecutorConfig returns a default executor config
func GetDefaultExecutorConfig() *Config {
	return &Config{
		LogConf: logutil.Config{
			Level: "info",
			File:  "",
		},
		Addr:              defaultWorkerAddr,
		HeartbeatInterval: defaultHeartbeatInterval,
		HeartbeatTTL:      defaultHeartbeatTTL,
		RequestTimeout:    defaultRequestTimeout,
		QueueSize:         defaultQueueSize,
		Coordinator:       coordinator.DefaultConfig(),
		Storage:           storage.DefaultConfig(),
	}
}

func checkUndecodedItems(metaData toml.MetaData) error {
	undecoded := metaData.Undecoded()
	if len(undecoded) > 0 {
		var undecodedItems []string
		for _, item := range undecoded {
			undecodedItems = append(undecodedItems, item.String())
		}
		return errors.ErrExecutorConfigUnknownItem.GenWithStackByArgs(strings.Join(undecodedItems, ","))
	}
	return nil
}
