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

package e2e

import (
	"context"
	"time"

	"github.com/dflow-engine/dflow/engine/model"
	"github.com/dflow-engine/dflow/engine/pkg/client"
	"github.com/dflow-engine/dflow/engine/servermaster/scheduler"
	"github.com/dflow-engine/dflow/pkg/errors"
)

type utCli struct {
	// used to operate with the manager, such as submit applications
	managerCli client.ManagerClient
}

func newUTCli(managerAddrs []string) (*utCli, error) {
	managerCli, err := client.NewManagerClient(managerAddrs)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &utCli{managerCli: managerCli}, nil
}

func (cli *utCli) CreateApp(ctx context.Context, graph *model.Graph) error {
	return cli.managerCli.SubmitApplication(ctx, graph)
}

// WaitWorkers waits until n workers registered to the manager.
func (cli *utCli) WaitWorkers(ctx context.Context, n int, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		workers, err := cli.managerCli.ListWorkers(ctx)
		if err != nil {
			return err
		}
		if len(workers) >= n {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Trace(ctx.Err())
		case <-ticker.C:
		}
	}
}

// WaitAppTerminal polls the application until its state is terminal.
func (cli *utCli) WaitAppTerminal(
	ctx context.Context, appName string, timeout time.Duration,
) (*scheduler.Status, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		status, err := cli.managerCli.QueryApplication(ctx, appName)
		if err != nil {
			return nil, err
		}
		if status.State.Terminal() {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return status, errors.Trace(ctx.Err())
		case <-ticker.C:
		}
	}
}
