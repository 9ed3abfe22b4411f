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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/dflow-engine/dflow/engine/model"
	"github.com/dflow-engine/dflow/engine/pkg/client"
	"github.com/dflow-engine/dflow/engine/servermaster/scheduler"
	"github.com/dflow-engine/dflow/pkg/errors"
)

// fakeWorker accepts every dispatched node group.
type fakeWorker struct {
	srv   *httptest.Server
	tasks chan *model.GroupTask
}

func newFakeWorker(t *testing.T) *fakeWorker {
	w := &fakeWorker{tasks: make(chan *model.GroupTask, 16)}
	w.srv = httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		var task model.GroupTask
		if r.URL.Path != "/api/v1/groups" || json.NewDecoder(r.Body).Decode(&task) != nil {
			rw.WriteHeader(http.StatusBadRequest)
			return
		}
		w.tasks <- &task
		rw.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(w.srv.Close)
	return w
}

func (w *fakeWorker) next(t *testing.T) *model.GroupTask {
	select {
	case task := <-w.tasks:
		return task
	default:
		require.FailNow(t, "no node group dispatched")
		return nil
	}
}

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func newTestServer(t *testing.T, policy scheduler.DispatchPolicy) (*Server, client.ManagerClient) {
	cfg := GetDefaultMasterConfig()
	cfg.Scheduler.DispatchPolicy = policy
	require.NoError(t, cfg.Adjust())
	s, err := NewServer(context.Background(), cfg)
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	cli, err := client.NewManagerClient([]string{ts.URL})
	require.NoError(t, err)
	return s, cli
}

// pipelineGraph is a -(tcp)-> b -(file)-> c: {a, b} run first, then c.
func pipelineGraph() *model.Graph {
	return &model.Graph{
		Name: "pipeline",
		Nodes: []*model.Node{
			{Name: "a", Type: model.NodeInitial, Behavior: "relay", Inputs: []string{"in.txt"}},
			{Name: "b", Behavior: "relay"},
			{Name: "c", Type: model.NodeFinal, Behavior: "relay", Outputs: []string{"out.txt"}},
		},
		Edges: []*model.Edge{
			{From: "a", To: "b", Mode: model.EdgeTCP},
			{From: "b", To: "c", Mode: model.EdgeFile},
		},
	}
}

func TestServerApplicationLifecycle(t *testing.T) {
	t.Parallel()

	_, cli := newTestServer(t, scheduler.PolicyRetry)
	worker := newFakeWorker(t)
	ctx := context.Background()

	require.NoError(t, cli.RegisterWorker(ctx, &model.WorkerInfo{
		ID: "w1", Addr: worker.srv.Listener.Addr().String(),
	}))
	require.NoError(t, cli.SubmitApplication(ctx, pipelineGraph()))
	err := cli.SubmitApplication(ctx, pipelineGraph())
	require.True(t, errors.ErrApplicationAlreadyExists.Equal(err), "%v", err)

	// the groups of {a, b} are dispatched together
	first := []*model.GroupTask{worker.next(t), worker.next(t)}
	for _, task := range first {
		require.Equal(t, "pipeline", task.AppName)
		require.Len(t, task.Nodes, 1)
		require.False(t, task.Contains("c"))
	}

	_, err = cli.ResolveEndpoint(ctx, "pipeline", "b")
	require.True(t, errors.ErrEndpointNotPublished.Equal(err), "%v", err)
	require.NoError(t, cli.PublishEndpoint(ctx, "pipeline", "b", "127.0.0.1:4000"))
	addr, err := cli.ResolveEndpoint(ctx, "pipeline", "b")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:4000", addr)

	status, err := cli.QueryApplication(ctx, "pipeline")
	require.NoError(t, err)
	require.Equal(t, scheduler.StateRunning, status.State)
	require.Len(t, status.InFlight, 2)
	require.Equal(t, 2, status.Bundles)

	for _, task := range first {
		require.NoError(t, cli.ReportResult(ctx, &model.ResultSummary{
			AppName: task.AppName, Serial: task.Serial, WorkerID: "w1", Outcome: model.OutcomeSuccess,
		}))
	}
	last := worker.next(t)
	require.True(t, last.Contains("c"))
	require.Equal(t, model.Serial(3), last.Serial)

	// a summary is accepted once
	err = cli.ReportResult(ctx, &model.ResultSummary{
		AppName: "pipeline", Serial: first[0].Serial, Outcome: model.OutcomeSuccess,
	})
	require.True(t, errors.ErrUnknownGroupSerial.Equal(err), "%v", err)

	require.NoError(t, cli.ReportResult(ctx, &model.ResultSummary{
		AppName: "pipeline", Serial: last.Serial, WorkerID: "w1", Outcome: model.OutcomeSuccess,
	}))
	status, err = cli.QueryApplication(ctx, "pipeline")
	require.NoError(t, err)
	require.Equal(t, scheduler.StateFinished, status.State)
	require.Len(t, status.Summaries, 3)

	// endpoints are released with the application
	_, err = cli.ResolveEndpoint(ctx, "pipeline", "b")
	require.True(t, errors.ErrEndpointNotPublished.Equal(err), "%v", err)
	err = cli.PublishEndpoint(ctx, "pipeline", "b", "127.0.0.1:4000")
	require.True(t, errors.ErrApplicationNotRunning.Equal(err), "%v", err)
}

func TestServerRejectsBadApplications(t *testing.T) {
	t.Parallel()

	_, cli := newTestServer(t, scheduler.PolicyRetry)
	ctx := context.Background()

	// a file edge inside a TCP bundle can not be ordered
	g := &model.Graph{
		Name: "bad",
		Nodes: []*model.Node{
			{Name: "x", Type: model.NodeInitial, Behavior: "relay"},
			{Name: "y", Type: model.NodeFinal, Behavior: "relay"},
			{Name: "z", Behavior: "relay"},
		},
		Edges: []*model.Edge{
			{From: "x", To: "y", Mode: model.EdgeTCP},
			{From: "x", To: "z", Mode: model.EdgeSharedMemory},
			{From: "z", To: "y", Mode: model.EdgeFile},
		},
	}
	err := cli.SubmitApplication(ctx, g)
	require.True(t, errors.ErrTemporalOrdering.Equal(err), "%v", err)

	err = cli.SubmitApplication(ctx, &model.Graph{Name: "empty"})
	require.True(t, errors.ErrInvalidGraph.Equal(err), "%v", err)

	_, err = cli.QueryApplication(ctx, "bad")
	require.True(t, errors.ErrApplicationNotFound.Equal(err), "%v", err)

	err = cli.ReportResult(ctx, &model.ResultSummary{AppName: "bad", Serial: 1, Outcome: model.OutcomeSuccess})
	require.True(t, errors.ErrApplicationNotFound.Equal(err), "%v", err)

	err = cli.RegisterWorker(ctx, &model.WorkerInfo{ID: "w1"})
	require.True(t, errors.ErrInvalidArgument.Equal(err), "%v", err)
}

func TestServerAbortWithoutWorkers(t *testing.T) {
	t.Parallel()

	_, cli := newTestServer(t, scheduler.PolicyAbort)
	ctx := context.Background()

	require.NoError(t, cli.SubmitApplication(ctx, pipelineGraph()))
	status, err := cli.QueryApplication(ctx, "pipeline")
	require.NoError(t, err)
	require.Equal(t, scheduler.StateFailed, status.State)
	require.Contains(t, status.Error, "ErrNoWorkerAvailable")
}

func TestServerRawRequests(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, scheduler.PolicyRetry)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/applications",
		strings.NewReader(`{"name": "x", "edges": [{"mode": "pigeon"}]}`))
	req.Header.Set("Content-Type", "application/json")
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "DFLOW:ErrInvalidGraph")

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/applications/other/terminations",
		strings.NewReader(`{"app-name": "x", "serial": 1, "outcome": "SUCCESS"}`))
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "DFLOW:ErrInvalidArgument")

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "dflow_manager_cluster_worker_num")
}

func TestServerDispatchOutlivesRequest(t *testing.T) {
	t.Parallel()

	s, cli := newTestServer(t, scheduler.PolicyRetry)
	worker := newFakeWorker(t)
	require.NoError(t, cli.RegisterWorker(context.Background(), &model.WorkerInfo{
		ID: "w1", Addr: worker.srv.Listener.Addr().String(),
	}))

	body, err := json.Marshal(pipelineGraph())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/applications",
		strings.NewReader(string(body))).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	// the client is gone, the node groups are dispatched anyway
	for i := 0; i < 2; i++ {
		require.Equal(t, "pipeline", worker.next(t).AppName)
	}
}
