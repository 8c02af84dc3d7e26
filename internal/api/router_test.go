package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd-jfranjic/devlauncher-sub001/internal/docker"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/events"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/lifecycle"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/logging"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/metrics"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/model"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/port"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/store/memory"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/task"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/template"
)

type server struct {
	*httptest.Server
	ctrl *lifecycle.Controller
	orch *task.Orchestrator
}

func newServer(t *testing.T, fake *docker.FakeManager, health map[string]HealthCheck) *server {
	t.Helper()
	if fake == nil {
		fake = &docker.FakeManager{}
	}
	st := memory.New()
	hub := events.NewHub()
	m := metrics.New()
	logger := logging.Discard()

	alloc, err := port.NewAllocator(port.DefaultRange(), nil)
	require.NoError(t, err)
	orch := task.New(st, fake, hub, m, logger, task.Config{})
	ctrl := lifecycle.New(st, alloc, fake, template.NewComposeRenderer(nil), orch, hub, m, logger, lifecycle.Config{})

	srv := httptest.NewServer(NewRouter(logger, ctrl, orch, hub, m, health))
	t.Cleanup(func() {
		srv.Close()
		ctrl.Close()
		orch.Close()
	})
	return &server{Server: srv, ctrl: ctrl, orch: orch}
}

func (s *server) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.URL+path, r)
	require.NoError(t, err)
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (s *server) create(t *testing.T, slug string) *model.Project {
	t.Helper()
	resp, body := s.do(t, http.MethodPost, "/projects", model.CreateRequest{
		Name: slug, Slug: slug, Template: "blank", Location: "native-fs",
		Path: filepath.Join(t.TempDir(), slug),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var p model.Project
	require.NoError(t, json.Unmarshal(body, &p))
	return &p
}

func wsURL(s *server, path string) string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + path
}

func TestProjectLifecycleOverHTTP(t *testing.T) {
	s := newServer(t, nil, nil)
	p := s.create(t, "shop")
	assert.Equal(t, model.ProjectStopped, p.Status)

	resp, body := s.do(t, http.MethodGet, "/projects", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []model.Project
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)

	resp, _ = s.do(t, http.MethodGet, "/projects/shop", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "lookup by slug")

	resp, _ = s.do(t, http.MethodPost, "/projects/shop/start", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	s.ctrl.Wait()

	resp, body = s.do(t, http.MethodGet, "/projects/"+p.ID+"/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view lifecycle.StatusView
	require.NoError(t, json.Unmarshal(body, &view))
	assert.Equal(t, model.ProjectRunning, view.Status)
	assert.Equal(t, p.Ports, view.Ports)

	resp, _ = s.do(t, http.MethodPost, "/projects/shop/start", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "already running")

	resp, _ = s.do(t, http.MethodDelete, "/projects/shop", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "delete while running")

	resp, _ = s.do(t, http.MethodPost, "/projects/shop/stop", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	s.ctrl.Wait()

	resp, _ = s.do(t, http.MethodDelete, "/projects/shop", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = s.do(t, http.MethodGet, "/projects/shop", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateProject_Validation(t *testing.T) {
	s := newServer(t, nil, nil)

	resp, body := s.do(t, http.MethodPost, "/projects", model.CreateRequest{Slug: "Nope"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var payload struct {
		Error  string             `json:"error"`
		Fields []model.FieldError `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Len(t, payload.Fields, 5)

	req, err := http.NewRequest(http.MethodPost, s.URL+"/projects", strings.NewReader("{"))
	require.NoError(t, err)
	raw, err := s.Client().Do(req)
	require.NoError(t, err)
	raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)
}

func TestNotFound(t *testing.T) {
	s := newServer(t, nil, nil)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/projects/missing"},
		{http.MethodPost, "/projects/missing/stop"},
		{http.MethodGet, "/tasks/missing"},
		{http.MethodGet, "/tasks/missing/log"},
	} {
		resp, _ := s.do(t, tc.method, tc.path, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, tc.path)
	}
}

func TestTasksOverHTTP(t *testing.T) {
	fake := &docker.FakeManager{
		ExecuteFunc: func(_ context.Context, _ docker.ExecSpec, sink docker.Sink) (*docker.Result, error) {
			sink(docker.Stdout, "200")
			return &docker.Result{Success: true}, nil
		},
	}
	s := newServer(t, fake, nil)
	s.create(t, "shop")

	resp, body := s.do(t, http.MethodPost, "/projects/shop/tasks", map[string]string{"type": "smoke-test"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))
	var queued model.Task
	require.NoError(t, json.Unmarshal(body, &queued))

	require.Eventually(t, func() bool {
		_, body := s.do(t, http.MethodGet, "/tasks/"+queued.ID, nil)
		var got model.Task
		return json.Unmarshal(body, &got) == nil && got.Status == model.TaskSuccess
	}, 5*time.Second, 10*time.Millisecond)

	resp, body = s.do(t, http.MethodGet, "/tasks/"+queued.ID+"/log", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "200\n", string(body))

	resp, body = s.do(t, http.MethodGet, "/projects/shop/tasks", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tasks []model.Task
	require.NoError(t, json.Unmarshal(body, &tasks))
	require.Len(t, tasks, 1)

	resp, _ = s.do(t, http.MethodPost, "/projects/shop/tasks", map[string]string{"type": "deploy"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func gatedExecute(started, gate chan struct{}) func(context.Context, docker.ExecSpec, docker.Sink) (*docker.Result, error) {
	return func(_ context.Context, _ docker.ExecSpec, sink docker.Sink) (*docker.Result, error) {
		sink(docker.Stdout, "one")
		close(started)
		<-gate
		sink(docker.Stdout, "two")
		return &docker.Result{Success: true}, nil
	}
}

func TestTaskLog_FollowHTTP(t *testing.T) {
	started, gate := make(chan struct{}), make(chan struct{})
	s := newServer(t, &docker.FakeManager{ExecuteFunc: gatedExecute(started, gate)}, nil)
	p := s.create(t, "shop")

	tk, err := s.orch.Enqueue(context.Background(), p.ID, model.TaskInstallToolA)
	require.NoError(t, err)
	<-started

	go func() {
		time.Sleep(30 * time.Millisecond)
		close(gate)
	}()
	resp, body := s.do(t, http.MethodGet, "/tasks/"+tk.ID+"/log?follow=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "one\ntwo\n", string(body))
}

func TestTaskLog_WebSocket(t *testing.T) {
	started, gate := make(chan struct{}), make(chan struct{})
	s := newServer(t, &docker.FakeManager{ExecuteFunc: gatedExecute(started, gate)}, nil)
	p := s.create(t, "shop")

	tk, err := s.orch.Enqueue(context.Background(), p.ID, model.TaskInstallToolA)
	require.NoError(t, err)
	<-started

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(s, "/ws/tasks/"+tk.ID+"/log"), nil)
	require.NoError(t, err)
	defer conn.Close()
	close(gate)

	var out strings.Builder
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
			break
		}
		out.Write(msg)
	}
	assert.Equal(t, "one\ntwo\n", out.String())
}

func TestEvents_WebSocket(t *testing.T) {
	s := newServer(t, nil, nil)
	p := s.create(t, "shop")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(s, "/ws/events?project_id=shop"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, s.ctrl.Start(context.Background(), p.ID))

	var statuses []string
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for len(statuses) < 2 {
		var ev events.Event
		require.NoError(t, conn.ReadJSON(&ev))
		assert.Equal(t, p.ID, ev.ProjectID)
		if ev.Kind == events.ProjectStatus {
			statuses = append(statuses, ev.Status)
		}
	}
	assert.Equal(t, []string{"starting", "running"}, statuses)

	resp, _ := s.do(t, http.MethodGet, "/ws/events?project_id=missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	s := newServer(t, nil, map[string]HealthCheck{
		"docker": func(context.Context) error { return errors.New("daemon not running") },
	})
	resp, body := s.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, string(body), "daemon not running")

	ok := newServer(t, nil, nil)
	resp, _ = ok.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newServer(t, nil, nil)
	s.create(t, "shop")

	resp, body := s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `devlauncher_lifecycle_operations_total{operation="create",outcome="ok"} 1`)
	assert.Contains(t, string(body), `devlauncher_api_http_requests_total{method="POST",route="POST /projects",status="201"} 1`)
}
