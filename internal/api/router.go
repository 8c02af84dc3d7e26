// Package api is the HTTP bridge to the engine: JSON endpoints for every
// project and task operation plus websocket streams for change events and
// task logs.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dd-jfranjic/devlauncher-sub001/internal/docker"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/events"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/lifecycle"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/metrics"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/model"
)

// Projects is the lifecycle surface the bridge exposes.
type Projects interface {
	Create(ctx context.Context, req model.CreateRequest) (*model.Project, error)
	List(ctx context.Context) ([]*model.Project, error)
	Resolve(ctx context.Context, ref string) (*model.Project, error)
	Status(ctx context.Context, id string) (*lifecycle.StatusView, error)
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	Containers(ctx context.Context, id string) ([]docker.ServiceState, error)
}

// Tasks is the orchestrator surface the bridge exposes.
type Tasks interface {
	Enqueue(ctx context.Context, projectID string, typ model.TaskType) (*model.Task, error)
	GetTask(ctx context.Context, id string) (*model.Task, error)
	ListTasks(ctx context.Context, projectID string) ([]*model.Task, error)
	FollowTaskLog(ctx context.Context, id string, w io.Writer) error
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

const healthCheckTimeout = 2 * time.Second

// Router wires HTTP endpoints to the engine.
type Router struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	projects Projects
	tasks    Tasks
	hub      *events.Hub
	metrics  *metrics.Metrics
	health   map[string]HealthCheck
	upgrader websocket.Upgrader
}

// NewRouter assembles routes. m and health may be nil.
func NewRouter(logger *slog.Logger, projects Projects, tasks Tasks, hub *events.Hub, m *metrics.Metrics, health map[string]HealthCheck) *Router {
	r := &Router{
		mux:      http.NewServeMux(),
		logger:   logger.With("component", "api"),
		projects: projects,
		tasks:    tasks,
		hub:      hub,
		metrics:  m,
		health:   health,
		upgrader: websocket.Upgrader{
			// The bridge listens on loopback for a local UI.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	r.register()
	return r
}

// ServeHTTP delegates to the underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) register() {
	r.handle("GET /healthz", r.handleHealthz)
	if r.metrics != nil {
		r.mux.Handle("GET /metrics", r.metrics.Handler())
	}

	r.handle("GET /projects", r.handleListProjects)
	r.handle("POST /projects", r.handleCreateProject)
	r.handle("GET /projects/{ref}", r.handleGetProject)
	r.handle("DELETE /projects/{ref}", r.handleDeleteProject)
	r.handle("GET /projects/{ref}/status", r.handleProjectStatus)
	r.handle("GET /projects/{ref}/containers", r.handleContainers)
	r.handle("POST /projects/{ref}/start", r.handleStart)
	r.handle("POST /projects/{ref}/stop", r.handleStop)
	r.handle("GET /projects/{ref}/tasks", r.handleListTasks)
	r.handle("POST /projects/{ref}/tasks", r.handleEnqueueTask)

	r.handle("GET /tasks/{id}", r.handleGetTask)
	r.handle("GET /tasks/{id}/log", r.handleTaskLog)

	r.handle("GET /ws/events", r.handleEventsWS)
	r.handle("GET /ws/tasks/{id}/log", r.handleTaskLogWS)
}

func (r *Router) handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, r.audit(h))
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	components := make(map[string]any, len(r.health))
	status := "ok"
	for name, check := range r.health {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		err := check(ctx)
		cancel()
		if err != nil {
			status = "degraded"
			components[name] = map[string]any{"status": "down", "error": err.Error()}
			continue
		}
		components[name] = map[string]any{"status": "up"}
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (r *Router) handleListProjects(w http.ResponseWriter, req *http.Request) {
	projects, err := r.projects.List(req.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	if projects == nil {
		projects = []*model.Project{}
	}
	writeJSON(w, http.StatusOK, projects)
}

func (r *Router) handleCreateProject(w http.ResponseWriter, req *http.Request) {
	var payload model.CreateRequest
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	p, err := r.projects.Create(req.Context(), payload)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// project resolves the {ref} path value, which may be an id or a slug.
func (r *Router) project(w http.ResponseWriter, req *http.Request) (*model.Project, bool) {
	p, err := r.projects.Resolve(req.Context(), req.PathValue("ref"))
	if err != nil {
		writeErr(w, err)
		return nil, false
	}
	return p, true
}

func (r *Router) handleGetProject(w http.ResponseWriter, req *http.Request) {
	if p, ok := r.project(w, req); ok {
		writeJSON(w, http.StatusOK, p)
	}
}

func (r *Router) handleDeleteProject(w http.ResponseWriter, req *http.Request) {
	p, ok := r.project(w, req)
	if !ok {
		return
	}
	if err := r.projects.Delete(req.Context(), p.ID); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) handleProjectStatus(w http.ResponseWriter, req *http.Request) {
	p, ok := r.project(w, req)
	if !ok {
		return
	}
	view, err := r.projects.Status(req.Context(), p.ID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (r *Router) handleContainers(w http.ResponseWriter, req *http.Request) {
	p, ok := r.project(w, req)
	if !ok {
		return
	}
	states, err := r.projects.Containers(req.Context(), p.ID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, states)
}

func (r *Router) handleStart(w http.ResponseWriter, req *http.Request) {
	p, ok := r.project(w, req)
	if !ok {
		return
	}
	if err := r.projects.Start(req.Context(), p.ID); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "id": p.ID})
}

func (r *Router) handleStop(w http.ResponseWriter, req *http.Request) {
	p, ok := r.project(w, req)
	if !ok {
		return
	}
	if err := r.projects.Stop(req.Context(), p.ID); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "id": p.ID})
}

func (r *Router) handleListTasks(w http.ResponseWriter, req *http.Request) {
	p, ok := r.project(w, req)
	if !ok {
		return
	}
	tasks, err := r.tasks.ListTasks(req.Context(), p.ID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if tasks == nil {
		tasks = []*model.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (r *Router) handleEnqueueTask(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		Type string `json:"type"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	p, ok := r.project(w, req)
	if !ok {
		return
	}
	t, err := r.tasks.Enqueue(req.Context(), p.ID, model.TaskType(payload.Type))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, t)
}

func (r *Router) handleGetTask(w http.ResponseWriter, req *http.Request) {
	t, err := r.tasks.GetTask(req.Context(), req.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleTaskLog returns the output snapshot, or with ?follow=true streams
// it as chunked plain text until the task finishes.
func (r *Router) handleTaskLog(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	follow, _ := strconv.ParseBool(req.URL.Query().Get("follow"))

	if !follow {
		t, err := r.tasks.GetTask(req.Context(), id)
		if err != nil {
			writeErr(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, t.Output)
		return
	}

	if _, err := r.tasks.GetTask(req.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	if err := r.tasks.FollowTaskLog(req.Context(), id, &flushWriter{w: w}); err != nil && req.Context().Err() == nil {
		r.logger.Warn("follow task log", "task_id", id, "error", err)
	}
}

// flushWriter pushes every write to the client immediately.
type flushWriter struct {
	w http.ResponseWriter
}

func (f *flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if fl, ok := f.w.(http.Flusher); ok {
		fl.Flush()
	}
	return n, err
}

// audit logs every request and counts it by route pattern.
func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		r.metrics.HTTPRequest(req.Method, req.Pattern, strconv.Itoa(status))

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Debug("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.status == 0 {
		sr.status = code
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets the websocket upgrader take over the connection.
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		sr.status = http.StatusSwitchingProtocols
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}
