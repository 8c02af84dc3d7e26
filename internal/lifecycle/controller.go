// Package lifecycle is the Project Lifecycle Controller. It owns the
// project state machine and is the only writer of Project.Status:
//
//	create          → stopped
//	start (stopped|error) → starting → running | error
//	stop  (any)     → stopped, or the prior state with lastError set
//
// Start and stop return as soon as the request is accepted; the docker
// operation runs in the background and callers observe the outcome by
// polling Status or subscribing to project events.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dd-jfranjic/devlauncher-sub001/internal/docker"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/events"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/metrics"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/model"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/port"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/store"
)

// Renderer lays out a project's files from its template.
type Renderer interface {
	// Services returns the compose services of t. One host port is
	// allocated per service.
	Services(t model.Template) ([]string, error)

	// Render writes the project's compose files into p.Path.
	Render(ctx context.Context, p *model.Project) error
}

// TaskQueue is the part of the task orchestrator the controller drives.
type TaskQueue interface {
	Enqueue(ctx context.Context, projectID string, typ model.TaskType) (*model.Task, error)
	Purge(projectID string)
}

// Config configures a Controller.
type Config struct {
	// FollowUp lists task types enqueued after every successful start.
	FollowUp []model.TaskType
}

// StatusView is the answer to a status query.
type StatusView struct {
	ID        string              `json:"id"`
	Slug      string              `json:"slug"`
	Status    model.ProjectStatus `json:"status"`
	Ports     map[string]int      `json:"ports"`
	LastError string              `json:"lastError,omitempty"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

// projectLock serializes work on one project. state guards the short
// read-check-write of the status. Docker operations are appended to
// pending while state is held and run one at a time, in request order, by
// a single worker goroutine; busy is true while that worker exists.
// pending and busy are guarded by Controller.mu.
//
// Lock order: state before Controller.mu.
type projectLock struct {
	state   sync.Mutex
	pending []func()
	busy    bool
}

// Controller drives projects through their lifecycle.
type Controller struct {
	store    store.ProjectStore
	ports    *port.Allocator
	docker   docker.Manager
	renderer Renderer
	tasks    TaskQueue
	hub      *events.Hub
	metrics  *metrics.Metrics
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	locks  map[string]*projectLock
	closed bool
}

// New creates a Controller. tasks, hub, m and logger may be nil.
func New(s store.ProjectStore, ports *port.Allocator, mgr docker.Manager, renderer Renderer, tasks TaskQueue, hub *events.Hub, m *metrics.Metrics, logger *slog.Logger, cfg Config) *Controller {
	if hub == nil {
		hub = events.NewHub()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		store:    s,
		ports:    ports,
		docker:   mgr,
		renderer: renderer,
		tasks:    tasks,
		hub:      hub,
		metrics:  m,
		logger:   logger.With("component", "lifecycle"),
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		ctx:      ctx,
		cancel:   cancel,
		locks:    make(map[string]*projectLock),
	}
}

func (c *Controller) lock(id string) *projectLock {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[id]
	if !ok {
		l = &projectLock{}
		c.locks[id] = l
	}
	return l
}

// enqueue appends fn to the project's operation queue, starting the
// project's worker if none is running. It fails once the controller is
// closed. Callers hold l.state.
func (c *Controller) enqueue(l *projectLock, fn func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("lifecycle controller is shut down")
	}
	l.pending = append(l.pending, fn)
	if l.busy {
		return nil
	}
	l.busy = true
	c.wg.Add(1)
	go c.work(l)
	return nil
}

// work runs the project's queued operations until the queue is empty.
func (c *Controller) work(l *projectLock) {
	defer c.wg.Done()
	for {
		c.mu.Lock()
		if len(l.pending) == 0 {
			l.busy = false
			c.mu.Unlock()
			return
		}
		fn := l.pending[0]
		l.pending[0] = nil
		l.pending = l.pending[1:]
		c.mu.Unlock()

		fn()
	}
}

// inProgress reports whether the project has a queued or running docker
// operation.
func (c *Controller) inProgress(l *projectLock) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return l.busy
}

// Create validates req, reserves one port per template service, persists
// the project as stopped and renders its files. Any failure leaves
// nothing persisted and no port reserved.
func (c *Controller) Create(ctx context.Context, req model.CreateRequest) (*model.Project, error) {
	p, err := c.create(ctx, req)
	if err != nil {
		c.metrics.LifecycleOp("create", outcome(err))
		return nil, err
	}
	c.metrics.LifecycleOp("create", "ok")
	return p, nil
}

func (c *Controller) create(ctx context.Context, req model.CreateRequest) (*model.Project, error) {
	verr := &model.ValidationError{}
	if err := req.Validate(); err != nil && !errors.As(err, &verr) {
		return nil, err
	}
	// Uniqueness is reported alongside the pure checks, but only for a
	// slug that is well formed.
	if !verr.Has("slug") {
		switch _, err := c.store.GetProjectBySlug(ctx, req.Slug); {
		case err == nil:
			verr.Add("slug", slugTakenMessage(req.Slug))
		case !errors.Is(err, model.ErrNotFound):
			return nil, fmt.Errorf("check slug: %w", err)
		}
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	tmpl := model.Template(req.Template)
	services, err := c.renderer.Services(tmpl)
	if err != nil {
		return nil, err
	}

	now := c.now()
	p := &model.Project{
		ID:        model.NewID(),
		Name:      req.Name,
		Slug:      req.Slug,
		Template:  tmpl,
		Location:  model.Location(req.Location),
		Path:      req.Path,
		Status:    model.ProjectStopped,
		CreatedAt: now,
		UpdatedAt: now,
	}
	log := c.logger.With("project_id", p.ID, "slug", p.Slug)

	ports, err := c.ports.Allocate(p.ID, services)
	if err != nil {
		c.metrics.PortAllocation("exhausted")
		log.Warn("port allocation failed", "error", err)
		return nil, err
	}
	c.metrics.PortAllocation("ok")
	p.Ports = ports

	if err := c.store.CreateProject(ctx, p); err != nil {
		c.ports.Release(p.ID)
		var conflict *store.ConflictError
		if errors.As(err, &conflict) && conflict.Field == "slug" {
			return nil, slugTaken(req.Slug)
		}
		return nil, fmt.Errorf("persist project: %w", err)
	}

	if err := c.renderer.Render(ctx, p); err != nil {
		if derr := c.store.DeleteProject(context.WithoutCancel(ctx), p.ID); derr != nil {
			log.Error("remove project after render failure", "error", derr)
		}
		c.ports.Release(p.ID)
		return nil, fmt.Errorf("render project files: %w", err)
	}

	c.publish(p)
	log.Info("project created", "template", p.Template, "ports", p.Ports)
	return p.Clone(), nil
}

func slugTaken(slug string) error {
	return &model.ValidationError{Fields: []model.FieldError{{
		Field:   "slug",
		Message: slugTakenMessage(slug),
	}}}
}

func slugTakenMessage(slug string) string {
	return fmt.Sprintf("%q is already in use", slug)
}

// Start moves a stopped or errored project to starting and brings its
// stack up in the background. A project that is already starting or
// running yields model.ErrAlreadyInState and docker is not invoked.
func (c *Controller) Start(ctx context.Context, id string) error {
	l := c.lock(id)
	l.state.Lock()
	defer l.state.Unlock()

	p, err := c.store.GetProject(ctx, id)
	if err != nil {
		return err
	}

	if p.Status.IsActive() {
		c.metrics.LifecycleOp("start", "already")
		return fmt.Errorf("project %s is %s: %w", p.Slug, p.Status, model.ErrAlreadyInState)
	}

	prior, priorErr := p.Status, p.LastError
	if err := c.setStatus(ctx, p, model.ProjectStarting, ""); err != nil {
		return err
	}
	if err := c.enqueue(l, func() { c.runStart(p, l) }); err != nil {
		if rerr := c.setStatus(context.WithoutCancel(ctx), p, prior, priorErr); rerr != nil {
			c.logger.Error("revert starting status", "project_id", id, "error", rerr)
		}
		return err
	}
	return nil
}

// runStart runs on the project's worker, so a stop requested meanwhile
// is queued behind it and runs after `up` has returned.
func (c *Controller) runStart(p *model.Project, l *projectLock) {
	ctx := context.WithoutCancel(c.ctx)
	log := c.logger.With("project_id", p.ID, "slug", p.Slug)
	log.Info("starting project")

	start := time.Now()
	res, err := c.docker.Up(c.ctx, stackOf(p))
	c.metrics.LifecycleDuration("start", time.Since(start))

	l.state.Lock()
	defer l.state.Unlock()

	if failure := c.failureText("start", res, err); failure != "" {
		log.Warn("project start failed", "error_kind", model.ErrorKind(err), "error", failure)
		c.metrics.LifecycleOp("start", "error")
		if serr := c.setStatus(ctx, p, model.ProjectError, failure); serr != nil {
			log.Error("record start failure", "error", serr)
		}
		return
	}

	c.metrics.LifecycleOp("start", "ok")
	if err := c.setStatus(ctx, p, model.ProjectRunning, ""); err != nil {
		log.Error("record start success", "error", err)
		return
	}
	log.Info("project running", "duration", time.Since(start))

	if c.tasks == nil {
		return
	}
	for _, typ := range c.cfg.FollowUp {
		if _, err := c.tasks.Enqueue(ctx, p.ID, typ); err != nil {
			log.Warn("enqueue follow-up task", "type", typ, "error", err)
		}
	}
}

// Stop brings the project's stack down in the background. It is accepted
// from any state; the only synchronous error is model.ErrNotFound. A stop
// issued while a start is queued or running takes effect after it.
func (c *Controller) Stop(ctx context.Context, id string) error {
	l := c.lock(id)
	l.state.Lock()
	defer l.state.Unlock()

	if _, err := c.store.GetProject(ctx, id); err != nil {
		return err
	}
	return c.enqueue(l, func() { c.runStop(id, l) })
}

func (c *Controller) runStop(id string, l *projectLock) {
	ctx := context.WithoutCancel(c.ctx)
	p, err := c.store.GetProject(ctx, id)
	if err != nil {
		c.logger.Warn("stop: project vanished", "project_id", id, "error", err)
		return
	}
	log := c.logger.With("project_id", p.ID, "slug", p.Slug)
	log.Info("stopping project", "from", p.Status)

	start := time.Now()
	res, err := c.docker.Down(c.ctx, stackOf(p))
	c.metrics.LifecycleDuration("stop", time.Since(start))

	l.state.Lock()
	defer l.state.Unlock()

	// Re-read: the status may only have changed through us, but lastError
	// and updatedAt must reflect the latest row.
	if cur, gerr := c.store.GetProject(ctx, id); gerr == nil {
		p = cur
	}

	if failure := c.failureText("stop", res, err); failure != "" {
		log.Warn("project stop failed", "error_kind", model.ErrorKind(err), "error", failure)
		c.metrics.LifecycleOp("stop", "error")
		if serr := c.setStatus(ctx, p, p.Status, failure); serr != nil {
			log.Error("record stop failure", "error", serr)
		}
		return
	}

	c.metrics.LifecycleOp("stop", "ok")
	if err := c.setStatus(ctx, p, model.ProjectStopped, ""); err != nil {
		log.Error("record stop success", "error", err)
		return
	}
	log.Info("project stopped", "duration", time.Since(start))
}

// failureText returns "" for a successful docker operation and a human
// readable cause otherwise.
func (c *Controller) failureText(op string, res *docker.Result, err error) string {
	switch {
	case err == nil && res != nil && res.Success:
		return ""
	case err != nil && c.ctx.Err() != nil:
		return fmt.Sprintf("interrupted: devlauncher shut down during %s", op)
	case err != nil:
		return err.Error()
	case res != nil:
		return fmt.Sprintf("%s exited with code %d", res.Command, res.ExitCode)
	default:
		return op + " failed"
	}
}

// Delete removes a stopped or errored project together with its tasks
// and port allocations, cancelling any queued or running task first.
func (c *Controller) Delete(ctx context.Context, id string) error {
	l := c.lock(id)
	l.state.Lock()
	defer l.state.Unlock()

	p, err := c.store.GetProject(ctx, id)
	if err != nil {
		return err
	}
	if c.inProgress(l) {
		c.metrics.LifecycleOp("delete", "rejected")
		return fmt.Errorf("project %s has an operation in progress: %w", p.Slug, model.ErrInvalidState)
	}
	if p.Status.IsActive() {
		c.metrics.LifecycleOp("delete", "rejected")
		return fmt.Errorf("project %s is %s, stop it first: %w", p.Slug, p.Status, model.ErrInvalidState)
	}

	if err := c.store.DeleteProject(ctx, id); err != nil {
		c.metrics.LifecycleOp("delete", "error")
		return fmt.Errorf("delete project: %w", err)
	}
	// Purge after the rows are gone: a log follower either receives the
	// final event or finds the task missing.
	if c.tasks != nil {
		c.tasks.Purge(id)
	}
	released := c.ports.Release(id)

	c.mu.Lock()
	delete(c.locks, id)
	c.mu.Unlock()

	c.hub.Publish(events.Event{Kind: events.ProjectDeleted, ProjectID: id, At: c.now()})
	c.metrics.LifecycleOp("delete", "ok")
	c.logger.Info("project deleted", "project_id", id, "slug", p.Slug, "ports_released", released)
	return nil
}

// List returns every project ordered by creation time.
func (c *Controller) List(ctx context.Context) ([]*model.Project, error) {
	return c.store.ListProjects(ctx)
}

// Get returns one project.
func (c *Controller) Get(ctx context.Context, id string) (*model.Project, error) {
	return c.store.GetProject(ctx, id)
}

// Resolve finds a project by id or, failing that, by slug.
func (c *Controller) Resolve(ctx context.Context, ref string) (*model.Project, error) {
	p, err := c.store.GetProject(ctx, ref)
	if err == nil || !errors.Is(err, model.ErrNotFound) {
		return p, err
	}
	return c.store.GetProjectBySlug(ctx, ref)
}

// Status returns the project's status, ports and last failure. It never
// waits for a running operation.
func (c *Controller) Status(ctx context.Context, id string) (*StatusView, error) {
	p, err := c.store.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	return &StatusView{
		ID:        p.ID,
		Slug:      p.Slug,
		Status:    p.Status,
		Ports:     p.Ports,
		LastError: p.LastError,
		UpdatedAt: p.UpdatedAt,
	}, nil
}

// Containers reports the live container state of the project's stack.
func (c *Controller) Containers(ctx context.Context, id string) ([]docker.ServiceState, error) {
	p, err := c.store.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.docker.Status(ctx, stackOf(p))
}

// Logs streams the stack's container logs into w.
func (c *Controller) Logs(ctx context.Context, id string, opts docker.LogsOptions, w io.Writer) error {
	p, err := c.store.GetProject(ctx, id)
	if err != nil {
		return err
	}
	return c.docker.Logs(ctx, stackOf(p), opts, w)
}

// Subscribe returns a subscription to the project's change events,
// including those of its tasks. The caller must Close it.
func (c *Controller) Subscribe(id string) *events.Subscription {
	return c.hub.Subscribe(events.ProjectTopic(id), 0)
}

// Recover restores state after a restart: persisted allocations are
// loaded into the allocator and projects left starting are marked error.
func (c *Controller) Recover(ctx context.Context) error {
	allocs, err := c.store.ListPortAllocations(ctx)
	if err != nil {
		return fmt.Errorf("list port allocations: %w", err)
	}
	if err := c.ports.Load(allocs); err != nil {
		return fmt.Errorf("load port allocations: %w", err)
	}

	projects, err := c.store.ListProjects(ctx)
	if err != nil {
		return fmt.Errorf("list projects: %w", err)
	}
	interrupted := 0
	for _, p := range projects {
		if p.Status != model.ProjectStarting {
			continue
		}
		if err := c.setStatus(ctx, p, model.ProjectError, "interrupted: devlauncher stopped while the project was starting"); err != nil {
			return fmt.Errorf("mark %s interrupted: %w", p.Slug, err)
		}
		interrupted++
	}
	c.logger.Info("lifecycle state recovered", "allocations", len(allocs), "projects", len(projects), "interrupted", interrupted)
	return nil
}

// Wait blocks until every background operation has finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Close rejects new operations, interrupts running docker commands and
// waits for them to record their outcome.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

// setStatus persists status and lastError on p and publishes the change.
func (c *Controller) setStatus(ctx context.Context, p *model.Project, status model.ProjectStatus, lastError string) error {
	at := c.now()
	if err := c.store.UpdateProjectStatus(ctx, p.ID, status, lastError, at); err != nil {
		return err
	}
	p.Status = status
	p.LastError = lastError
	p.UpdatedAt = at
	c.publish(p)
	return nil
}

func (c *Controller) publish(p *model.Project) {
	c.hub.Publish(events.Event{
		Kind:      events.ProjectStatus,
		ProjectID: p.ID,
		Status:    p.Status.String(),
		LastError: p.LastError,
		At:        p.UpdatedAt,
	})
}

func stackOf(p *model.Project) docker.Stack {
	return docker.Stack{ProjectName: p.Slug, Dir: p.Path}
}

func outcome(err error) string {
	var verr *model.ValidationError
	switch {
	case errors.As(err, &verr):
		return "invalid"
	case errors.Is(err, model.ErrPortExhausted):
		return "exhausted"
	default:
		return "error"
	}
}
