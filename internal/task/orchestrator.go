// Package task is the Task Orchestrator: a per-project FIFO queue of
// background operations (tool installs, smoke tests) executed through the
// Docker Service Manager.
//
// Each project with pending work has exactly one dispatch goroutine, so at
// most one task per project runs at a time while different projects
// proceed concurrently. The orchestrator is the only writer of task
// status.
package task

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
	"github.com/dd-jfranjic/devlauncher-sub001/internal/store"
)

// DefaultTimeout bounds a task that has no per-command timeout.
const DefaultTimeout = 15 * time.Minute

// Config configures an Orchestrator.
type Config struct {
	// Timeout is the default maximum run time of a task.
	Timeout  time.Duration
	Commands Catalog
}

// Orchestrator queues and runs tasks.
type Orchestrator struct {
	store   store.Store
	docker  docker.Manager
	hub     *events.Hub
	metrics *metrics.Metrics
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	queues  map[string][]string
	active  map[string]bool
	running map[string]context.CancelFunc
	closed  bool

	// idle is closed when the last dispatch loop exits; nil while no
	// Drain is waiting.
	idle chan struct{}
}

// New creates an Orchestrator. hub and m may be nil.
func New(s store.Store, mgr docker.Manager, hub *events.Hub, m *metrics.Metrics, logger *slog.Logger, cfg Config) *Orchestrator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Commands == nil {
		cfg.Commands = DefaultCatalog("")
	}
	if hub == nil {
		hub = events.NewHub()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:   s,
		docker:  mgr,
		hub:     hub,
		metrics: m,
		logger:  logger.With("component", "tasks"),
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
		ctx:     ctx,
		cancel:  cancel,
		queues:  make(map[string][]string),
		active:  make(map[string]bool),
		running: make(map[string]context.CancelFunc),
	}
}

// Enqueue persists a new queued task for projectID and schedules it behind
// the project's pending tasks.
func (o *Orchestrator) Enqueue(ctx context.Context, projectID string, typ model.TaskType) (*model.Task, error) {
	if err := model.ValidateTaskType(string(typ)); err != nil {
		return nil, err
	}
	if _, err := o.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	t := &model.Task{
		ID:        model.NewID(),
		ProjectID: projectID,
		Type:      typ,
		Status:    model.TaskQueued,
		CreatedAt: o.now(),
	}
	if err := o.store.CreateTask(ctx, t); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	o.publishStatus(t)
	o.logger.Info("task queued", "task_id", t.ID, "project_id", projectID, "type", typ)
	if err := o.push(projectID, t.ID); err != nil {
		return nil, err
	}
	return t, nil
}

// push appends taskID to the project's queue and starts the dispatch loop
// when none is running.
func (o *Orchestrator) push(projectID, taskID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return errors.New("task orchestrator is shut down")
	}
	o.queues[projectID] = append(o.queues[projectID], taskID)
	o.metrics.QueueDepth(projectID, len(o.queues[projectID]))

	if !o.active[projectID] {
		o.active[projectID] = true
		o.wg.Add(1)
		go o.dispatch(projectID)
	}
	return nil
}

// next pops the oldest queued task of projectID. When the queue is empty
// or the orchestrator is closing, it marks the loop idle and reports false
// under the same lock push uses, so no enqueue can be missed.
func (o *Orchestrator) next(projectID string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	q := o.queues[projectID]
	if len(q) == 0 || o.closed {
		delete(o.active, projectID)
		if len(q) == 0 {
			delete(o.queues, projectID)
		}
		if len(o.active) == 0 && o.idle != nil {
			close(o.idle)
			o.idle = nil
		}
		return "", false
	}
	o.queues[projectID] = q[1:]
	o.metrics.QueueDepth(projectID, len(q)-1)
	return q[0], true
}

func (o *Orchestrator) dispatch(projectID string) {
	defer o.wg.Done()
	for {
		taskID, ok := o.next(projectID)
		if !ok {
			return
		}
		o.run(projectID, taskID)
	}
}

// run executes one task to a terminal state. Store writes use a context
// detached from shutdown so the final status is always recorded.
func (o *Orchestrator) run(projectID, taskID string) {
	ctx := context.WithoutCancel(o.ctx)
	log := o.logger.With("task_id", taskID, "project_id", projectID)

	t, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			log.Error("load task", "error", err)
		}
		return
	}
	if t.Status != model.TaskQueued {
		log.Warn("skipping task that is no longer queued", "status", t.Status)
		return
	}
	project, err := o.store.GetProject(ctx, projectID)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			log.Error("load project", "error", err)
		}
		return
	}

	taskCtx, cancel := context.WithCancel(o.ctx)
	o.mu.Lock()
	o.running[projectID] = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.running, projectID)
		o.mu.Unlock()
		cancel()
	}()

	started := o.now()
	t.Status = model.TaskRunning
	t.StartedAt = &started
	if err := o.store.UpdateTask(ctx, t); err != nil {
		log.Error("mark task running", "error", err)
		return
	}
	o.publishStatus(t)
	log.Info("task started", "type", t.Type)

	spec, err := o.cfg.Commands.Resolve(t.Type, project)
	if err != nil {
		o.finish(ctx, t, nil, err, started)
		return
	}
	if spec.Timeout <= 0 {
		spec.Timeout = o.cfg.Timeout
	}

	sink := func(_ docker.Stream, line string) {
		chunk := line + "\n"
		n, err := o.store.AppendTaskOutput(ctx, t.ID, chunk)
		if err != nil {
			log.Warn("append task output", "error", err)
			return
		}
		o.hub.Publish(events.Event{
			Kind:      events.TaskOutput,
			ProjectID: projectID,
			TaskID:    t.ID,
			Chunk:     chunk,
			Offset:    n - len(chunk),
		})
	}

	res, err := o.docker.Execute(taskCtx, spec, sink)
	o.finish(ctx, t, res, err, started)
}

// finish maps the execution outcome to success or failed and persists it.
func (o *Orchestrator) finish(ctx context.Context, t *model.Task, res *docker.Result, err error, started time.Time) {
	finished := o.now()
	t.FinishedAt = &finished

	if res != nil && res.ExitCode >= 0 {
		code := res.ExitCode
		t.ExitCode = &code
	}

	log := o.logger.With("task_id", t.ID, "project_id", t.ProjectID, "type", t.Type)
	switch {
	case err == nil && res != nil && res.Success:
		t.Status = model.TaskSuccess
		t.Error = ""
		log.Info("task succeeded", "duration", finished.Sub(started))
	default:
		t.Status = model.TaskFailed
		t.Error = failureText(err, res, o.ctx.Err() != nil)
		log.Warn("task failed", "error_kind", model.ErrorKind(err), "error", t.Error)
	}

	if uerr := o.store.UpdateTask(ctx, t); uerr != nil {
		if !errors.Is(uerr, model.ErrNotFound) {
			log.Error("record task result", "error", uerr)
			return
		}
		// The project was deleted underneath us; still release followers.
	}
	o.publishStatus(t)
	o.metrics.TaskFinished(t.Type.String(), t.Status.String(), finished.Sub(started))
}

func failureText(err error, res *docker.Result, shuttingDown bool) string {
	switch {
	case shuttingDown:
		return "interrupted: devlauncher shut down while the task was running"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case err != nil:
		return err.Error()
	case res != nil:
		return fmt.Sprintf("%s exited with code %d", res.Command, res.ExitCode)
	default:
		return "unknown failure"
	}
}

func (o *Orchestrator) publishStatus(t *model.Task) {
	o.hub.Publish(events.Event{
		Kind:      events.TaskStatus,
		ProjectID: t.ProjectID,
		TaskID:    t.ID,
		Status:    t.Status.String(),
		LastError: t.Error,
	})
}

// Purge drops a project's pending queue entries and cancels its running
// task, if any. Called once the project has been deleted.
//
// Each dropped task gets a final failed status event so that log
// followers return instead of waiting for output that will never come.
func (o *Orchestrator) Purge(projectID string) {
	o.mu.Lock()
	dropped := o.queues[projectID]
	if len(dropped) > 0 {
		o.queues[projectID] = nil
		o.metrics.QueueDepth(projectID, 0)
	}
	if cancel, ok := o.running[projectID]; ok {
		cancel()
	}
	o.mu.Unlock()

	for _, id := range dropped {
		o.hub.Publish(events.Event{
			Kind:      events.TaskStatus,
			ProjectID: projectID,
			TaskID:    id,
			Status:    model.TaskFailed.String(),
			LastError: "cancelled: project deleted",
		})
	}
	if len(dropped) > 0 {
		o.logger.Info("queued tasks dropped", "project_id", projectID, "count", len(dropped))
	}
}

// Recover restores queue state after a restart: tasks left running are
// failed, queued tasks are dispatched again in creation order.
func (o *Orchestrator) Recover(ctx context.Context) error {
	running, err := o.store.ListTasksByStatus(ctx, model.TaskRunning)
	if err != nil {
		return fmt.Errorf("list running tasks: %w", err)
	}
	for _, t := range running {
		now := o.now()
		t.Status = model.TaskFailed
		t.Error = "interrupted: devlauncher stopped while the task was running"
		t.FinishedAt = &now
		if err := o.store.UpdateTask(ctx, t); err != nil {
			return fmt.Errorf("fail interrupted task %s: %w", t.ID, err)
		}
		o.publishStatus(t)
		o.logger.Warn("task interrupted by restart", "task_id", t.ID, "project_id", t.ProjectID)
	}

	queued, err := o.store.ListTasksByStatus(ctx, model.TaskQueued)
	if err != nil {
		return fmt.Errorf("list queued tasks: %w", err)
	}
	for _, t := range queued {
		if err := o.push(t.ProjectID, t.ID); err != nil {
			return err
		}
	}
	if len(running)+len(queued) > 0 {
		o.logger.Info("task queues recovered", "failed", len(running), "requeued", len(queued))
	}
	return nil
}

// GetTask returns a task snapshot.
func (o *Orchestrator) GetTask(ctx context.Context, id string) (*model.Task, error) {
	return o.store.GetTask(ctx, id)
}

// ListTasks returns a project's tasks, oldest first.
func (o *Orchestrator) ListTasks(ctx context.Context, projectID string) ([]*model.Task, error) {
	if _, err := o.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return o.store.ListTasks(ctx, projectID)
}

// QueueLen returns how many tasks of projectID are waiting (not counting
// a running one).
func (o *Orchestrator) QueueLen(projectID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queues[projectID])
}

// Drain blocks until no project has a queued or running task, or ctx
// ends.
func (o *Orchestrator) Drain(ctx context.Context) error {
	for {
		o.mu.Lock()
		if len(o.active) == 0 {
			o.mu.Unlock()
			return nil
		}
		if o.idle == nil {
			o.idle = make(chan struct{})
		}
		idle := o.idle
		o.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops accepting work, kills running tasks and waits for dispatch
// loops to exit. Queued tasks stay queued in the store for Recover.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	o.cancel()
	o.wg.Wait()
}
