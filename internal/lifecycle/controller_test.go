package lifecycle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd-jfranjic/devlauncher-sub001/internal/docker"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/events"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/model"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/port"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/store/memory"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/template"
)

type fakeQueue struct {
	mu       sync.Mutex
	enqueued []model.TaskType
	purged   []string
}

func (q *fakeQueue) Enqueue(_ context.Context, projectID string, typ model.TaskType) (*model.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueued = append(q.enqueued, typ)
	return &model.Task{ID: model.NewID(), ProjectID: projectID, Type: typ, Status: model.TaskQueued}, nil
}

func (q *fakeQueue) Purge(projectID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.purged = append(q.purged, projectID)
}

type failingRenderer struct{ template.Catalog }

func (r failingRenderer) Render(context.Context, *model.Project) error {
	return errors.New("disk full")
}

type env struct {
	ctrl  *Controller
	store *memory.Store
	alloc *port.Allocator
	fake  *docker.FakeManager
	queue *fakeQueue
	hub   *events.Hub
}

type option func(*options)

type options struct {
	rng      port.Range
	renderer Renderer
	cfg      Config
}

func withRange(r port.Range) option { return func(o *options) { o.rng = r } }

func withRenderer(r Renderer) option { return func(o *options) { o.renderer = r } }

func withFollowUp(t ...model.TaskType) option { return func(o *options) { o.cfg.FollowUp = t } }

func newEnv(t *testing.T, fake *docker.FakeManager, opts ...option) *env {
	t.Helper()
	o := options{rng: port.DefaultRange(), renderer: template.NewComposeRenderer(nil)}
	for _, opt := range opts {
		opt(&o)
	}
	if fake == nil {
		fake = &docker.FakeManager{}
	}
	alloc, err := port.NewAllocator(o.rng, nil)
	require.NoError(t, err)

	e := &env{store: memory.New(), alloc: alloc, fake: fake, queue: &fakeQueue{}, hub: events.NewHub()}
	e.ctrl = New(e.store, alloc, fake, o.renderer, e.queue, e.hub, nil, nil, o.cfg)
	t.Cleanup(e.ctrl.Close)
	return e
}

func request(t *testing.T, slug, tmpl string) model.CreateRequest {
	return model.CreateRequest{
		Name:     "Project " + slug,
		Slug:     slug,
		Template: tmpl,
		Location: "native-fs",
		Path:     filepath.Join(t.TempDir(), slug),
	}
}

func (e *env) status(t *testing.T, id string) *StatusView {
	t.Helper()
	v, err := e.ctrl.Status(context.Background(), id)
	require.NoError(t, err)
	return v
}

func TestCreate(t *testing.T) {
	e := newEnv(t, nil)
	req := request(t, "shop", "framework-app")

	p, err := e.ctrl.Create(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, model.ProjectStopped, p.Status)
	assert.Equal(t, model.TemplateFrameworkApp, p.Template)
	require.Len(t, p.Ports, 3)
	seen := map[int]bool{}
	for svc, port := range p.Ports {
		assert.GreaterOrEqual(t, port, 20000, svc)
		assert.Less(t, port, 30000, svc)
		assert.False(t, seen[port], "port %d assigned twice", port)
		seen[port] = true
	}

	stored, err := e.store.GetProject(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Ports, stored.Ports)
	assert.Equal(t, 3, e.alloc.Reserved())

	_, err = os.Stat(filepath.Join(req.Path, template.ComposeFileName))
	assert.NoError(t, err, "compose file rendered")
	assert.Empty(t, e.fake.UpCalls(), "create never touches docker")
}

func TestCreate_ValidationListsEveryField(t *testing.T) {
	e := newEnv(t, nil)

	_, err := e.ctrl.Create(context.Background(), model.CreateRequest{Slug: "Bad Slug", Template: "x", Location: "y", Path: "rel"})
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	for _, f := range []string{"name", "slug", "template", "location", "path"} {
		assert.True(t, verr.Has(f), f)
	}

	projects, err := e.ctrl.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, projects)
	assert.Zero(t, e.alloc.Reserved())
}

func TestCreate_DuplicateSlug(t *testing.T) {
	e := newEnv(t, nil)
	first, err := e.ctrl.Create(context.Background(), request(t, "shop", "blank"))
	require.NoError(t, err)

	_, err = e.ctrl.Create(context.Background(), request(t, "shop", "cms-app"))
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Has("slug"))

	projects, err := e.ctrl.List(context.Background())
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, first.ID, projects[0].ID)
	assert.Equal(t, 1, e.alloc.Reserved(), "rejected create must not keep ports")
}

func TestCreate_DuplicateSlugReportedWithOtherFields(t *testing.T) {
	e := newEnv(t, nil)
	_, err := e.ctrl.Create(context.Background(), request(t, "my-app", "blank"))
	require.NoError(t, err)

	req := request(t, "my-app", "nope")
	req.Name = ""
	_, err = e.ctrl.Create(context.Background(), req)

	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	for _, f := range []string{"name", "template", "slug"} {
		assert.True(t, verr.Has(f), f)
	}
	assert.Equal(t, 1, e.alloc.Reserved())
}

func TestCreate_ConcurrentSameSlug(t *testing.T) {
	e := newEnv(t, nil)
	const n = 8

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := request(t, "race", "blank")
			_, errs[i] = e.ctrl.Create(context.Background(), req)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		var verr *model.ValidationError
		assert.ErrorAs(t, err, &verr)
	}
	assert.Equal(t, 1, ok)

	projects, err := e.ctrl.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, projects, 1)
	assert.Equal(t, 1, e.alloc.Reserved())
}

func TestCreate_PortExhaustedPersistsNothing(t *testing.T) {
	e := newEnv(t, nil, withRange(port.Range{Start: 20000, End: 20002}))

	_, err := e.ctrl.Create(context.Background(), request(t, "big", "cms-app"))
	require.ErrorIs(t, err, model.ErrPortExhausted)

	projects, err := e.ctrl.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, projects)
	assert.Zero(t, e.alloc.Reserved())

	// The two free ports are still usable by a smaller template.
	_, err = e.ctrl.Create(context.Background(), request(t, "small", "blank"))
	assert.NoError(t, err)
}

func TestCreate_RenderFailureRollsBack(t *testing.T) {
	e := newEnv(t, nil, withRenderer(failingRenderer{template.DefaultCatalog()}))

	_, err := e.ctrl.Create(context.Background(), request(t, "shop", "blank"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	_, err = e.store.GetProjectBySlug(context.Background(), "shop")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Zero(t, e.alloc.Reserved())
}

// TestCreateThenStart covers the create → start scenario: ports inside
// the default range and one `up` recorded for the project directory.
func TestCreateThenStart(t *testing.T) {
	e := newEnv(t, nil)
	req := request(t, "demo", "blank")

	p, err := e.ctrl.Create(context.Background(), req)
	require.NoError(t, err)
	require.NoError(t, e.ctrl.Start(context.Background(), p.ID))
	e.ctrl.Wait()

	v := e.status(t, p.ID)
	assert.Equal(t, model.ProjectRunning, v.Status)
	assert.Empty(t, v.LastError)
	require.Contains(t, v.Ports, "web")
	assert.GreaterOrEqual(t, v.Ports["web"], 20000)
	assert.LessOrEqual(t, v.Ports["web"], 29999)

	ups := e.fake.UpCalls()
	require.Len(t, ups, 1)
	assert.Equal(t, req.Path, ups[0].Dir)
	assert.Equal(t, "demo", ups[0].ProjectName)
}

func TestStart_Idempotent(t *testing.T) {
	release := make(chan struct{})
	fake := &docker.FakeManager{
		UpFunc: func(context.Context, docker.Stack) (*docker.Result, error) {
			<-release
			return &docker.Result{Success: true}, nil
		},
	}
	e := newEnv(t, fake)
	p, err := e.ctrl.Create(context.Background(), request(t, "demo", "blank"))
	require.NoError(t, err)

	require.NoError(t, e.ctrl.Start(context.Background(), p.ID))
	assert.Equal(t, model.ProjectStarting, e.status(t, p.ID).Status)

	err = e.ctrl.Start(context.Background(), p.ID)
	assert.ErrorIs(t, err, model.ErrAlreadyInState)

	close(release)
	e.ctrl.Wait()
	assert.Equal(t, model.ProjectRunning, e.status(t, p.ID).Status)

	err = e.ctrl.Start(context.Background(), p.ID)
	assert.ErrorIs(t, err, model.ErrAlreadyInState)
	e.ctrl.Wait()

	assert.Len(t, fake.UpCalls(), 1)
}

func TestStart_Failures(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		result   *docker.Result
		contains string
	}{
		{"non-zero exit", &model.ProcessExitError{Command: "docker compose up", ExitCode: 1, Stderr: "pull access denied"}, &docker.Result{ExitCode: 1}, "pull access denied"},
		{"spawn failure", &model.ProcessSpawnError{Command: "docker", Err: errors.New("executable file not found")}, &docker.Result{ExitCode: -1}, "failed to start"},
		{"timeout", &model.TimeoutError{Command: "docker compose up", After: time.Minute}, &docker.Result{ExitCode: -1}, "timed out"},
		{"unsuccessful result", nil, &docker.Result{ExitCode: 3, Command: "docker compose up"}, "exited with code 3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &docker.FakeManager{
				UpFunc: func(context.Context, docker.Stack) (*docker.Result, error) { return tt.result, tt.err },
			}
			e := newEnv(t, fake, withFollowUp(model.TaskSmokeTest))
			p, err := e.ctrl.Create(context.Background(), request(t, "demo", "blank"))
			require.NoError(t, err)

			require.NoError(t, e.ctrl.Start(context.Background(), p.ID))
			e.ctrl.Wait()

			v := e.status(t, p.ID)
			assert.Equal(t, model.ProjectError, v.Status)
			assert.Contains(t, v.LastError, tt.contains)
			assert.Empty(t, e.queue.enqueued, "no follow-up after a failed start")

			// error → start is allowed again.
			require.NoError(t, e.ctrl.Start(context.Background(), p.ID))
			e.ctrl.Wait()
			assert.Len(t, fake.UpCalls(), 2)
		})
	}
}

func TestStart_EnqueuesFollowUp(t *testing.T) {
	e := newEnv(t, nil, withFollowUp(model.TaskInstallToolA, model.TaskSmokeTest))
	p, err := e.ctrl.Create(context.Background(), request(t, "demo", "blank"))
	require.NoError(t, err)

	require.NoError(t, e.ctrl.Start(context.Background(), p.ID))
	e.ctrl.Wait()

	e.queue.mu.Lock()
	defer e.queue.mu.Unlock()
	assert.Equal(t, []model.TaskType{model.TaskInstallToolA, model.TaskSmokeTest}, e.queue.enqueued)
}

func TestStart_NotFound(t *testing.T) {
	e := newEnv(t, nil)
	err := e.ctrl.Start(context.Background(), model.NewID())
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Empty(t, e.fake.UpCalls())
}

func TestStop(t *testing.T) {
	e := newEnv(t, nil)
	p, err := e.ctrl.Create(context.Background(), request(t, "demo", "blank"))
	require.NoError(t, err)
	require.NoError(t, e.ctrl.Start(context.Background(), p.ID))
	e.ctrl.Wait()

	require.NoError(t, e.ctrl.Stop(context.Background(), p.ID))
	e.ctrl.Wait()

	assert.Equal(t, model.ProjectStopped, e.status(t, p.ID).Status)
	downs := e.fake.DownCalls()
	require.Len(t, downs, 1)
	assert.Equal(t, p.Path, downs[0].Dir)
}

// TestStop_UnknownProject: NotFound, no docker call, no state change.
func TestStop_UnknownProject(t *testing.T) {
	e := newEnv(t, nil)
	p, err := e.ctrl.Create(context.Background(), request(t, "demo", "blank"))
	require.NoError(t, err)
	before := e.status(t, p.ID)

	err = e.ctrl.Stop(context.Background(), "does-not-exist")
	require.ErrorIs(t, err, model.ErrNotFound)
	e.ctrl.Wait()

	assert.Empty(t, e.fake.DownCalls())
	assert.Equal(t, before, e.status(t, p.ID))
}

func TestStop_FailureKeepsPriorState(t *testing.T) {
	fake := &docker.FakeManager{
		DownFunc: func(context.Context, docker.Stack) (*docker.Result, error) {
			return &docker.Result{ExitCode: 1}, &model.ProcessExitError{Command: "docker compose down", ExitCode: 1, Stderr: "daemon unreachable"}
		},
	}
	e := newEnv(t, fake)
	p, err := e.ctrl.Create(context.Background(), request(t, "demo", "blank"))
	require.NoError(t, err)
	require.NoError(t, e.ctrl.Start(context.Background(), p.ID))
	e.ctrl.Wait()

	sub := e.ctrl.Subscribe(p.ID)
	defer sub.Close()

	require.NoError(t, e.ctrl.Stop(context.Background(), p.ID))
	e.ctrl.Wait()

	v := e.status(t, p.ID)
	assert.Equal(t, model.ProjectRunning, v.Status)
	assert.Contains(t, v.LastError, "daemon unreachable")

	select {
	case ev := <-sub.C:
		assert.Equal(t, events.ProjectStatus, ev.Kind)
		assert.Equal(t, "running", ev.Status)
		assert.Contains(t, ev.LastError, "daemon unreachable")
	case <-time.After(time.Second):
		t.Fatal("no change notification for failed stop")
	}
}

// TestStop_WaitsForStart checks start and stop on one project never
// overlap: down runs only after up returned.
func TestStop_WaitsForStart(t *testing.T) {
	release := make(chan struct{})
	var (
		mu    sync.Mutex
		order []string
	)
	fake := &docker.FakeManager{
		UpFunc: func(context.Context, docker.Stack) (*docker.Result, error) {
			<-release
			mu.Lock()
			order = append(order, "up")
			mu.Unlock()
			return &docker.Result{Success: true}, nil
		},
		DownFunc: func(context.Context, docker.Stack) (*docker.Result, error) {
			mu.Lock()
			order = append(order, "down")
			mu.Unlock()
			return &docker.Result{Success: true}, nil
		},
	}
	e := newEnv(t, fake)
	p, err := e.ctrl.Create(context.Background(), request(t, "demo", "blank"))
	require.NoError(t, err)

	require.NoError(t, e.ctrl.Start(context.Background(), p.ID))
	require.NoError(t, e.ctrl.Stop(context.Background(), p.ID))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, fake.DownCalls(), "down must wait for up")

	close(release)
	e.ctrl.Wait()

	assert.Equal(t, []string{"up", "down"}, order)
	assert.Equal(t, model.ProjectStopped, e.status(t, p.ID).Status)
}

// TestStartThenStop_RunsInRequestOrder issues both requests back to back
// before either operation has begun. The stop must win: up runs first,
// down second, and the project ends stopped.
func TestStartThenStop_RunsInRequestOrder(t *testing.T) {
	for i := 0; i < 50; i++ {
		var (
			mu    sync.Mutex
			order []string
		)
		record := func(op string) {
			mu.Lock()
			order = append(order, op)
			mu.Unlock()
		}
		fake := &docker.FakeManager{
			UpFunc: func(context.Context, docker.Stack) (*docker.Result, error) {
				record("up")
				return &docker.Result{Success: true}, nil
			},
			DownFunc: func(context.Context, docker.Stack) (*docker.Result, error) {
				record("down")
				return &docker.Result{Success: true}, nil
			},
		}
		e := newEnv(t, fake)
		p, err := e.ctrl.Create(context.Background(), request(t, "demo", "blank"))
		require.NoError(t, err)

		require.NoError(t, e.ctrl.Start(context.Background(), p.ID))
		require.NoError(t, e.ctrl.Stop(context.Background(), p.ID))
		e.ctrl.Wait()

		require.Equal(t, []string{"up", "down"}, order, "run %d", i)
		require.Equal(t, model.ProjectStopped, e.status(t, p.ID).Status, "run %d", i)
	}
}

// TestStart_RejectedWhileStopQueued checks a start issued right after a
// start+stop pair sees the project as starting and never runs a second up.
func TestStart_RejectedWhileStopQueued(t *testing.T) {
	release := make(chan struct{})
	fake := &docker.FakeManager{
		UpFunc: func(context.Context, docker.Stack) (*docker.Result, error) {
			<-release
			return &docker.Result{Success: true}, nil
		},
	}
	e := newEnv(t, fake)
	p, err := e.ctrl.Create(context.Background(), request(t, "demo", "blank"))
	require.NoError(t, err)

	require.NoError(t, e.ctrl.Start(context.Background(), p.ID))
	require.NoError(t, e.ctrl.Stop(context.Background(), p.ID))
	assert.ErrorIs(t, e.ctrl.Start(context.Background(), p.ID), model.ErrAlreadyInState)

	close(release)
	e.ctrl.Wait()

	assert.Len(t, fake.UpCalls(), 1)
	assert.Len(t, fake.DownCalls(), 1)
	assert.Equal(t, model.ProjectStopped, e.status(t, p.ID).Status)
}

func TestDelete_RejectedWhileStopQueued(t *testing.T) {
	release := make(chan struct{})
	fake := &docker.FakeManager{
		DownFunc: func(context.Context, docker.Stack) (*docker.Result, error) {
			<-release
			return &docker.Result{Success: true}, nil
		},
	}
	e := newEnv(t, fake)
	p, err := e.ctrl.Create(context.Background(), request(t, "demo", "blank"))
	require.NoError(t, err)

	require.NoError(t, e.ctrl.Stop(context.Background(), p.ID))
	assert.ErrorIs(t, e.ctrl.Delete(context.Background(), p.ID), model.ErrInvalidState)

	close(release)
	e.ctrl.Wait()
	require.NoError(t, e.ctrl.Delete(context.Background(), p.ID))
}

func TestProjectsStartConcurrently(t *testing.T) {
	var started sync.WaitGroup
	started.Add(2)
	both := make(chan struct{})
	go func() { started.Wait(); close(both) }()

	fake := &docker.FakeManager{
		UpFunc: func(context.Context, docker.Stack) (*docker.Result, error) {
			started.Done()
			select {
			case <-both:
				return &docker.Result{Success: true}, nil
			case <-time.After(3 * time.Second):
				return &docker.Result{ExitCode: 1}, errors.New("starts were serialized")
			}
		},
	}
	e := newEnv(t, fake)
	a, err := e.ctrl.Create(context.Background(), request(t, "alpha", "blank"))
	require.NoError(t, err)
	b, err := e.ctrl.Create(context.Background(), request(t, "beta", "blank"))
	require.NoError(t, err)

	require.NoError(t, e.ctrl.Start(context.Background(), a.ID))
	require.NoError(t, e.ctrl.Start(context.Background(), b.ID))
	e.ctrl.Wait()

	assert.Equal(t, model.ProjectRunning, e.status(t, a.ID).Status)
	assert.Equal(t, model.ProjectRunning, e.status(t, b.ID).Status)
}

func TestDelete(t *testing.T) {
	e := newEnv(t, nil)
	p, err := e.ctrl.Create(context.Background(), request(t, "demo", "framework-app"))
	require.NoError(t, err)
	require.NoError(t, e.ctrl.Start(context.Background(), p.ID))
	e.ctrl.Wait()

	err = e.ctrl.Delete(context.Background(), p.ID)
	require.ErrorIs(t, err, model.ErrInvalidState)

	require.NoError(t, e.ctrl.Stop(context.Background(), p.ID))
	e.ctrl.Wait()

	sub := e.hub.Subscribe(events.ProjectTopic(p.ID), 0)
	defer sub.Close()

	require.NoError(t, e.ctrl.Delete(context.Background(), p.ID))

	_, err = e.ctrl.Get(context.Background(), p.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Zero(t, e.alloc.Reserved())
	assert.Equal(t, []string{p.ID}, e.queue.purged)

	ev := <-sub.C
	assert.Equal(t, events.ProjectDeleted, ev.Kind)

	assert.ErrorIs(t, e.ctrl.Delete(context.Background(), p.ID), model.ErrNotFound)
}

func TestResolve(t *testing.T) {
	e := newEnv(t, nil)
	p, err := e.ctrl.Create(context.Background(), request(t, "demo", "blank"))
	require.NoError(t, err)

	byID, err := e.ctrl.Resolve(context.Background(), p.ID)
	require.NoError(t, err)
	bySlug, err := e.ctrl.Resolve(context.Background(), "demo")
	require.NoError(t, err)
	assert.Equal(t, byID.ID, bySlug.ID)

	_, err = e.ctrl.Resolve(context.Background(), "nope")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestContainersAndLogs(t *testing.T) {
	fake := &docker.FakeManager{
		StatusFunc: func(_ context.Context, s docker.Stack) ([]docker.ServiceState, error) {
			return []docker.ServiceState{{Service: "web", State: "running", Name: s.ProjectName + "-web-1"}}, nil
		},
	}
	e := newEnv(t, fake)
	p, err := e.ctrl.Create(context.Background(), request(t, "demo", "blank"))
	require.NoError(t, err)

	states, err := e.ctrl.Containers(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, "demo-web-1", states[0].Name)

	_, err = e.ctrl.Containers(context.Background(), "nope")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.ErrorIs(t, e.ctrl.Logs(context.Background(), "nope", docker.LogsOptions{}, os.Stdout), model.ErrNotFound)
}

func TestRecover(t *testing.T) {
	ctx := context.Background()
	st := memory.New()

	stuck := &model.Project{
		ID: model.NewID(), Name: "stuck", Slug: "stuck", Template: model.TemplateBlank,
		Location: model.LocationNativeFS, Path: "/srv/stuck", Ports: map[string]int{"web": 20000},
		Status: model.ProjectStarting, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	running := &model.Project{
		ID: model.NewID(), Name: "live", Slug: "live", Template: model.TemplateBlank,
		Location: model.LocationNativeFS, Path: "/srv/live", Ports: map[string]int{"web": 20001},
		Status: model.ProjectRunning, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	require.NoError(t, st.CreateProject(ctx, stuck))
	require.NoError(t, st.CreateProject(ctx, running))

	alloc, err := port.NewAllocator(port.DefaultRange(), nil)
	require.NoError(t, err)
	ctrl := New(st, alloc, &docker.FakeManager{}, template.NewComposeRenderer(nil), nil, nil, nil, nil, Config{})
	t.Cleanup(ctrl.Close)

	require.NoError(t, ctrl.Recover(ctx))

	v, err := ctrl.Status(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProjectError, v.Status)
	assert.Contains(t, v.LastError, "interrupted")

	v, err = ctrl.Status(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProjectRunning, v.Status)

	assert.Equal(t, 2, alloc.Reserved())
	fresh, err := alloc.Allocate(model.NewID(), []string{"web"})
	require.NoError(t, err)
	assert.Equal(t, 20002, fresh["web"], "recovered ports are not handed out again")
}

func TestClose_RejectsStart(t *testing.T) {
	e := newEnv(t, nil)
	p, err := e.ctrl.Create(context.Background(), request(t, "demo", "blank"))
	require.NoError(t, err)

	e.ctrl.Close()
	require.Error(t, e.ctrl.Start(context.Background(), p.ID))
	assert.Equal(t, model.ProjectStopped, e.status(t, p.ID).Status)
	assert.Empty(t, e.fake.UpCalls())
}

func TestClose_InterruptsStart(t *testing.T) {
	fake := &docker.FakeManager{
		UpFunc: func(ctx context.Context, _ docker.Stack) (*docker.Result, error) {
			<-ctx.Done()
			return &docker.Result{ExitCode: -1}, ctx.Err()
		},
	}
	e := newEnv(t, fake)
	p, err := e.ctrl.Create(context.Background(), request(t, "demo", "blank"))
	require.NoError(t, err)
	require.NoError(t, e.ctrl.Start(context.Background(), p.ID))

	e.ctrl.Close()

	v := e.status(t, p.ID)
	assert.Equal(t, model.ProjectError, v.Status)
	assert.Contains(t, v.LastError, "interrupted")
}
