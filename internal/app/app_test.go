package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd-jfranjic/devlauncher-sub001/internal/config"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/docker"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/logging"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/model"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/port"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/store/memory"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/store/storetest"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		StateDir: t.TempDir(),
		Ports:    config.PortsConfig{Start: 20000, End: 30000, Host: "127.0.0.1"},
		Docker:   config.DockerConfig{Binary: "docker", UpTimeout: time.Minute, DownTimeout: time.Minute},
		Tasks:    config.TasksConfig{Timeout: time.Minute},
		HTTP:     config.HTTPConfig{Addr: "127.0.0.1:0"},
		Log:      config.LogConfig{Level: "info", Format: "text"},
	}
}

func testOptions(fake *docker.FakeManager) Options {
	return Options{
		Manager: fake,
		Prober:  port.ProberFunc(func(int) bool { return true }),
	}
}

func newEngine(t *testing.T, cfg *config.Config, fake *docker.FakeManager) *Engine {
	t.Helper()
	e, err := New(context.Background(), cfg, logging.Discard(), testOptions(fake))
	require.NoError(t, err)
	return e
}

func createProject(t *testing.T, e *Engine, slug string) *model.Project {
	t.Helper()
	p, err := e.Projects.Create(context.Background(), model.CreateRequest{
		Name: slug, Slug: slug, Template: "framework-app", Location: "native-fs",
		Path: filepath.Join(t.TempDir(), slug),
	})
	require.NoError(t, err)
	return p
}

// TestEngine_StateSurvivesRestart reopens the file store and checks that
// projects and their port reservations come back.
func TestEngine_StateSurvivesRestart(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	first := newEngine(t, cfg, &docker.FakeManager{})
	p := createProject(t, first, "shop")
	require.NoError(t, first.Projects.Start(ctx, p.ID))
	first.Projects.Wait()
	first.Close()

	second := newEngine(t, cfg, &docker.FakeManager{})
	defer second.Close()

	got, err := second.Projects.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProjectRunning, got.Status)
	assert.Equal(t, p.Ports, got.Ports)
	assert.Equal(t, 3, second.Ports.Reserved())

	other := createProject(t, second, "blog")
	for svc, port := range other.Ports {
		for _, taken := range p.Ports {
			assert.NotEqual(t, taken, port, "service %s reused a reserved port", svc)
		}
	}
}

func TestEngine_RecoversInterruptedStart(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	s, err := memory.Open(cfg.StatePath())
	require.NoError(t, err)
	p := storetest.NewProject("shop", map[string]int{"web": 20000})
	p.Status = model.ProjectStarting
	require.NoError(t, s.CreateProject(ctx, p))
	require.NoError(t, s.Close())

	e := newEngine(t, cfg, &docker.FakeManager{})
	defer e.Close()

	got, err := e.Projects.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProjectError, got.Status)
	assert.Contains(t, got.LastError, "interrupted")
}

func TestEngine_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Ports.Start = 0

	_, err := New(context.Background(), cfg, logging.Discard(), testOptions(&docker.FakeManager{}))
	var cliErr *model.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, model.ExitValidation, cliErr.Code)
}

func TestEngine_MissingTemplateManifest(t *testing.T) {
	cfg := testConfig(t)
	cfg.Templates.File = filepath.Join(t.TempDir(), "templates.jsonc")

	_, err := New(context.Background(), cfg, logging.Discard(), testOptions(&docker.FakeManager{}))
	var cliErr *model.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, model.ExitValidation, cliErr.Code)
}

func TestEngine_TaskCommandOverride(t *testing.T) {
	cfg := testConfig(t)
	cfg.Tasks.Commands = map[string]config.CommandConfig{
		"smoke-test": {Command: "healthcheck", Args: []string{"${port.web}"}},
	}
	fake := &docker.FakeManager{}
	e := newEngine(t, cfg, fake)
	defer e.Close()

	p := createProject(t, e, "shop")
	tk, err := e.Tasks.Enqueue(context.Background(), p.ID, model.TaskSmokeTest)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := e.Tasks.GetTask(context.Background(), tk.ID)
		return err == nil && got.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)

	calls := fake.ExecuteCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "healthcheck", calls[0].Command)
	assert.Len(t, calls[0].Args, 1)
	assert.NotContains(t, calls[0].Args[0], "${")
}

func TestEngine_FollowUpTasks(t *testing.T) {
	cfg := testConfig(t)
	cfg.Tasks.FollowUp = []string{"smoke-test"}
	fake := &docker.FakeManager{}
	e := newEngine(t, cfg, fake)
	defer e.Close()

	p := createProject(t, e, "shop")
	require.NoError(t, e.Projects.Start(context.Background(), p.ID))

	require.Eventually(t, func() bool {
		tasks, err := e.Tasks.ListTasks(context.Background(), p.ID)
		return err == nil && len(tasks) == 1 && tasks[0].Type == model.TaskSmokeTest
	}, 5*time.Second, 10*time.Millisecond)
}

func TestEngine_HealthChecks(t *testing.T) {
	e := newEngine(t, testConfig(t), &docker.FakeManager{})
	defer e.Close()

	checks := e.HealthChecks()
	require.Contains(t, checks, "store")
	assert.NotContains(t, checks, "docker", "no engine API client with an injected manager")
	assert.NoError(t, checks["store"](context.Background()))

	_, err := e.Orphans(context.Background())
	assert.Error(t, err)
}

func TestFindOrphans(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	known := storetest.NewProject("shop", map[string]int{"web": 20000})
	require.NoError(t, s.CreateProject(ctx, known))

	gone := storetest.NewProject("old", map[string]int{"web": 20001, "db": 20002})

	containers := []docker.ServiceState{
		{Name: "shop-web-1", Service: "web", Labels: docker.BuildLabels(known)},
		{Name: "old-web-1", Service: "web", Labels: docker.BuildLabels(gone)},
		{Name: "old-db-1", Service: "db", Labels: docker.BuildLabels(gone)},
		{Name: "stray", Labels: map[string]string{docker.LabelManagedBy: docker.ManagedByValue}},
	}

	orphans, err := findOrphans(ctx, s, containers, logging.Discard())
	require.NoError(t, err)
	require.Len(t, orphans, 2)
	assert.Equal(t, "old-db-1", orphans[0].Name)
	assert.Equal(t, "old-web-1", orphans[1].Name)
	for _, o := range orphans {
		assert.Equal(t, gone.ID, o.ProjectID)
		assert.Equal(t, "old", o.Slug)
	}
}

type brokenStore struct {
	*memory.Store
}

func (brokenStore) GetProject(context.Context, string) (*model.Project, error) {
	return nil, errors.New("connection reset")
}

func TestFindOrphans_StoreError(t *testing.T) {
	p := storetest.NewProject("shop", nil)
	containers := []docker.ServiceState{{Name: "shop-web-1", Labels: docker.BuildLabels(p)}}

	_, err := findOrphans(context.Background(), brokenStore{memory.New()}, containers, logging.Discard())
	assert.EqualError(t, err, "connection reset")
}
