// Package storetest is a behavioural test suite shared by every
// store.Store implementation.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd-jfranjic/devlauncher-sub001/internal/model"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/store"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) store.Store

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// NewProject builds a valid stopped project with the given slug and ports.
func NewProject(slug string, ports map[string]int) *model.Project {
	return &model.Project{
		ID:        model.NewID(),
		Name:      slug,
		Slug:      slug,
		Template:  model.TemplateBlank,
		Location:  model.LocationNativeFS,
		Path:      "/srv/" + slug,
		Ports:     ports,
		Status:    model.ProjectStopped,
		CreatedAt: base,
		UpdatedAt: base,
	}
}

// NewTask builds a queued task for projectID.
func NewTask(projectID string, typ model.TaskType, offset time.Duration) *model.Task {
	return &model.Task{
		ID:        model.NewID(),
		ProjectID: projectID,
		Type:      typ,
		Status:    model.TaskQueued,
		CreatedAt: base.Add(offset),
	}
}

// Run executes the whole suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("create and get project", func(t *testing.T) { testCreateGet(t, newStore(t)) })
	t.Run("duplicate slug", func(t *testing.T) { testDuplicateSlug(t, newStore(t)) })
	t.Run("duplicate port", func(t *testing.T) { testDuplicatePort(t, newStore(t)) })
	t.Run("list projects ordered", func(t *testing.T) { testListProjects(t, newStore(t)) })
	t.Run("update status", func(t *testing.T) { testUpdateStatus(t, newStore(t)) })
	t.Run("delete cascades", func(t *testing.T) { testDeleteCascades(t, newStore(t)) })
	t.Run("not found", func(t *testing.T) { testNotFound(t, newStore(t)) })
	t.Run("task lifecycle", func(t *testing.T) { testTaskLifecycle(t, newStore(t)) })
	t.Run("tasks by status", func(t *testing.T) { testTasksByStatus(t, newStore(t)) })
}

func testCreateGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := NewProject("shop", map[string]int{"web": 20000, "db": 20001})
	require.NoError(t, s.CreateProject(ctx, p))

	got, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Slug, got.Slug)
	assert.Equal(t, p.Ports, got.Ports)
	assert.Equal(t, model.ProjectStopped, got.Status)
	assert.True(t, p.CreatedAt.Equal(got.CreatedAt))

	bySlug, err := s.GetProjectBySlug(ctx, "shop")
	require.NoError(t, err)
	assert.Equal(t, p.ID, bySlug.ID)

	allocs, err := s.ListPortAllocations(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, p.PortAllocations(), allocs)
}

func testDuplicateSlug(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateProject(ctx, NewProject("shop", map[string]int{"web": 20000})))

	err := s.CreateProject(ctx, NewProject("shop", map[string]int{"web": 20001}))
	require.Error(t, err)
	var conflict *store.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "slug", conflict.Field)

	projects, err := s.ListProjects(ctx)
	require.NoError(t, err)
	assert.Len(t, projects, 1, "no second row may be persisted")

	allocs, err := s.ListPortAllocations(ctx)
	require.NoError(t, err)
	assert.Len(t, allocs, 1, "rejected project must not leave allocations")
}

func testDuplicatePort(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateProject(ctx, NewProject("a", map[string]int{"web": 20000})))

	err := s.CreateProject(ctx, NewProject("b", map[string]int{"web": 20001, "db": 20000}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrConflict))
	var conflict *store.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "ports", conflict.Field)

	_, err = s.GetProjectBySlug(ctx, "b")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func testListProjects(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		p := NewProject(fmt.Sprintf("p%d", i), map[string]int{"web": 20000 + i})
		p.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, s.CreateProject(ctx, p))
	}

	projects, err := s.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 3)
	for i, p := range projects {
		assert.Equal(t, fmt.Sprintf("p%d", i), p.Slug)
		assert.Equal(t, map[string]int{"web": 20000 + i}, p.Ports)
	}
}

func testUpdateStatus(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := NewProject("shop", map[string]int{"web": 20000})
	require.NoError(t, s.CreateProject(ctx, p))

	later := base.Add(time.Minute)
	require.NoError(t, s.UpdateProjectStatus(ctx, p.ID, model.ProjectError, "up failed", later))

	got, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProjectError, got.Status)
	assert.Equal(t, "up failed", got.LastError)
	assert.True(t, later.Equal(got.UpdatedAt))
}

func testDeleteCascades(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := NewProject("shop", map[string]int{"web": 20000})
	keep := NewProject("keep", map[string]int{"web": 20001})
	require.NoError(t, s.CreateProject(ctx, p))
	require.NoError(t, s.CreateProject(ctx, keep))

	task := NewTask(p.ID, model.TaskSmokeTest, 0)
	require.NoError(t, s.CreateTask(ctx, task))

	require.NoError(t, s.DeleteProject(ctx, p.ID))

	_, err := s.GetTask(ctx, task.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)

	allocs, err := s.ListPortAllocations(ctx)
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	assert.Equal(t, keep.ID, allocs[0].ProjectID)

	// The freed port and slug can be reused.
	require.NoError(t, s.CreateProject(ctx, NewProject("shop", map[string]int{"web": 20000})))
}

func testNotFound(t *testing.T, s store.Store) {
	ctx := context.Background()
	missing := model.NewID()

	_, err := s.GetProject(ctx, missing)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.ErrorIs(t, s.UpdateProjectStatus(ctx, missing, model.ProjectRunning, "", base), model.ErrNotFound)
	assert.ErrorIs(t, s.DeleteProject(ctx, missing), model.ErrNotFound)

	_, err = s.GetTask(ctx, missing)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.ErrorIs(t, s.CreateTask(ctx, NewTask(missing, model.TaskSmokeTest, 0)), model.ErrNotFound)
	_, err = s.AppendTaskOutput(ctx, missing, "x")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func testTaskLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := NewProject("shop", map[string]int{"web": 20000})
	require.NoError(t, s.CreateProject(ctx, p))

	task := NewTask(p.ID, model.TaskInstallToolA, 0)
	require.NoError(t, s.CreateTask(ctx, task))

	n, err := s.AppendTaskOutput(ctx, task.ID, "line 1\n")
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	n, err = s.AppendTaskOutput(ctx, task.ID, "line 2\n")
	require.NoError(t, err)
	assert.Equal(t, 14, n)

	code := 0
	started := base.Add(time.Second)
	finished := base.Add(2 * time.Second)
	task.Status = model.TaskSuccess
	task.ExitCode = &code
	task.StartedAt = &started
	task.FinishedAt = &finished
	task.Output = "" // output is not written by UpdateTask
	require.NoError(t, s.UpdateTask(ctx, task))

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskSuccess, got.Status)
	assert.Equal(t, "line 1\nline 2\n", got.Output)
	require.NotNil(t, got.ExitCode)
	assert.Equal(t, 0, *got.ExitCode)
	require.NotNil(t, got.FinishedAt)
	assert.True(t, finished.Equal(*got.FinishedAt))
}

func testTasksByStatus(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := NewProject("shop", map[string]int{"web": 20000})
	require.NoError(t, s.CreateProject(ctx, p))

	first := NewTask(p.ID, model.TaskInstallToolA, 0)
	second := NewTask(p.ID, model.TaskInstallToolB, time.Second)
	third := NewTask(p.ID, model.TaskSmokeTest, 2*time.Second)
	for _, task := range []*model.Task{first, second, third} {
		require.NoError(t, s.CreateTask(ctx, task))
	}
	second.Status = model.TaskRunning
	require.NoError(t, s.UpdateTask(ctx, second))

	queued, err := s.ListTasksByStatus(ctx, model.TaskQueued)
	require.NoError(t, err)
	require.Len(t, queued, 2)
	assert.Equal(t, first.ID, queued[0].ID)
	assert.Equal(t, third.ID, queued[1].ID)

	all, err := s.ListTasks(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{first.ID, second.ID, third.ID}, []string{all[0].ID, all[1].ID, all[2].ID})
}
