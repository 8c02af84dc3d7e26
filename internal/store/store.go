// Package store defines the persistence contract of the engine.
//
// Two implementations exist: memory (the single-user default, optionally
// snapshotted to a JSON file) and postgres. Both enforce the same
// uniqueness rules: one project per slug and one project per host port.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dd-jfranjic/devlauncher-sub001/internal/model"
)

// ErrConflict matches any *ConflictError via errors.Is.
var ErrConflict = errors.New("store: conflict")

// ConflictError reports a uniqueness violation. Field is "slug" or
// "ports".
type ConflictError struct {
	Field string
	Value string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("store: %s %q already in use", e.Field, e.Value)
}

// Is lets errors.Is(err, ErrConflict) match.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// NotFound wraps model.ErrNotFound with the kind and id that were missing.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, model.ErrNotFound)
}

// ProjectStore persists projects and their port allocations.
type ProjectStore interface {
	// CreateProject inserts p and one allocation per entry of p.Ports in a
	// single atomic step. A duplicate slug or port returns *ConflictError
	// and persists nothing.
	CreateProject(ctx context.Context, p *model.Project) error
	GetProject(ctx context.Context, id string) (*model.Project, error)
	GetProjectBySlug(ctx context.Context, slug string) (*model.Project, error)

	// ListProjects returns every project ordered by creation time.
	ListProjects(ctx context.Context) ([]*model.Project, error)

	// UpdateProjectStatus sets status, lastError and updatedAt.
	UpdateProjectStatus(ctx context.Context, id string, status model.ProjectStatus, lastError string, at time.Time) error

	// DeleteProject removes the project with its tasks and allocations.
	DeleteProject(ctx context.Context, id string) error

	// ListPortAllocations returns every live allocation.
	ListPortAllocations(ctx context.Context) ([]model.PortAllocation, error)
}

// TaskStore persists tasks and their output.
type TaskStore interface {
	// CreateTask inserts t. The owning project must exist.
	CreateTask(ctx context.Context, t *model.Task) error
	GetTask(ctx context.Context, id string) (*model.Task, error)

	// UpdateTask writes status, exit code, error and timestamps. Output is
	// only ever changed through AppendTaskOutput.
	UpdateTask(ctx context.Context, t *model.Task) error

	// AppendTaskOutput appends chunk to the task's output and returns the
	// output length in bytes after the append.
	AppendTaskOutput(ctx context.Context, id, chunk string) (int, error)

	// ListTasks returns a project's tasks, oldest first.
	ListTasks(ctx context.Context, projectID string) ([]*model.Task, error)

	// ListTasksByStatus returns tasks across projects in the given status,
	// oldest first.
	ListTasksByStatus(ctx context.Context, status model.TaskStatus) ([]*model.Task, error)
}

// Store is the full persistence handle passed to the engine.
type Store interface {
	ProjectStore
	TaskStore
	Close() error
}
