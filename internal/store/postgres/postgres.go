// Package postgres implements store.Store on PostgreSQL with pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dd-jfranjic/devlauncher-sub001/internal/model"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/store"
)

// Store persists projects, tasks and port allocations in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return New(pool), nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

const projectColumns = `id, name, slug, template, location, path, status, last_error, created_at, updated_at`

// CreateProject inserts the project and its allocations in one transaction.
func (s *Store) CreateProject(ctx context.Context, p *model.Project) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertProject = `INSERT INTO projects (` + projectColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	if _, err := tx.Exec(ctx, insertProject,
		p.ID, p.Name, p.Slug, string(p.Template), string(p.Location), p.Path,
		string(p.Status), p.LastError, p.CreatedAt, p.UpdatedAt,
	); err != nil {
		return mapConflict(err, p)
	}

	const insertAlloc = `INSERT INTO port_allocations (project_id, service_name, port) VALUES ($1, $2, $3)`
	batch := &pgx.Batch{}
	allocs := p.PortAllocations()
	for _, a := range allocs {
		batch.Queue(insertAlloc, a.ProjectID, a.ServiceName, a.Port)
	}
	br := tx.SendBatch(ctx, batch)
	for range allocs {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return mapConflict(err, p)
		}
	}
	if err := br.Close(); err != nil {
		return mapConflict(err, p)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit project: %w", err)
	}
	return nil
}

// mapConflict turns unique violations into *store.ConflictError naming the
// offending field.
func mapConflict(err error, p *model.Project) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		switch pgErr.ConstraintName {
		case "projects_slug_key":
			return &store.ConflictError{Field: "slug", Value: p.Slug}
		case "port_allocations_port_key":
			return &store.ConflictError{Field: "ports", Value: pgErr.Detail}
		case "projects_pkey":
			return &store.ConflictError{Field: "id", Value: p.ID}
		}
	}
	return fmt.Errorf("insert project: %w", err)
}

// GetProject implements store.ProjectStore.
func (s *Store) GetProject(ctx context.Context, id string) (*model.Project, error) {
	const query = `SELECT ` + projectColumns + ` FROM projects WHERE id = $1`
	return s.getProject(ctx, query, id)
}

// GetProjectBySlug implements store.ProjectStore.
func (s *Store) GetProjectBySlug(ctx context.Context, slug string) (*model.Project, error) {
	const query = `SELECT ` + projectColumns + ` FROM projects WHERE slug = $1`
	return s.getProject(ctx, query, slug)
}

func (s *Store) getProject(ctx context.Context, query, key string) (*model.Project, error) {
	p, err := scanProject(s.pool.QueryRow(ctx, query, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.NotFound("project", key)
		}
		return nil, fmt.Errorf("get project: %w", err)
	}

	const ports = `SELECT service_name, port FROM port_allocations WHERE project_id = $1`
	rows, err := s.pool.Query(ctx, ports, p.ID)
	if err != nil {
		return nil, fmt.Errorf("get port allocations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			svc  string
			port int
		)
		if err := rows.Scan(&svc, &port); err != nil {
			return nil, err
		}
		p.Ports[svc] = port
	}
	return p, rows.Err()
}

// ListProjects implements store.ProjectStore.
func (s *Store) ListProjects(ctx context.Context) ([]*model.Project, error) {
	const query = `SELECT ` + projectColumns + ` FROM projects ORDER BY created_at, id`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []*model.Project
	byID := make(map[string]*model.Project)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
		byID[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	allocs, err := s.ListPortAllocations(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range allocs {
		if p, ok := byID[a.ProjectID]; ok {
			p.Ports[a.ServiceName] = a.Port
		}
	}
	return projects, nil
}

// UpdateProjectStatus implements store.ProjectStore.
func (s *Store) UpdateProjectStatus(ctx context.Context, id string, status model.ProjectStatus, lastError string, at time.Time) error {
	const query = `UPDATE projects SET status = $2, last_error = $3, updated_at = $4 WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, id, string(status), lastError, at)
	if err != nil {
		return fmt.Errorf("update project status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.NotFound("project", id)
	}
	return nil
}

// DeleteProject implements store.ProjectStore. Foreign keys cascade to
// tasks and port_allocations.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.NotFound("project", id)
	}
	return nil
}

// ListPortAllocations implements store.ProjectStore.
func (s *Store) ListPortAllocations(ctx context.Context) ([]model.PortAllocation, error) {
	const query = `SELECT project_id, service_name, port FROM port_allocations ORDER BY port`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list port allocations: %w", err)
	}
	defer rows.Close()

	var out []model.PortAllocation
	for rows.Next() {
		var a model.PortAllocation
		if err := rows.Scan(&a.ProjectID, &a.ServiceName, &a.Port); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const taskColumns = `id, project_id, type, status, output, exit_code, error, created_at, started_at, finished_at`

// CreateTask implements store.TaskStore.
func (s *Store) CreateTask(ctx context.Context, t *model.Task) error {
	const query = `INSERT INTO tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := s.pool.Exec(ctx, query,
		t.ID, t.ProjectID, string(t.Type), string(t.Status), t.Output,
		t.ExitCode, t.Error, t.CreatedAt, t.StartedAt, t.FinishedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23503":
				return store.NotFound("project", t.ProjectID)
			case "23505":
				return &store.ConflictError{Field: "id", Value: t.ID}
			}
		}
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetTask implements store.TaskStore.
func (s *Store) GetTask(ctx context.Context, id string) (*model.Task, error) {
	const query = `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	t, err := scanTask(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.NotFound("task", id)
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// UpdateTask implements store.TaskStore.
func (s *Store) UpdateTask(ctx context.Context, t *model.Task) error {
	const query = `UPDATE tasks
		SET status = $2, exit_code = $3, error = $4, started_at = $5, finished_at = $6
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, t.ID, string(t.Status), t.ExitCode, t.Error, t.StartedAt, t.FinishedAt)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.NotFound("task", t.ID)
	}
	return nil
}

// AppendTaskOutput implements store.TaskStore.
func (s *Store) AppendTaskOutput(ctx context.Context, id, chunk string) (int, error) {
	const query = `UPDATE tasks SET output = output || $2 WHERE id = $1 RETURNING octet_length(output)`
	var n int
	if err := s.pool.QueryRow(ctx, query, id, chunk).Scan(&n); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, store.NotFound("task", id)
		}
		return 0, fmt.Errorf("append task output: %w", err)
	}
	return n, nil
}

// ListTasks implements store.TaskStore.
func (s *Store) ListTasks(ctx context.Context, projectID string) ([]*model.Task, error) {
	const query = `SELECT ` + taskColumns + ` FROM tasks WHERE project_id = $1 ORDER BY created_at, id`
	return s.listTasks(ctx, query, projectID)
}

// ListTasksByStatus implements store.TaskStore.
func (s *Store) ListTasksByStatus(ctx context.Context, status model.TaskStatus) ([]*model.Task, error) {
	const query = `SELECT ` + taskColumns + ` FROM tasks WHERE status = $1 ORDER BY created_at, id`
	return s.listTasks(ctx, query, string(status))
}

func (s *Store) listTasks(ctx context.Context, query, arg string) ([]*model.Task, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]*model.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func scanProject(row pgx.Row) (*model.Project, error) {
	var (
		p                          model.Project
		template, location, status string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Slug, &template, &location, &p.Path,
		&status, &p.LastError, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	// Rows written by another version may carry values this build does
	// not know; reject them rather than hand out an invalid enum.
	var err error
	if p.Template, err = model.ParseTemplate(template); err != nil {
		return nil, fmt.Errorf("project %s: %w", p.ID, err)
	}
	if p.Location, err = model.ParseLocation(location); err != nil {
		return nil, fmt.Errorf("project %s: %w", p.ID, err)
	}
	if p.Status, err = model.ParseProjectStatus(status); err != nil {
		return nil, fmt.Errorf("project %s: %w", p.ID, err)
	}
	p.Ports = make(map[string]int)
	return &p, nil
}

func scanTask(row pgx.Row) (*model.Task, error) {
	var (
		t           model.Task
		typ, status string
		exitCode    *int32
	)
	if err := row.Scan(&t.ID, &t.ProjectID, &typ, &status, &t.Output, &exitCode,
		&t.Error, &t.CreatedAt, &t.StartedAt, &t.FinishedAt); err != nil {
		return nil, err
	}
	var err error
	if t.Type, err = model.ParseTaskType(typ); err != nil {
		return nil, fmt.Errorf("task %s: %w", t.ID, err)
	}
	if t.Status, err = model.ParseTaskStatus(status); err != nil {
		return nil, fmt.Errorf("task %s: %w", t.ID, err)
	}
	if exitCode != nil {
		code := int(*exitCode)
		t.ExitCode = &code
	}
	return &t, nil
}
