// Package memory is the in-process Store. When given a snapshot path it
// persists its state as a JSON file, which makes it the default backend
// for single-user installs.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/dd-jfranjic/devlauncher-sub001/internal/model"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/store"
)

// Store keeps projects and tasks in maps guarded by one mutex.
//
// Task output appends only mark the snapshot dirty; it is written with the
// next structural change (task status update, project change) or on Close.
// A crash therefore loses at most the output tail of running tasks, which
// recovery marks failed anyway.
type Store struct {
	mu       sync.RWMutex
	path     string
	projects map[string]*model.Project
	tasks    map[string]*model.Task
	seq      map[string]uint64
	next     uint64
	dirty    bool
}

var _ store.Store = (*Store)(nil)

// snapshot is the on-disk JSON layout.
type snapshot struct {
	Version  int              `json:"version"`
	Projects []*model.Project `json:"projects"`
	Tasks    []*model.Task    `json:"tasks"`
}

const snapshotVersion = 1

// New returns an empty Store that never touches disk.
func New() *Store {
	return &Store{
		projects: make(map[string]*model.Project),
		tasks:    make(map[string]*model.Task),
		seq:      make(map[string]uint64),
	}
}

// Open returns a Store backed by the snapshot file at path, loading it if
// it exists.
func Open(path string) (*Store, error) {
	s := New()
	s.path = path

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse state file %s: %w", path, err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("state file %s: unsupported version %d", path, snap.Version)
	}
	for _, p := range snap.Projects {
		if p.Ports == nil {
			p.Ports = map[string]int{}
		}
		s.projects[p.ID] = p
		s.seq[p.ID] = s.bump()
	}
	for _, t := range snap.Tasks {
		s.tasks[t.ID] = t
		s.seq[t.ID] = s.bump()
	}
	return s, nil
}

// Close flushes pending output to the snapshot file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	return s.persistLocked()
}

func (s *Store) bump() uint64 {
	s.next++
	return s.next
}

// CreateProject implements store.ProjectStore.
func (s *Store) CreateProject(_ context.Context, p *model.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[p.ID]; ok {
		return &store.ConflictError{Field: "id", Value: p.ID}
	}
	for _, other := range s.projects {
		if other.Slug == p.Slug {
			return &store.ConflictError{Field: "slug", Value: p.Slug}
		}
	}
	if err := model.ValidatePortAllocations(p.PortAllocations()); err != nil {
		return &store.ConflictError{Field: "ports", Value: err.Error()}
	}
	for _, other := range s.projects {
		for _, port := range other.Ports {
			for _, mine := range p.Ports {
				if port == mine {
					return &store.ConflictError{Field: "ports", Value: strconv.Itoa(port)}
				}
			}
		}
	}

	s.projects[p.ID] = p.Clone()
	s.seq[p.ID] = s.bump()
	if err := s.persistLocked(); err != nil {
		delete(s.projects, p.ID)
		delete(s.seq, p.ID)
		return err
	}
	return nil
}

// GetProject implements store.ProjectStore.
func (s *Store) GetProject(_ context.Context, id string) (*model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[id]
	if !ok {
		return nil, store.NotFound("project", id)
	}
	return p.Clone(), nil
}

// GetProjectBySlug implements store.ProjectStore.
func (s *Store) GetProjectBySlug(_ context.Context, slug string) (*model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.projects {
		if p.Slug == slug {
			return p.Clone(), nil
		}
	}
	return nil, store.NotFound("project", slug)
}

// ListProjects implements store.ProjectStore.
func (s *Store) ListProjects(_ context.Context) ([]*model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return s.seq[out[i].ID] < s.seq[out[j].ID] })
	return out, nil
}

// UpdateProjectStatus implements store.ProjectStore.
func (s *Store) UpdateProjectStatus(_ context.Context, id string, status model.ProjectStatus, lastError string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[id]
	if !ok {
		return store.NotFound("project", id)
	}
	prev := *p
	p.Status = status
	p.LastError = lastError
	p.UpdatedAt = at
	if err := s.persistLocked(); err != nil {
		*p = prev
		return err
	}
	return nil
}

// DeleteProject implements store.ProjectStore. Tasks and allocations go
// with the project.
func (s *Store) DeleteProject(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[id]
	if !ok {
		return store.NotFound("project", id)
	}
	removed := map[string]*model.Task{}
	for tid, t := range s.tasks {
		if t.ProjectID == id {
			removed[tid] = t
		}
	}
	seqs := map[string]uint64{id: s.seq[id]}
	for tid := range removed {
		seqs[tid] = s.seq[tid]
	}

	delete(s.projects, id)
	for tid := range removed {
		delete(s.tasks, tid)
	}
	for key := range seqs {
		delete(s.seq, key)
	}

	if err := s.persistLocked(); err != nil {
		s.projects[id] = p
		for tid, t := range removed {
			s.tasks[tid] = t
		}
		for key, n := range seqs {
			s.seq[key] = n
		}
		return err
	}
	return nil
}

// ListPortAllocations implements store.ProjectStore.
func (s *Store) ListPortAllocations(_ context.Context) ([]model.PortAllocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.PortAllocation
	for _, p := range s.projects {
		out = append(out, p.PortAllocations()...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out, nil
}

// CreateTask implements store.TaskStore.
func (s *Store) CreateTask(_ context.Context, t *model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[t.ProjectID]; !ok {
		return store.NotFound("project", t.ProjectID)
	}
	if _, ok := s.tasks[t.ID]; ok {
		return &store.ConflictError{Field: "id", Value: t.ID}
	}
	s.tasks[t.ID] = t.Clone()
	s.seq[t.ID] = s.bump()
	if err := s.persistLocked(); err != nil {
		delete(s.tasks, t.ID)
		delete(s.seq, t.ID)
		return err
	}
	return nil
}

// GetTask implements store.TaskStore.
func (s *Store) GetTask(_ context.Context, id string) (*model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, store.NotFound("task", id)
	}
	return t.Clone(), nil
}

// UpdateTask implements store.TaskStore.
func (s *Store) UpdateTask(_ context.Context, t *model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.tasks[t.ID]
	if !ok {
		return store.NotFound("task", t.ID)
	}
	updated := t.Clone()
	updated.Output = cur.Output
	s.tasks[t.ID] = updated
	if err := s.persistLocked(); err != nil {
		s.tasks[t.ID] = cur
		return err
	}
	return nil
}

// AppendTaskOutput implements store.TaskStore.
func (s *Store) AppendTaskOutput(_ context.Context, id, chunk string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return 0, store.NotFound("task", id)
	}
	t.Output += chunk
	s.dirty = true
	return len(t.Output), nil
}

// ListTasks implements store.TaskStore.
func (s *Store) ListTasks(_ context.Context, projectID string) ([]*model.Task, error) {
	return s.filterTasks(func(t *model.Task) bool { return t.ProjectID == projectID }), nil
}

// ListTasksByStatus implements store.TaskStore.
func (s *Store) ListTasksByStatus(_ context.Context, status model.TaskStatus) ([]*model.Task, error) {
	return s.filterTasks(func(t *model.Task) bool { return t.Status == status }), nil
}

func (s *Store) filterTasks(keep func(*model.Task) bool) []*model.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Task, 0)
	for _, t := range s.tasks {
		if keep(t) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.seq[out[i].ID] < s.seq[out[j].ID] })
	return out
}

// persistLocked writes the snapshot atomically: a temp file in the same
// directory is renamed over the target. Callers hold s.mu.
func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}

	snap := snapshot{Version: snapshotVersion}
	for _, p := range s.projects {
		snap.Projects = append(snap.Projects, p)
	}
	for _, t := range s.tasks {
		snap.Tasks = append(snap.Tasks, t)
	}
	sort.Slice(snap.Projects, func(i, j int) bool { return s.seq[snap.Projects[i].ID] < s.seq[snap.Projects[j].ID] })
	sort.Slice(snap.Tasks, func(i, j int) bool { return s.seq[snap.Tasks[i].ID] < s.seq[snap.Tasks[j].ID] })

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace state file: %w", err)
	}
	s.dirty = false
	return nil
}
