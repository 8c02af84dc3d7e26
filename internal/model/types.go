// All closed sets (project status, template, location, task type, task
// status) are typed string constants with exhaustive switch predicates.

package model

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ProjectStatus represents the lifecycle state of a project's compose stack.
// The state transitions are:
//
//	[Created] → Stopped → Starting → Running
//	                        ↓
//	                      Error → Starting (retry via start)
//	Any state → Stopped (via a successful stop)
type ProjectStatus string

const (
	// ProjectStopped is the initial state. The stack is not running.
	ProjectStopped ProjectStatus = "stopped"

	// ProjectStarting indicates an "up" operation is in flight.
	ProjectStarting ProjectStatus = "starting"

	// ProjectRunning indicates the last "up" operation succeeded.
	ProjectRunning ProjectStatus = "running"

	// ProjectError indicates the last "up" operation failed or timed out.
	// The failure text is kept in Project.LastError.
	ProjectError ProjectStatus = "error"
)

// String returns the string representation of ProjectStatus.
func (s ProjectStatus) String() string {
	return string(s)
}

// IsValid checks whether the ProjectStatus value is one of the
// predefined valid states.
func (s ProjectStatus) IsValid() bool {
	switch s {
	case ProjectStopped, ProjectStarting, ProjectRunning, ProjectError:
		return true
	default:
		return false
	}
}

// IsActive reports whether the stack is coming up or already up. Start
// requests in an active state are rejected with ErrAlreadyInState and
// deletes with ErrInvalidState.
func (s ProjectStatus) IsActive() bool {
	return s == ProjectStarting || s == ProjectRunning
}

// ParseProjectStatus converts a string to a ProjectStatus.
func ParseProjectStatus(s string) (ProjectStatus, error) {
	status := ProjectStatus(strings.ToLower(s))
	if !status.IsValid() {
		return "", fmt.Errorf("invalid project status: %q (valid: stopped, starting, running, error)", s)
	}
	return status, nil
}

// Template identifies the scaffold a project was created from. The template
// decides which compose services exist and therefore which ports must be
// allocated.
type Template string

const (
	// TemplateBlank is a single web service.
	TemplateBlank Template = "blank"

	// TemplateFrameworkApp is an application framework stack (web, db, mail).
	TemplateFrameworkApp Template = "framework-app"

	// TemplateCMSApp is a content management stack (web, db, adminer).
	TemplateCMSApp Template = "cms-app"
)

// String returns the string representation of Template.
func (t Template) String() string {
	return string(t)
}

// IsValid checks whether the Template value is one of the known templates.
func (t Template) IsValid() bool {
	switch t {
	case TemplateBlank, TemplateFrameworkApp, TemplateCMSApp:
		return true
	default:
		return false
	}
}

// ParseTemplate converts a string to a Template.
func ParseTemplate(s string) (Template, error) {
	t := Template(strings.ToLower(s))
	if !t.IsValid() {
		return "", fmt.Errorf("invalid template: %q (valid: blank, framework-app, cms-app)", s)
	}
	return t, nil
}

// Location describes where the project files live. It only affects path
// semantics, never orchestration.
type Location string

const (
	// LocationNativeFS keeps files on the host filesystem.
	LocationNativeFS Location = "native-fs"

	// LocationVMFS keeps files inside the container engine's VM filesystem.
	LocationVMFS Location = "vm-fs"
)

// String returns the string representation of Location.
func (l Location) String() string {
	return string(l)
}

// IsValid checks whether the Location value is one of the known locations.
func (l Location) IsValid() bool {
	switch l {
	case LocationNativeFS, LocationVMFS:
		return true
	default:
		return false
	}
}

// ParseLocation converts a string to a Location.
func ParseLocation(s string) (Location, error) {
	l := Location(strings.ToLower(s))
	if !l.IsValid() {
		return "", fmt.Errorf("invalid location: %q (valid: native-fs, vm-fs)", s)
	}
	return l, nil
}

// TaskType is the closed set of background operations a project can queue.
type TaskType string

const (
	// TaskInstallToolA installs the first developer tool inside the stack.
	TaskInstallToolA TaskType = "install-tool-a"

	// TaskInstallToolB installs the second developer tool inside the stack.
	TaskInstallToolB TaskType = "install-tool-b"

	// TaskSmokeTest probes the running stack.
	TaskSmokeTest TaskType = "smoke-test"
)

// TaskTypes lists every task type in a stable order.
func TaskTypes() []TaskType {
	return []TaskType{TaskInstallToolA, TaskInstallToolB, TaskSmokeTest}
}

// String returns the string representation of TaskType.
func (t TaskType) String() string {
	return string(t)
}

// IsValid checks whether the TaskType value is one of the known task types.
func (t TaskType) IsValid() bool {
	switch t {
	case TaskInstallToolA, TaskInstallToolB, TaskSmokeTest:
		return true
	default:
		return false
	}
}

// ParseTaskType converts a string to a TaskType.
func ParseTaskType(s string) (TaskType, error) {
	t := TaskType(strings.ToLower(s))
	if !t.IsValid() {
		return "", fmt.Errorf("invalid task type: %q (valid: install-tool-a, install-tool-b, smoke-test)", s)
	}
	return t, nil
}

// TaskStatus represents the state of a queued background task.
//
//	Queued → Running → Success | Failed
//
// Success and Failed are terminal. Failed tasks are never retried
// automatically; callers enqueue a new task of the same type instead.
type TaskStatus string

const (
	TaskQueued  TaskStatus = "queued"
	TaskRunning TaskStatus = "running"
	TaskSuccess TaskStatus = "success"
	TaskFailed  TaskStatus = "failed"
)

// String returns the string representation of TaskStatus.
func (s TaskStatus) String() string {
	return string(s)
}

// IsValid checks whether the TaskStatus value is one of the defined states.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskQueued, TaskRunning, TaskSuccess, TaskFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions are possible.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskSuccess, TaskFailed:
		return true
	case TaskQueued, TaskRunning:
		return false
	default:
		return false
	}
}

// ParseTaskStatus converts a string to a TaskStatus.
func ParseTaskStatus(s string) (TaskStatus, error) {
	status := TaskStatus(strings.ToLower(s))
	if !status.IsValid() {
		return "", fmt.Errorf("invalid task status: %q (valid: queued, running, success, failed)", s)
	}
	return status, nil
}

// Project is a development environment backed by a compose stack. This is
// the primary aggregate entity in the domain.
type Project struct {
	// ID is the opaque, immutable identifier.
	ID string `json:"id"`

	// Name is the display name.
	Name string `json:"name"`

	// Slug is unique across all projects and doubles as the compose
	// project name, so it namespaces containers, networks and volumes.
	Slug string `json:"slug"`

	Template Template `json:"template"`
	Location Location `json:"location"`

	// Path is the absolute directory holding the project's compose file.
	Path string `json:"path"`

	// Ports maps a logical service name to its allocated host port.
	Ports map[string]int `json:"ports"`

	// Status is written only by the lifecycle controller.
	Status ProjectStatus `json:"status"`

	// LastError holds the cause of the most recent failed lifecycle
	// operation, including captured process output when available.
	LastError string `json:"lastError,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PortAllocations flattens Ports into allocation records sorted by service
// name, the shape the store persists.
func (p *Project) PortAllocations() []PortAllocation {
	allocs := make([]PortAllocation, 0, len(p.Ports))
	for svc, port := range p.Ports {
		allocs = append(allocs, PortAllocation{ProjectID: p.ID, ServiceName: svc, Port: port})
	}
	sort.Slice(allocs, func(i, j int) bool { return allocs[i].ServiceName < allocs[j].ServiceName })
	return allocs
}

// Clone returns a deep copy so callers can hand out snapshots without
// sharing the Ports map.
func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Ports = make(map[string]int, len(p.Ports))
	for k, v := range p.Ports {
		cp.Ports[k] = v
	}
	return &cp
}

// Task is a one-shot background operation scoped to a project.
type Task struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"projectId"`
	Type      TaskType   `json:"type"`
	Status    TaskStatus `json:"status"`

	// Output is the combined stdout/stderr log. It is append-only.
	Output string `json:"output"`

	// ExitCode is nil until the process has exited.
	ExitCode *int `json:"exitCode,omitempty"`

	// Error describes why the task failed (spawn error, timeout, non-zero exit).
	Error string `json:"error,omitempty"`

	CreatedAt  time.Time  `json:"createdAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// Clone returns a copy of the task with its pointer fields detached.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	if t.ExitCode != nil {
		code := *t.ExitCode
		cp.ExitCode = &code
	}
	if t.StartedAt != nil {
		at := *t.StartedAt
		cp.StartedAt = &at
	}
	if t.FinishedAt != nil {
		at := *t.FinishedAt
		cp.FinishedAt = &at
	}
	return &cp
}

// PortAllocation is a durable reservation binding a project's logical
// service name to a concrete host port. Port is unique across all live
// allocations.
type PortAllocation struct {
	ProjectID   string `json:"projectId"`
	ServiceName string `json:"serviceName"`
	Port        int    `json:"port"`
}

// String returns a human-readable representation of the port allocation.
// Format: "service → port"
func (p PortAllocation) String() string {
	return fmt.Sprintf("%s → %d", p.ServiceName, p.Port)
}

// NewID returns a fresh opaque identifier for projects and tasks.
func NewID() string {
	return uuid.NewString()
}

// ExitCode defines the CLI exit codes. These codes allow scripts to
// distinguish failure classes without parsing messages.
type ExitCode int

const (
	// ExitSuccess indicates the command completed successfully.
	ExitSuccess ExitCode = 0

	// ExitGeneralError indicates an unspecified error occurred.
	ExitGeneralError ExitCode = 1

	// ExitValidation indicates the request failed input validation.
	ExitValidation ExitCode = 2

	// ExitDockerNotRunning indicates the Docker daemon or binary is not
	// usable.
	ExitDockerNotRunning ExitCode = 3

	// ExitPortAllocationFailed indicates no free port was left in range.
	ExitPortAllocationFailed ExitCode = 4

	// ExitOperationFailed indicates an asynchronous operation ended in a
	// failure state (project error, task failed).
	ExitOperationFailed ExitCode = 5

	// ExitNotFound indicates the referenced project or task does not exist.
	ExitNotFound ExitCode = 6

	// ExitUserCancelled indicates the user interrupted the command.
	ExitUserCancelled ExitCode = 7

	// ExitAlreadyInState indicates a lifecycle request was a no-op.
	ExitAlreadyInState ExitCode = 8

	// ExitTimeout indicates an operation exceeded its ceiling.
	ExitTimeout ExitCode = 9
)

// CLIError is a custom error type that carries an exit code.
// This allows the CLI layer to translate domain errors into
// appropriate process exit codes.
type CLIError struct {
	// Code is the exit code to return to the OS.
	Code ExitCode

	// Message is the human-readable error description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error satisfies the error interface. It returns the human-readable
// error message, optionally including the underlying error.
func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewCLIError creates a new CLIError with the given exit code and message.
func NewCLIError(code ExitCode, message string) *CLIError {
	return &CLIError{Code: code, Message: message}
}

// WrapCLIError creates a new CLIError that wraps an existing error.
func WrapCLIError(code ExitCode, message string, err error) *CLIError {
	return &CLIError{Code: code, Message: message, Err: err}
}
