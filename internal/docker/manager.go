package docker

import (
	"context"
	"io"
	"time"
)

// Stack identifies one compose stack on disk.
type Stack struct {
	// ProjectName is passed as `--project-name`; it namespaces containers,
	// networks and volumes. devlauncher uses the project slug.
	ProjectName string

	// Dir is the directory holding the compose file. Commands run here.
	Dir string

	// Files lists compose files relative to Dir. Empty means compose's own
	// default lookup (docker-compose.yml / compose.yaml).
	Files []string
}

// ExecSpec describes a one-shot process run by Execute.
type ExecSpec struct {
	Command string
	Args    []string
	Dir     string
	Env     map[string]string

	// Timeout bounds the run. Zero means no ceiling beyond ctx.
	Timeout time.Duration
}

// Result is the outcome of a finished process. Success is true only for a
// clean exit 0. ExitCode is -1 when the process never started or was
// killed by a signal.
type Result struct {
	Success  bool
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	Command  string
}

// Stream names the output stream a line came from.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Sink receives process output one line at a time, in the order lines
// were read. Calls are serialized.
type Sink func(stream Stream, line string)

// LogsOptions controls Logs.
type LogsOptions struct {
	Follow bool
	Tail   int
}

// ServiceState is the observed state of one container of a stack.
type ServiceState struct {
	Service     string `json:"service"`
	ContainerID string `json:"containerId"`
	Name        string `json:"name"`
	State       string `json:"state"`
	Status      string `json:"status"`

	Labels map[string]string `json:"labels,omitempty"`
}

// Manager is the contract the engine depends on. Up, Down and Execute
// return a *Result even when they fail, together with one of
// *model.ProcessSpawnError, *model.ProcessExitError or *model.TimeoutError.
type Manager interface {
	Up(ctx context.Context, stack Stack) (*Result, error)
	Down(ctx context.Context, stack Stack) (*Result, error)
	Status(ctx context.Context, stack Stack) ([]ServiceState, error)
	Logs(ctx context.Context, stack Stack, opts LogsOptions, w io.Writer) error
	Execute(ctx context.Context, spec ExecSpec, sink Sink) (*Result, error)
}
