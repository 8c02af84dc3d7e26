package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dd-jfranjic/devlauncher-sub001/internal/model"
)

const (
	// DefaultUpTimeout bounds `compose up`. Image pulls dominate this.
	DefaultUpTimeout = 10 * time.Minute

	// DefaultDownTimeout bounds `compose down`.
	DefaultDownTimeout = 2 * time.Minute

	// waitDelay is how long Wait keeps draining pipes after the process
	// group was killed before giving up on them.
	waitDelay = 2 * time.Second
)

// ContainerLister lists the containers of a compose project. *Client
// implements it through the Engine API.
type ContainerLister interface {
	ListStackContainers(ctx context.Context, projectName string) ([]ServiceState, error)
}

// ComposeConfig configures a ComposeManager.
type ComposeConfig struct {
	// Binary is the docker executable, "docker" by default.
	Binary      string
	UpTimeout   time.Duration
	DownTimeout time.Duration
}

// ComposeManager implements Manager with the docker compose CLI.
type ComposeManager struct {
	cfg        ComposeConfig
	containers ContainerLister
	logger     *slog.Logger
}

var _ Manager = (*ComposeManager)(nil)

// NewComposeManager creates a ComposeManager. containers may be nil when
// the Engine API is unreachable; Status then reports an error while the
// CLI-backed operations keep working.
func NewComposeManager(cfg ComposeConfig, containers ContainerLister, logger *slog.Logger) *ComposeManager {
	if cfg.Binary == "" {
		cfg.Binary = "docker"
	}
	if cfg.UpTimeout <= 0 {
		cfg.UpTimeout = DefaultUpTimeout
	}
	if cfg.DownTimeout <= 0 {
		cfg.DownTimeout = DefaultDownTimeout
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ComposeManager{
		cfg:        cfg,
		containers: containers,
		logger:     logger.With("component", "docker"),
	}
}

// Up runs `docker compose up -d` for the stack.
func (m *ComposeManager) Up(ctx context.Context, stack Stack) (*Result, error) {
	args := append(composeArgs(stack), "up", "-d", "--remove-orphans")
	return m.run(ctx, ExecSpec{
		Command: m.cfg.Binary,
		Args:    args,
		Dir:     stack.Dir,
		Timeout: m.cfg.UpTimeout,
	}, nil)
}

// Down runs `docker compose down` for the stack. Volumes are kept.
func (m *ComposeManager) Down(ctx context.Context, stack Stack) (*Result, error) {
	args := append(composeArgs(stack), "down", "--remove-orphans")
	return m.run(ctx, ExecSpec{
		Command: m.cfg.Binary,
		Args:    args,
		Dir:     stack.Dir,
		Timeout: m.cfg.DownTimeout,
	}, nil)
}

// Status lists the stack's containers via the Engine API, sorted by
// service name.
func (m *ComposeManager) Status(ctx context.Context, stack Stack) ([]ServiceState, error) {
	if m.containers == nil {
		return nil, model.WrapCLIError(model.ExitDockerNotRunning, "docker engine API unavailable", nil)
	}
	states, err := m.containers.ListStackContainers(ctx, stack.ProjectName)
	if err != nil {
		return nil, err
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Service < states[j].Service })
	return states, nil
}

// Logs streams `docker compose logs` into w until the command exits or
// ctx is cancelled.
func (m *ComposeManager) Logs(ctx context.Context, stack Stack, opts LogsOptions, w io.Writer) error {
	args := append(composeArgs(stack), "logs", "--no-color")
	if opts.Follow {
		args = append(args, "--follow")
	}
	if opts.Tail > 0 {
		args = append(args, "--tail", strconv.Itoa(opts.Tail))
	}

	_, err := m.run(ctx, ExecSpec{Command: m.cfg.Binary, Args: args, Dir: stack.Dir}, func(_ Stream, line string) {
		_, _ = io.WriteString(w, line+"\n")
	})
	if err != nil && opts.Follow && ctx.Err() != nil {
		return nil
	}
	return err
}

// Execute runs spec and streams each output line to sink while the
// process runs.
func (m *ComposeManager) Execute(ctx context.Context, spec ExecSpec, sink Sink) (*Result, error) {
	return m.run(ctx, spec, sink)
}

// composeArgs builds the common `compose --project-name ... -f ...` prefix.
func composeArgs(stack Stack) []string {
	args := make([]string, 0, 4+len(stack.Files)*2)
	args = append(args, "compose")
	if stack.ProjectName != "" {
		args = append(args, "--project-name", stack.ProjectName)
	}
	for _, f := range stack.Files {
		args = append(args, "-f", f)
	}
	return args
}

// run is the single process runner behind every Manager operation.
//
// The child gets its own process group. When the timeout or ctx fires,
// Cancel kills the whole group and WaitDelay bounds how long Wait waits
// for output pipes held open by stray descendants.
func (m *ComposeManager) run(ctx context.Context, spec ExecSpec, sink Sink) (*Result, error) {
	start := time.Now()
	cmdStr := strings.TrimSpace(spec.Command + " " + strings.Join(spec.Args, " "))
	result := &Result{ExitCode: -1, Command: cmdStr}

	runCtx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	child := exec.CommandContext(runCtx, spec.Command, spec.Args...)
	child.Dir = spec.Dir
	child.Env = mergeEnv(os.Environ(), spec.Env)
	setProcessGroup(child)
	child.Cancel = func() error { return killProcessGroup(child) }
	child.WaitDelay = waitDelay

	var mu sync.Mutex
	stdout := &lineWriter{stream: Stdout, mu: &mu, sink: sink}
	stderr := &lineWriter{stream: Stderr, mu: &mu, sink: sink}
	child.Stdout = stdout
	child.Stderr = stderr

	m.logger.Debug("starting process", "command", cmdStr, "dir", spec.Dir)
	if err := child.Start(); err != nil {
		result.Duration = time.Since(start)
		m.logger.Warn("process failed to start", "command", cmdStr, "error_kind", "spawn", "error", err)
		return result, &model.ProcessSpawnError{Command: cmdStr, Err: err}
	}

	waitErr := child.Wait()
	stdout.flush()
	stderr.flush()
	result.Duration = time.Since(start)
	mu.Lock()
	result.Stdout = stdout.buf.String()
	result.Stderr = stderr.buf.String()
	mu.Unlock()

	if waitErr == nil {
		result.Success = true
		result.ExitCode = 0
		return result, nil
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
	}

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		m.logger.Warn("process timed out", "command", cmdStr, "error_kind", "timeout", "timeout", spec.Timeout)
		return result, &model.TimeoutError{Command: cmdStr, After: spec.Timeout}
	case ctx.Err() != nil:
		return result, fmt.Errorf("%s: %w", cmdStr, ctx.Err())
	case exitErr != nil:
		m.logger.Info("process exited non-zero", "command", cmdStr, "error_kind", "exit", "exit_code", result.ExitCode)
		return result, &model.ProcessExitError{Command: cmdStr, ExitCode: result.ExitCode, Stderr: result.Stderr}
	default:
		return result, fmt.Errorf("wait for %s: %w", cmdStr, waitErr)
	}
}

// lineWriter captures one output stream of a child process and hands every
// complete line to sink. exec copies each stream from its own goroutine;
// mu is shared by both writers of a process so sink calls never overlap.
type lineWriter struct {
	stream  Stream
	mu      *sync.Mutex
	sink    Sink
	buf     bytes.Buffer
	partial []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	w.partial = append(w.partial, p...)
	for {
		idx := bytes.IndexByte(w.partial, '\n')
		if idx < 0 {
			break
		}
		w.emit(string(bytes.TrimRight(w.partial[:idx], "\r")))
		w.partial = w.partial[idx+1:]
	}
	return len(p), nil
}

// flush emits a trailing fragment that never got its newline.
func (w *lineWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.partial) > 0 {
		w.emit(string(w.partial))
		w.partial = nil
	}
}

func (w *lineWriter) emit(line string) {
	if w.sink != nil {
		w.sink(w.stream, line)
	}
}

// mergeEnv overlays extra onto base, replacing existing keys.
func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, overridden := extra[key]; overridden {
			continue
		}
		out = append(out, kv)
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+extra[k])
	}
	return out
}
