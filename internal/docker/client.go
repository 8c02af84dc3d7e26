package docker

import (
	"context"
	"fmt"
	"net"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"

	"github.com/dd-jfranjic/devlauncher-sub001/internal/model"
)

// defaultPingTimeout is the maximum duration to wait for a Docker daemon
// response during Ping. Docker Desktop on macOS can be slow to answer.
const defaultPingTimeout = 5 * time.Second

// Client wraps the Docker Engine SDK client. It handles socket detection
// across platforms and exposes the read-only container queries the
// engine needs.
//
// Lifecycle changes (up, down, exec) deliberately do not go through the
// SDK: the Engine API has no notion of a compose project, so those are
// driven by the `docker compose` CLI in ComposeManager. The SDK is used
// where it is strictly better than parsing CLI output, namely listing
// containers by label with their structured state.
//
// Usage:
//
//	c, err := docker.NewClient()
//	if err != nil { /* handle */ }
//	defer c.Close()
//	if err := c.Ping(ctx); err != nil { /* Docker not running */ }
type Client struct {
	// inner is wrapped rather than embedded so the exposed API stays the
	// handful of queries devlauncher needs, and every error leaving this
	// package carries a CLI exit code.
	inner *client.Client
}

var _ ContainerLister = (*Client)(nil)

// NewClient creates a Docker client with automatic socket detection.
//
// The detection order is:
//  1. DOCKER_HOST environment variable (used as-is)
//  2. Platform default sockets:
//     - Linux: /var/run/docker.sock
//     - macOS: /var/run/docker.sock, then ~/.docker/run/docker.sock
//     - Windows: npipe:////./pipe/docker_engine
//
// Returns a model.CLIError with ExitDockerNotRunning if no socket is
// found or the client cannot be created.
func NewClient() (*Client, error) {
	// An explicit DOCKER_HOST wins unconditionally; the SDK parses the
	// connection string (unix://, tcp://, npipe://, ssh://).
	if dockerHost := os.Getenv("DOCKER_HOST"); dockerHost != "" {
		return newClientWithHost(dockerHost)
	}

	// runtime.GOOS is fixed at compile time, which matches the platform
	// the binary runs on.
	host, err := detectDockerHost()
	if err != nil {
		return nil, model.WrapCLIError(model.ExitDockerNotRunning, "Docker socket not found", err)
	}
	return newClientWithHost(host)
}

func newClientWithHost(host string) (*Client, error) {
	// API version negotiation lets one binary talk to both older daemons
	// and Docker Desktop releases newer than the SDK. Without it the SDK
	// pins its own version and old daemons reject every call.
	c, err := client.NewClientWithOpts(
		client.WithHost(host),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, model.WrapCLIError(
			model.ExitDockerNotRunning,
			fmt.Sprintf("failed to create Docker client for host %q", host),
			err,
		)
	}
	return &Client{inner: c}, nil
}

// detectDockerHost probes the platform's known socket locations. It checks
// for existence only; Ping verifies the daemon actually answers.
func detectDockerHost() (string, error) {
	switch runtime.GOOS {
	case "linux":
		return detectUnixSocket([]string{"/var/run/docker.sock"})

	case "darwin":
		paths := []string{"/var/run/docker.sock"}
		if home, err := os.UserHomeDir(); err == nil {
			paths = append(paths, home+"/.docker/run/docker.sock")
		}
		return detectUnixSocket(paths)

	case "windows":
		// os.Stat does not work on named pipes, so dial briefly instead.
		pipePath := `//./pipe/docker_engine`
		conn, err := net.DialTimeout("pipe", pipePath, 1*time.Second)
		if err == nil {
			conn.Close()
			return "npipe://" + pipePath, nil
		}
		return "", fmt.Errorf("Docker named pipe not found at %s: %w", pipePath, err)

	default:
		return "", fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}

func detectUnixSocket(paths []string) (string, error) {
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return "unix://" + path, nil
		}
	}
	return "", fmt.Errorf("Docker socket not found at any of: %v (is Docker running?)", paths)
}

// Ping verifies that the Docker daemon is reachable, waiting at most
// defaultPingTimeout.
func (c *Client) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	if _, err := c.inner.Ping(pingCtx); err != nil {
		return model.WrapCLIError(
			model.ExitDockerNotRunning,
			"Docker daemon is not responding (is Docker running?)",
			err,
		)
	}
	return nil
}

// Close releases the SDK client. Safe to call more than once.
func (c *Client) Close() error {
	if c.inner != nil {
		return c.inner.Close()
	}
	return nil
}

// ListStackContainers returns every container (running or not) that
// compose created for projectName.
//
// Compose stamps com.docker.compose.project on every container it
// creates, and devlauncher uses the project slug as the compose project
// name, so this label alone identifies a project's stack. Stopped
// containers are included so a crashed service shows up as "exited"
// instead of silently disappearing from status output.
func (c *Client) ListStackContainers(ctx context.Context, projectName string) ([]ServiceState, error) {
	args := filters.NewArgs(filters.Arg("label", ComposeProjectLabel+"="+projectName))
	return c.list(ctx, args)
}

// ListManagedContainers returns every container carrying devlauncher's
// managed-by label, across all projects. The orphan report compares the
// project ids on these labels with the store to find stacks whose
// project was deleted while the containers were kept.
func (c *Client) ListManagedContainers(ctx context.Context) ([]ServiceState, error) {
	args := filters.NewArgs(filters.Arg("label", LabelManagedBy+"="+ManagedByValue))
	return c.list(ctx, args)
}

func (c *Client) list(ctx context.Context, args filters.Args) ([]ServiceState, error) {
	containers, err := c.inner.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return nil, model.WrapCLIError(model.ExitDockerNotRunning, "failed to list Docker containers", err)
	}

	states := make([]ServiceState, 0, len(containers))
	for _, ctr := range containers {
		states = append(states, containerToState(ctr.ID, ctr.Names, ctr.State, ctr.Status, ctr.Labels))
	}
	return states, nil
}

// containerToState extracts the fields devlauncher shows from a container
// summary. Docker prefixes names with "/", which is stripped.
func containerToState(id string, names []string, state, status string, labels map[string]string) ServiceState {
	name := ""
	if len(names) > 0 {
		name = strings.TrimPrefix(names[0], "/")
	}
	return ServiceState{
		Service:     labels[ComposeServiceLabel],
		ContainerID: id,
		Name:        name,
		State:       state,
		Status:      status,
		Labels:      labels,
	}
}
