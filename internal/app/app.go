// Package app assembles the engine from configuration: store, docker
// manager, port allocator, event hub, task orchestrator and lifecycle
// controller. The CLI and the HTTP bridge both go through an Engine.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/dd-jfranjic/devlauncher-sub001/internal/api"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/config"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/docker"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/events"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/lifecycle"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/metrics"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/model"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/port"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/store"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/store/memory"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/store/postgres"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/task"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/template"
)

// Options replaces individual collaborators, mostly for tests. Zero
// values build the real ones from the config.
type Options struct {
	Manager docker.Manager
	Store   store.Store
	Prober  port.Prober
}

// Engine is a fully wired devlauncher instance.
type Engine struct {
	Config   *config.Config
	Logger   *slog.Logger
	Store    store.Store
	Docker   docker.Manager
	Ports    *port.Allocator
	Hub      *events.Hub
	Metrics  *metrics.Metrics
	Projects *lifecycle.Controller
	Tasks    *task.Orchestrator

	// Templates is the effective template catalog.
	Templates template.Catalog

	// client is nil when the Engine API was unreachable at startup.
	client *docker.Client
}

// New builds an Engine and recovers state left by a previous run.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, model.WrapCLIError(model.ExitValidation, "invalid configuration", err)
	}

	e := &Engine{
		Config:  cfg,
		Logger:  logger,
		Hub:     events.NewHub(),
		Metrics: metrics.New(),
	}

	templates, err := template.LoadCatalog(cfg.Templates.File)
	if err != nil {
		return nil, err
	}
	e.Templates = templates
	commands := task.DefaultCatalog(cfg.Docker.Binary).Merge(commandOverrides(cfg))
	if err := commands.Validate(); err != nil {
		return nil, model.WrapCLIError(model.ExitValidation, "invalid task commands", err)
	}

	e.Store = opts.Store
	if e.Store == nil {
		if e.Store, err = openStore(ctx, cfg, logger); err != nil {
			return nil, err
		}
	}

	e.Docker = opts.Manager
	if e.Docker == nil {
		e.Docker = e.composeManager(ctx)
	}

	prober := opts.Prober
	if prober == nil {
		prober = port.NewScanner(cfg.Ports.Host)
	}
	e.Ports, err = port.NewAllocator(port.Range{Start: cfg.Ports.Start, End: cfg.Ports.End}, prober)
	if err != nil {
		e.closeStore()
		if e.client != nil {
			_ = e.client.Close()
		}
		return nil, model.WrapCLIError(model.ExitValidation, "invalid port range", err)
	}

	e.Tasks = task.New(e.Store, e.Docker, e.Hub, e.Metrics, logger, task.Config{
		Timeout:  cfg.Tasks.Timeout,
		Commands: commands,
	})
	e.Projects = lifecycle.New(e.Store, e.Ports, e.Docker, template.NewComposeRenderer(e.Templates),
		e.Tasks, e.Hub, e.Metrics, logger, lifecycle.Config{FollowUp: cfg.FollowUpTypes()})

	e.Metrics.RegisterGaugeFunc("ports", "reserved", "Host ports currently reserved", func() float64 {
		return float64(e.Ports.Reserved())
	})
	e.Metrics.RegisterGaugeFunc("events", "subscribers", "Open event subscriptions", func() float64 {
		return float64(e.Hub.Subscribers())
	})
	e.Metrics.RegisterGaugeFunc("events", "dropped", "Subscriptions dropped for falling behind", func() float64 {
		return float64(e.Hub.Dropped())
	})

	if err := e.Projects.Recover(ctx); err != nil {
		e.Close()
		return nil, fmt.Errorf("recover projects: %w", err)
	}
	if err := e.Tasks.Recover(ctx); err != nil {
		e.Close()
		return nil, fmt.Errorf("recover tasks: %w", err)
	}
	return e, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.Database.URL == "" {
		logger.Debug("using file store", "path", cfg.StatePath())
		s, err := memory.Open(cfg.StatePath())
		if err != nil {
			return nil, fmt.Errorf("open state file: %w", err)
		}
		return s, nil
	}

	if err := postgres.Migrate(ctx, cfg.Database.URL, logger); err != nil {
		return nil, err
	}
	s, err := postgres.Open(ctx, cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	logger.Debug("using postgres store")
	return s, nil
}

// composeManager builds the CLI-backed manager. The Engine API client
// only serves container status, so a daemon that is down at startup is
// logged and tolerated.
func (e *Engine) composeManager(ctx context.Context) docker.Manager {
	var lister docker.ContainerLister
	c, err := docker.NewClient()
	switch {
	case err != nil:
		e.Logger.Warn("docker engine API unavailable", "error", err)
	default:
		if err := c.Ping(ctx); err != nil {
			e.Logger.Warn("docker daemon not responding", "error", err)
		}
		e.client = c
		lister = c
	}
	return docker.NewComposeManager(docker.ComposeConfig{
		Binary:      e.Config.Docker.Binary,
		UpTimeout:   e.Config.Docker.UpTimeout,
		DownTimeout: e.Config.Docker.DownTimeout,
	}, lister, e.Logger)
}

func commandOverrides(cfg *config.Config) task.Catalog {
	out := make(task.Catalog, len(cfg.Tasks.Commands))
	for name, c := range cfg.Tasks.Commands {
		out[model.TaskType(name)] = task.Command{
			Command: c.Command,
			Args:    c.Args,
			Env:     c.Env,
			Timeout: c.Timeout,
		}
	}
	return out
}

// HealthChecks returns the dependency probes served on /healthz.
func (e *Engine) HealthChecks() map[string]api.HealthCheck {
	checks := map[string]api.HealthCheck{
		"store": func(ctx context.Context) error {
			_, err := e.Store.ListProjects(ctx)
			return err
		},
	}
	if e.client != nil {
		checks["docker"] = e.client.Ping
	}
	return checks
}

// Router returns the HTTP bridge over this engine.
func (e *Engine) Router() *api.Router {
	return api.NewRouter(e.Logger, e.Projects, e.Tasks, e.Hub, e.Metrics, e.HealthChecks())
}

// Orphan is a devlauncher container whose project no longer exists.
type Orphan struct {
	docker.ServiceState
	ProjectID string `json:"projectId"`
	Slug      string `json:"slug"`
}

// Orphans lists managed containers that belong to no known project, e.g.
// after the state file was removed while stacks were running.
func (e *Engine) Orphans(ctx context.Context) ([]Orphan, error) {
	if e.client == nil {
		return nil, model.NewCLIError(model.ExitDockerNotRunning, "Docker engine API unavailable")
	}
	containers, err := e.client.ListManagedContainers(ctx)
	if err != nil {
		return nil, err
	}
	return findOrphans(ctx, e.Store, containers, e.Logger)
}

func findOrphans(ctx context.Context, s store.ProjectStore, containers []docker.ServiceState, logger *slog.Logger) ([]Orphan, error) {
	var orphans []Orphan
	for _, c := range containers {
		labels, err := docker.ParseLabels(c.Labels)
		if err != nil {
			logger.Debug("skipping container with unreadable labels", "container", c.Name, "error", err)
			continue
		}
		_, err = s.GetProject(ctx, labels.ProjectID)
		switch {
		case err == nil:
			continue
		case !errors.Is(err, model.ErrNotFound):
			return nil, err
		}
		orphans = append(orphans, Orphan{ServiceState: c, ProjectID: labels.ProjectID, Slug: labels.Slug})
	}
	sort.Slice(orphans, func(i, j int) bool {
		if orphans[i].Slug != orphans[j].Slug {
			return orphans[i].Slug < orphans[j].Slug
		}
		return orphans[i].Name < orphans[j].Name
	})
	return orphans, nil
}

// Close stops background work and releases the store and docker client.
func (e *Engine) Close() {
	e.Projects.Close()
	e.Tasks.Close()
	e.closeStore()
	if e.client != nil {
		_ = e.client.Close()
	}
}

func (e *Engine) closeStore() {
	if err := e.Store.Close(); err != nil {
		e.Logger.Warn("close store", "error", err)
	}
}
