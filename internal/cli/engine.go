package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dd-jfranjic/devlauncher-sub001/internal/app"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/config"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/logging"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/model"
)

var (
	// engineOptions is passed to app.New. Tests swap in fakes.
	engineOptions app.Options

	// logOutput receives structured logs.
	logOutput io.Writer = os.Stderr
)

// loadConfig reads configuration and applies --verbose.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitValidation, "cannot load configuration", err)
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// openEngine loads configuration and builds the engine.
func openEngine(ctx context.Context) (*app.Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log.Format, cfg.Log.Level, logOutput)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitValidation, "invalid log settings", err)
	}
	if cfg.File != "" {
		logger.Debug("configuration loaded", "file", cfg.File)
	}
	return app.New(ctx, cfg, logger, engineOptions)
}

// withEngine runs fn against a fresh engine. The engine lives only as
// long as this process, so queued tasks (follow-ups included) are run
// to completion before it is closed.
//
// Without the drain, `devlauncher start` would return while its
// follow-up tasks sat in the in-process queue, and Close would mark them
// for the next process to pick up. Draining makes each invocation leave
// the store with no task running on its behalf.
func withEngine(cmd *cobra.Command, fn func(ctx context.Context, e *app.Engine) error) error {
	ctx := cmd.Context()
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := fn(ctx, e); err != nil {
		return err
	}
	if err := e.Tasks.Drain(ctx); err != nil {
		return model.WrapCLIError(model.ExitUserCancelled, "interrupted while tasks were running", err)
	}
	return nil
}

// resolveProject looks a project up by id or slug.
func resolveProject(ctx context.Context, e *app.Engine, ref string) (*model.Project, error) {
	p, err := e.Projects.Resolve(ctx, ref)
	if errors.Is(err, model.ErrNotFound) {
		return nil, model.WrapCLIError(model.ExitNotFound, fmt.Sprintf("project %q not found", ref), err)
	}
	return p, err
}

// waitProjects blocks until background start/stop operations finish.
//
// The controller runs docker operations asynchronously because the HTTP
// bridge must answer immediately. The CLI is synchronous from the user's
// point of view, so it waits here; a Ctrl-C abandons the wait and the
// deferred Close interrupts the operation itself.
func waitProjects(ctx context.Context, e *app.Engine) error {
	done := make(chan struct{})
	go func() {
		e.Projects.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return model.WrapCLIError(model.ExitUserCancelled, "interrupted", ctx.Err())
	}
}
