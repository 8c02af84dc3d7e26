package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dd-jfranjic/devlauncher-sub001/internal/app"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/model"
)

// NewStopCommand creates the "stop" command.
func NewStopCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop <project>",
		Short: "Stop a project's stack",
		Long: `Stop a project with docker compose down and wait for it to finish.
Containers are removed; volumes and the project directory are kept.

A failed stop leaves the status unchanged and records the error.

Examples:
  devlauncher stop shop`,

		Args: cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				return runStop(ctx, e, cmd.OutOrStdout(), args[0])
			})
		},
	}

	return cmd
}

func runStop(ctx context.Context, e *app.Engine, w io.Writer, ref string) error {
	p, err := resolveProject(ctx, e, ref)
	if err != nil {
		return err
	}
	if err := e.Projects.Stop(ctx, p.ID); err != nil {
		return err
	}
	if err := waitProjects(ctx, e); err != nil {
		return err
	}

	p, err = e.Projects.Get(ctx, p.ID)
	if err != nil {
		return err
	}
	if p.Status != model.ProjectStopped {
		return model.NewCLIError(model.ExitOperationFailed,
			fmt.Sprintf("project %q failed to stop: %s", p.Slug, p.LastError))
	}

	if jsonOutput {
		return printJSON(w, p)
	}
	fmt.Fprintf(w, "Stopped project %q\n", p.Slug)
	return nil
}
