package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dd-jfranjic/devlauncher-sub001/internal/app"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/model"
)

// NewStartCommand creates the "start" command.
func NewStartCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <project>",
		Short: "Start a project's stack",
		Long: `Start a project with docker compose up. The command waits until the
stack is up (or has failed) and then runs the configured follow-up
tasks, printing their output.

Starting a project that is already starting or running exits with
code 8 and changes nothing.

Examples:
  devlauncher start shop
  devlauncher start --json shop`,

		Args: cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				return runStart(ctx, e, cmd.OutOrStdout(), args[0])
			})
		},
	}

	return cmd
}

func runStart(ctx context.Context, e *app.Engine, w io.Writer, ref string) error {
	p, err := resolveProject(ctx, e, ref)
	if err != nil {
		return err
	}
	if err := e.Projects.Start(ctx, p.ID); err != nil {
		return err
	}
	if !jsonOutput {
		fmt.Fprintf(w, "Starting project %q...\n", p.Slug)
	}
	if err := waitProjects(ctx, e); err != nil {
		return err
	}

	p, err = e.Projects.Get(ctx, p.ID)
	if err != nil {
		return err
	}
	if p.Status != model.ProjectRunning {
		return model.NewCLIError(model.ExitOperationFailed,
			fmt.Sprintf("project %q failed to start: %s", p.Slug, p.LastError))
	}

	// Follow-up tasks still run before the engine closes; with --json
	// their output is only kept in the task log.
	if jsonOutput {
		return printJSON(w, p)
	}

	fmt.Fprintf(w, "Started project %q\n", p.Slug)
	printServices(w, p, e.Templates)
	return followPending(ctx, e, w, p.ID)
}

// followPending streams the output of every unfinished task of the
// project in queue order.
func followPending(ctx context.Context, e *app.Engine, w io.Writer, projectID string) error {
	tasks, err := e.Tasks.ListTasks(ctx, projectID)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if t.Status.IsTerminal() {
			continue
		}
		fmt.Fprintf(w, "\n==> %s\n", t.Type)
		if err := e.Tasks.FollowTaskLog(ctx, t.ID, w); err != nil {
			return err
		}
		done, err := e.Tasks.GetTask(ctx, t.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "==> %s %s\n", t.Type, describeTask(done))
	}
	return nil
}

// describeTask summarizes a finished task in a few words.
func describeTask(t *model.Task) string {
	switch t.Status {
	case model.TaskSuccess:
		return "succeeded"
	case model.TaskFailed:
		return "failed: " + t.Error
	case model.TaskQueued, model.TaskRunning:
	}
	return string(t.Status)
}
