package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dd-jfranjic/devlauncher-sub001/internal/app"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/model"
)

// NewTaskCommand creates the "task" command group.
func NewTaskCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Run and inspect project tasks",
		Long: `Tasks are one-shot operations scoped to a project: installing a
developer tool inside the stack or smoke-testing it. Tasks of one
project run one at a time in submission order.

Task types: install-tool-a, install-tool-b, smoke-test`,
	}

	cmd.AddCommand(newTaskRunCommand())
	cmd.AddCommand(newTaskListCommand())
	cmd.AddCommand(newTaskLogCommand())

	return cmd
}

func newTaskRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run <project> <type>",
		Short: "Queue a task and stream its output",
		Long: `Queue a task for a project, stream its output until it finishes and
exit non-zero when it fails.

Examples:
  devlauncher task run shop smoke-test
  devlauncher task run --json shop install-tool-a`,

		Args: cobra.ExactArgs(2),

		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				return runTask(ctx, e, cmd.OutOrStdout(), args[0], args[1])
			})
		},
	}
}

func runTask(ctx context.Context, e *app.Engine, w io.Writer, ref, typ string) error {
	p, err := resolveProject(ctx, e, ref)
	if err != nil {
		return err
	}
	t, err := e.Tasks.Enqueue(ctx, p.ID, model.TaskType(typ))
	if err != nil {
		return err
	}

	// With --json only the final task record is printed.
	out := w
	if jsonOutput {
		out = io.Discard
	}
	if err := e.Tasks.FollowTaskLog(ctx, t.ID, out); err != nil {
		if errors.Is(err, context.Canceled) {
			return model.WrapCLIError(model.ExitUserCancelled, "interrupted", err)
		}
		return err
	}

	t, err = e.Tasks.GetTask(ctx, t.ID)
	if err != nil {
		return err
	}
	if jsonOutput {
		if err := printJSON(w, t); err != nil {
			return err
		}
	}
	if t.Status == model.TaskFailed {
		return model.NewCLIError(model.ExitOperationFailed, fmt.Sprintf("task %s failed: %s", t.Type, t.Error))
	}
	return nil
}

func newTaskListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list <project>",
		Short: "List a project's tasks",
		Args:  cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				return runTaskList(ctx, e, cmd.OutOrStdout(), args[0])
			})
		},
	}
}

func runTaskList(ctx context.Context, e *app.Engine, w io.Writer, ref string) error {
	p, err := resolveProject(ctx, e, ref)
	if err != nil {
		return err
	}
	tasks, err := e.Tasks.ListTasks(ctx, p.ID)
	if err != nil {
		return err
	}

	if jsonOutput {
		if tasks == nil {
			tasks = []*model.Task{}
		}
		return printJSON(w, map[string]any{"tasks": tasks})
	}
	if len(tasks) == 0 {
		fmt.Fprintf(w, "No tasks for project %q.\n", p.Slug)
		return nil
	}
	fmt.Fprintf(w, "%-36s %-16s %-8s %-5s %s\n", "ID", "TYPE", "STATUS", "EXIT", "CREATED")
	for _, t := range tasks {
		exit := "-"
		if t.ExitCode != nil {
			exit = fmt.Sprint(*t.ExitCode)
		}
		fmt.Fprintf(w, "%-36s %-16s %-8s %-5s %s\n",
			t.ID, t.Type, t.Status, exit, t.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	}
	return nil
}

type taskLogFlags struct {
	follow bool
}

func newTaskLogCommand() *cobra.Command {
	flags := &taskLogFlags{}

	cmd := &cobra.Command{
		Use:   "log <task-id>",
		Short: "Print a task's output",
		Long: `Print the output a task has produced so far. With --follow, keep
streaming until the task finishes.`,

		Args: cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				if flags.follow {
					return e.Tasks.FollowTaskLog(ctx, args[0], cmd.OutOrStdout())
				}
				t, err := e.Tasks.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				_, err = io.WriteString(cmd.OutOrStdout(), t.Output)
				return err
			})
		},
	}

	cmd.Flags().BoolVarP(&flags.follow, "follow", "f", false, "Stream output until the task finishes")

	return cmd
}
