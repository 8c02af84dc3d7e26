package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/dd-jfranjic/devlauncher-sub001/internal/app"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/docker"
)

type logsFlags struct {
	follow bool
	tail   int
}

// NewLogsCommand creates the "logs" command.
func NewLogsCommand() *cobra.Command {
	flags := &logsFlags{}

	cmd := &cobra.Command{
		Use:   "logs <project>",
		Short: "Show container logs of a project's stack",
		Long: `Print the combined container logs of a project's stack.

Examples:
  devlauncher logs shop
  devlauncher logs --follow --tail 100 shop`,

		Args: cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				p, err := resolveProject(ctx, e, args[0])
				if err != nil {
					return err
				}
				opts := docker.LogsOptions{Follow: flags.follow, Tail: flags.tail}
				return e.Projects.Logs(ctx, p.ID, opts, cmd.OutOrStdout())
			})
		},
	}

	cmd.Flags().BoolVarP(&flags.follow, "follow", "f", false, "Keep streaming new log lines")
	cmd.Flags().IntVar(&flags.tail, "tail", 0, "Lines to show from the end of each container's log (0: all)")

	return cmd
}
