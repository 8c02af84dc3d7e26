package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dd-jfranjic/devlauncher-sub001/internal/app"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/docker"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/lifecycle"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/model"
)

type listFlags struct {
	// status filters projects by lifecycle state; "all" disables it.
	status string
}

// NewListCommand creates the "list" command.
func NewListCommand() *cobra.Command {
	flags := &listFlags{}

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List projects",
		Long: `List every project with its status, template and allocated host ports.

Examples:
  devlauncher list
  devlauncher list --status running
  devlauncher list --json`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				return runList(ctx, e, cmd.OutOrStdout(), flags)
			})
		},
	}

	cmd.Flags().StringVar(&flags.status, "status", "all",
		"Filter by status: stopped, starting, running, error, all")

	return cmd
}

func runList(ctx context.Context, e *app.Engine, w io.Writer, flags *listFlags) error {
	var filter model.ProjectStatus
	if flags.status != "all" {
		s, err := model.ParseProjectStatus(flags.status)
		if err != nil {
			return model.WrapCLIError(model.ExitValidation,
				fmt.Sprintf("invalid status filter %q: valid values are stopped, starting, running, error, all", flags.status), nil)
		}
		filter = s
	}

	projects, err := e.Projects.List(ctx)
	if err != nil {
		return err
	}
	if filter != "" {
		kept := make([]*model.Project, 0, len(projects))
		for _, p := range projects {
			if p.Status == filter {
				kept = append(kept, p)
			}
		}
		projects = kept
	}

	if jsonOutput {
		if projects == nil {
			projects = []*model.Project{}
		}
		return printJSON(w, map[string]any{"projects": projects})
	}

	if len(projects) == 0 {
		fmt.Fprintln(w, "No projects found.")
		return nil
	}
	fmt.Fprintf(w, "%-20s %-10s %-14s %s\n", "SLUG", "STATUS", "TEMPLATE", "PORTS")
	for _, p := range projects {
		fmt.Fprintf(w, "%-20s %-10s %-14s %s\n", p.Slug, p.Status, p.Template, FormatPortsList(p.PortAllocations()))
	}
	return nil
}

// FormatPortsList renders allocations as "service:port" pairs in
// ascending port order, or "-" when there are none.
//
//	[{web 20000} {db 20001}] → "web:20000,db:20001"
func FormatPortsList(allocations []model.PortAllocation) string {
	if len(allocations) == 0 {
		return "-"
	}
	sorted := make([]model.PortAllocation, len(allocations))
	copy(sorted, allocations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Port < sorted[j].Port })

	parts := make([]string, 0, len(sorted))
	for _, a := range sorted {
		parts = append(parts, a.ServiceName+":"+strconv.Itoa(a.Port))
	}
	return strings.Join(parts, ",")
}

type statusFlags struct {
	containers bool
}

// NewStatusCommand creates the "status" command.
func NewStatusCommand() *cobra.Command {
	flags := &statusFlags{}

	cmd := &cobra.Command{
		Use:   "status <project>",
		Short: "Show a project's status, ports and last error",
		Long: `Show the recorded status of a project. With --containers the
containers of its stack are listed as reported by the Docker daemon.

Examples:
  devlauncher status shop
  devlauncher status --containers shop`,

		Args: cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				return runStatus(ctx, e, cmd.OutOrStdout(), args[0], flags)
			})
		},
	}

	cmd.Flags().BoolVar(&flags.containers, "containers", false, "Also list the stack's containers")

	return cmd
}

func runStatus(ctx context.Context, e *app.Engine, w io.Writer, ref string, flags *statusFlags) error {
	p, err := resolveProject(ctx, e, ref)
	if err != nil {
		return err
	}
	view, err := e.Projects.Status(ctx, p.ID)
	if err != nil {
		return err
	}

	var containers []docker.ServiceState
	if flags.containers {
		if containers, err = e.Projects.Containers(ctx, p.ID); err != nil {
			return err
		}
	}

	if jsonOutput {
		out := struct {
			*lifecycle.StatusView
			Containers []docker.ServiceState `json:"containers,omitempty"`
		}{view, containers}
		return printJSON(w, out)
	}

	fmt.Fprintf(w, "Project %q is %s\n", view.Slug, view.Status)
	if view.LastError != "" {
		fmt.Fprintf(w, "  Last error: %s\n", view.LastError)
	}
	printServices(w, p, e.Templates)

	if flags.containers {
		fmt.Fprintln(w)
		if len(containers) == 0 {
			fmt.Fprintln(w, "  No containers.")
			return nil
		}
		fmt.Fprintf(w, "  %-10s %-30s %-10s %s\n", "SERVICE", "NAME", "STATE", "STATUS")
		for _, c := range containers {
			fmt.Fprintf(w, "  %-10s %-30s %-10s %s\n", c.Service, c.Name, c.State, c.Status)
		}
	}
	return nil
}
