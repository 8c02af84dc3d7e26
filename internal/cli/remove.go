package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dd-jfranjic/devlauncher-sub001/internal/app"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/model"
)

type deleteFlags struct {
	// force skips the confirmation prompt.
	force bool
}

// NewDeleteCommand creates the "delete" command.
func NewDeleteCommand() *cobra.Command {
	flags := &deleteFlags{}

	cmd := &cobra.Command{
		Use:     "delete <project>",
		Aliases: []string{"remove", "rm"},
		Short:   "Delete a stopped project",
		Long: `Delete a project together with its tasks and port allocations. The
project must be stopped (or failed); stop it first otherwise.

The project directory and its generated files are left in place.

Unless --force is specified, the command prompts for confirmation.

Examples:
  devlauncher delete shop
  devlauncher delete --force shop`,

		Args: cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				return runDelete(ctx, e, cmd.InOrStdin(), cmd.OutOrStdout(), args[0], flags)
			})
		},
	}

	cmd.Flags().BoolVarP(&flags.force, "force", "f", false, "Delete without confirmation")

	return cmd
}

func runDelete(ctx context.Context, e *app.Engine, in io.Reader, w io.Writer, ref string, flags *deleteFlags) error {
	p, err := resolveProject(ctx, e, ref)
	if err != nil {
		return err
	}

	// JSON mode is non-interactive.
	if !flags.force && !jsonOutput {
		ok, err := promptConfirmation(in, w, p)
		if err != nil {
			return err
		}
		if !ok {
			return model.NewCLIError(model.ExitUserCancelled, "delete cancelled")
		}
	}

	if err := e.Projects.Delete(ctx, p.ID); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(w, map[string]string{"id": p.ID, "slug": p.Slug, "action": "deleted"})
	}
	fmt.Fprintf(w, "Deleted project %q; files in %s were kept\n", p.Slug, p.Path)
	return nil
}

// promptConfirmation asks the user to confirm deleting p. Anything but
// "y" or "yes" declines.
func promptConfirmation(in io.Reader, w io.Writer, p *model.Project) (bool, error) {
	fmt.Fprintf(w, "Delete project %q (%s)?\n", p.Slug, p.Status)
	fmt.Fprintf(w, "  Ports to release: %s\n", FormatPortsList(p.PortAllocations()))
	fmt.Fprint(w, "\nContinue? [y/N] ")

	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return false, fmt.Errorf("read confirmation: %w", err)
		}
		return false, nil
	}
	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
	return answer == "y" || answer == "yes", nil
}

// NewOrphansCommand creates the "orphans" command.
func NewOrphansCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orphans",
		Short: "List devlauncher containers without a project",
		Long: `List containers labelled as devlauncher-managed whose project is not in
the state store, e.g. after the state file was removed while stacks were
running. Remove them with "docker compose -p <slug> down".`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				return runOrphans(ctx, e, cmd.OutOrStdout())
			})
		},
	}

	return cmd
}

func runOrphans(ctx context.Context, e *app.Engine, w io.Writer) error {
	orphans, err := e.Orphans(ctx)
	if err != nil {
		return err
	}
	if jsonOutput {
		if orphans == nil {
			orphans = []app.Orphan{}
		}
		return printJSON(w, map[string]any{"orphans": orphans})
	}
	if len(orphans) == 0 {
		fmt.Fprintln(w, "No orphaned containers found.")
		return nil
	}
	fmt.Fprintf(w, "%-20s %-10s %-30s %s\n", "SLUG", "SERVICE", "NAME", "STATE")
	for _, o := range orphans {
		fmt.Fprintf(w, "%-20s %-10s %-30s %s\n", o.Slug, o.Service, o.Name, o.State)
	}
	return nil
}
