// Package cli implements the cobra-based CLI commands for devlauncher.
//
// Each command group (projects, tasks, serve, migrate) lives in its own
// file. This file defines the root command, the global flags and the
// mapping from engine errors to process exit codes.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dd-jfranjic/devlauncher-sub001/internal/model"
)

// Global flag variables shared across all subcommands.
var (
	// jsonOutput switches every command to machine-readable output.
	jsonOutput bool

	// verbose lowers the log level to debug.
	verbose bool

	// configPath is an explicit config file. Empty means the default
	// location, where the file is optional.
	configPath string
)

// Build information, injected from the main package.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// NewRootCommand creates the root command with every subcommand
// registered.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "devlauncher",
		Short: "Local development stack launcher",
		Long: `devlauncher creates containerized development projects from templates,
allocates conflict-free host ports for their services, starts and stops
them with docker compose and runs setup tasks inside them.

Project state lives in a local state file, or in PostgreSQL when
database.url is configured.`,

		// Errors are printed by Execute in text or JSON form.
		SilenceUsage:  true,
		SilenceErrors: true,

		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date),
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: <user config dir>/devlauncher/devlauncher.yaml)")

	rootCmd.AddCommand(NewCreateCommand())
	rootCmd.AddCommand(NewListCommand())
	rootCmd.AddCommand(NewStatusCommand())
	rootCmd.AddCommand(NewStartCommand())
	rootCmd.AddCommand(NewStopCommand())
	rootCmd.AddCommand(NewDeleteCommand())
	rootCmd.AddCommand(NewLogsCommand())
	rootCmd.AddCommand(NewOrphansCommand())
	rootCmd.AddCommand(NewTaskCommand())
	rootCmd.AddCommand(NewServeCommand())
	rootCmd.AddCommand(NewMigrateCommand())

	return rootCmd
}

// Execute runs the root command until it finishes or the process is
// interrupted, then exits with the code matching the error.
//
// SIGINT and SIGTERM cancel the command's context instead of killing the
// process. Background work then winds down through the normal path:
// running `docker compose` children are killed as a process group, tasks
// in flight are recorded as interrupted, and the state file is flushed
// before the engine closes.
func Execute(rootCmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		printError(os.Stderr, err)
		os.Exit(int(exitCodeFor(err)))
	}
}

// exitCodeFor maps an error to the documented exit codes. A CLIError
// anywhere in the chain decides on its own.
//
// The order of the cases matters: engine errors are wrapped with context
// as they travel up, so one chain can match several sentinels. A
// PortExhaustedError, for instance, also satisfies errors.As for its own
// type and errors.Is(ErrPortExhausted); the first, most specific match
// wins. Cancellation is checked last so a command that failed for a
// real reason while shutting down still reports that reason.
func exitCodeFor(err error) model.ExitCode {
	var (
		cliErr *model.CLIError
		verr   *model.ValidationError
		spawn  *model.ProcessSpawnError
	)
	switch {
	case err == nil:
		return model.ExitSuccess
	case errors.As(err, &cliErr):
		return cliErr.Code
	case errors.As(err, &verr):
		return model.ExitValidation
	case errors.Is(err, model.ErrPortExhausted):
		return model.ExitPortAllocationFailed
	case errors.Is(err, model.ErrNotFound):
		return model.ExitNotFound
	case errors.Is(err, model.ErrAlreadyInState):
		return model.ExitAlreadyInState
	case errors.Is(err, model.ErrInvalidState):
		return model.ExitOperationFailed
	case errors.Is(err, model.ErrTimeout):
		return model.ExitTimeout
	case errors.As(err, &spawn):
		return model.ExitDockerNotRunning
	case errors.Is(err, context.Canceled):
		return model.ExitUserCancelled
	default:
		return model.ExitGeneralError
	}
}

// printError writes err to w as text or, with --json, as an error object.
// Validation errors list every field.
//
// The JSON form carries the exit code as well, so scripts parsing stdout
// and stderr together do not have to correlate it with $? themselves.
func printError(w io.Writer, err error) {
	var verr *model.ValidationError
	hasFields := errors.As(err, &verr)

	if jsonOutput {
		body := map[string]any{
			"message": err.Error(),
			"code":    int(exitCodeFor(err)),
		}
		if hasFields {
			body["fields"] = verr.Fields
		}
		data, _ := json.MarshalIndent(map[string]any{"error": body}, "", "  ")
		fmt.Fprintln(w, string(data))
		return
	}

	if hasFields {
		fmt.Fprintln(w, "Error: invalid input")
		for _, f := range verr.Fields {
			fmt.Fprintf(w, "  %s: %s\n", f.Field, f.Message)
		}
		return
	}
	fmt.Fprintf(w, "Error: %v\n", err)
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
