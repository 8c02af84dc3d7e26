package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dd-jfranjic/devlauncher-sub001/internal/logging"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/model"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/store/postgres"
)

// NewMigrateCommand creates the "migrate" command.
func NewMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Apply pending schema migrations to the PostgreSQL database named by
database.url (or DEVLAUNCHER_DATABASE_URL). Every engine command also
migrates on startup; this command does it without touching any project.`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return model.NewCLIError(model.ExitValidation, "database.url is not set; the file store needs no migrations")
			}
			logger, err := logging.New(cfg.Log.Format, cfg.Log.Level, logOutput)
			if err != nil {
				return model.WrapCLIError(model.ExitValidation, "invalid log settings", err)
			}

			ctx := cmd.Context()
			if err := postgres.Migrate(ctx, cfg.Database.URL, logger); err != nil {
				return err
			}
			version, err := postgres.MigrationVersion(ctx, cfg.Database.URL)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]int64{"version": version})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Database schema at version %d\n", version)
			return nil
		},
	}
}
