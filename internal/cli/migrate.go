package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/garyjia/approval-routing/internal/container"
	"github.com/garyjia/approval-routing/pkg/database"
)

// MigrateResult lists the schema versions present after migrating
type MigrateResult struct {
	Database string `json:"database"`
	Versions []int  `json:"versions"`
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Long: `Create the database if needed and apply every pending migration.

Examples:
  approvalctl migrate --db ./data/approvals.db
  approvalctl migrate --config configs/config.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(rootOpts, cmd)
		},
	}
}

func runMigrate(opts *RootOptions, cmd *cobra.Command) error {
	s, err := resolveSettings(opts)
	if err != nil {
		return err
	}
	logger := newLogger(opts)
	defer func() { _ = logger.Sync() }()

	db, err := container.ProvideDatabase(&s.database, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to migrate database", err)
	}
	defer db.DB.Close()

	versions, err := database.NewMigrator(db.DB, logger).AppliedVersions()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read schema versions", err)
	}

	result := MigrateResult{Database: s.database.Path, Versions: versions}
	if opts.Format == "json" {
		return printJSON(cmd.OutOrStdout(), result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s is at schema version %v\n", result.Database, result.Versions)
	return nil
}
