package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/garyjia/approval-routing/internal/infrastructure/seed"
)

// SeedOptions holds flags for the seed command.
type SeedOptions struct {
	*RootOptions
	DryRun bool
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SeedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "seed FILE",
		Short: "Load paths, rules, roles and transactions from YAML",
		Long: `Load approval paths, decision rules, role assignments and draft
transactions from a YAML file. The file is validated in full before
anything is written, and everything is stored in one transaction.

Examples:
  approvalctl seed --db ./data/approvals.db routing.yaml
  approvalctl seed --dry-run routing.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(opts, cmd, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "validate the file without writing")

	return cmd
}

func runSeed(opts *SeedOptions, cmd *cobra.Command, path string) error {
	f, err := seed.LoadFile(path)
	if err != nil {
		return WrapExitError(ExitFailure, "invalid seed file", err)
	}

	if opts.DryRun {
		fmt.Fprintf(cmd.OutOrStdout(), "%s is valid: %d paths, %d rules, %d transactions\n",
			path, len(f.Paths), len(f.Rules), len(f.Transactions))
		return nil
	}

	ctx := context.Background()
	e, err := openEnv(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer e.Close()

	summary, err := seed.Apply(ctx, f, seed.Deps{
		Paths:        e.repos.Paths,
		Rules:        e.repos.Rules,
		Roles:        e.repos.Identity,
		Transactions: e.repos.Transactions,
		TxManager:    e.db.TransactionMgr,
	})
	if err != nil {
		return WrapExitError(ExitFailure, "failed to apply seed file", err)
	}

	if opts.Format == "json" {
		return printJSON(cmd.OutOrStdout(), summary)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stored %d paths, %d rules, %d role assignments, %d transactions\n",
		summary.Paths, summary.Rules, summary.Roles, summary.Transactions)
	return nil
}
