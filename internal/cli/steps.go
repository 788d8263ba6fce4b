package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/garyjia/approval-routing/internal/domain/entity"
)

// NewStepsCommand creates the steps command.
func NewStepsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "steps PATH_ID",
		Short: "List the steps of an approval path",
		Long: `List every step of an approval path in sequence order, inactive
steps included.

Examples:
  approvalctl steps --db ./data/approvals.db 3`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pathID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid path id", err)
			}
			return runSteps(rootOpts, cmd, pathID)
		},
	}
}

func runSteps(opts *RootOptions, cmd *cobra.Command, pathID int64) error {
	ctx := context.Background()
	e, err := openEnv(ctx, opts)
	if err != nil {
		return err
	}
	defer e.Close()

	result := e.engine.Workflow.ListPathSteps(ctx, pathID)
	if opts.Format == "json" {
		if err := printJSON(cmd.OutOrStdout(), result); err != nil {
			return err
		}
	} else if result.Success {
		fmt.Fprintln(cmd.OutOrStdout(), result.Message)
		writeSteps(cmd.OutOrStdout(), result.Steps)
	}

	if !result.Success {
		return NewExitError(ExitFailure, fmt.Sprintf("%s: %s", result.ErrorKind, result.Message))
	}
	return nil
}

func writeSteps(w io.Writer, steps []entity.PathStep) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tNAME\tAPPROVER\tMODE\tSLA\tFLAGS")
	for _, s := range steps {
		approver := s.ApproverID
		if s.ApproverType == entity.ApproverTypeRole {
			approver = "role:" + s.Role
		}
		flags := ""
		if s.CommentRequired {
			flags += "comment "
		}
		if !s.Active {
			flags += "inactive"
		}
		sla := "-"
		if s.SLAHours > 0 {
			sla = fmt.Sprintf("%dh", s.SLAHours)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", s.Sequence, s.Name, approver, s.ExecutionMode, sla, flags)
	}
	_ = tw.Flush()
}
