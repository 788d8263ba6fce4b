package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/garyjia/approval-routing/internal/application/matcher"
	"github.com/garyjia/approval-routing/internal/application/service"
	"github.com/garyjia/approval-routing/internal/domain/entity"
)

// MatchOptions holds the match context flags shared by preview and debug.
type MatchOptions struct {
	*RootOptions
	Context entity.MatchContext
	Risk    float64
}

func (o *MatchOptions) bind(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&o.Context.TransactionType, "type", "", "transaction type (required)")
	f.StringVar(&o.Context.Subsidiary, "subsidiary", "", "subsidiary")
	f.Float64Var(&o.Context.Amount, "amount", 0, "transaction amount")
	f.StringVar(&o.Context.Department, "department", "", "department")
	f.StringVar(&o.Context.Location, "location", "", "location")
	f.StringVar(&o.Context.Currency, "currency", "", "currency code")
	f.Float64Var(&o.Risk, "risk", 0, "risk score (unset means none)")
	f.StringVar(&o.Context.ExceptionType, "exception", "", "exception type")
	f.StringVar(&o.Context.Customer, "customer", "", "customer")
	f.StringVar(&o.Context.SalesRep, "sales-rep", "", "sales rep")
	f.StringVar(&o.Context.Project, "project", "", "project")
	f.StringVar(&o.Context.Class, "class", "", "class")
	f.StringVar(&o.Context.CustomSegment, "segment", "", "custom segment")
	_ = cmd.MarkFlagRequired("type")
}

func (o *MatchOptions) matchContext(cmd *cobra.Command) entity.MatchContext {
	mc := o.Context
	if cmd.Flags().Changed("risk") {
		risk := o.Risk
		mc.RiskScore = &risk
	}
	return mc
}

// NewPreviewCommand creates the preview command.
func NewPreviewCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Show which path a transaction would be routed to",
		Long: `Select the approval path for a match context without touching any
transaction.

Examples:
  approvalctl preview --db ./data/approvals.db --type purchase_order --subsidiary 1 --amount 1200 --department D`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMatch(opts, cmd, false)
		},
	}
	opts.bind(cmd)
	return cmd
}

// NewDebugCommand creates the debug command.
func NewDebugCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Explain how every rule evaluates a match context",
		Long: `Evaluate every active rule of the transaction type and report each
criterion, the path status and which rule was selected.

Examples:
  approvalctl debug --db ./data/approvals.db --type vendor_bill --subsidiary 2 --amount 90000 --risk 70`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMatch(opts, cmd, true)
		},
	}
	opts.bind(cmd)
	return cmd
}

func runMatch(opts *MatchOptions, cmd *cobra.Command, debug bool) error {
	ctx := context.Background()
	e, err := openEnv(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer e.Close()

	mc := opts.matchContext(cmd)
	var result *service.ActionResult
	if debug {
		result = e.engine.Workflow.DebugMatch(ctx, mc)
	} else {
		result = e.engine.Workflow.PreviewMatch(ctx, mc)
	}

	if opts.Format == "json" {
		if err := printJSON(cmd.OutOrStdout(), result); err != nil {
			return err
		}
	} else if result.Success {
		out := cmd.OutOrStdout()
		if debug {
			writeTrace(out, result.Trace)
		}
		writeMatch(out, result.Match)
	}

	if !result.Success {
		return NewExitError(ExitFailure, fmt.Sprintf("%s: %s", result.ErrorKind, result.Message))
	}
	return nil
}

func writeMatch(w io.Writer, m *matcher.MatchResult) {
	if m == nil {
		fmt.Fprintln(w, "No path selected")
		return
	}
	fmt.Fprintf(w, "Path %d %q\n", m.Path.ID, m.Path.Name)
	fmt.Fprintln(w, m.Explanation)
	writeSteps(w, m.Steps)
}

func writeTrace(w io.Writer, trace *matcher.DebugTrace) {
	if trace == nil {
		return
	}
	fmt.Fprintf(w, "Evaluated on %s\n", trace.EvaluatedOn)
	for _, r := range trace.Rules {
		marker := " "
		if r.Selected {
			marker = "*"
		}
		fmt.Fprintf(w, "%s rule %d %q priority=%d window=%t matched=%t specificity=%d path=%d (%s)\n",
			marker, r.RuleID, r.RuleName, r.Priority, r.InWindow, r.Matched, r.Specificity, r.PathID, r.PathStatus)
		for _, c := range r.Criteria {
			status := "pass"
			if !c.Passed {
				status = "FAIL"
			}
			fmt.Fprintf(w, "    %-4s %s: want %s, got %s\n", status, c.Name, c.Expected, c.Actual)
		}
	}
	fmt.Fprintln(w, strings.Repeat("-", 40))
}
