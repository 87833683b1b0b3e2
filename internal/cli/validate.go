package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coopledger/patronage/internal/compliance"
	"github.com/coopledger/patronage/internal/domain"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Period  string
	Surplus string
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid      bool                   `json:"valid"`
	Violations []compliance.Violation `json:"violations,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Run compliance checks against the ledger",
		Long: `Run compliance checks against the ledger: every transaction must
balance to zero, the incremental balance index must agree with a full
replay of the log, and no member capital account may be negative
without a deficit-restoration or qualified-income-offset provision.

With --period and --surplus, also checks that the period's recorded
allocations do not overrun the declared surplus.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidateChecks(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Period, "period", "", "also check allocations recorded for this period")
	cmd.Flags().StringVar(&opts.Surplus, "surplus", "", "declared surplus for the allocation check")

	return cmd
}

func runValidateChecks(opts *ValidateOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	if (opts.Period == "") != (opts.Surplus == "") {
		return fail(formatter, fmt.Errorf("--period and --surplus must be given together"))
	}

	env, err := openEnv(opts.RootOptions, true)
	if err != nil {
		return err
	}
	defer env.Close()

	surplus := domain.Money{}
	if opts.Surplus != "" {
		surplus, err = domain.MoneyFromString(opts.Surplus, env.Policy.Currency)
		if err != nil {
			return fail(formatter, fmt.Errorf("invalid --surplus %q: %v", opts.Surplus, err))
		}
	}

	violations, err := env.Checker.RunAll(cmd.Context(), opts.Period, surplus)
	if err != nil {
		return fail(formatter, err)
	}

	if len(violations) == 0 {
		if formatter.Format == "json" {
			return formatter.Success(ValidationResult{Valid: true})
		}
		fmt.Fprintln(formatter.Writer, "ledger is compliant")
		return nil
	}

	if formatter.Format == "json" {
		_ = formatter.Success(ValidationResult{Valid: false, Violations: violations})
		return NewExitError(ExitFailure, fmt.Sprintf("%d compliance violation(s)", len(violations)))
	}

	fmt.Fprintf(formatter.Writer, "%d compliance violation(s)\n\n", len(violations))
	for _, v := range violations {
		fmt.Fprintf(formatter.Writer, "  %s  %s\n    %s\n\n", v.Code, v.Subject, v.Detail)
	}
	return NewExitError(ExitFailure, fmt.Sprintf("%d compliance violation(s)", len(violations)))
}
