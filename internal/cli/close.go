package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	periodclose "github.com/coopledger/patronage/internal/close"
	"github.com/coopledger/patronage/internal/domain"
)

// CloseInitiateOptions holds flags for the close initiate command.
type CloseInitiateOptions struct {
	*RootOptions
	Surplus string
}

// NewCloseCommand creates the close command group.
func NewCloseCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "close",
		Short: "Run the period close workflow",
		Long: `Run the period close workflow: aggregate approved contributions,
compute the allocation proposal, and park at the governance gate. The
workflow resumes from its last recorded step after a restart.`,
	}
	cmd.AddCommand(newCloseInitiateCommand(rootOpts))
	cmd.AddCommand(newCloseApproveCommand(rootOpts))
	cmd.AddCommand(newCloseRejectCommand(rootOpts))
	cmd.AddCommand(newCloseResumeCommand(rootOpts))
	cmd.AddCommand(newCloseAbortCommand(rootOpts))
	cmd.AddCommand(newCloseStatusCommand(rootOpts))
	return cmd
}

func newCloseAbortCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "abort <period>",
		Short:         "Abort a close in progress and reopen the period",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCloseAbort(rootOpts, args[0], cmd)
		},
	}
}

func runCloseAbort(opts *RootOptions, periodID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	env, err := openEnv(opts, true)
	if err != nil {
		return err
	}
	defer env.Close()

	if err := env.Orch.Abort(cmd.Context(), periodID); err != nil {
		return fail(formatter, err)
	}

	if formatter.Format == "json" {
		return formatter.Success(map[string]string{"period": periodID, "status": "open"})
	}
	return formatter.Success(fmt.Sprintf("period %s close aborted", periodID))
}

func newCloseInitiateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CloseInitiateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "initiate <period>",
		Short: "Begin closing a period with a declared surplus",
		Long: `Begin closing a period. Aggregates approved contributions, applies
the policy weights, and records the allocation proposal. The workflow
then waits for governance approval (close approve / close reject).`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCloseInitiate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Surplus, "surplus", "", "surplus to allocate, e.g. 12000.00 (required)")
	_ = cmd.MarkFlagRequired("surplus")

	return cmd
}

func runCloseInitiate(opts *CloseInitiateOptions, periodID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	env, err := openEnv(opts.RootOptions, true)
	if err != nil {
		return err
	}
	defer env.Close()

	surplus, err := domain.MoneyFromString(opts.Surplus, env.Policy.Currency)
	if err != nil {
		return fail(formatter, fmt.Errorf("invalid --surplus %q: %v", opts.Surplus, err))
	}

	if err := env.Orch.Initiate(cmd.Context(), periodID, surplus); err != nil {
		return fail(formatter, err)
	}

	if formatter.Format == "json" {
		return formatter.Success(map[string]string{"period": periodID, "status": "closing"})
	}
	return formatter.Success(fmt.Sprintf("period %s closing: allocation proposed, awaiting approval", periodID))
}

func newCloseApproveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "approve <period>",
		Short:         "Approve the allocation proposal and finish the close",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCloseApprove(rootOpts, args[0], cmd)
		},
	}
}

func runCloseApprove(opts *RootOptions, periodID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	env, err := openEnv(opts, true)
	if err != nil {
		return err
	}
	defer env.Close()

	if err := env.Orch.Approve(cmd.Context(), periodID); err != nil {
		return fail(formatter, err)
	}

	if formatter.Format == "json" {
		return formatter.Success(map[string]string{"period": periodID, "status": "closed"})
	}
	return formatter.Success(fmt.Sprintf("period %s closed", periodID))
}

func newCloseRejectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResolveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "reject <period>",
		Short:         "Reject the allocation proposal and reopen the period",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCloseReject(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Reason, "reason", "", "rejection reason")

	return cmd
}

func runCloseReject(opts *ResolveOptions, periodID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	env, err := openEnv(opts.RootOptions, true)
	if err != nil {
		return err
	}
	defer env.Close()

	if err := env.Orch.Reject(cmd.Context(), periodID, opts.Reason); err != nil {
		return fail(formatter, err)
	}

	if formatter.Format == "json" {
		return formatter.Success(map[string]string{"period": periodID, "status": "open"})
	}
	return formatter.Success(fmt.Sprintf("period %s reopened, proposal discarded", periodID))
}

func newCloseResumeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <period>",
		Short: "Resume an interrupted close",
		Long: `Resume a close that was interrupted mid-workflow. Recorded steps
are skipped; the workflow continues from the first incomplete step.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCloseResume(rootOpts, args[0], cmd)
		},
	}
}

func runCloseResume(opts *RootOptions, periodID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	env, err := openEnv(opts, true)
	if err != nil {
		return err
	}
	defer env.Close()

	err = env.Orch.Resume(cmd.Context(), periodID)
	if errors.Is(err, periodclose.ErrApprovalPending) {
		return formatter.Success(fmt.Sprintf("period %s: allocation proposal awaiting approval", periodID))
	}
	if err != nil {
		return fail(formatter, err)
	}

	if formatter.Format == "json" {
		return formatter.Success(map[string]string{"period": periodID, "status": "closed"})
	}
	return formatter.Success(fmt.Sprintf("period %s closed", periodID))
}

func newCloseStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "status <period>",
		Short:         "Show recorded close steps for a period",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCloseStatus(rootOpts, args[0], cmd)
		},
	}
}

func runCloseStatus(opts *RootOptions, periodID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	env, err := openEnv(opts, true)
	if err != nil {
		return err
	}
	defer env.Close()

	p, err := env.Store.GetPeriod(cmd.Context(), periodID)
	if err != nil {
		return fail(formatter, err)
	}
	steps, err := env.Orch.Status(cmd.Context(), periodID)
	if err != nil {
		return fail(formatter, err)
	}

	recorded := map[string]bool{}
	for _, s := range steps {
		recorded[s.Step] = true
	}

	if formatter.Format == "json" {
		rows := make([]map[string]any, 0, len(periodclose.Steps))
		for _, name := range periodclose.Steps {
			rows = append(rows, map[string]any{"step": name, "done": recorded[name]})
		}
		return formatter.Success(map[string]any{
			"period": periodID,
			"status": string(p.Status),
			"steps":  rows,
		})
	}

	fmt.Fprintf(formatter.Writer, "period %s: %s\n", periodID, p.Status)
	for _, name := range periodclose.Steps {
		mark := " "
		if recorded[name] {
			mark = "x"
		}
		fmt.Fprintf(formatter.Writer, "  [%s] %s\n", mark, name)
	}
	return nil
}
