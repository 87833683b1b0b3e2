package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coopledger/patronage/internal/domain"
)

// SubmitOptions holds flags for the submit command.
type SubmitOptions struct {
	*RootOptions
	Description string
}

// NewSubmitCommand creates the submit command.
func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SubmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "submit <member> <period> <type> <amount>",
		Short: "Submit a contribution for peer review",
		Long: `Submit a contribution. The type must appear in the policy weight
table. The contribution stays pending until another member approves or
rejects it; nothing posts to the ledger before approval.

Example:
  patronage submit m-ada fy2026 labor 1200.00 --desc "Q1 build-out"`,
		Args:          cobra.ExactArgs(4),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Description, "desc", "", "free-form description")

	return cmd
}

func runSubmit(opts *SubmitOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	env, err := openEnv(opts.RootOptions, true)
	if err != nil {
		return err
	}
	defer env.Close()

	amount, err := domain.MoneyFromString(args[3], env.Policy.Currency)
	if err != nil {
		return fail(formatter, fmt.Errorf("invalid amount %q: %v", args[3], err))
	}

	c, err := env.Contribs.Submit(cmd.Context(), args[0], args[1],
		domain.ContributionType(args[2]), amount, opts.Description)
	if err != nil {
		return fail(formatter, err)
	}

	if formatter.Format == "json" {
		return formatter.Success(contributionRow(c))
	}
	return formatter.Success(fmt.Sprintf("submitted %s: %s %s %s (pending review)",
		c.ID, c.MemberID, c.Type, c.Amount))
}

// ResolveOptions holds flags for the approve and reject commands.
type ResolveOptions struct {
	*RootOptions
	By     string
	Reason string
}

// NewApproveCommand creates the approve command.
func NewApproveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResolveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "approve <contribution-id>",
		Short: "Approve a pending contribution",
		Long: `Approve a pending contribution, posting its weighted value to the
contributor's capital accounts. The approver must be a different member
than the contributor.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApprove(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.By, "by", "", "approving member ID (required)")
	_ = cmd.MarkFlagRequired("by")

	return cmd
}

func runApprove(opts *ResolveOptions, id string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	env, err := openEnv(opts.RootOptions, true)
	if err != nil {
		return err
	}
	defer env.Close()

	c, err := env.Contribs.Approve(cmd.Context(), id, opts.By)
	if err != nil {
		return fail(formatter, err)
	}

	if formatter.Format == "json" {
		return formatter.Success(contributionRow(c))
	}
	return formatter.Success(fmt.Sprintf("approved %s by %s", c.ID, c.ResolvedBy))
}

// NewRejectCommand creates the reject command.
func NewRejectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResolveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "reject <contribution-id>",
		Short:         "Reject a pending contribution",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReject(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.By, "by", "", "rejecting member ID (required)")
	cmd.Flags().StringVar(&opts.Reason, "reason", "", "rejection reason")
	_ = cmd.MarkFlagRequired("by")

	return cmd
}

func runReject(opts *ResolveOptions, id string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	env, err := openEnv(opts.RootOptions, true)
	if err != nil {
		return err
	}
	defer env.Close()

	c, err := env.Contribs.Reject(cmd.Context(), id, opts.By, opts.Reason)
	if err != nil {
		return fail(formatter, err)
	}

	if formatter.Format == "json" {
		return formatter.Success(contributionRow(c))
	}
	return formatter.Success(fmt.Sprintf("rejected %s by %s", c.ID, c.ResolvedBy))
}

func contributionRow(c domain.Contribution) map[string]any {
	row := map[string]any{
		"id":     c.ID,
		"member": c.MemberID,
		"period": c.PeriodID,
		"type":   string(c.Type),
		"amount": c.Amount.String(),
		"status": string(c.Status),
	}
	if c.ResolvedBy != "" {
		row["resolved_by"] = c.ResolvedBy
	}
	if c.Reason != "" {
		row["reason"] = c.Reason
	}
	return row
}
