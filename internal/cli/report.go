package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "report <period>",
		Short: "Show the allocation report for a period",
		Long: `Show the allocation report for a period: each member's raw and
weighted patronage, their allocation score, and the allocated amount.
Available once a close has recorded its proposal.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(rootOpts, args[0], cmd)
		},
	}
}

func runReport(opts *RootOptions, periodID string, cmd *cobra.Command) error {
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
	allocs, err := env.Store.AllocationsForPeriod(cmd.Context(), periodID)
	if err != nil {
		return fail(formatter, err)
	}

	pending, err := env.Store.ListPendingPatronage(cmd.Context(), periodID)
	if err != nil {
		return fail(formatter, err)
	}

	if formatter.Format == "json" {
		rows := make([]map[string]any, len(allocs))
		for i, a := range allocs {
			rows[i] = map[string]any{
				"member":   a.MemberID,
				"raw":      a.Raw.String(),
				"weighted": a.Weighted.String(),
				"score":    a.Score,
				"amount":   a.Amount.String(),
			}
		}
		accrued := map[string]string{}
		for member, d := range pending {
			accrued[member] = d.String()
		}
		return formatter.Success(map[string]any{
			"period":      periodID,
			"status":      string(p.Status),
			"allocations": rows,
			"accrued":     accrued,
		})
	}

	fmt.Fprintf(formatter.Writer, "period %s (%s)\n", periodID, p.Status)
	if len(allocs) == 0 {
		if len(pending) == 0 {
			fmt.Fprintln(formatter.Writer, "no allocations recorded")
			return nil
		}
		// Close not run yet; show what the approved contributions have
		// accrued so far.
		fmt.Fprintf(formatter.Writer, "%-12s %12s\n", "MEMBER", "ACCRUED")
		members := make([]string, 0, len(pending))
		for m := range pending {
			members = append(members, m)
		}
		sort.Strings(members)
		for _, m := range members {
			fmt.Fprintf(formatter.Writer, "%-12s %12s\n", m, pending[m].String())
		}
		return nil
	}
	fmt.Fprintf(formatter.Writer, "%-12s %12s %12s %10s %12s\n", "MEMBER", "RAW", "WEIGHTED", "SCORE", "AMOUNT")
	for _, a := range allocs {
		score := a.Score
		if len(score) > 10 {
			score = score[:10]
		}
		fmt.Fprintf(formatter.Writer, "%-12s %12s %12s %10s %12s\n",
			a.MemberID, a.Raw.String(), a.Weighted.String(), score, a.Amount.String())
	}
	return nil
}
