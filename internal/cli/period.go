package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/coopledger/patronage/internal/domain"
)

// PeriodOpenOptions holds flags for the period open command.
type PeriodOpenOptions struct {
	*RootOptions
	Name   string
	Starts string
	Ends   string
}

// NewPeriodCommand creates the period command group.
func NewPeriodCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "period",
		Short: "Manage accounting periods",
	}
	cmd.AddCommand(newPeriodOpenCommand(rootOpts))
	cmd.AddCommand(newPeriodListCommand(rootOpts))
	return cmd
}

func newPeriodOpenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PeriodOpenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "open <id>",
		Short: "Open a new accounting period",
		Long: `Open a new accounting period. Only one period may be open or
closing at a time.

Example:
  patronage period open fy2026 --name "FY 2026" --starts 2026-01-01 --ends 2026-12-31`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPeriodOpen(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "", "display name")
	cmd.Flags().StringVar(&opts.Starts, "starts", "", "period start date, YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&opts.Ends, "ends", "", "period end date, YYYY-MM-DD (required)")
	_ = cmd.MarkFlagRequired("starts")
	_ = cmd.MarkFlagRequired("ends")

	return cmd
}

func runPeriodOpen(opts *PeriodOpenOptions, id string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	starts, err := time.Parse("2006-01-02", opts.Starts)
	if err != nil {
		return fail(formatter, fmt.Errorf("invalid --starts %q: %v", opts.Starts, err))
	}
	ends, err := time.Parse("2006-01-02", opts.Ends)
	if err != nil {
		return fail(formatter, fmt.Errorf("invalid --ends %q: %v", opts.Ends, err))
	}

	env, err := openEnv(opts.RootOptions, true)
	if err != nil {
		return err
	}
	defer env.Close()

	p := domain.Period{
		ID: id, Name: opts.Name,
		StartsAt: starts, EndsAt: ends,
		Status: domain.PeriodOpen,
	}
	if err := env.Store.InsertPeriod(cmd.Context(), p); err != nil {
		return fail(formatter, err)
	}

	if formatter.Format == "json" {
		return formatter.Success(periodRow(p))
	}
	return formatter.Success(fmt.Sprintf("opened period %s (%s to %s)", p.ID, opts.Starts, opts.Ends))
}

func newPeriodListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List periods",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPeriodList(rootOpts, cmd)
		},
	}
}

func runPeriodList(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	env, err := openEnv(opts, true)
	if err != nil {
		return err
	}
	defer env.Close()

	periods, err := env.Store.ListPeriods(cmd.Context())
	if err != nil {
		return fail(formatter, err)
	}

	if formatter.Format == "json" {
		rows := make([]map[string]any, len(periods))
		for i, p := range periods {
			rows[i] = periodRow(p)
		}
		return formatter.Success(rows)
	}
	for _, p := range periods {
		fmt.Fprintf(formatter.Writer, "%s\t%s\t%s\t%s\t%s\n",
			p.ID, p.Name, p.StartsAt.Format("2006-01-02"), p.EndsAt.Format("2006-01-02"), p.Status)
	}
	return nil
}

func periodRow(p domain.Period) map[string]any {
	return map[string]any{
		"id":     p.ID,
		"name":   p.Name,
		"starts": p.StartsAt.UTC().Format("2006-01-02"),
		"ends":   p.EndsAt.UTC().Format("2006-01-02"),
		"status": string(p.Status),
	}
}
