package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// BalanceOptions holds flags for the balance command.
type BalanceOptions struct {
	*RootOptions
	AsOf string
}

// NewBalanceCommand creates the balance command.
func NewBalanceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BalanceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "balance <account>",
		Short: "Show an account balance",
		Long: `Show an account balance. With --as-of, the balance is derived by
replaying the transaction log up to that instant instead of reading
the incremental index.

Example:
  patronage balance acct:m-ada:book
  patronage balance acct:m-ada:tax --as-of 2026-06-30T00:00:00Z`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBalance(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.AsOf, "as-of", "", "point-in-time balance, RFC 3339 timestamp")

	return cmd
}

func runBalance(opts *BalanceOptions, accountID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	env, err := openEnv(opts.RootOptions, true)
	if err != nil {
		return err
	}
	defer env.Close()

	currency := env.Policy.Currency
	row := map[string]any{"account": accountID, "currency": currency}

	if opts.AsOf != "" {
		asOf, err := time.Parse(time.RFC3339, opts.AsOf)
		if err != nil {
			return fail(formatter, fmt.Errorf("invalid --as-of %q: %v", opts.AsOf, err))
		}
		bal, err := env.Ledger.BalanceAsOf(cmd.Context(), accountID, currency, asOf)
		if err != nil {
			return fail(formatter, err)
		}
		row["amount"] = bal.String()
		row["as_of"] = asOf.UTC().Format(time.RFC3339)
	} else {
		bal, err := env.Ledger.Balance(cmd.Context(), accountID, currency)
		if err != nil {
			return fail(formatter, err)
		}
		row["amount"] = bal.String()
	}

	if formatter.Format == "json" {
		return formatter.Success(row)
	}
	return formatter.Success(fmt.Sprintf("%s\t%s %s", accountID, row["amount"], currency))
}
