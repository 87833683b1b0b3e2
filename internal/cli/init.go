package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the data file and system accounts",
		Long: `Create the SQLite data file, apply the schema, and create the
retained-surplus system accounts named by the policy.

Safe to re-run: an existing data file is left as is.

Example:
  patronage init --db ./coop.db
  patronage init --db ./coop.db --policy ./policy.cue`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(rootOpts, cmd)
		},
	}
}

func runInit(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	env, err := openEnv(opts, false)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx := cmd.Context()
	if err := env.Store.EnsureSystemAccount(ctx, env.Policy.SurplusAccount); err != nil {
		return fail(formatter, err)
	}

	formatter.VerboseLog("surplus account: %s", env.Policy.SurplusAccount)
	if formatter.Format == "json" {
		return formatter.Success(map[string]string{
			"db":              opts.DB,
			"currency":        env.Policy.Currency,
			"surplus_account": env.Policy.SurplusAccount,
		})
	}
	return formatter.Success(fmt.Sprintf("initialized %s (currency %s)", opts.DB, env.Policy.Currency))
}
