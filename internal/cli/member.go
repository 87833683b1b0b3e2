package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/coopledger/patronage/internal/domain"
)

// MemberAddOptions holds flags for the member add command.
type MemberAddOptions struct {
	*RootOptions
	Role string
	DRO  bool
	QIO  bool
}

// NewMemberCommand creates the member command group.
func NewMemberCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "member",
		Short: "Manage cooperative members",
	}
	cmd.AddCommand(newMemberAddCommand(rootOpts))
	cmd.AddCommand(newMemberListCommand(rootOpts))
	cmd.AddCommand(newMemberDeactivateCommand(rootOpts))
	return cmd
}

func newMemberDeactivateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <id>",
		Short: "Mark a member inactive",
		Long: `Mark a member inactive. Identity and capital accounts are kept;
history is never rewritten. Status is the only mutable member field.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMemberDeactivate(rootOpts, args[0], cmd)
		},
	}
}

func runMemberDeactivate(opts *RootOptions, id string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	env, err := openEnv(opts, true)
	if err != nil {
		return err
	}
	defer env.Close()

	if err := env.Store.SetMemberStatus(cmd.Context(), id, domain.MemberInactive); err != nil {
		return fail(formatter, err)
	}

	if formatter.Format == "json" {
		return formatter.Success(map[string]string{"id": id, "status": string(domain.MemberInactive)})
	}
	return formatter.Success(fmt.Sprintf("member %s deactivated", id))
}

func newMemberAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MemberAddOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add <id> <name>",
		Short: "Add a member and their capital accounts",
		Long: `Add a member. Creates one capital account per accounting basis.

Example:
  patronage member add m-ada "Ada" --dro`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMemberAdd(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Role, "role", "member", "governance role (member|steward|admin)")
	cmd.Flags().BoolVar(&opts.DRO, "dro", false, "member carries a deficit-restoration obligation")
	cmd.Flags().BoolVar(&opts.QIO, "qio", false, "member carries a qualified-income-offset provision")

	return cmd
}

func runMemberAdd(opts *MemberAddOptions, id, name string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	role := domain.Role(opts.Role)
	if !domain.ValidRole(role) {
		return fail(formatter, fmt.Errorf("invalid role %q", opts.Role))
	}

	env, err := openEnv(opts.RootOptions, true)
	if err != nil {
		return err
	}
	defer env.Close()

	m := domain.Member{
		ID: id, Name: name, Role: role,
		Status: domain.MemberActive,
		DRO:    opts.DRO, QIO: opts.QIO,
		JoinedAt: time.Now().UTC(),
	}
	if err := env.Store.InsertMember(cmd.Context(), m); err != nil {
		return fail(formatter, err)
	}

	if formatter.Format == "json" {
		return formatter.Success(memberRow(m))
	}
	return formatter.Success(fmt.Sprintf("added member %s (%s)", m.ID, m.Name))
}

func newMemberListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List members",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMemberList(rootOpts, cmd)
		},
	}
}

func runMemberList(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	env, err := openEnv(opts, true)
	if err != nil {
		return err
	}
	defer env.Close()

	members, err := env.Store.ListMembers(cmd.Context())
	if err != nil {
		return fail(formatter, err)
	}

	if formatter.Format == "json" {
		rows := make([]map[string]any, len(members))
		for i, m := range members {
			rows[i] = memberRow(m)
		}
		return formatter.Success(rows)
	}
	for _, m := range members {
		flags := ""
		if m.DRO {
			flags += " dro"
		}
		if m.QIO {
			flags += " qio"
		}
		fmt.Fprintf(formatter.Writer, "%s\t%s\t%s\t%s%s\n", m.ID, m.Name, m.Role, m.Status, flags)
	}
	return nil
}

func memberRow(m domain.Member) map[string]any {
	return map[string]any{
		"id":     m.ID,
		"name":   m.Name,
		"role":   string(m.Role),
		"status": string(m.Status),
		"dro":    m.DRO,
		"qio":    m.QIO,
	}
}
