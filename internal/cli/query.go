package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/message"

	"github.com/roach88/ethbank/internal/config"
	"github.com/roach88/ethbank/internal/ledger"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Print every recorded transfer in order",
		Long: `Print the ledger's records, oldest first, with the count read from the
same snapshot.

Example:
  ethbank history
  ethbank history --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(cmd.ErrOrStderr(), rootOpts.Verbose)
			out := rootOpts.formatter(cmd)
			ctx := commandContext(cmd.Context)

			return withLedger(ctx, rootOpts, func(_ *config.Config, st ledgerStore) error {
				snap, err := ledger.GetSnapshot(ctx, st)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to read ledger", err)
				}
				return out.Success(historyView(snap))
			})
		},
	}
}

// NewCountCommand creates the count command.
func NewCountCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "count",
		Short:         "Print the number of recorded transfers",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(cmd.ErrOrStderr(), rootOpts.Verbose)
			out := rootOpts.formatter(cmd)
			ctx := commandContext(cmd.Context)

			return withLedger(ctx, rootOpts, func(_ *config.Config, st ledgerStore) error {
				n, err := ledger.GetCount(ctx, st)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to read ledger", err)
				}
				return out.Success(countView{Count: n})
			})
		},
	}
}

// NewBalanceCommand creates the balance command.
func NewBalanceCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <address>",
		Short: "Print an account's balance",
		Long: `Print the balance of <address>. Accounts that never held value report 0.

Example:
  ethbank balance 0x00000000000000000000000000000000000a11ce`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(cmd.ErrOrStderr(), rootOpts.Verbose)
			out := rootOpts.formatter(cmd)

			addr, err := ledger.ParseAddress(args[0])
			if err != nil {
				_ = out.Error("E_INVALID_ARGS", err.Error(), nil)
				return WrapExitError(ExitCommandError, "invalid address", err)
			}

			ctx := commandContext(cmd.Context)
			return withLedger(ctx, rootOpts, func(_ *config.Config, st ledgerStore) error {
				acct, err := ledger.GetAccount(ctx, st, addr)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to read account", err)
				}
				return out.Success(accountView(acct))
			})
		},
	}
}

type historyView ledger.Snapshot

func (h historyView) renderText(p *message.Printer) string {
	var b strings.Builder
	for _, rec := range h.Records {
		b.WriteString(recordView(rec).renderText(p))
		b.WriteByte('\n')
	}
	b.WriteString(countView{Count: h.Count}.renderText(p))
	return b.String()
}

type countView struct {
	Count uint64 `json:"count"`
}

func (c countView) renderText(p *message.Printer) string {
	return p.Sprintf("%d transfers", c.Count)
}

type accountView ledger.Account

func (a accountView) renderText(p *message.Printer) string {
	s := p.Sprintf("%s  %s wei (%s ether)", a.Address, a.Balance.String(), a.Balance.Ether())
	if a.RefusesFunds {
		s += "  refuses funds"
	}
	return s
}
