package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/text/message"

	"github.com/roach88/ethbank/internal/config"
	"github.com/roach88/ethbank/internal/ledger"
)

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Audit the ledger invariants",
		Long: `Check the stored ledger against its invariants in a single snapshot:
count equals the number of records, indices are contiguous from 0,
timestamps never decrease, and every balance equals its opening balance
plus what it received minus what it sent.

Exit codes:
  0 - Ledger is consistent
  1 - One or more violations
  2 - Command error`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(cmd.ErrOrStderr(), rootOpts.Verbose)
			out := rootOpts.formatter(cmd)
			ctx := commandContext(cmd.Context)

			return withLedger(ctx, rootOpts, func(_ *config.Config, st ledgerStore) error {
				report, err := ledger.Audit(ctx, st)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to audit ledger", err)
				}

				if report.OK() {
					return out.Success(auditView(report))
				}

				_ = out.Error("E_AUDIT_FAILED",
					fmt.Sprintf("%d violation(s)", len(report.Violations)),
					report.Violations)
				if out.Format != "json" && !out.Verbose {
					for _, v := range report.Violations {
						fmt.Fprintf(out.Writer, "  %s\n", v)
					}
				}
				return NewExitError(ExitFailure, fmt.Sprintf("%d violation(s)", len(report.Violations)))
			})
		},
	}
}

type auditView ledger.AuditReport

func (a auditView) renderText(p *message.Printer) string {
	return p.Sprintf("✓ ledger consistent: %d transfers, %d accounts\n  digest %s", a.Count, a.Accounts, a.Digest)
}
