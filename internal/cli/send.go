package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/text/message"

	"github.com/roach88/ethbank/internal/config"
	"github.com/roach88/ethbank/internal/engine"
	"github.com/roach88/ethbank/internal/ledger"
)

// SendOptions holds flags for the send command.
type SendOptions struct {
	*RootOptions
	From    string
	Message string
	Value   string
	Ether   bool
}

// NewSendCommand creates the send command.
func NewSendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "send <to> <amount>",
		Short: "Send value and record a note",
		Long: `Move <amount> wei from --from to <to> and append the transfer, with its
message, to the ledger. Both happen or neither does.

--value is the payment attached to the call and defaults to <amount>; a
different value is rejected with VALUE_MISMATCH. With --ether, <amount> and
--value are read as ether.

Exit codes:
  0 - Transfer recorded
  1 - Transfer rejected
  2 - Command error

Example:
  ethbank send 0x0000000000000000000000000000000000000b0b 100 \
    --from 0x00000000000000000000000000000000000a11ce --message "first transaction!"
  ethbank send 0x0000000000000000000000000000000000000b0b 0.5 --ether --from 0x...`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.From, "from", "", "sender address (required)")
	cmd.Flags().StringVarP(&opts.Message, "message", "m", "", "note stored with the transfer")
	cmd.Flags().StringVar(&opts.Value, "value", "", "attached value (default: amount)")
	cmd.Flags().BoolVar(&opts.Ether, "ether", false, "read amount and value as ether")
	_ = cmd.MarkFlagRequired("from")

	return cmd
}

func runSend(opts *SendOptions, to, amountArg string, cmd *cobra.Command) error {
	logger := setupLogging(cmd.ErrOrStderr(), opts.Verbose)
	out := opts.formatter(cmd)

	req, err := opts.request(to, amountArg)
	if err != nil {
		_ = out.Error("E_INVALID_ARGS", err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid arguments", err)
	}

	ctx := commandContext(cmd.Context)
	return withLedger(ctx, opts.RootOptions, func(cfg *config.Config, st ledgerStore) error {
		eng := engine.New(st,
			engine.WithMaxMessageBytes(cfg.Ledger.MaxMessageBytes),
			engine.WithLogger(logger),
		)

		done := make(chan error, 1)
		go func() { done <- eng.Run(ctx) }()

		rec, sendErr := eng.SendAndRecord(ctx, req)
		eng.Stop()
		if err := <-done; err != nil && sendErr == nil {
			sendErr = err
		}

		if sendErr != nil {
			return out.LedgerError("transfer failed", sendErr)
		}
		return out.Success(recordView(rec))
	})
}

func (opts *SendOptions) request(to, amountArg string) (engine.SendRequest, error) {
	from, err := ledger.ParseAddress(opts.From)
	if err != nil {
		return engine.SendRequest{}, fmt.Errorf("--from: %w", err)
	}

	parse := ledger.ParseAmount
	if opts.Ether {
		parse = ledger.ParseEther
	}

	amount, err := parse(amountArg)
	if err != nil {
		return engine.SendRequest{}, err
	}
	value := amount
	if opts.Value != "" {
		if value, err = parse(opts.Value); err != nil {
			return engine.SendRequest{}, fmt.Errorf("--value: %w", err)
		}
	}

	return engine.SendRequest{
		Sender:   from,
		Receiver: to,
		Amount:   amount,
		Message:  opts.Message,
		Value:    value,
	}, nil
}

// recordView renders a committed transfer.
type recordView ledger.TransferRecord

func (r recordView) renderText(p *message.Printer) string {
	return p.Sprintf("#%d  %s  %s -> %s  %s wei  %q",
		r.Index,
		r.Timestamp.UTC().Format("2006-01-02T15:04:05Z"),
		r.Sender.Short(),
		r.Receiver.Short(),
		r.Amount.String(),
		r.Message,
	)
}
