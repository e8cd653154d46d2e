package cli

import (
	"github.com/spf13/cobra"
	"golang.org/x/text/message"

	"github.com/roach88/ethbank/internal/ledger"
)

// NewAccountCommand creates the account command group.
func NewAccountCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage account identities",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "new",
		Short: "Generate a random account address",
		Long: `Print a fresh random address. The account holds nothing until it
receives a transfer or is listed in the genesis block.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)

			addr, err := ledger.NewRandomAddress()
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to generate address", err)
			}
			return out.Success(addressView{Address: addr})
		},
	})

	return cmd
}

type addressView struct {
	Address ledger.Address `json:"address"`
}

func (a addressView) renderText(*message.Printer) string {
	return a.Address.String()
}
