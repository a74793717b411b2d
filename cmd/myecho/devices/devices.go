package devices

import (
	"github.com/spf13/cobra"

	"github.com/asnowfix/myecho/cmd/myecho/options"
)

var refresh bool

var Cmd = &cobra.Command{
	Use:   "devices [name-or-serial]",
	Short: "List the devices of the account",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		c, err := options.AuthenticatedClient(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		if refresh {
			c.Registry().Invalidate()
		}
		if len(args) == 1 {
			dev, err := c.Registry().Find(ctx, args[0])
			if err != nil {
				return err
			}
			return options.PrintResult(dev)
		}
		devs, err := c.Devices(ctx)
		if err != nil {
			return err
		}
		return options.PrintResult(devs)
	},
}

func init() {
	Cmd.Flags().BoolVar(&refresh, "refresh", false, "ignore the cached device list")
}
