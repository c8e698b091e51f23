package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "kistrader",
	Short: "Intraday long-equity engine for KIS domestic-stock accounts",
	Long: `kistrader drives a single trading day against a Korea Investment &
Securities (KIS) domestic-stock account:

  - loads a ranked candidate file before the open
  - admits candidates as limit buys at the open, within the cash budget
  - reconciles pending entries against the broker's holdings
  - monitors open positions for take-profit / stop-loss exits
  - force-closes everything still live going into the bell

Configuration comes from environment variables (a .env file is honored).`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
