package main

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "melonbooks-monitor",
		Short: "Watch Melonbooks artists for new and restocked products",
		Long: `melonbooks-monitor keeps a local catalog of the products of watched artists.

It discovers products that were never seen before, refreshes the stock state of
known products and notifies Telegram or Discord about new items and items that
can be ordered again.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// .env is optional
			_ = godotenv.Load()
		},
	}
	cmd.PersistentFlags().String("config", "", "config file (default: merged search paths)")

	cmd.AddCommand(
		newRunCmd(),
		newDiscoverCmd(),
		newRefreshCmd(),
		newDaemonCmd(),
		newArtistCmd(),
		newProductsCmd(),
		newSkipTitleCmd(),
	)
	return cmd
}
