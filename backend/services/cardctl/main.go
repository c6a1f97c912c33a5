// Command cardctl administers the card core directly against its database.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "cardctl",
		Short:         "cardctl - administration tool for the RFID card core",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default $CARDCORE_CONFIG)")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(feeCmd())
	rootCmd.AddCommand(cardCmd())
	rootCmd.AddCommand(authorizeCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(auditCmd())
	return rootCmd
}
