// Package cmd implements the citadel command-line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is the citadel release version.
const Version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "citadel",
	Short: "Citadel is a multi-tenant coding-assistant gateway",
	Long: `Citadel runs a multi-session gateway server for coding-assistant
clients, a stdio bridge for clients that speak the JSON-RPC tool
protocol, and a fleet dashboard over all gateway instances on a host.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "citadel: %v\n", err)
		os.Exit(1)
	}
}
