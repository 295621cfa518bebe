// Netpatch computes and deploys network device configuration changes.
//
// It renders each device's desired configuration, diffs it against the
// device's current configuration, turns the diff into a vendor-correct
// command sequence, and can apply that sequence across a fleet with
// bounded concurrency, verification, and rollback.
//
// Usage:
//
//	netpatch [command] [flags]
//
// See 'netpatch --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "netpatch",
	Short: "Network configuration diff and deployment tool",
	Long: `Netpatch renders desired device configurations, diffs them against
the current state, generates vendor-correct patches, and deploys them
across a fleet with verification and rollback.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("netpatch %s\n", version)
	},
}
