package main

import (
	"github.com/spf13/cobra"

	"github.com/dkoval/netpatch/pkg/cli"
)

func init() {
	rootCmd.AddCommand(shellCmd)
}

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Start an interactive session",
	Long: `Start an interactive session with tab completion. The session
exposes the same operations as the subcommands (show, gen, diff, patch,
deploy) and keeps option changes made with "set" until it ends.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, log, err := buildService()
		if err != nil {
			return err
		}
		defer log.Sync()
		return cli.New(svc, cliOptions()).Run()
	},
}
