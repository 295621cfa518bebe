package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dkoval/netpatch/pkg/deploy"
)

func init() {
	f := deployCmd.Flags()
	f.IntVar(&parallel, "parallel", 1, "Devices deployed concurrently")
	f.BoolVar(&tolerateFails, "tolerate-fails", false, "Keep going after a device fails")
	f.BoolVar(&noCheckDiff, "no-check-diff", false, "Skip the pre-apply drift check")
	f.BoolVar(&dontCommit, "dont-commit", false, "Apply without commit and persist framing")
	f.BoolVar(&rollbackFlag, "rollback", false, "Restore the original config when a device fails")
	f.IntVar(&maxDeploy, "max-deploy", 0, "Deploy at most this many devices (0 = all)")
	f.BoolVar(&noAskDeploy, "no-ask-deploy", false, "Skip the interactive confirmation")
	f.DurationVar(&runTimeout, "run-timeout", 0, "Overall run timeout (0 = none)")
	f.DurationVar(&deviceTimeout, "device-timeout", 0, "Per-device timeout (0 = none)")

	rootCmd.AddCommand(deployCmd)
}

var deployCmd = &cobra.Command{
	Use:   "deploy [query...]",
	Short: "Apply each device's patch, with verification and rollback",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, _, err := buildService()
		if err != nil {
			return err
		}
		opts := cliOptions()

		if !noAskDeploy {
			// Show what would be sent, then ask. Off a TTY there is
			// nobody to ask, so refuse rather than assume consent.
			patches, err := svc.ComputePatch(cmd.Context(), args, hostsRange, opts)
			if err != nil {
				return err
			}
			if err := printResults(patches, noCollapse); err != nil {
				return err
			}
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				return fmt.Errorf("refusing to deploy without confirmation on a non-terminal (use --no-ask-deploy)")
			}
			ok, err := confirm(fmt.Sprintf("Deploy to %d device(s)? [y/N] ", len(patches)))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("aborted")
				return nil
			}
		}

		rep, err := svc.Deploy(cmd.Context(), args, hostsRange, opts)
		if err != nil {
			return err
		}
		printReport(rep)
		if rep.Outcome() != "success" {
			return fmt.Errorf("deploy finished with outcome %q", rep.Outcome())
		}
		return nil
	},
}

func confirm(prompt string) (bool, error) {
	rl, err := readline.New(prompt)
	if err != nil {
		return false, err
	}
	defer rl.Close()
	line, err := rl.Readline()
	if err != nil {
		return false, nil // interrupt or EOF means no
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

func printReport(rep *deploy.Report) {
	for _, r := range rep.Results {
		status := r.State.String()
		if r.Err != nil {
			fmt.Printf("%-24s %-12s %v\n", r.Device, status, r.Err)
			continue
		}
		if r.Commands > 0 {
			fmt.Printf("%-24s %-12s %d commands in %s\n", r.Device, status, r.Commands, r.Duration.Round(time.Millisecond))
		} else {
			fmt.Printf("%-24s %-12s\n", r.Device, status)
		}
	}
	if rep.Aborted {
		fmt.Println("run aborted after failure (tolerate-fails disabled)")
	}
}
