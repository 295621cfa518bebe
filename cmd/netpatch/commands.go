package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dkoval/netpatch/pkg/core"
	"github.com/dkoval/netpatch/pkg/device"
	"github.com/dkoval/netpatch/pkg/gen"
	"github.com/dkoval/netpatch/pkg/inventory"
	"github.com/dkoval/netpatch/pkg/logging"
	"github.com/dkoval/netpatch/pkg/rulebook"
)

// Persistent flags shared by every device-facing command.
var (
	inventoryPath string
	logLevel      string
	labDir        string
	configsDir    string
	usersFile     string
	bannerText    string
	hostsRange    string

	configSource   string
	allowedGens    []string
	excludedGens   []string
	forceEnabled   []string
	noACL          bool
	aclSafe        bool
	filterACL      string
	filterIfaces   []string
	filterPeers    []string
	filterPolicies []string
	indentFlag     string
	showRules      bool
	noCollapse     bool
	addComments    bool
	parallel       int
	tolerateFails  bool
	noCheckDiff    bool
	dontCommit     bool
	rollbackFlag   bool
	maxDeploy      int
	noAskDeploy    bool
	runTimeout     time.Duration
	deviceTimeout  time.Duration
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&inventoryPath, "inventory", "inventory.yaml", "Inventory YAML file")
	pf.StringVar(&logLevel, "log-level", "", "Log verbosity (debug, info, warn, error; silent when empty)")
	pf.StringVar(&labDir, "lab", "", "Run against simulated devices seeded from this config directory")
	pf.StringVar(&configsDir, "configs", "configs", "Directory of per-device desired config files")
	pf.StringVar(&usersFile, "users", "", "YAML user account data for the users generator")
	pf.StringVar(&bannerText, "banner", "", "Login banner text for the banner generator")
	pf.StringVar(&hostsRange, "hosts-range", "", `Slice of the resolved device list ("N" or "start:stop")`)

	pf.StringVar(&configSource, "config", "running", `Current-state source: "running", "empty", or a path`)
	pf.StringSliceVar(&allowedGens, "allowed-gens", nil, "Only run these generators")
	pf.StringSliceVar(&excludedGens, "excluded-gens", nil, "Skip these generators")
	pf.StringSliceVar(&forceEnabled, "force-enabled", nil, "Run these generators even where disabled")
	pf.BoolVar(&noACL, "no-acl", false, "Skip access-control changes")
	pf.BoolVar(&aclSafe, "acl-safe", false, "Apply only additive access-control changes")
	pf.StringVar(&filterACL, "filter-acl", "", "Restrict generation to paths matching this pattern")
	pf.StringSliceVar(&filterIfaces, "filter-ifaces", nil, "Restrict generation to these interfaces")
	pf.StringSliceVar(&filterPeers, "filter-peers", nil, "Restrict generation to these BGP peers")
	pf.StringSliceVar(&filterPolicies, "filter-policies", nil, "Restrict generation to these routing policies")
	pf.StringVar(&indentFlag, "indent", "  ", "Indentation unit for nested commands")
	pf.BoolVar(&addComments, "add-comments", false, "Annotate patches with the originating change")

	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(genCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(patchCmd)
}

func init() {
	diffCmd.Flags().BoolVar(&showRules, "show-rules", false, "Annotate diff lines with the matching rule")
	diffCmd.Flags().BoolVar(&noCollapse, "no-collapse", false, "Print each device separately even when diffs are identical")
	patchCmd.Flags().BoolVar(&dontCommit, "dont-commit", false, "Omit commit and persist framing")
}

func cliOptions() core.Options {
	return core.Options{
		Config:         configSource,
		AllowedGens:    allowedGens,
		ExcludedGens:   excludedGens,
		ForceEnabled:   forceEnabled,
		NoACL:          noACL,
		ACLSafe:        aclSafe,
		FilterACL:      filterACL,
		FilterIfaces:   filterIfaces,
		FilterPeers:    filterPeers,
		FilterPolicies: filterPolicies,
		Indent:         indentFlag,
		ShowRules:      showRules,
		NoCollapse:     noCollapse,
		AddComments:    addComments,
		Parallel:       parallel,
		TolerateFails:  tolerateFails,
		NoCheckDiff:    noCheckDiff,
		DontCommit:     dontCommit,
		Rollback:       rollbackFlag,
		MaxDeploy:      maxDeploy,
		RunTimeout:     runTimeout,
		DeviceTimeout:  deviceTimeout,
	}
}

// buildService wires the collaborators from the CLI flags. With --lab
// set, device sessions go to in-memory simulators seeded from the lab
// directory; otherwise deployment requires a transport adapter.
func buildService() (*core.Service, *zap.Logger, error) {
	log, err := logging.New(logLevel)
	if err != nil {
		return nil, nil, err
	}

	inv, err := inventory.Load(inventoryPath)
	if err != nil {
		return nil, nil, err
	}
	registry := rulebook.DefaultRegistry()

	gens := gen.NewRegistry(&gen.Files{Dir: configsDir})
	if usersFile != "" {
		users, err := gen.LoadUsers(usersFile)
		if err != nil {
			return nil, nil, err
		}
		gens.Register(users)
	}
	if bannerText != "" {
		gens.Register(&gen.Banner{Text: bannerText})
	}

	var dialer device.Dialer
	if labDir != "" {
		lab := device.NewLab(registry)
		for _, dev := range inv.Devices {
			text, err := os.ReadFile(filepath.Join(labDir, dev.Name()+".cfg"))
			if err != nil && !os.IsNotExist(err) {
				return nil, nil, err
			}
			if _, err := lab.Add(dev, string(text)); err != nil {
				return nil, nil, fmt.Errorf("lab device %s: %w", dev.Name(), err)
			}
		}
		dialer = lab
	} else {
		dialer = noTransport{}
	}

	return core.NewService(inv, registry, gens, dialer, log), log, nil
}

// noTransport fails every dial. Reading from a file-based config
// source never dials, so diff and patch still work without --lab.
type noTransport struct{}

func (noTransport) Dial(ctx context.Context, dev inventory.Device) (device.Session, error) {
	return nil, &device.TransportError{Device: dev.Name(), Op: "dial",
		Err: fmt.Errorf("no transport configured (use --lab or --config)")}
}

var devicesCmd = &cobra.Command{
	Use:   "devices [query...]",
	Short: "List the devices a query resolves to",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, _, err := buildService()
		if err != nil {
			return err
		}
		devices, err := svc.ComputeDevices(args, hostsRange)
		if err != nil {
			return err
		}
		for _, d := range devices {
			tags := ""
			if len(d.Tags) > 0 {
				tags = "  [" + strings.Join(d.Tags, ",") + "]"
			}
			fmt.Printf("%-24s %-12s%s\n", d.Name(), d.Vendor, tags)
		}
		return nil
	},
}

var genCmd = &cobra.Command{
	Use:   "gen [query...]",
	Short: "Render each device's desired configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, _, err := buildService()
		if err != nil {
			return err
		}
		results, err := svc.GenerateConfig(cmd.Context(), args, hostsRange, cliOptions())
		if err != nil {
			return err
		}
		return printResults(results, true)
	},
}

var diffCmd = &cobra.Command{
	Use:   "diff [query...]",
	Short: "Show each device's current-vs-desired diff",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, _, err := buildService()
		if err != nil {
			return err
		}
		results, err := svc.ComputeDiff(cmd.Context(), args, hostsRange, cliOptions())
		if err != nil {
			return err
		}
		return printResults(results, noCollapse)
	},
}

var patchCmd = &cobra.Command{
	Use:   "patch [query...]",
	Short: "Show the command sequence each device would receive",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, _, err := buildService()
		if err != nil {
			return err
		}
		results, err := svc.ComputePatch(cmd.Context(), args, hostsRange, cliOptions())
		if err != nil {
			return err
		}
		return printResults(results, noCollapse)
	},
}

// printResults prints per-device texts. Unless perDevice is set,
// devices with identical output are grouped under one header.
func printResults(results []core.Result, perDevice bool) error {
	failures := 0
	if perDevice {
		for _, r := range results {
			printHeader([]string{r.Device.Name()})
			if r.Err != nil {
				failures++
				fmt.Printf("  error: %v\n", r.Err)
				continue
			}
			fmt.Print(indentBlock(r.Text))
		}
	} else {
		for _, group := range groupResults(results) {
			printHeader(group.devices)
			if group.err != nil {
				failures++
				fmt.Printf("  error: %v\n", group.err)
				continue
			}
			fmt.Print(indentBlock(group.text))
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d of %d devices failed", failures, len(results))
	}
	return nil
}

type resultGroup struct {
	devices []string
	text    string
	err     error
}

// groupResults merges devices with identical successful output,
// preserving first-seen order. Failed devices are never grouped.
func groupResults(results []core.Result) []resultGroup {
	var groups []resultGroup
	index := map[string]int{}
	for _, r := range results {
		if r.Err != nil {
			groups = append(groups, resultGroup{devices: []string{r.Device.Name()}, err: r.Err})
			continue
		}
		if i, ok := index[r.Text]; ok {
			groups[i].devices = append(groups[i].devices, r.Device.Name())
			continue
		}
		index[r.Text] = len(groups)
		groups = append(groups, resultGroup{devices: []string{r.Device.Name()}, text: r.Text})
	}
	return groups
}

func printHeader(devices []string) {
	fmt.Printf("=== %s\n", strings.Join(devices, ", "))
}

func indentBlock(text string) string {
	if text == "" {
		return ""
	}
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, l := range lines {
		lines[i] = "  " + l
	}
	return strings.Join(lines, "\n") + "\n"
}
