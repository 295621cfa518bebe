// Package cli implements the interactive netpatch shell: a readline
// loop over the same boundary operations the command-line and the REST
// API expose, with session-scoped options and tab completion.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/dkoval/netpatch/pkg/cmdtree"
	"github.com/dkoval/netpatch/pkg/core"
)

// Shell is one interactive session. Options set with "set" persist
// until "unset" or the session ends.
type Shell struct {
	rl       *readline.Instance
	svc      *core.Service
	opts     core.Options
	hostname string
	username string
}

// New creates a shell over the service with the given starting options.
func New(svc *core.Service, opts core.Options) *Shell {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "netpatch"
	}
	username := os.Getenv("USER")
	if username == "" {
		username = "root"
	}
	return &Shell{svc: svc, opts: opts, hostname: hostname, username: username}
}

func (s *Shell) prompt() string {
	return fmt.Sprintf("%s@%s> ", s.username, s.hostname)
}

// Run starts the interactive loop and blocks until exit or EOF.
func (s *Shell) Run() error {
	var err error
	s.rl, err = readline.NewEx(&readline.Config{
		Prompt:          s.prompt(),
		HistoryFile:     "/tmp/netpatch_history",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    &completer{shell: s},
	})
	if err != nil {
		return fmt.Errorf("readline init: %w", err)
	}
	defer s.rl.Close()

	fmt.Println("netpatch interactive shell")
	fmt.Println("Type '?' for help")
	fmt.Println()

	for {
		line, err := s.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			if err == io.EOF {
				break
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasSuffix(line, "?") {
			s.showCompletions(strings.TrimSuffix(line, "?"))
			continue
		}

		if err := s.dispatch(line); err != nil {
			if err == errExit {
				return nil
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
	return nil
}

var errExit = fmt.Errorf("exit")

func (s *Shell) dispatch(line string) error {
	parts := strings.Fields(line)
	switch parts[0] {
	case "show":
		return s.handleShow(parts[1:])
	case "gen":
		return s.runText(parts[1:], s.svc.GenerateConfig)
	case "diff":
		return s.runText(parts[1:], s.svc.ComputeDiff)
	case "patch":
		return s.runText(parts[1:], s.svc.ComputePatch)
	case "deploy":
		return s.handleDeploy(parts[1:])
	case "set":
		return s.handleSet(parts[1:])
	case "unset":
		return s.handleUnset(parts[1:])
	case "help", "?":
		cmdtree.WriteHelp(os.Stdout, cmdtree.HelpCandidates(cmdtree.ShellTree))
		return nil
	case "exit", "quit":
		return errExit
	default:
		return fmt.Errorf("unknown command: %s", parts[0])
	}
}

func (s *Shell) handleShow(args []string) error {
	if len(args) == 0 {
		cmdtree.WriteHelp(os.Stdout, cmdtree.HelpCandidates(cmdtree.ShellTree["show"].Children))
		return nil
	}
	switch args[0] {
	case "devices":
		devices, err := s.svc.ComputeDevices(args[1:], "")
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
	case "vendors":
		for _, name := range s.svc.Registry.Names() {
			fmt.Println(name)
		}
		return nil
	case "generators":
		for _, name := range s.svc.Generators.Names() {
			fmt.Println(name)
		}
		return nil
	case "events":
		n := 20
		if len(args) >= 2 {
			v, err := strconv.Atoi(args[1])
			if err != nil || v < 0 {
				return fmt.Errorf("show events: invalid count %q", args[1])
			}
			n = v
		}
		for _, ev := range s.svc.Events.Recent(n) {
			line := fmt.Sprintf("%s  %-24s %s", ev.Time.Format("15:04:05"), ev.Device, ev.Status)
			if ev.Error != "" {
				line += "  " + ev.Error
			}
			fmt.Println(line)
		}
		return nil
	case "options":
		s.showOptions()
		return nil
	default:
		return fmt.Errorf("show: unknown target %q", args[0])
	}
}

// runText executes one of the per-device text operations and prints the
// results, one header per device.
func (s *Shell) runText(query []string, op func(context.Context, []string, string, core.Options) ([]core.Result, error)) error {
	results, err := op(context.Background(), query, "", s.opts)
	if err != nil {
		return err
	}
	for _, r := range results {
		fmt.Printf("=== %s\n", r.Device.Name())
		if r.Err != nil {
			fmt.Printf("  error: %v\n", r.Err)
			continue
		}
		if r.Text == "" {
			fmt.Println("  (no changes)")
			continue
		}
		for _, l := range strings.Split(strings.TrimRight(r.Text, "\n"), "\n") {
			fmt.Println("  " + l)
		}
	}
	return nil
}

// handleDeploy shows the pending patches, asks for confirmation on the
// same readline instance, then runs the deployment.
func (s *Shell) handleDeploy(query []string) error {
	if err := s.runText(query, s.svc.ComputePatch); err != nil {
		return err
	}
	s.rl.SetPrompt("Proceed with deploy? [y/N] ")
	answer, err := s.rl.Readline()
	s.rl.SetPrompt(s.prompt())
	if err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
	default:
		fmt.Println("deploy cancelled")
		return nil
	}

	rep, err := s.svc.Deploy(context.Background(), query, "", s.opts)
	if err != nil {
		return err
	}
	for _, r := range rep.Results {
		line := fmt.Sprintf("%-24s %-12s %s", r.Device, r.State, r.Duration.Round(time.Millisecond))
		if r.Err != nil {
			line += "  " + r.Err.Error()
		}
		fmt.Println(line)
	}
	fmt.Printf("outcome: %s\n", rep.Outcome())
	if rep.Aborted {
		fmt.Println("run aborted after first failure")
	}
	return nil
}

func (s *Shell) handleSet(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("set: missing option")
	}
	value := ""
	if len(args) >= 2 {
		value = args[1]
	}
	switch args[0] {
	case "config":
		if value == "" {
			return fmt.Errorf("set config: missing source")
		}
		s.opts.Config = value
	case "parallel":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return fmt.Errorf("set parallel: invalid value %q", value)
		}
		s.opts.Parallel = n
	case "max-deploy":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("set max-deploy: invalid value %q", value)
		}
		s.opts.MaxDeploy = n
	case "tolerate-fails":
		s.opts.TolerateFails = true
	case "no-check-diff":
		s.opts.NoCheckDiff = true
	case "rollback":
		s.opts.Rollback = true
	case "dont-commit":
		s.opts.DontCommit = true
	default:
		return fmt.Errorf("set: unknown option %q", args[0])
	}
	return nil
}

func (s *Shell) handleUnset(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("unset: missing option")
	}
	switch args[0] {
	case "config":
		s.opts.Config = ""
	case "parallel":
		s.opts.Parallel = 0
	case "max-deploy":
		s.opts.MaxDeploy = 0
	case "tolerate-fails":
		s.opts.TolerateFails = false
	case "no-check-diff":
		s.opts.NoCheckDiff = false
	case "rollback":
		s.opts.Rollback = false
	case "dont-commit":
		s.opts.DontCommit = false
	default:
		return fmt.Errorf("unset: unknown option %q", args[0])
	}
	return nil
}

func (s *Shell) showOptions() {
	source := s.opts.Config
	if source == "" {
		source = "running"
	}
	fmt.Printf("config:         %s\n", source)
	fmt.Printf("parallel:       %d\n", max(s.opts.Parallel, 1))
	fmt.Printf("max-deploy:     %d\n", s.opts.MaxDeploy)
	fmt.Printf("tolerate-fails: %v\n", s.opts.TolerateFails)
	fmt.Printf("no-check-diff:  %v\n", s.opts.NoCheckDiff)
	fmt.Printf("rollback:       %v\n", s.opts.Rollback)
	fmt.Printf("dont-commit:    %v\n", s.opts.DontCommit)
}

// showCompletions handles a line ending in "?": list what could follow.
func (s *Shell) showCompletions(prefix string) {
	words, partial := splitForCompletion(prefix)
	candidates := cmdtree.CompleteWithDesc(cmdtree.ShellTree, words, partial, s)
	if len(candidates) == 0 {
		fmt.Println("No valid completions")
		return
	}
	cmdtree.WriteHelp(os.Stdout, candidates)
}

// DeviceNames implements cmdtree.Source.
func (s *Shell) DeviceNames() []string {
	devices, err := s.svc.ComputeDevices(nil, "")
	if err != nil {
		return nil
	}
	names := make([]string, len(devices))
	for i, d := range devices {
		names[i] = d.Name()
	}
	return names
}

// VendorNames implements cmdtree.Source.
func (s *Shell) VendorNames() []string { return s.svc.Registry.Names() }

// GeneratorNames implements cmdtree.Source.
func (s *Shell) GeneratorNames() []string { return s.svc.Generators.Names() }

// splitForCompletion separates the completed words from the partial
// word still being typed.
func splitForCompletion(text string) (words []string, partial string) {
	fields := strings.Fields(text)
	if len(fields) > 0 && !strings.HasSuffix(text, " ") {
		return fields[:len(fields)-1], fields[len(fields)-1]
	}
	return fields, ""
}

// completer adapts the command tree to readline's completion interface.
type completer struct {
	shell *Shell
}

func (c *completer) Do(line []rune, pos int) ([][]rune, int) {
	words, partial := splitForCompletion(string(line[:pos]))
	candidates := cmdtree.Complete(cmdtree.ShellTree, words, partial, c.shell)
	if len(candidates) == 0 {
		return nil, 0
	}
	out := make([][]rune, len(candidates))
	for i, name := range candidates {
		out[i] = []rune(name[len(partial):] + " ")
	}
	return out, len(partial)
}
