// Package core wires the parsing, diffing, generation and deployment
// pieces into the boundary operations exposed by the CLI and the REST
// server: resolve devices, render desired config, diff, patch, deploy.
//
// Every operation returns per-device result slots. One device's error
// lands in its slot and never aborts its siblings; only an empty
// device resolution fails the operation as a whole.
package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dkoval/netpatch/pkg/confdiff"
	"github.com/dkoval/netpatch/pkg/confparse"
	"github.com/dkoval/netpatch/pkg/deploy"
	"github.com/dkoval/netpatch/pkg/device"
	"github.com/dkoval/netpatch/pkg/gen"
	"github.com/dkoval/netpatch/pkg/inventory"
	"github.com/dkoval/netpatch/pkg/patch"
	"github.com/dkoval/netpatch/pkg/rulebook"
)

// Service holds the immutable collaborators, constructed once at
// startup. Safe for concurrent use.
type Service struct {
	Inventory  inventory.Resolver
	Registry   *rulebook.Registry
	Generators *gen.Registry
	Dialer     device.Dialer
	Log        *zap.Logger
	// Events carries deployment progress to live subscribers.
	Events *deploy.EventBuffer
}

func NewService(inv inventory.Resolver, reg *rulebook.Registry, gens *gen.Registry, dialer device.Dialer, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		Inventory:  inv,
		Registry:   reg,
		Generators: gens,
		Dialer:     dialer,
		Log:        log,
		Events:     deploy.NewEventBuffer(1024),
	}
}

// Result is one device's outcome for gen, diff and patch operations.
// Text is empty when Err is set.
type Result struct {
	Device inventory.Device
	Text   string
	Err    error
}

// Outcome classifies a result set: "success", "partial", or "failure".
func Outcome[T any](results []T, failed func(T) bool) string {
	bad := 0
	for _, r := range results {
		if failed(r) {
			bad++
		}
	}
	switch {
	case bad == 0:
		return "success"
	case bad == len(results):
		return "failure"
	default:
		return "partial"
	}
}

// ComputeDevices resolves a device query without touching any device.
func (s *Service) ComputeDevices(query []string, hostsRange string) ([]inventory.Device, error) {
	return s.Inventory.Resolve(query, hostsRange)
}

// GenerateConfig renders each resolved device's desired configuration.
func (s *Service) GenerateConfig(ctx context.Context, query []string, hostsRange string, opts Options) ([]Result, error) {
	devices, err := s.ComputeDevices(query, hostsRange)
	if err != nil {
		return nil, err
	}
	results := make([]Result, len(devices))
	for i, dev := range devices {
		text, err := s.Generators.Render(dev, opts.selection())
		results[i] = Result{Device: dev, Text: text, Err: err}
	}
	return results, nil
}

// ComputeDiff renders each device's current-vs-desired diff as text.
func (s *Service) ComputeDiff(ctx context.Context, query []string, hostsRange string, opts Options) ([]Result, error) {
	return s.perDevice(ctx, query, hostsRange, opts, func(ctx context.Context, dev inventory.Device) (string, error) {
		st, err := s.stage(ctx, dev, opts)
		if err != nil {
			return "", err
		}
		ropts := confdiff.RenderOptions{Indent: opts.Indent}
		if opts.ShowRules {
			ropts.Annotate = patch.AnnotateRules(st.vendor)
		}
		return confdiff.RenderText(st.ops, ropts), nil
	})
}

// ComputePatch renders each device's patch text, framing included.
func (s *Service) ComputePatch(ctx context.Context, query []string, hostsRange string, opts Options) ([]Result, error) {
	return s.perDevice(ctx, query, hostsRange, opts, func(ctx context.Context, dev inventory.Device) (string, error) {
		st, err := s.stage(ctx, dev, opts)
		if err != nil {
			return "", err
		}
		return st.patch.Text(), nil
	})
}

// Deploy generates and applies each device's patch. Devices whose
// staging fails (unknown vendor, unreachable, generation error) are
// reported Failed in the same report as deployed devices.
func (s *Service) Deploy(ctx context.Context, query []string, hostsRange string, opts Options) (*deploy.Report, error) {
	devices, err := s.ComputeDevices(query, hostsRange)
	if err != nil {
		return nil, err
	}

	type slot struct {
		target deploy.Target
		err    error
	}
	slots := make([]slot, len(devices))
	g := &errgroup.Group{}
	g.SetLimit(stageParallel(opts))
	for i, dev := range devices {
		i, dev := i, dev
		g.Go(func() error {
			st, err := s.stage(ctx, dev, opts)
			if err != nil {
				slots[i] = slot{err: err}
				return nil
			}
			slots[i] = slot{target: deploy.Target{
				Device:    dev,
				Vendor:    st.vendor,
				Original:  st.original,
				Desired:   st.desired,
				Patch:     st.patch,
				PatchOpts: opts.patchOptions(),
			}}
			return nil
		})
	}
	g.Wait()

	// Stage failures get report slots; only cleanly staged devices go
	// to the orchestrator, then the two result sets are merged back
	// into inventory order.
	var targets []deploy.Target
	targetIdx := make([]int, 0, len(devices))
	for i, sl := range slots {
		if sl.err == nil {
			targets = append(targets, sl.target)
			targetIdx = append(targetIdx, i)
		}
	}

	results := make([]deploy.Result, len(devices))
	aborted := false
	if len(targets) > 0 {
		orch := &deploy.Orchestrator{Dialer: s.Dialer, Log: s.Log, Events: s.Events}
		rep, err := orch.Run(ctx, targets, opts.deployOptions())
		if err != nil {
			return nil, err
		}
		for j, r := range rep.Results {
			results[targetIdx[j]] = r
		}
		aborted = rep.Aborted
	}
	for i, sl := range slots {
		if sl.err != nil {
			results[i] = deploy.Result{Device: devices[i].Name(), State: deploy.StateFailed, Err: sl.err}
		}
	}
	return &deploy.Report{Results: results, Aborted: aborted}, nil
}

// staged is one device's prepared material: trees, ops, patch.
type staged struct {
	vendor   *rulebook.Vendor
	original *confparse.Tree
	desired  *confparse.Tree
	ops      []confdiff.Op
	patch    *patch.Patch
}

// stage prepares one device end to end: resolve its vendor, render the
// desired config, obtain the current config, diff, generate.
func (s *Service) stage(ctx context.Context, dev inventory.Device, opts Options) (*staged, error) {
	vendor, err := s.Registry.Vendor(dev.Vendor)
	if err != nil {
		return nil, err
	}

	desiredText, err := s.Generators.Render(dev, opts.selection())
	if err != nil {
		return nil, err
	}
	desired, err := confparse.Parse(desiredText, vendor.Tokenizer)
	if err != nil {
		return nil, fmt.Errorf("desired config: %w", err)
	}

	currentText, err := s.currentConfig(ctx, dev, opts)
	if err != nil {
		return nil, err
	}
	original, err := confparse.Parse(currentText, vendor.Tokenizer)
	if err != nil {
		return nil, fmt.Errorf("current config: %w", err)
	}

	ops, err := confdiff.Diff(original, desired)
	if err != nil {
		return nil, err
	}
	p, err := patch.Generate(vendor, ops, opts.patchOptions())
	if err != nil {
		return nil, err
	}
	return &staged{vendor: vendor, original: original, desired: desired, ops: ops, patch: p}, nil
}

// currentConfig obtains the device's current configuration text per
// the config source option.
func (s *Service) currentConfig(ctx context.Context, dev inventory.Device, opts Options) (string, error) {
	source := opts.Config
	if source == "" {
		source = "running"
	}
	switch source {
	case "empty":
		return "", nil
	case "running":
		sess, err := s.Dialer.Dial(ctx, dev)
		if err != nil {
			return "", &device.TransportError{Device: dev.Name(), Op: "dial", Err: err}
		}
		defer sess.Close()
		text, err := sess.Fetch(ctx)
		if err != nil {
			return "", &device.TransportError{Device: dev.Name(), Op: "fetch", Err: err}
		}
		return text, nil
	default:
		path := source
		if info, err := os.Stat(source); err == nil && info.IsDir() {
			path = filepath.Join(source, dev.Name()+".cfg")
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("config source: %w", err)
		}
		return string(data), nil
	}
}

// perDevice resolves the query and runs fn for each device with
// bounded concurrency, capturing per-device errors.
func (s *Service) perDevice(ctx context.Context, query []string, hostsRange string, opts Options, fn func(context.Context, inventory.Device) (string, error)) ([]Result, error) {
	devices, err := s.ComputeDevices(query, hostsRange)
	if err != nil {
		return nil, err
	}
	results := make([]Result, len(devices))
	g := &errgroup.Group{}
	g.SetLimit(stageParallel(opts))
	for i, dev := range devices {
		i, dev := i, dev
		g.Go(func() error {
			text, err := fn(ctx, dev)
			results[i] = Result{Device: dev, Text: text, Err: err}
			return nil
		})
	}
	g.Wait()
	return results, nil
}

func stageParallel(opts Options) int {
	if opts.Parallel < 1 {
		return 1
	}
	return opts.Parallel
}
