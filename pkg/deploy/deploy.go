// Package deploy sequences patch application across a fleet. Each
// device runs its own state machine end-to-end inside one worker;
// workers are bounded by the parallel option and never share a device.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dkoval/netpatch/pkg/confdiff"
	"github.com/dkoval/netpatch/pkg/confparse"
	"github.com/dkoval/netpatch/pkg/device"
	"github.com/dkoval/netpatch/pkg/inventory"
	"github.com/dkoval/netpatch/pkg/patch"
	"github.com/dkoval/netpatch/pkg/rulebook"
)

// Target bundles everything the orchestrator needs for one device: the
// patch to apply plus the trees it was computed from. Original is the
// configuration the diff was taken against (pre-check baseline and
// rollback goal); Desired is what the device should show afterwards.
type Target struct {
	Device   inventory.Device
	Vendor   *rulebook.Vendor
	Original *confparse.Tree
	Desired  *confparse.Tree
	Patch    *patch.Patch
	// PatchOpts are reused when a rollback patch has to be generated.
	PatchOpts patch.Options
}

// Options control a deployment run.
type Options struct {
	// Parallel bounds concurrent devices. Zero or negative means 1.
	Parallel int
	// TolerateFails keeps scheduling devices after a failure. When
	// false the first failure stops new devices from starting;
	// in-flight devices still run to completion and the run is
	// reported aborted.
	TolerateFails bool
	// NoCheckDiff skips the pre-apply drift check.
	NoCheckDiff bool
	// Rollback restores the original configuration when applying or
	// verification fails. Without it the device is left as-is and
	// reported Failed.
	Rollback bool
	// MaxDeploy caps how many devices are touched; the rest are
	// reported Skipped. Zero means no cap.
	MaxDeploy int
	// RunTimeout bounds the whole run, DeviceTimeout each device.
	// Zero disables the respective bound.
	RunTimeout    time.Duration
	DeviceTimeout time.Duration
}

// Result is one device's outcome. Every scheduled device produces
// exactly one, in target order.
type Result struct {
	Device   string
	State    State
	Err      error
	Commands int
	Duration time.Duration
}

// Report aggregates a run. Results keep target insertion order for
// reproducible output regardless of completion order.
type Report struct {
	Results []Result
	Aborted bool
}

// Outcome classifies the run: "success" (all terminal states are
// Committed, Deferred, or Skipped), "failure" (none succeeded), or
// "partial".
func (r *Report) Outcome() string {
	ok, bad := 0, 0
	for _, res := range r.Results {
		switch res.State {
		case StateCommitted, StateDeferred, StateSkipped:
			ok++
		default:
			bad++
		}
	}
	switch {
	case bad == 0:
		return "success"
	case ok == 0:
		return "failure"
	default:
		return "partial"
	}
}

// Counts returns how many devices ended in each state.
func (r *Report) Counts() map[string]int {
	counts := make(map[string]int)
	for _, res := range r.Results {
		counts[res.State.String()]++
	}
	return counts
}

// Orchestrator applies patches across devices. The rulebook and patch
// generator it drives are stateless, so one orchestrator may serve
// concurrent runs.
type Orchestrator struct {
	Dialer device.Dialer
	Log    *zap.Logger
	// Events receives every state transition when set.
	Events *EventBuffer
}

func New(dialer device.Dialer, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{Dialer: dialer, Log: log}
}

// Run deploys every target and returns the aggregated report. The
// report is complete: one result per target, insertion-ordered.
func (o *Orchestrator) Run(ctx context.Context, targets []Target, opts Options) (*Report, error) {
	if len(targets) == 0 {
		return nil, &inventory.NoDevicesFoundError{}
	}
	if opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.RunTimeout)
		defer cancel()
	}

	parallel := opts.Parallel
	if parallel < 1 {
		parallel = 1
	}

	results := make([]Result, len(targets))
	var aborted atomic.Bool

	g := &errgroup.Group{}
	g.SetLimit(parallel)
	for i, t := range targets {
		if opts.MaxDeploy > 0 && i >= opts.MaxDeploy {
			results[i] = Result{Device: t.Device.Name(), State: StateSkipped}
			o.publish(t.Device.Name(), StateSkipped, nil)
			continue
		}
		if aborted.Load() {
			results[i] = Result{
				Device: t.Device.Name(),
				State:  StateSkipped,
				Err:    errors.New("run aborted by earlier failure"),
			}
			o.publish(t.Device.Name(), StateSkipped, results[i].Err)
			continue
		}
		i, t := i, t
		g.Go(func() error {
			results[i] = o.runDevice(ctx, t, opts)
			if results[i].failed() && !opts.TolerateFails {
				aborted.Store(true)
			}
			return nil
		})
	}
	g.Wait()
	return &Report{Results: results, Aborted: aborted.Load()}, nil
}

func (r Result) failed() bool {
	return r.State == StateFailed || r.State == StateRolledBack
}

// runDevice drives one device's state machine start to finish. All
// errors end up in the result; nothing escapes to siblings.
func (o *Orchestrator) runDevice(ctx context.Context, t Target, opts Options) Result {
	name := t.Device.Name()
	log := o.Log.With(zap.String("device", name))
	start := time.Now()
	res := Result{Device: name, State: StatePending}
	done := func() Result {
		res.Duration = time.Since(start)
		return res
	}
	fail := func(state State, err error) Result {
		res.State = state
		res.Err = err
		log.Warn("deploy failed", zap.String("state", state.String()), zap.Error(err))
		o.publish(name, state, err)
		return done()
	}
	step := func(s State) {
		res.State = s
		o.publish(name, s, nil)
	}

	// The device timeout bounds the forward path only; rollback runs
	// under the run-scoped context so a timed-out device can still be
	// restored.
	rollCtx := ctx
	if opts.DeviceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.DeviceTimeout)
		defer cancel()
	}

	o.publish(name, StatePending, nil)
	if t.Patch.Empty() {
		log.Info("empty patch, nothing to deploy")
		step(StateCommitted)
		return done()
	}

	sess, err := o.Dialer.Dial(ctx, t.Device)
	if err != nil {
		return fail(StateFailed, &device.TransportError{Device: name, Op: "dial", Err: err})
	}
	defer sess.Close()
	step(StateConnected)

	if !opts.NoCheckDiff {
		step(StatePreCheck)
		current, err := o.fetchTree(ctx, sess, t)
		if err != nil {
			return fail(StateFailed, err)
		}
		// The patch is only valid for the diff it was generated from.
		// Recompute that diff against the live tree; any mismatch means
		// the device changed underneath us.
		fresh, err := confdiff.Diff(current, t.Desired)
		if err != nil {
			return fail(StateFailed, err)
		}
		baseline, err := confdiff.Diff(t.Original, t.Desired)
		if err != nil {
			return fail(StateFailed, err)
		}
		if !confdiff.Equal(fresh, baseline) {
			return fail(StateFailed, &ConcurrentModificationError{Device: name})
		}
	}

	step(StateApplying)
	res.Commands = len(t.Patch.Lines())
	if err := sess.Apply(ctx, t.Patch.Lines()); err != nil {
		return o.recover(rollCtx, sess, t, opts, &res, start, err)
	}
	if t.Patch.HasCommit() {
		if err := sess.Commit(ctx); err != nil {
			return o.recover(rollCtx, sess, t, opts, &res, start, err)
		}
	}

	// An uncommitted candidate is not observable on commit-phase
	// vendors, so verification only runs when the change landed.
	if t.Patch.HasCommit() || len(t.Vendor.Commit) == 0 {
		step(StateVerifying)
		current, err := o.fetchTree(ctx, sess, t)
		if err != nil {
			return o.recover(rollCtx, sess, t, opts, &res, start, err)
		}
		ops, err := confdiff.Diff(current, t.Desired)
		if err != nil {
			return fail(StateFailed, err)
		}
		if len(ops) > 0 {
			return o.recover(rollCtx, sess, t, opts, &res, start,
				fmt.Errorf("verification found %d residual differences", len(ops)))
		}
	}

	if !t.Patch.HasCommit() && len(t.Vendor.Commit) > 0 {
		log.Info("deploy applied without commit", zap.Int("commands", res.Commands))
		step(StateDeferred)
		return done()
	}
	log.Info("deploy committed", zap.Int("commands", res.Commands))
	step(StateCommitted)
	return done()
}

// recover handles a failure after commands may have reached the
// device: roll back to the original configuration when enabled,
// otherwise report Failed with the device in its partial state.
//
// The rollback patch is recomputed from what the device holds NOW
// against the original tree, so it undoes exactly what landed, not
// what was supposed to land.
func (o *Orchestrator) recover(ctx context.Context, sess device.Session, t Target, opts Options, res *Result, start time.Time, cause error) Result {
	name := t.Device.Name()
	log := o.Log.With(zap.String("device", name))
	finish := func(state State, err error) Result {
		res.State = state
		res.Err = err
		res.Duration = time.Since(start)
		if state == StateFailed {
			log.Warn("deploy failed", zap.Error(err))
		} else {
			log.Warn("deploy rolled back", zap.Error(err))
		}
		o.publish(name, state, err)
		return *res
	}
	if !opts.Rollback {
		return finish(StateFailed, cause)
	}

	current, err := o.fetchTree(ctx, sess, t)
	if err != nil {
		return finish(StateFailed, fmt.Errorf("%w (rollback fetch failed: %v)", cause, err))
	}
	ops, err := confdiff.Diff(current, t.Original)
	if err != nil {
		return finish(StateFailed, fmt.Errorf("%w (rollback diff failed: %v)", cause, err))
	}
	rollOpts := t.PatchOpts
	rollOpts.DontCommit = false
	back, err := patch.Generate(t.Vendor, ops, rollOpts)
	if err != nil {
		return finish(StateFailed, fmt.Errorf("%w (rollback generation failed: %v)", cause, err))
	}
	// Nothing landed before the failure, so there is nothing to undo.
	if back.Empty() {
		return finish(StateRolledBack, cause)
	}
	if err := sess.Apply(ctx, back.Lines()); err != nil {
		return finish(StateFailed, fmt.Errorf("%w (rollback apply failed: %v)", cause, err))
	}
	if back.HasCommit() {
		if err := sess.Commit(ctx); err != nil {
			return finish(StateFailed, fmt.Errorf("%w (rollback commit failed: %v)", cause, err))
		}
	}
	return finish(StateRolledBack, cause)
}

func (o *Orchestrator) fetchTree(ctx context.Context, sess device.Session, t Target) (*confparse.Tree, error) {
	text, err := sess.Fetch(ctx)
	if err != nil {
		return nil, &device.TransportError{Device: t.Device.Name(), Op: "fetch", Err: err}
	}
	tree, err := confparse.Parse(text, t.Vendor.Tokenizer)
	if err != nil {
		return nil, err
	}
	return tree, nil
}

func (o *Orchestrator) publish(dev string, s State, err error) {
	if o.Events == nil {
		return
	}
	ev := Event{Time: time.Now(), Device: dev, State: s, Status: s.String()}
	if err != nil {
		ev.Error = err.Error()
	}
	o.Events.Add(ev)
}
