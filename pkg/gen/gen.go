// Package gen renders per-device desired configuration. Named
// generators each contribute a fragment; the registry selects which
// generators run for a device and concatenates their output in
// registration order.
package gen

import (
	"fmt"
	"strings"

	"github.com/dkoval/netpatch/pkg/inventory"
)

// Generator renders one desired-state fragment for a device. A
// generator returning an empty fragment contributes nothing; returning
// an error aborts generation for that device only.
type Generator interface {
	Name() string
	Render(dev inventory.Device) (string, error)
}

// Selection restricts which generators run.
type Selection struct {
	// Allowed, when non-empty, is an allowlist of generator names.
	Allowed []string
	// Excluded names are skipped even when allowed.
	Excluded []string
	// ForceEnabled names run even when the device disables them.
	ForceEnabled []string
}

// UnknownGeneratorError reports a selection naming a generator that was
// never registered. Surfaced rather than ignored: a typo in an
// allowlist silently producing an empty config is worse than an error.
type UnknownGeneratorError struct {
	Name string
}

func (e *UnknownGeneratorError) Error() string {
	return fmt.Sprintf("unknown generator %q", e.Name)
}

// Registry holds generators in registration order. Construct once at
// startup and share; it is read-only after Register calls stop.
type Registry struct {
	gens []Generator
}

func NewRegistry(gens ...Generator) *Registry {
	r := &Registry{}
	for _, g := range gens {
		r.Register(g)
	}
	return r
}

// Register appends a generator. A duplicate name replaces the earlier
// registration in place, keeping its position.
func (r *Registry) Register(g Generator) {
	for i, have := range r.gens {
		if have.Name() == g.Name() {
			r.gens[i] = g
			return
		}
	}
	r.gens = append(r.gens, g)
}

// Names lists registered generators in order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.gens))
	for i, g := range r.gens {
		names[i] = g.Name()
	}
	return names
}

// Render produces the device's desired configuration text by running
// the selected generators in registration order and joining their
// fragments.
func (r *Registry) Render(dev inventory.Device, sel Selection) (string, error) {
	if err := r.checkKnown(sel); err != nil {
		return "", err
	}
	var parts []string
	for _, g := range r.gens {
		if !selected(g.Name(), dev, sel) {
			continue
		}
		frag, err := g.Render(dev)
		if err != nil {
			return "", fmt.Errorf("generator %s: %w", g.Name(), err)
		}
		frag = strings.TrimRight(frag, "\n")
		if frag == "" {
			continue
		}
		parts = append(parts, frag)
	}
	if len(parts) == 0 {
		return "", nil
	}
	return strings.Join(parts, "\n") + "\n", nil
}

func (r *Registry) checkKnown(sel Selection) error {
	for _, names := range [][]string{sel.Allowed, sel.Excluded, sel.ForceEnabled} {
		for _, name := range names {
			if !contains(r.Names(), name) {
				return &UnknownGeneratorError{Name: name}
			}
		}
	}
	return nil
}

// selected decides whether one generator runs for one device. Force
// wins over both the device's disabled list and the exclusion list;
// otherwise the allowlist (if any) and the exclusions apply, then the
// device's own disabled generators.
func selected(name string, dev inventory.Device, sel Selection) bool {
	if contains(sel.ForceEnabled, name) {
		return true
	}
	if contains(sel.Excluded, name) {
		return false
	}
	if len(sel.Allowed) > 0 && !contains(sel.Allowed, name) {
		return false
	}
	return !contains(dev.DisabledGens, name)
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
