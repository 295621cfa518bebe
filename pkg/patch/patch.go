// Package patch drives a vendor rulebook over a diff to produce the
// ordered command sequence realizing it on a device.
//
// Generation is deterministic: the same diff and options always produce
// byte-identical output, so a caller can re-render a patch for human
// confirmation and trust it matches what will be deployed.
package patch

import (
	"fmt"
	"path"
	"strings"

	"github.com/dkoval/netpatch/pkg/confdiff"
	"github.com/dkoval/netpatch/pkg/rulebook"
)

// Kind classifies a patch line.
type Kind int

const (
	KindCommand Kind = iota
	KindEnterConfig
	KindCommit
	KindPersist
	KindComment
)

// Command is one line of a generated patch.
type Command struct {
	Text  string
	Kind  Kind
	Rule  string // name of the rulebook rule that produced it
	Depth int    // nesting depth for indentation-sensitive CLIs
}

// Patch is the ordered command sequence for one (device, diff) pair.
// It is a value: never mutated after generation.
type Patch struct {
	Vendor   string
	Indent   string
	Commands []Command
}

// Empty reports whether the patch carries no body commands. An empty
// diff generates an empty patch with no framing.
func (p *Patch) Empty() bool {
	return len(p.Commands) == 0
}

// Text renders the patch as the exact text sent for confirmation.
func (p *Patch) Text() string {
	var b strings.Builder
	for _, c := range p.Commands {
		b.WriteString(strings.Repeat(p.Indent, c.Depth))
		b.WriteString(c.Text)
		b.WriteByte('\n')
	}
	return b.String()
}

// Lines returns the executable command lines in order, comments
// excluded, indentation preserved for CLIs that are sensitive to it.
func (p *Patch) Lines() []string {
	lines := make([]string, 0, len(p.Commands))
	for _, c := range p.Commands {
		if c.Kind == KindComment {
			continue
		}
		lines = append(lines, strings.Repeat(p.Indent, c.Depth)+c.Text)
	}
	return lines
}

// HasCommit reports whether the patch carries a commit marker.
func (p *Patch) HasCommit() bool {
	for _, c := range p.Commands {
		if c.Kind == KindCommit {
			return true
		}
	}
	return false
}

// Options control patch generation.
type Options struct {
	// NoACL drops operations touching access-control paths; ACLSafe
	// keeps only their additive half.
	NoACL   bool
	ACLSafe bool
	// FilterACL, when set, is a path pattern further restricting which
	// operations may produce commands.
	FilterACL string
	// FilterIfaces/FilterPeers/FilterPolicies restrict generation to
	// the named interfaces, BGP peers, or routing policies. Paths
	// outside the filters are skipped, never an error.
	FilterIfaces   []string
	FilterPeers    []string
	FilterPolicies []string
	// AddComments prefixes each command block with a summary of the
	// diff operation it came from.
	AddComments bool
	// Indent is the indentation unit for nested commands. Cosmetic for
	// most vendors, load-bearing for indentation-sensitive ones.
	Indent string
	// DontCommit suppresses the commit and persist framing markers.
	// The body is always generated in full.
	DontCommit bool
}

// Generate renders the diff into a vendor-correct patch, in the diff's
// stable order, wrapped in the vendor's framing commands.
func Generate(v *rulebook.Vendor, ops []confdiff.Op, opts Options) (*Patch, error) {
	if opts.Indent == "" {
		opts.Indent = "  "
	}
	ctx := &rulebook.Context{Ops: ops}

	var body []Command
	var open [][]string // currently entered block header chain

	// closeTo pops entered blocks down to depth n, emitting the
	// vendor's block-exit command where the dialect needs one.
	closeTo := func(n int) {
		for len(open) > n {
			open = open[:len(open)-1]
			if v.BlockExit != "" {
				body = append(body, Command{Text: v.BlockExit, Kind: KindCommand, Depth: len(open)})
			}
		}
	}
	// enterParents re-emits the block headers enclosing an operation,
	// reusing whatever prefix of the chain is already open.
	enterParents := func(parents [][]string) {
		shared := 0
		for shared < len(open) && shared < len(parents) &&
			strings.Join(open[shared], " ") == strings.Join(parents[shared], " ") {
			shared++
		}
		closeTo(shared)
		for _, key := range parents[shared:] {
			body = append(body, Command{Text: strings.Join(key, " "), Kind: KindCommand, Depth: len(open)})
			open = append(open, key)
		}
	}

	for _, op := range ops {
		if !eligible(op, opts) {
			continue
		}
		if v.ACLAffected(op) {
			if opts.NoACL {
				continue
			}
			if opts.ACLSafe && removes(op.Kind) {
				continue
			}
		}
		rule, err := v.MatchRule(op)
		if err != nil {
			return nil, err
		}
		lines := rule.Render(v, op, ctx)
		if len(lines) == 0 {
			continue
		}
		enterParents(op.Parents)
		if opts.AddComments {
			body = append(body, Command{
				Text:  v.Comment + " " + Summary(op),
				Kind:  KindComment,
				Depth: lines[0].Depth,
			})
		}
		for _, l := range lines {
			body = append(body, Command{Text: l.Text, Kind: KindCommand, Rule: rule.Name, Depth: l.Depth})
		}
	}
	closeTo(0)

	p := &Patch{Vendor: v.Name, Indent: opts.Indent}
	if len(body) == 0 {
		return p, nil
	}
	for _, c := range v.EnterConfig {
		p.Commands = append(p.Commands, Command{Text: c, Kind: KindEnterConfig})
	}
	p.Commands = append(p.Commands, body...)
	if !opts.DontCommit {
		for _, c := range v.Commit {
			p.Commands = append(p.Commands, Command{Text: c, Kind: KindCommit})
		}
		for _, c := range v.Persist {
			p.Commands = append(p.Commands, Command{Text: c, Kind: KindPersist})
		}
	}
	return p, nil
}

// Summary describes a diff operation in one line, for patch comments.
func Summary(op confdiff.Op) string {
	switch op.Kind {
	case confdiff.KindAdd:
		return "add " + op.PathString()
	case confdiff.KindRemove:
		return "remove " + op.PathString()
	case confdiff.KindAddAttr:
		return fmt.Sprintf("set %s %s = %s", op.PathString(), op.Attr, op.New)
	case confdiff.KindModifyAttr:
		return fmt.Sprintf("change %s %s: %s -> %s", op.PathString(), op.Attr, op.Old, op.New)
	case confdiff.KindRemoveAttr:
		return fmt.Sprintf("clear %s %s", op.PathString(), op.Attr)
	}
	return op.PathString()
}

// AnnotateRules returns a diff annotation callback resolving each op to
// the vendor rule that would render it (--show-rules).
func AnnotateRules(v *rulebook.Vendor) func(confdiff.Op) string {
	return func(op confdiff.Op) string {
		rule, err := v.MatchRule(op)
		if err != nil {
			return "[unhandled]"
		}
		return "[" + rule.Name + "]"
	}
}

func removes(k confdiff.Kind) bool {
	return k == confdiff.KindRemove || k == confdiff.KindRemoveAttr
}

// eligible applies the path-level restriction options. With no filters
// set every operation is eligible; with filters set an operation must
// match at least one of them.
func eligible(op confdiff.Op, opts Options) bool {
	if opts.FilterACL != "" && !rulebook.MatchPath(opts.FilterACL, op.Path) {
		return false
	}
	if len(opts.FilterIfaces) == 0 && len(opts.FilterPeers) == 0 && len(opts.FilterPolicies) == 0 {
		return true
	}
	if len(opts.FilterIfaces) > 0 && len(op.Path) >= 2 && op.Path[0] == "interface" {
		if matchAny(opts.FilterIfaces, op.Path[1]) {
			return true
		}
	}
	if len(opts.FilterPeers) > 0 {
		for i, tok := range op.Path {
			if tok == "neighbor" && i+1 < len(op.Path) && matchAny(opts.FilterPeers, op.Path[i+1]) {
				return true
			}
		}
	}
	if len(opts.FilterPolicies) > 0 {
		if len(op.Path) >= 2 && op.Path[0] == "route-map" && matchAny(opts.FilterPolicies, op.Path[1]) {
			return true
		}
		if len(op.Path) >= 3 && op.Path[0] == "ip" && op.Path[1] == "prefix-list" && matchAny(opts.FilterPolicies, op.Path[2]) {
			return true
		}
	}
	return false
}

func matchAny(globs []string, name string) bool {
	for _, g := range globs {
		if ok, err := path.Match(g, name); err == nil && ok {
			return true
		}
	}
	return false
}
