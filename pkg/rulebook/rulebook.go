// Package rulebook maps diff operations to vendor-specific command
// sequences.
//
// Each vendor owns an ordered rule table consulted first-match-wins
// over the operation's path shape, attribute key, and kind. Whole-node
// operations that match no specific rule fall through to a generic
// emit/negate rule that every vendor carries, so no operation is ever
// silently dropped. An attribute-level operation with no matching rule
// is an error: coalescing it into a full-line rewrite behind the
// caller's back could have unintended side effects on a live device.
package rulebook

import (
	"fmt"
	"strings"

	"github.com/dkoval/netpatch/pkg/confdiff"
	"github.com/dkoval/netpatch/pkg/confparse"
)

// Line is one rendered command line with its nesting depth. The patch
// generator turns depth into indentation.
type Line struct {
	Text  string
	Depth int
}

// RenderFunc renders the command lines realizing one diff operation.
// Returning no lines is valid: a rule may decide the operation is
// covered by a sibling operation's command.
type RenderFunc func(v *Vendor, op confdiff.Op, ctx *Context) []Line

// Rule pairs a matcher with a renderer. Rules are consulted in declared
// order within their vendor.
type Rule struct {
	Name   string
	Match  Matcher
	Render RenderFunc
}

// Matcher tests a diff operation's shape.
type Matcher struct {
	// Path is a space-separated pattern over the op's full path.
	// "*" matches exactly one token, a trailing "**" matches any
	// remainder. Empty matches every path.
	Path string
	// Attr restricts the match to one attribute key. Empty matches any.
	Attr string
	// Kinds restricts the match to the listed op kinds. Empty matches
	// any kind.
	Kinds []confdiff.Kind
}

// Matches reports whether the matcher accepts the operation.
func (m Matcher) Matches(op confdiff.Op) bool {
	if len(m.Kinds) > 0 {
		ok := false
		for _, k := range m.Kinds {
			if k == op.Kind {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if m.Attr != "" && m.Attr != op.Attr {
		return false
	}
	return m.Path == "" || MatchPath(m.Path, op.Path)
}

// MatchPath tests a path against a pattern.
func MatchPath(pattern string, path []string) bool {
	segs := strings.Fields(pattern)
	for i, seg := range segs {
		if seg == "**" { // matches any remainder, must be last
			return true
		}
		if i >= len(path) {
			return false
		}
		if seg != "*" && seg != path[i] {
			return false
		}
	}
	return len(segs) == len(path)
}

// Context gives render functions visibility into the sibling operations
// of the diff being generated, so interacting commands (secret vs
// nopassword on one account) can be merged instead of emitted twice.
type Context struct {
	Ops []confdiff.Op
}

// WillSet reports whether the diff also sets attr on the same node.
func (c *Context) WillSet(path []string, attr string) bool {
	if c == nil {
		return false
	}
	want := strings.Join(path, " ")
	for _, op := range c.Ops {
		if op.Attr != attr || op.PathString() != want {
			continue
		}
		if op.Kind == confdiff.KindAddAttr || op.Kind == confdiff.KindModifyAttr {
			return true
		}
	}
	return false
}

// UnhandledAttributeError reports an attribute-level operation no rule
// of the vendor covers. It is surfaced, never swallowed.
type UnhandledAttributeError struct {
	Vendor string
	Path   []string
	Attr   string
	Kind   confdiff.Kind
}

func (e *UnhandledAttributeError) Error() string {
	return fmt.Sprintf("rulebook %s: no rule for %s of attribute %q at %q",
		e.Vendor, e.Kind, e.Attr, strings.Join(e.Path, " "))
}

// UnknownVendorError reports a vendor name absent from the registry.
type UnknownVendorError struct {
	Name string
}

func (e *UnknownVendorError) Error() string {
	return fmt.Sprintf("unknown vendor %q", e.Name)
}

// Vendor describes one vendor's command dialect: framing commands, the
// negation keyword, the tokenizer, and the ordered rule table.
type Vendor struct {
	Name string
	// Reverse is the negation keyword prefixed to removed commands
	// ("no", "undo", "delete").
	Reverse string
	// EnterConfig/Commit/Persist frame a generated patch. A vendor with
	// no commit phase leaves Commit empty.
	EnterConfig []string
	Commit      []string
	Persist     []string
	// BlockExit, when set, is emitted after a nested block of commands
	// (Huawei's "quit"). Vendors with indentation-scoped CLIs leave it
	// empty.
	BlockExit string
	// Comment is the line-comment leader of the vendor's config dialect.
	Comment string
	// ACLPaths classifies paths whose commands affect access control,
	// for the no_acl/acl_safe generation options.
	ACLPaths []string
	// Tokenizer carries the vendor's decomposition rules for parsing.
	Tokenizer *confparse.Tokenizer

	Rules []Rule
}

// MatchRule returns the first rule accepting the operation.
// For attribute-level operations without a match it returns
// UnhandledAttributeError; whole-node operations always match because
// every vendor table ends with the generic raw rules.
func (v *Vendor) MatchRule(op confdiff.Op) (*Rule, error) {
	for i := range v.Rules {
		if v.Rules[i].Match.Matches(op) {
			return &v.Rules[i], nil
		}
	}
	if op.Kind == confdiff.KindAdd || op.Kind == confdiff.KindRemove {
		// The generic fallbacks are appended at construction; reaching
		// this point means the vendor table was built by hand without
		// them, which is a programming error.
		return nil, fmt.Errorf("rulebook %s: missing generic fallback rule", v.Name)
	}
	return nil, &UnhandledAttributeError{Vendor: v.Name, Path: op.Path, Attr: op.Attr, Kind: op.Kind}
}

// ACLAffected reports whether the op touches an access-control path.
func (v *Vendor) ACLAffected(op confdiff.Op) bool {
	for _, p := range v.ACLPaths {
		if MatchPath(p, op.Path) {
			return true
		}
	}
	return false
}

// Registry is the immutable vendor -> rule table mapping, constructed
// once at startup and passed explicitly to the patch generator and the
// orchestrator.
type Registry struct {
	vendors map[string]*Vendor
	names   []string
}

// NewRegistry builds a registry from vendor tables. Later registrations
// of the same name win, which lets tests override a built-in vendor.
func NewRegistry(vendors ...*Vendor) *Registry {
	r := &Registry{vendors: make(map[string]*Vendor, len(vendors))}
	for _, v := range vendors {
		if _, ok := r.vendors[v.Name]; !ok {
			r.names = append(r.names, v.Name)
		}
		r.vendors[v.Name] = v
	}
	return r
}

// Vendor looks up a vendor table by name.
func (r *Registry) Vendor(name string) (*Vendor, error) {
	v, ok := r.vendors[strings.ToLower(name)]
	if !ok {
		return nil, &UnknownVendorError{Name: name}
	}
	return v, nil
}

// Names returns the registered vendor names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}
