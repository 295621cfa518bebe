// Package confdiff computes the structural difference between two
// configuration trees.
//
// The diff is attribute-aware: nodes present in both trees are compared
// attribute by attribute instead of line by line, so changing one
// attribute of a composite entity (say, the role of a user account)
// yields a single attribute-level operation rather than a full-line
// rewrite. Opaque nodes carry their whole line as identity and can only
// produce remove/add pairs.
package confdiff

import (
	"fmt"
	"strings"

	"github.com/dkoval/netpatch/pkg/confparse"
)

// Kind classifies a diff operation.
type Kind int

const (
	KindRemove Kind = iota
	KindAdd
	KindRemoveAttr
	KindModifyAttr
	KindAddAttr
)

func (k Kind) String() string {
	switch k {
	case KindRemove:
		return "remove"
	case KindAdd:
		return "add"
	case KindRemoveAttr:
		return "remove-attr"
	case KindModifyAttr:
		return "modify-attr"
	case KindAddAttr:
		return "add-attr"
	default:
		return "unknown"
	}
}

// Op is one diff operation. Path is the full path of the owning node
// from the tree root (all ancestor keys plus the node's own key).
//
// For KindAdd and KindRemove, Node is the affected subtree. For the
// attribute kinds, Node is the node from the new tree and OldNode the
// one from the old tree, so renderers can reconstruct both line forms.
type Op struct {
	Kind    Kind
	Path    []string
	// Depth is the number of ancestor nodes above the owning node, used
	// for indentation-sensitive command rendering.
	Depth   int
	// Parents holds the key token groups of the ancestor nodes, in
	// order, so renderers can re-enter the enclosing blocks.
	Parents [][]string
	Node    *confparse.Node
	OldNode *confparse.Node
	Attr    string
	Old     string
	New     string
}

// PathString returns the op's path joined as a single string.
func (o Op) PathString() string {
	return strings.Join(o.Path, " ")
}

// StructuralMismatchError reports a malformed input tree: a nil node,
// an empty key, or duplicate sibling keys. These are internal invariant
// violations, never recovered silently.
type StructuralMismatchError struct {
	Path []string
	Msg  string
}

func (e *StructuralMismatchError) Error() string {
	if len(e.Path) > 0 {
		return fmt.Sprintf("structural mismatch at %q: %s", strings.Join(e.Path, " "), e.Msg)
	}
	return "structural mismatch: " + e.Msg
}

// Diff compares two trees and returns the ordered operation sequence
// transforming old into new. It is pure and deterministic; diffing a
// tree against itself yields no operations.
//
// Ordering contract, relied on by the patch generator: within one
// parent scope all removals come before all additions, attribute
// operations on a surviving node come before any operation on its
// children, and parents always precede their children.
func Diff(old, new *confparse.Tree) ([]Op, error) {
	if old == nil {
		old = &confparse.Tree{}
	}
	if new == nil {
		new = &confparse.Tree{}
	}
	if err := validate(old.Children, nil); err != nil {
		return nil, err
	}
	if err := validate(new.Children, nil); err != nil {
		return nil, err
	}
	var ops []Op
	diffScope(&ops, nil, nil, old.Children, new.Children)
	return ops, nil
}

func validate(nodes []*confparse.Node, path []string) error {
	seen := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if n == nil {
			return &StructuralMismatchError{Path: path, Msg: "nil node"}
		}
		if len(n.Key) == 0 {
			return &StructuralMismatchError{Path: path, Msg: "node with empty key"}
		}
		id := strings.Join(n.Key, "\x00")
		if seen[id] {
			return &StructuralMismatchError{
				Path: append(append([]string(nil), path...), n.Key...),
				Msg:  "duplicate sibling key",
			}
		}
		seen[id] = true
		if err := validate(n.Children, append(append([]string(nil), path...), n.Key...)); err != nil {
			return err
		}
	}
	return nil
}

func diffScope(ops *[]Op, parent []string, parents [][]string, old, new []*confparse.Node) {
	depth := len(parents)
	newByKey := make(map[string]*confparse.Node, len(new))
	for _, n := range new {
		newByKey[strings.Join(n.Key, "\x00")] = n
	}
	oldByKey := make(map[string]*confparse.Node, len(old))
	for _, n := range old {
		oldByKey[strings.Join(n.Key, "\x00")] = n
	}

	// Removals first, in old order.
	for _, o := range old {
		if _, ok := newByKey[strings.Join(o.Key, "\x00")]; !ok {
			*ops = append(*ops, Op{Kind: KindRemove, Path: childPath(parent, o), Depth: depth, Parents: parents, Node: o})
		}
	}

	// Then additions, in new order. An added subtree travels as one op.
	for _, n := range new {
		if _, ok := oldByKey[strings.Join(n.Key, "\x00")]; !ok {
			*ops = append(*ops, Op{Kind: KindAdd, Path: childPath(parent, n), Depth: depth, Parents: parents, Node: n})
		}
	}

	// Surviving nodes: attribute comparison, then their children.
	for _, n := range new {
		o, ok := oldByKey[strings.Join(n.Key, "\x00")]
		if !ok {
			continue
		}
		path := childPath(parent, n)
		diffAttrs(ops, path, parents, o, n)
		childParents := make([][]string, len(parents)+1)
		copy(childParents, parents)
		childParents[len(parents)] = n.Key
		diffScope(ops, path, childParents, o.Children, n.Children)
	}
}

func diffAttrs(ops *[]Op, path []string, parents [][]string, old, new *confparse.Node) {
	depth := len(parents)
	if old.Opaque() || new.Opaque() {
		// Opaque nodes embed the full line in their key, so two opaque
		// nodes with equal keys are equal. Nothing to compare.
		return
	}

	// Attributes dropped in the new form, in old attribute order.
	for _, k := range old.Attrs.Keys() {
		if !new.Attrs.Has(k) {
			v, _ := old.Attrs.Get(k)
			*ops = append(*ops, Op{
				Kind: KindRemoveAttr, Path: path, Depth: depth, Parents: parents, Node: new, OldNode: old,
				Attr: k, Old: v,
			})
		}
	}
	// Changed attributes, in new attribute order.
	for _, k := range new.Attrs.Keys() {
		nv, _ := new.Attrs.Get(k)
		if ov, ok := old.Attrs.Get(k); ok && ov != nv {
			*ops = append(*ops, Op{
				Kind: KindModifyAttr, Path: path, Depth: depth, Parents: parents, Node: new, OldNode: old,
				Attr: k, Old: ov, New: nv,
			})
		}
	}
	// New attributes, in new attribute order.
	for _, k := range new.Attrs.Keys() {
		if !old.Attrs.Has(k) {
			nv, _ := new.Attrs.Get(k)
			*ops = append(*ops, Op{
				Kind: KindAddAttr, Path: path, Depth: depth, Parents: parents, Node: new, OldNode: old,
				Attr: k, New: nv,
			})
		}
	}
}

func childPath(parent []string, n *confparse.Node) []string {
	p := make([]string, 0, len(parent)+len(n.Key))
	p = append(p, parent...)
	p = append(p, n.Key...)
	return p
}

// Equal reports whether two op sequences are identical. Used by the
// deployment pre-check to detect drift between patch generation and
// deployment.
func Equal(a, b []Op) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Kind != b[i].Kind || a[i].Attr != b[i].Attr ||
			a[i].Old != b[i].Old || a[i].New != b[i].New ||
			a[i].PathString() != b[i].PathString() {
			return false
		}
		if (a[i].Node == nil) != (b[i].Node == nil) {
			return false
		}
		if a[i].Node != nil && !subtreeEqual(a[i].Node, b[i].Node) {
			return false
		}
	}
	return true
}

func subtreeEqual(a, b *confparse.Node) bool {
	if a.Render() != b.Render() || len(a.Children) != len(b.Children) {
		return false
	}
	for i := range a.Children {
		if !subtreeEqual(a.Children[i], b.Children[i]) {
			return false
		}
	}
	return true
}
