// Package confparse implements the vendor-neutral configuration parser
// and tree data model.
//
// Device configuration text is line-oriented and block-structured by
// indentation. Each line becomes a Node; lines at deeper indentation
// become children of the preceding shallower line. Known command shapes
// are decomposed into named attributes so the differ can compare them
// attribute by attribute; everything else is kept as an opaque leaf
// compared only by full-line equality.
package confparse

import (
	"fmt"
	"strings"
)

// Node is one line (or block header) of configuration.
//
// Key is the ordered token sequence identifying the node among its
// siblings, e.g. ["username", "user01"] or ["interface", "Ethernet1"].
// For opaque nodes the key is the full token sequence of the line, so
// two opaque lines are equal exactly when their text is equal.
type Node struct {
	Key      []string
	Attrs    *Attrs // nil for opaque nodes
	Children []*Node
	Raw      string // original line, trimmed
	Line     int
}

// Opaque reports whether the node has no attribute decomposition.
func (n *Node) Opaque() bool {
	return n.Attrs == nil
}

// Name returns the first key token.
func (n *Node) Name() string {
	if len(n.Key) == 0 {
		return ""
	}
	return n.Key[0]
}

// KeyPath returns the node key joined as a single string.
func (n *Node) KeyPath() string {
	return strings.Join(n.Key, " ")
}

// FindChild returns the first child whose key equals key.
func (n *Node) FindChild(key ...string) *Node {
	return findChild(n.Children, key)
}

func findChild(nodes []*Node, key []string) *Node {
	for _, c := range nodes {
		if keysEqual(c.Key, key) {
			return c
		}
	}
	return nil
}

// Render reconstructs the node's single-line form from its key and
// attributes. Opaque nodes render their original text.
func (n *Node) Render() string {
	if n.Opaque() {
		return n.Raw
	}
	var b strings.Builder
	b.WriteString(n.KeyPath())
	for _, k := range n.Attrs.Keys() {
		v, _ := n.Attrs.Get(k)
		switch {
		case v == "": // flag attribute, e.g. nopassword
			b.WriteString(" " + k)
		case k == RestAttr: // positional remainder, e.g. a description
			b.WriteString(" " + v)
		default:
			b.WriteString(" " + k + " " + v)
		}
	}
	return b.String()
}

// Clone creates a deep copy of the node.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := &Node{
		Key:  append([]string(nil), n.Key...),
		Raw:  n.Raw,
		Line: n.Line,
	}
	if n.Attrs != nil {
		c.Attrs = n.Attrs.Clone()
	}
	for _, child := range n.Children {
		c.Children = append(c.Children, child.Clone())
	}
	return c
}

// Tree is an ordered forest of top-level configuration nodes.
// A tree is immutable once built; computations that need to change one
// (the device simulator, for instance) work on a Clone.
type Tree struct {
	Children []*Node
}

// Clone creates a deep copy of the tree.
func (t *Tree) Clone() *Tree {
	if t == nil {
		return nil
	}
	c := &Tree{}
	for _, n := range t.Children {
		c.Children = append(c.Children, n.Clone())
	}
	return c
}

// FindChild returns the first top-level node whose key equals key.
func (t *Tree) FindChild(key ...string) *Node {
	return findChild(t.Children, key)
}

// Find walks the tree along a full path of node keys. Each step consumes
// as many path tokens as the matched child's key length.
func (t *Tree) Find(path ...string) *Node {
	nodes := t.Children
	var cur *Node
	for len(path) > 0 {
		cur = nil
		for _, c := range nodes {
			if len(c.Key) <= len(path) && keysEqual(c.Key, path[:len(c.Key)]) {
				cur = c
				path = path[len(c.Key):]
				break
			}
		}
		if cur == nil {
			return nil
		}
		nodes = cur.Children
	}
	return cur
}

// Empty reports whether the tree has no nodes.
func (t *Tree) Empty() bool {
	return t == nil || len(t.Children) == 0
}

// Format renders the tree back to configuration text using the given
// indentation unit per nesting level.
func (t *Tree) Format(indent string) string {
	if indent == "" {
		indent = "  "
	}
	var b strings.Builder
	formatNodes(&b, t.Children, indent, 0)
	return b.String()
}

func formatNodes(b *strings.Builder, nodes []*Node, indent string, depth int) {
	prefix := strings.Repeat(indent, depth)
	for _, n := range nodes {
		fmt.Fprintf(b, "%s%s\n", prefix, n.Render())
		formatNodes(b, n.Children, indent, depth+1)
	}
}

func keysEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
