package confparse

import (
	"fmt"
	"strings"
)

// ParseError reports malformed configuration text: broken indentation,
// a mismatched block terminator, or a line that cannot be tokenized.
type ParseError struct {
	Line int
	Text string
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Text != "" {
		return fmt.Sprintf("parse error at line %d: %s: %q", e.Line, e.Msg, e.Text)
	}
	return fmt.Sprintf("parse error at line %d: %s", e.Line, e.Msg)
}

// Parse turns raw configuration text into a Tree. The tokenizer carries
// the vendor-specific command shapes; nil selects the generic one.
//
// Blocks are driven by indentation: a line indented deeper than the
// previous one becomes its child. A recognized block-closing token
// (exit/quit) pops the current scope explicitly. Separator lines ("!",
// "#") and blank lines are ignored.
func Parse(text string, tok *Tokenizer) (*Tree, error) {
	if tok == nil {
		tok = Default()
	}

	tree := &Tree{}
	type level struct {
		indent int
		node   *Node // nil for the root scope
	}
	stack := []level{{indent: -1}}

	scopeChildren := func() *[]*Node {
		top := stack[len(stack)-1]
		if top.node == nil {
			return &tree.Children
		}
		return &top.node.Children
	}

	for lineNo, raw := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" || tok.isComment(trimmed) {
			continue
		}

		if tok.isBlockClose(trimmed) {
			if len(stack) == 1 {
				return nil, &ParseError{Line: lineNo + 1, Text: trimmed, Msg: "block terminator outside any block"}
			}
			stack = stack[:len(stack)-1]
			continue
		}

		indent := indentWidth(raw)

		// Pop scopes until this line's indentation fits under the top.
		for len(stack) > 1 && indent <= stack[len(stack)-1].indent {
			stack = stack[:len(stack)-1]
		}
		if len(stack) == 1 && indent > 0 && len(tree.Children) == 0 {
			return nil, &ParseError{Line: lineNo + 1, Text: trimmed, Msg: "unexpected indentation"}
		}

		tokens, err := SplitTokens(trimmed)
		if err != nil {
			return nil, &ParseError{Line: lineNo + 1, Text: trimmed, Msg: err.Error()}
		}
		if len(tokens) == 0 {
			continue
		}

		key, attrs, shape := tok.Decompose(tokens)
		node := &Node{Key: key, Attrs: attrs, Raw: trimmed, Line: lineNo + 1}
		node = MergeChild(scopeChildren(), node, shape)
		stack = append(stack, level{indent: indent, node: node})
	}

	return tree, nil
}

// MergeChild inserts node into the sibling scope, collapsing it into an
// existing sibling with the same key. For decomposed nodes the incoming
// attributes overwrite the existing ones the way a device CLI would,
// including clearing attributes the shape declares mutually exclusive.
// It returns the node now present in the scope.
func MergeChild(scope *[]*Node, node *Node, shape *Shape) *Node {
	existing := findChild(*scope, node.Key)
	if existing == nil {
		*scope = append(*scope, node)
		return node
	}
	if existing.Opaque() || node.Opaque() {
		// Identical opaque lines collapse; keep the first occurrence.
		return existing
	}
	for _, k := range node.Attrs.Keys() {
		v, _ := node.Attrs.Get(k)
		if shape != nil {
			for _, cleared := range shape.ExclusiveWith(k) {
				existing.Attrs.Delete(cleared)
			}
		}
		existing.Attrs.Set(k, v)
	}
	existing.Raw = node.Raw
	return existing
}

// indentWidth measures leading whitespace; tabs count as 8 columns.
func indentWidth(line string) int {
	w := 0
	for _, ch := range line {
		switch ch {
		case ' ':
			w++
		case '\t':
			w += 8
		default:
			return w
		}
	}
	return w
}
