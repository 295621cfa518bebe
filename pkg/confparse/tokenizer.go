package confparse

import (
	"fmt"
	"strings"
)

// Shape describes how one known command form is decomposed into a node
// key plus named attributes. Decomposition is best-effort: a line that
// selects a shape but then fails to fit it falls back to an opaque leaf
// rather than erroring, so unknown extensions of known commands still
// parse.
type Shape struct {
	// Lead is the keyword prefix selecting this shape.
	Lead []string
	// KeyArgs is how many tokens after the lead complete the node key
	// (e.g. the account name of a username line).
	KeyArgs int
	// Flags are value-less attribute tokens (e.g. nopassword).
	Flags []string
	// Fields are tokens that introduce a single-value attribute
	// (e.g. "privilege 15").
	Fields []string
	// Rest, when true, collects all remaining tokens into the RestAttr
	// attribute (e.g. the free text of a description).
	Rest bool
	// Exclusive lists attribute groups where setting one member clears
	// the others, mirroring device overwrite semantics
	// (e.g. secret vs nopassword).
	Exclusive [][]string
}

func (s *Shape) isFlag(tok string) bool {
	for _, f := range s.Flags {
		if f == tok {
			return true
		}
	}
	return false
}

func (s *Shape) isField(tok string) bool {
	for _, f := range s.Fields {
		if f == tok {
			return true
		}
	}
	return false
}

// ExclusiveWith returns the attributes cleared when key is set.
func (s *Shape) ExclusiveWith(key string) []string {
	for _, group := range s.Exclusive {
		member := false
		for _, g := range group {
			if g == key {
				member = true
				break
			}
		}
		if !member {
			continue
		}
		var out []string
		for _, g := range group {
			if g != key {
				out = append(out, g)
			}
		}
		return out
	}
	return nil
}

// Tokenizer holds the vendor-specific tokenization rules: the shape
// table and the tokens that close a nested block. The tree-building
// algorithm itself is vendor-independent.
type Tokenizer struct {
	Shapes     []*Shape
	BlockClose []string // lines that pop the current block scope
	Comment    []string // line prefixes ignored entirely
}

// commonShapes is the shape table shared by the built-in vendors. The
// command grammars differ little at this granularity; vendors that need
// a different decomposition register their own table.
func commonShapes() []*Shape {
	return []*Shape{
		{
			Lead:      []string{"username"},
			KeyArgs:   1,
			Flags:     []string{"nopassword"},
			Fields:    []string{"privilege", "role", "secret", "password"},
			Exclusive: [][]string{{"secret", "password", "nopassword"}},
		},
		{Lead: []string{"interface"}, KeyArgs: 1},
		{Lead: []string{"description"}, Rest: true},
		{Lead: []string{"mtu"}, Rest: true},
		{Lead: []string{"speed"}, Rest: true},
		{Lead: []string{"switchport", "mode"}, Rest: true},
		{Lead: []string{"ntp", "server"}, KeyArgs: 1, Flags: []string{"prefer"}},
		{Lead: []string{"snmp-server", "community"}, KeyArgs: 1, Rest: true},
	}
}

// NewTokenizer builds a tokenizer from a shape table. Nil shapes means
// the common table.
func NewTokenizer(shapes []*Shape) *Tokenizer {
	if shapes == nil {
		shapes = commonShapes()
	}
	return &Tokenizer{
		Shapes:     shapes,
		BlockClose: []string{"exit", "quit"},
		Comment:    []string{"!", "#"},
	}
}

// Default is the tokenizer used when no vendor hint is available. Only
// the generic shape table applies.
func Default() *Tokenizer {
	return NewTokenizer(nil)
}

func (t *Tokenizer) isComment(line string) bool {
	for _, c := range t.Comment {
		if strings.HasPrefix(line, c) {
			return true
		}
	}
	return false
}

func (t *Tokenizer) isBlockClose(line string) bool {
	for _, c := range t.BlockClose {
		if line == c {
			return true
		}
	}
	return false
}

// shapeFor returns the first shape whose lead matches the tokens.
func (t *Tokenizer) shapeFor(tokens []string) *Shape {
	for _, s := range t.Shapes {
		if len(tokens) < len(s.Lead) {
			continue
		}
		ok := true
		for i, lead := range s.Lead {
			if tokens[i] != lead {
				ok = false
				break
			}
		}
		if ok {
			return s
		}
	}
	return nil
}

// Decompose splits a tokenized line into node key and attributes.
// When no shape matches, or the matched shape does not fit, the whole
// token sequence becomes the key and attrs is nil (opaque node).
func (t *Tokenizer) Decompose(tokens []string) (key []string, attrs *Attrs, shape *Shape) {
	s := t.shapeFor(tokens)
	if s == nil {
		return tokens, nil, nil
	}

	keyLen := len(s.Lead) + s.KeyArgs
	if len(tokens) < keyLen {
		return tokens, nil, nil
	}
	key = tokens[:keyLen]
	rest := tokens[keyLen:]

	attrs = NewAttrs()
	for i := 0; i < len(rest); i++ {
		tok := rest[i]
		switch {
		case s.isFlag(tok):
			attrs.Set(tok, "")
		case s.isField(tok):
			if i+1 >= len(rest) {
				return tokens, nil, nil // dangling field keyword
			}
			attrs.Set(tok, rest[i+1])
			i++
		case s.Rest:
			attrs.Set(RestAttr, strings.Join(rest[i:], " "))
			return key, attrs, s
		default:
			return tokens, nil, nil // unrecognized token, keep opaque
		}
	}
	return key, attrs, s
}

// SplitTokens splits a configuration line into whitespace-separated
// tokens, honoring double-quoted strings. It fails on an unterminated
// quote, which is the one token-level malformation we refuse to guess
// around.
func SplitTokens(line string) ([]string, error) {
	var tokens []string
	var cur strings.Builder
	inQuote := false
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case ch == '"':
			inQuote = !inQuote
		case !inQuote && (ch == ' ' || ch == '\t'):
			flush()
		default:
			cur.WriteByte(ch)
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated quote")
	}
	flush()
	return tokens, nil
}
