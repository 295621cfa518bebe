package rulebook

import (
	"github.com/dkoval/netpatch/pkg/confdiff"
	"github.com/dkoval/netpatch/pkg/confparse"
)

// commonRules is the rule table shared by the built-in vendors. Vendor
// tables are built as vendor-specific rules + commonRules + the generic
// fallbacks, preserving first-match-wins semantics.
func commonRules() []Rule {
	return []Rule{
		{
			// Setting nopassword is a single overwrite command; the
			// device clears any secret on its own.
			Name:   "username-nopassword",
			Match:  Matcher{Path: "username *", Attr: "nopassword", Kinds: []confdiff.Kind{confdiff.KindAddAttr, confdiff.KindModifyAttr}},
			Render: renderUsernameFlag,
		},
		{
			Name:   "username-secret-clear",
			Match:  Matcher{Path: "username *", Attr: "secret", Kinds: []confdiff.Kind{confdiff.KindRemoveAttr}},
			Render: renderUsernameAttrClear,
		},
		{
			Name:   "username-password-clear",
			Match:  Matcher{Path: "username *", Attr: "password", Kinds: []confdiff.Kind{confdiff.KindRemoveAttr}},
			Render: renderUsernameAttrClear,
		},
		{
			Name:   "username-nopassword-clear",
			Match:  Matcher{Path: "username *", Attr: "nopassword", Kinds: []confdiff.Kind{confdiff.KindRemoveAttr}},
			Render: renderUsernameAttrClear,
		},
		{
			Name:   "username-attr",
			Match:  Matcher{Path: "username *", Kinds: []confdiff.Kind{confdiff.KindAddAttr, confdiff.KindModifyAttr}},
			Render: renderUsernameAttr,
		},
		{
			Name:   "username-attr-clear",
			Match:  Matcher{Path: "username *", Kinds: []confdiff.Kind{confdiff.KindRemoveAttr}},
			Render: renderUsernameAttrClear,
		},
		{
			// Single-value lines (description, mtu, ...) overwrite in
			// place: re-emitting the new form is the modify command.
			Name:   "set-value",
			Match:  Matcher{Attr: confparse.RestAttr, Kinds: []confdiff.Kind{confdiff.KindAddAttr, confdiff.KindModifyAttr}},
			Render: renderNodeLine,
		},
		{
			Name:   "clear-value",
			Match:  Matcher{Attr: confparse.RestAttr, Kinds: []confdiff.Kind{confdiff.KindRemoveAttr}},
			Render: renderReverseKey,
		},
		{
			// Flag attributes on otherwise keyed lines (ntp server
			// prefer): re-emit the full new form, or negate just the
			// flag on removal.
			Name:   "set-flag",
			Match:  Matcher{Kinds: []confdiff.Kind{confdiff.KindAddAttr, confdiff.KindModifyAttr}},
			Render: renderNodeLine,
		},
		{
			Name:   "clear-flag",
			Match:  Matcher{Kinds: []confdiff.Kind{confdiff.KindRemoveAttr}},
			Render: renderReverseAttr,
		},
	}
}

// genericRules are the mandatory raw emit/negate fallbacks for whole
// node operations. They terminate every vendor table.
func genericRules() []Rule {
	return []Rule{
		{
			Name:   "raw-add",
			Match:  Matcher{Kinds: []confdiff.Kind{confdiff.KindAdd}},
			Render: renderRawAdd,
		},
		{
			Name:   "raw-remove",
			Match:  Matcher{Kinds: []confdiff.Kind{confdiff.KindRemove}},
			Render: renderRawRemove,
		},
	}
}

func renderUsernameFlag(v *Vendor, op confdiff.Op, ctx *Context) []Line {
	return []Line{{Text: "username " + op.Path[1] + " " + op.Attr, Depth: op.Depth}}
}

// renderUsernameAttrClear negates one credential or attribute of an
// account. When the same diff sets a mutually exclusive credential, the
// overwrite command already covers the removal and nothing is emitted.
func renderUsernameAttrClear(v *Vendor, op confdiff.Op, ctx *Context) []Line {
	for _, other := range []string{"secret", "password", "nopassword"} {
		if other != op.Attr && ctx.WillSet(op.Path, other) {
			return nil
		}
	}
	return []Line{{Text: v.Reverse + " username " + op.Path[1] + " " + op.Attr, Depth: op.Depth}}
}

func renderUsernameAttr(v *Vendor, op confdiff.Op, ctx *Context) []Line {
	return []Line{{Text: "username " + op.Path[1] + " " + op.Attr + " " + op.New, Depth: op.Depth}}
}

// renderNodeLine re-emits the node's full new-form line.
func renderNodeLine(v *Vendor, op confdiff.Op, ctx *Context) []Line {
	return []Line{{Text: op.Node.Render(), Depth: op.Depth}}
}

// renderReverseAttr negates a single attribute of a keyed line
// ("no ntp server 10.0.0.1 prefer").
func renderReverseAttr(v *Vendor, op confdiff.Op, ctx *Context) []Line {
	return []Line{{Text: v.Reverse + " " + op.Node.KeyPath() + " " + op.Attr, Depth: op.Depth}}
}

// renderReverseKey negates a node by its key tokens.
func renderReverseKey(v *Vendor, op confdiff.Op, ctx *Context) []Line {
	return []Line{{Text: v.Reverse + " " + op.Node.KeyPath(), Depth: op.Depth}}
}

func renderRawAdd(v *Vendor, op confdiff.Op, ctx *Context) []Line {
	var lines []Line
	appendSubtree(&lines, v, op.Node, op.Depth)
	return lines
}

func appendSubtree(lines *[]Line, v *Vendor, n *confparse.Node, depth int) {
	*lines = append(*lines, Line{Text: n.Render(), Depth: depth})
	for _, c := range n.Children {
		appendSubtree(lines, v, c, depth+1)
	}
	if len(n.Children) > 0 && v.BlockExit != "" {
		*lines = append(*lines, Line{Text: v.BlockExit, Depth: depth})
	}
}

func renderRawRemove(v *Vendor, op confdiff.Op, ctx *Context) []Line {
	key := op.Node.KeyPath()
	if op.Node.Opaque() {
		key = op.Node.Raw
	}
	return []Line{{Text: v.Reverse + " " + key, Depth: op.Depth}}
}

// buildVendor assembles a vendor table in canonical order: the vendor's
// own rules first, then the shared rules, then the generic fallbacks.
func buildVendor(v Vendor, specific []Rule) *Vendor {
	v.Rules = append(append(specific, commonRules()...), genericRules()...)
	if v.Tokenizer == nil {
		v.Tokenizer = confparse.Default()
	}
	if v.Comment == "" {
		v.Comment = "!"
	}
	if len(v.ACLPaths) == 0 {
		v.ACLPaths = []string{
			"access-list **",
			"ip access-list **",
			"ipv6 access-list **",
			"snmp-server community **",
		}
	}
	return &v
}
