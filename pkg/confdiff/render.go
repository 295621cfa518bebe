package confdiff

import (
	"fmt"
	"strings"

	"github.com/dkoval/netpatch/pkg/confparse"
)

// RenderOptions controls diff text rendering.
type RenderOptions struct {
	// Indent is the indentation unit for nested lines. Defaults to two
	// spaces.
	Indent string
	// Context emits unprefixed block header lines above nested changes,
	// so a reader can tell which block a change belongs to.
	Context bool
	// Annotate receives each op and may return a trailing annotation
	// (the patch layer uses this for --show-rules).
	Annotate func(Op) string
}

// RenderText renders a diff as human-readable text: removed lines
// prefixed "- ", added lines prefixed "+ ". Attribute operations on one
// node are collapsed into a single remove/add line pair showing the old
// and new form of the line.
func RenderText(ops []Op, opts RenderOptions) string {
	indent := opts.Indent
	if indent == "" {
		indent = "  "
	}

	var b strings.Builder
	lastContext := ""

	emitContext := func(op Op) {
		if !opts.Context || op.Depth == 0 {
			lastContext = ""
			return
		}
		parents := op.Path[:len(op.Path)-len(op.Node.Key)]
		ctx := strings.Join(parents, " ")
		if ctx != lastContext {
			fmt.Fprintf(&b, "  %s\n", ctx)
			lastContext = ctx
		}
	}

	for i := 0; i < len(ops); i++ {
		op := ops[i]
		emitContext(op)
		pad := strings.Repeat(indent, op.Depth)
		switch op.Kind {
		case KindRemove:
			renderSubtree(&b, "- ", op.Node, indent, op.Depth, annotation(opts, op))
		case KindAdd:
			renderSubtree(&b, "+ ", op.Node, indent, op.Depth, annotation(opts, op))
		default:
			// Collapse the run of attribute ops that share this node.
			j := i
			for j+1 < len(ops) && isAttrKind(ops[j+1].Kind) && ops[j+1].PathString() == op.PathString() {
				j++
			}
			fmt.Fprintf(&b, "- %s%s\n", pad, op.OldNode.Render())
			fmt.Fprintf(&b, "+ %s%s%s\n", pad, op.Node.Render(), annotation(opts, op))
			i = j
		}
	}
	return b.String()
}

func annotation(opts RenderOptions, op Op) string {
	if opts.Annotate == nil {
		return ""
	}
	if a := opts.Annotate(op); a != "" {
		return "  " + a
	}
	return ""
}

func isAttrKind(k Kind) bool {
	return k == KindRemoveAttr || k == KindModifyAttr || k == KindAddAttr
}

func renderSubtree(b *strings.Builder, prefix string, n *confparse.Node, indent string, depth int, note string) {
	fmt.Fprintf(b, "%s%s%s%s\n", prefix, strings.Repeat(indent, depth), n.Render(), note)
	for _, c := range n.Children {
		renderSubtree(b, prefix, c, indent, depth+1, "")
	}
}
