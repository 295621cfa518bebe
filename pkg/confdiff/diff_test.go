package confdiff

import (
	"errors"
	"strings"
	"testing"

	"github.com/dkoval/netpatch/pkg/confparse"
)

func mustParse(t *testing.T, text string) *confparse.Tree {
	t.Helper()
	tree, err := confparse.Parse(text, nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return tree
}

func TestDiffIdempotent(t *testing.T) {
	texts := []string{
		"",
		"hostname sw1\n",
		"interface Ethernet1\n  description uplink\n  mtu 9000\nusername admin privilege 15 secret abc\n",
	}
	for _, text := range texts {
		tree := mustParse(t, text)
		ops, err := Diff(tree, tree)
		if err != nil {
			t.Fatalf("diff: %v", err)
		}
		if len(ops) != 0 {
			t.Errorf("diff(T,T) = %d ops for %q, want 0", len(ops), text)
		}
	}
}

func TestDiffAddRemove(t *testing.T) {
	old := mustParse(t, "hostname sw1\nntp server 10.0.0.1\n")
	new := mustParse(t, "hostname sw1\nntp server 10.0.0.2\n")
	ops, err := Diff(old, new)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("ops = %d, want 2", len(ops))
	}
	if ops[0].Kind != KindRemove || ops[0].PathString() != "ntp server 10.0.0.1" {
		t.Errorf("op 0 = %s %s, want remove of 10.0.0.1", ops[0].Kind, ops[0].PathString())
	}
	if ops[1].Kind != KindAdd || ops[1].PathString() != "ntp server 10.0.0.2" {
		t.Errorf("op 1 = %s %s, want add of 10.0.0.2", ops[1].Kind, ops[1].PathString())
	}
}

func TestDiffRemovalsBeforeAdditions(t *testing.T) {
	old := mustParse(t, "interface Vlan10\ninterface Vlan20\n")
	new := mustParse(t, "interface Vlan30\ninterface Vlan40\n")
	ops, err := Diff(old, new)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	sawAdd := false
	for _, op := range ops {
		if op.Kind == KindAdd {
			sawAdd = true
		}
		if op.Kind == KindRemove && sawAdd {
			t.Fatal("remove emitted after add within one scope")
		}
	}
}

func TestDiffAttrOps(t *testing.T) {
	old := mustParse(t, "username op privilege 7 role viewer secret abc\n")
	new := mustParse(t, "username op privilege 15 role viewer nopassword\n")
	ops, err := Diff(old, new)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	// secret removed, privilege modified, nopassword added; removals
	// first, then modifications, then additions.
	if len(ops) != 3 {
		t.Fatalf("ops = %d, want 3", len(ops))
	}
	if ops[0].Kind != KindRemoveAttr || ops[0].Attr != "secret" || ops[0].Old != "abc" {
		t.Errorf("op 0 = %+v, want remove-attr secret", ops[0])
	}
	if ops[1].Kind != KindModifyAttr || ops[1].Attr != "privilege" || ops[1].Old != "7" || ops[1].New != "15" {
		t.Errorf("op 1 = %+v, want modify-attr privilege 7->15", ops[1])
	}
	if ops[2].Kind != KindAddAttr || ops[2].Attr != "nopassword" {
		t.Errorf("op 2 = %+v, want add-attr nopassword", ops[2])
	}
	for _, op := range ops {
		if op.PathString() != "username op" {
			t.Errorf("attr op path = %q", op.PathString())
		}
	}
}

func TestDiffOpaqueChange(t *testing.T) {
	old := mustParse(t, "spanning-tree mode mstp\n")
	new := mustParse(t, "spanning-tree mode rstp\n")
	ops, err := Diff(old, new)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if len(ops) != 2 || ops[0].Kind != KindRemove || ops[1].Kind != KindAdd {
		t.Fatalf("opaque change should be remove+add, got %+v", ops)
	}
}

func TestDiffNestedDepthAndParents(t *testing.T) {
	old := mustParse(t, "interface Ethernet1\n  mtu 1500\n")
	new := mustParse(t, "interface Ethernet1\n  mtu 9000\n")
	ops, err := Diff(old, new)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("ops = %d, want 1", len(ops))
	}
	op := ops[0]
	if op.Kind != KindModifyAttr || op.Attr != confparse.RestAttr {
		t.Fatalf("op = %+v", op)
	}
	if op.Depth != 1 {
		t.Errorf("depth = %d, want 1", op.Depth)
	}
	if len(op.Parents) != 1 || strings.Join(op.Parents[0], " ") != "interface Ethernet1" {
		t.Errorf("parents = %v", op.Parents)
	}
	if op.PathString() != "interface Ethernet1 mtu" {
		t.Errorf("path = %q", op.PathString())
	}
}

func TestDiffParentsBeforeChildren(t *testing.T) {
	old := mustParse(t, "interface Ethernet1\n  description a\n")
	new := mustParse(t, "interface Ethernet1\n  description b\n  mtu 9000\nntp server 10.0.0.1\n")
	ops, err := Diff(old, new)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	// A changed child inside a surviving parent must reference the
	// parent in Parents, never produce an op for the parent itself.
	for _, op := range ops {
		if op.PathString() == "interface Ethernet1" {
			t.Errorf("surviving parent produced its own op: %+v", op)
		}
	}
}

func TestDiffReorderedSiblingsEqual(t *testing.T) {
	old := mustParse(t, "ntp server 10.0.0.1\nntp server 10.0.0.2\n")
	new := mustParse(t, "ntp server 10.0.0.2\nntp server 10.0.0.1\n")
	ops, err := Diff(old, new)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if len(ops) != 0 {
		t.Errorf("reordered equal siblings should diff empty, got %+v", ops)
	}
}

func TestDiffDeterministic(t *testing.T) {
	old := mustParse(t, "interface Ethernet1\n  mtu 1500\nusername a secret x\nusername b secret y\n")
	new := mustParse(t, "interface Ethernet1\n  mtu 9000\nusername b secret z\nusername c secret w\n")
	first, err := Diff(old, new)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	second, err := Diff(old, new)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if !Equal(first, second) {
		t.Error("diff not deterministic")
	}
}

func TestDiffStructuralMismatch(t *testing.T) {
	bad := &confparse.Tree{Children: []*confparse.Node{
		{Key: []string{"hostname", "a"}, Raw: "hostname a"},
		{Key: []string{"hostname", "a"}, Raw: "hostname a"},
	}}
	_, err := Diff(bad, &confparse.Tree{})
	var serr *StructuralMismatchError
	if !errors.As(err, &serr) {
		t.Fatalf("expected StructuralMismatchError, got %v", err)
	}
}

func TestRenderText(t *testing.T) {
	old := mustParse(t, "username op privilege 7 secret abc\nntp server 10.0.0.1\n")
	new := mustParse(t, "username op privilege 15 secret abc\n")
	ops, err := Diff(old, new)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	text := RenderText(ops, RenderOptions{})
	want := "- ntp server 10.0.0.1\n" +
		"- username op privilege 7 secret abc\n" +
		"+ username op privilege 15 secret abc\n"
	if text != want {
		t.Errorf("render:\n%s\nwant:\n%s", text, want)
	}
}

func TestRenderTextCollapsesAttrRuns(t *testing.T) {
	old := mustParse(t, "username op privilege 7 role viewer secret abc\n")
	new := mustParse(t, "username op privilege 15 role admin secret abc\n")
	ops, err := Diff(old, new)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	text := RenderText(ops, RenderOptions{})
	if strings.Count(text, "\n") != 2 {
		t.Errorf("two attr changes on one node should render as one -/+ pair:\n%s", text)
	}
}

func TestRenderTextAnnotate(t *testing.T) {
	old := mustParse(t, "")
	new := mustParse(t, "hostname sw1\n")
	ops, _ := Diff(old, new)
	text := RenderText(ops, RenderOptions{Annotate: func(Op) string { return "[raw-add]" }})
	if !strings.Contains(text, "[raw-add]") {
		t.Errorf("annotation missing:\n%s", text)
	}
}

func TestRenderTextSubtree(t *testing.T) {
	old := mustParse(t, "")
	new := mustParse(t, "interface Vlan10\n  description voice\n")
	ops, _ := Diff(old, new)
	text := RenderText(ops, RenderOptions{})
	want := "+ interface Vlan10\n+   description voice\n"
	if text != want {
		t.Errorf("subtree render:\n%s\nwant:\n%s", text, want)
	}
}

func TestEqual(t *testing.T) {
	base := mustParse(t, "hostname sw1\nntp server 10.0.0.1\n")
	desired := mustParse(t, "hostname sw1\nntp server 10.0.0.2\nusername op privilege 15\n")
	reordered := mustParse(t, "ntp server 10.0.0.1\nhostname sw1\n")
	drifted := mustParse(t, "hostname sw1\nntp server 10.0.0.2\n")

	diff := func(old, new *confparse.Tree) []Op {
		t.Helper()
		ops, err := Diff(old, new)
		if err != nil {
			t.Fatalf("diff: %v", err)
		}
		return ops
	}

	want := diff(base, desired)
	if !Equal(want, diff(base, desired)) {
		t.Error("identical diffs reported unequal")
	}
	// Reordering alone produces the same ops, so the patch generated
	// from them is still valid.
	if !Equal(want, diff(reordered, desired)) {
		t.Error("reorder-only drift changed the diff")
	}
	// A drifted tree that already holds part of the change yields a
	// shorter diff: the original patch no longer fits.
	if Equal(want, diff(drifted, desired)) {
		t.Error("real drift went undetected")
	}
	if Equal(want, nil) {
		t.Error("diff equal to empty op list")
	}
}
