package rulebook

import (
	"errors"
	"testing"

	"github.com/dkoval/netpatch/pkg/confdiff"
	"github.com/dkoval/netpatch/pkg/confparse"
)

func TestMatchPath(t *testing.T) {
	tests := []struct {
		pattern string
		path    []string
		want    bool
	}{
		{"username *", []string{"username", "op"}, true},
		{"username *", []string{"username", "op", "extra"}, false},
		{"username *", []string{"interface", "Ethernet1"}, false},
		{"interface *", []string{"interface", "Ethernet1"}, true},
		{"access-list **", []string{"access-list", "101", "permit", "ip"}, true},
		{"access-list **", []string{"access-list"}, true},
		{"", []string{}, true},
		{"ip access-list **", []string{"ip", "access-list", "standard", "mgmt"}, true},
		{"ip access-list **", []string{"ipv6", "access-list", "standard"}, false},
	}
	for _, tt := range tests {
		if got := MatchPath(tt.pattern, tt.path); got != tt.want {
			t.Errorf("MatchPath(%q, %v) = %v, want %v", tt.pattern, tt.path, got, tt.want)
		}
	}
}

func TestMatchRuleFallbacks(t *testing.T) {
	v := Arista()

	// A whole-node op on an unknown path hits the generic raw rules.
	add := confdiff.Op{Kind: confdiff.KindAdd, Path: []string{"vlan", "10"},
		Node: &confparse.Node{Key: []string{"vlan", "10"}, Raw: "vlan 10"}}
	rule, err := v.MatchRule(add)
	if err != nil {
		t.Fatalf("match add: %v", err)
	}
	if rule.Name != "raw-add" {
		t.Errorf("rule = %s, want raw-add", rule.Name)
	}

	remove := add
	remove.Kind = confdiff.KindRemove
	rule, err = v.MatchRule(remove)
	if err != nil {
		t.Fatalf("match remove: %v", err)
	}
	if rule.Name != "raw-remove" {
		t.Errorf("rule = %s, want raw-remove", rule.Name)
	}
}

func TestMatchRuleUnhandledAttribute(t *testing.T) {
	// Remove every attribute rule so an attr op has nowhere to go.
	v := &Vendor{Name: "bare", Reverse: "no", Rules: genericRules()}
	op := confdiff.Op{Kind: confdiff.KindModifyAttr, Path: []string{"username", "op"}, Attr: "role"}
	_, err := v.MatchRule(op)
	var uerr *UnhandledAttributeError
	if !errors.As(err, &uerr) {
		t.Fatalf("expected UnhandledAttributeError, got %v", err)
	}
	if uerr.Attr != "role" || uerr.Vendor != "bare" {
		t.Errorf("error fields = %+v", uerr)
	}
}

func TestAristaInterfaceRemoval(t *testing.T) {
	v := Arista()
	tests := []struct {
		iface string
		want  string
	}{
		{"Ethernet1", "default interface Ethernet1"},
		{"Ethernet3/1", "default interface Ethernet3/1"},
		{"Ethernet1.100", "no interface Ethernet1.100"},
		{"Port-Channel10", "no interface Port-Channel10"},
		{"Loopback0", "no interface Loopback0"},
		{"Vlan200", "no interface Vlan200"},
	}
	for _, tt := range tests {
		op := confdiff.Op{
			Kind: confdiff.KindRemove,
			Path: []string{"interface", tt.iface},
			Node: &confparse.Node{Key: []string{"interface", tt.iface}, Raw: "interface " + tt.iface},
		}
		rule, err := v.MatchRule(op)
		if err != nil {
			t.Fatalf("match %s: %v", tt.iface, err)
		}
		lines := rule.Render(v, op, nil)
		if len(lines) != 1 || lines[0].Text != tt.want {
			t.Errorf("%s rendered %v, want %q", tt.iface, lines, tt.want)
		}
	}
}

func TestContextWillSet(t *testing.T) {
	ops := []confdiff.Op{
		{Kind: confdiff.KindRemoveAttr, Path: []string{"username", "op"}, Attr: "secret"},
		{Kind: confdiff.KindAddAttr, Path: []string{"username", "op"}, Attr: "nopassword"},
	}
	ctx := &Context{Ops: ops}
	if !ctx.WillSet([]string{"username", "op"}, "nopassword") {
		t.Error("WillSet should see the sibling add")
	}
	if ctx.WillSet([]string{"username", "op"}, "secret") {
		t.Error("a removal is not a set")
	}
	if ctx.WillSet([]string{"username", "other"}, "nopassword") {
		t.Error("WillSet must match the node path")
	}
}

func TestCredentialClearSuppressedByOverwrite(t *testing.T) {
	v := Arista()
	node := &confparse.Node{Key: []string{"username", "op"}}
	ops := []confdiff.Op{
		{Kind: confdiff.KindRemoveAttr, Path: []string{"username", "op"}, Attr: "secret", Node: node},
		{Kind: confdiff.KindAddAttr, Path: []string{"username", "op"}, Attr: "nopassword", Node: node},
	}
	ctx := &Context{Ops: ops}

	rule, err := v.MatchRule(ops[0])
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if lines := rule.Render(v, ops[0], ctx); len(lines) != 0 {
		t.Errorf("secret clear should be suppressed, got %v", lines)
	}

	rule, err = v.MatchRule(ops[1])
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	lines := rule.Render(v, ops[1], ctx)
	if len(lines) != 1 || lines[0].Text != "username op nopassword" {
		t.Errorf("nopassword render = %v", lines)
	}
}

func TestClearFlagRendersReverse(t *testing.T) {
	v := Cisco()
	node := &confparse.Node{Key: []string{"ntp", "server", "10.0.0.1"}}
	op := confdiff.Op{
		Kind: confdiff.KindRemoveAttr,
		Path: []string{"ntp", "server", "10.0.0.1"},
		Attr: "prefer",
		Node: node,
	}
	rule, err := v.MatchRule(op)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	lines := rule.Render(v, op, &Context{})
	if len(lines) != 1 || lines[0].Text != "no ntp server 10.0.0.1 prefer" {
		t.Errorf("render = %v", lines)
	}
}

func TestRawAddRendersSubtree(t *testing.T) {
	v := Huawei()
	child := &confparse.Node{Key: []string{"description"}, Raw: "description uplink",
		Attrs: attrsWith(confparse.RestAttr, "uplink")}
	node := &confparse.Node{Key: []string{"interface", "GE1/0/1"}, Raw: "interface GE1/0/1",
		Children: []*confparse.Node{child}}
	op := confdiff.Op{Kind: confdiff.KindAdd, Path: []string{"interface", "GE1/0/1"}, Node: node}

	rule, err := v.MatchRule(op)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	lines := rule.Render(v, op, nil)
	want := []struct {
		text  string
		depth int
	}{
		{"interface GE1/0/1", 0},
		{"description uplink", 1},
		{"quit", 0},
	}
	if len(lines) != len(want) {
		t.Fatalf("lines = %v", lines)
	}
	for i, w := range want {
		if lines[i].Text != w.text || lines[i].Depth != w.depth {
			t.Errorf("line %d = %+v, want %+v", i, lines[i], w)
		}
	}
}

func TestRegistryLookup(t *testing.T) {
	r := DefaultRegistry()
	for _, name := range []string{"arista", "huawei", "cisco"} {
		if _, err := r.Vendor(name); err != nil {
			t.Errorf("vendor %s: %v", name, err)
		}
	}
	// Lookup is case-insensitive.
	if _, err := r.Vendor("Arista"); err != nil {
		t.Errorf("case-insensitive lookup failed: %v", err)
	}
	_, err := r.Vendor("junos")
	var uerr *UnknownVendorError
	if !errors.As(err, &uerr) {
		t.Fatalf("expected UnknownVendorError, got %v", err)
	}
}

func TestACLAffected(t *testing.T) {
	v := Arista()
	acl := confdiff.Op{Path: []string{"access-list", "101", "permit", "any"}}
	if !v.ACLAffected(acl) {
		t.Error("access-list path should be ACL affected")
	}
	plain := confdiff.Op{Path: []string{"interface", "Ethernet1"}}
	if v.ACLAffected(plain) {
		t.Error("interface path should not be ACL affected")
	}
}

func attrsWith(k, v string) *confparse.Attrs {
	a := confparse.NewAttrs()
	a.Set(k, v)
	return a
}
