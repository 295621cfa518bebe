package device

import (
	"context"
	"errors"
	"testing"

	"github.com/dkoval/netpatch/pkg/confdiff"
	"github.com/dkoval/netpatch/pkg/confparse"
	"github.com/dkoval/netpatch/pkg/inventory"
	"github.com/dkoval/netpatch/pkg/patch"
	"github.com/dkoval/netpatch/pkg/rulebook"
)

func testVendor(t *testing.T, name string) *rulebook.Vendor {
	t.Helper()
	v, err := rulebook.DefaultRegistry().Vendor(name)
	if err != nil {
		t.Fatalf("vendor %s: %v", name, err)
	}
	return v
}

func newSim(t *testing.T, vendor, config string) *Simulator {
	t.Helper()
	sim, err := NewSimulator("sw1", testVendor(t, vendor), config)
	if err != nil {
		t.Fatalf("NewSimulator: %v", err)
	}
	return sim
}

func TestSimulatorApplyAdd(t *testing.T) {
	sim := newSim(t, "arista", "")
	err := sim.Apply(context.Background(), []string{
		"conf s",
		"ntp server 10.0.0.1",
		"commit",
		"write memory",
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if sim.Tree().Find("ntp", "server", "10.0.0.1") == nil {
		t.Errorf("ntp server not added:\n%s", sim.Tree().Format("  "))
	}
}

func TestSimulatorApplyNegate(t *testing.T) {
	sim := newSim(t, "arista", "ntp server 10.0.0.1\nntp server 10.0.0.2\n")
	if err := sim.Apply(context.Background(), []string{"no ntp server 10.0.0.1"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	tree := sim.Tree()
	if tree.Find("ntp", "server", "10.0.0.1") != nil {
		t.Error("negated node still present")
	}
	if tree.Find("ntp", "server", "10.0.0.2") == nil {
		t.Error("sibling removed too")
	}
	// Negating something absent is a no-op.
	if err := sim.Apply(context.Background(), []string{"no ntp server 10.9.9.9"}); err != nil {
		t.Fatalf("Apply absent negation: %v", err)
	}
}

func TestSimulatorApplyAttrClear(t *testing.T) {
	sim := newSim(t, "arista", "username user01 privilege 15 secret abc\n")
	if err := sim.Apply(context.Background(), []string{"no username user01 secret"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	n := sim.Tree().Find("username", "user01")
	if n == nil {
		t.Fatal("username node removed instead of cleared")
	}
	if _, ok := n.Attrs.Get("secret"); ok {
		t.Error("secret still set")
	}
	if _, ok := n.Attrs.Get("privilege"); !ok {
		t.Error("privilege lost")
	}
}

func TestSimulatorApplyOverwrite(t *testing.T) {
	sim := newSim(t, "arista", "username user01 role network-operator\n")
	if err := sim.Apply(context.Background(), []string{"username user01 role network-admin"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	n := sim.Tree().Find("username", "user01")
	if n == nil {
		t.Fatal("username node missing")
	}
	if role, _ := n.Attrs.Get("role"); role != "network-admin" {
		t.Errorf("role = %q, want network-admin", role)
	}
}

func TestSimulatorApplyNested(t *testing.T) {
	sim := newSim(t, "huawei", "interface GE1/0/1\n  mtu 1500\n")
	err := sim.Apply(context.Background(), []string{
		"interface GE1/0/1",
		"  mtu 9000",
		"quit",
		"ntp server 10.0.0.1",
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	tree := sim.Tree()
	iface := tree.Find("interface", "GE1/0/1")
	if iface == nil {
		t.Fatal("interface missing")
	}
	mtu := tree.Find("interface", "GE1/0/1", "mtu")
	if mtu == nil {
		t.Fatalf("mtu missing:\n%s", tree.Format("  "))
	}
	if v, _ := mtu.Attrs.Get(confparse.RestAttr); v != "9000" {
		t.Errorf("mtu = %q, want 9000", v)
	}
	// quit must have returned to top level before ntp.
	if tree.Find("ntp", "server", "10.0.0.1") == nil {
		t.Error("ntp landed in the wrong scope")
	}
}

func TestSimulatorFailures(t *testing.T) {
	sim := newSim(t, "arista", "")
	sim.FailCommand = "ntp server 10.0.0.1"
	err := sim.Apply(context.Background(), []string{"hostname sw1", "ntp server 10.0.0.1"})
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("err = %v, want TransportError", err)
	}
	// Commands before the failing one still took effect.
	if sim.Tree().Find("hostname", "sw1") == nil {
		t.Error("prefix of command sequence not applied")
	}

	sim.FailFetch = true
	if _, err := sim.Fetch(context.Background()); !errors.As(err, &terr) {
		t.Errorf("Fetch err = %v, want TransportError", err)
	}
	sim.FailCommit = true
	if err := sim.Commit(context.Background()); !errors.As(err, &terr) {
		t.Errorf("Commit err = %v, want TransportError", err)
	}
	if sim.Commits() != 0 {
		t.Errorf("failed commit counted: %d", sim.Commits())
	}
}

func TestSimulatorContextCancelled(t *testing.T) {
	sim := newSim(t, "arista", "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sim.Apply(ctx, []string{"hostname sw1"}); err == nil {
		t.Error("Apply with cancelled context: expected error")
	}
	if _, err := sim.Fetch(ctx); err == nil {
		t.Error("Fetch with cancelled context: expected error")
	}
}

// TestSimulatorRoundTrip is the end-to-end property: generating a patch
// from old to new and interpreting it on a simulator loaded with old
// must leave the simulator's tree equivalent to new.
func TestSimulatorRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		vendor string
		old    string
		new    string
	}{
		{
			name:   "user change",
			vendor: "arista",
			old:    "username user01 role network-operator secret abc\n",
			new:    "username user01 role network-admin nopassword\n",
		},
		{
			name:   "nested attr change",
			vendor: "arista",
			old:    "interface Ethernet1\n  mtu 1500\n  description uplink\n",
			new:    "interface Ethernet1\n  mtu 9000\n  description uplink\n",
		},
		{
			name:   "block add and remove",
			vendor: "arista",
			old:    "interface Vlan10\n  description voice\nntp server 10.0.0.1\n",
			new:    "interface Vlan20\n  description data\n  mtu 9000\nntp server 10.0.0.1\n",
		},
		{
			name:   "huawei nested with quit",
			vendor: "huawei",
			old:    "interface GE1/0/1\n  mtu 1500\nntp unicast-server 10.0.0.1\n",
			new:    "interface GE1/0/1\n  mtu 9000\n  description core\nntp unicast-server 10.0.0.2\n",
		},
		{
			name:   "cisco flag toggle",
			vendor: "cisco",
			old:    "ntp server 10.0.0.1 prefer\n",
			new:    "ntp server 10.0.0.1\nntp server 10.0.0.2 prefer\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vendor := testVendor(t, tt.vendor)
			oldTree, err := confparse.Parse(tt.old, vendor.Tokenizer)
			if err != nil {
				t.Fatalf("parse old: %v", err)
			}
			newTree, err := confparse.Parse(tt.new, vendor.Tokenizer)
			if err != nil {
				t.Fatalf("parse new: %v", err)
			}
			ops, err := confdiff.Diff(oldTree, newTree)
			if err != nil {
				t.Fatalf("diff: %v", err)
			}
			p, err := patch.Generate(vendor, ops, patch.Options{})
			if err != nil {
				t.Fatalf("generate: %v", err)
			}
			sim, err := NewSimulator("sw1", vendor, tt.old)
			if err != nil {
				t.Fatalf("simulator: %v", err)
			}
			if err := sim.Apply(context.Background(), p.Lines()); err != nil {
				t.Fatalf("apply: %v", err)
			}
			drift, err := confdiff.Diff(sim.Tree(), newTree)
			if err != nil {
				t.Fatalf("drift diff: %v", err)
			}
			if len(drift) != 0 {
				t.Errorf("simulator diverged after applying patch:\npatch:\n%s\nresult:\n%s\ndrift ops: %d",
					p.Text(), sim.Tree().Format("  "), len(drift))
			}
		})
	}
}

func TestLab(t *testing.T) {
	lab := NewLab(rulebook.DefaultRegistry())
	dev := inventory.Device{ID: "1", Hostname: "sw1", Vendor: "arista"}
	sim, err := lab.Add(dev, "hostname sw1\n")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if lab.Sim("sw1") != sim {
		t.Error("Sim lookup mismatch")
	}
	sess, err := lab.Dial(context.Background(), dev)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	text, err := sess.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if text == "" {
		t.Error("Fetch returned empty config")
	}

	var terr *TransportError
	if _, err := lab.Dial(context.Background(), inventory.Device{Hostname: "ghost", Vendor: "arista"}); !errors.As(err, &terr) {
		t.Errorf("Dial unknown = %v, want TransportError", err)
	}
	lab.DialErr["sw1"] = errors.New("refused")
	if _, err := lab.Dial(context.Background(), dev); !errors.As(err, &terr) {
		t.Errorf("Dial injected = %v, want TransportError", err)
	}
	if _, err := lab.Add(inventory.Device{Hostname: "x", Vendor: "nosuch"}, ""); err == nil {
		t.Error("Add with unknown vendor: expected error")
	}
}
