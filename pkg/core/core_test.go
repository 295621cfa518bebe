package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dkoval/netpatch/pkg/deploy"
	"github.com/dkoval/netpatch/pkg/device"
	"github.com/dkoval/netpatch/pkg/gen"
	"github.com/dkoval/netpatch/pkg/inventory"
	"github.com/dkoval/netpatch/pkg/rulebook"
)

type staticGen struct {
	name string
	text map[string]string // device name -> fragment
}

func (g *staticGen) Name() string { return g.name }

func (g *staticGen) Render(dev inventory.Device) (string, error) {
	return g.text[dev.Name()], nil
}

// testService builds a lab-backed service: each entry is device name ->
// {vendor, running config, desired config}.
type devSpec struct {
	vendor  string
	running string
	desired string
}

func testService(t *testing.T, specs map[string]devSpec) (*Service, *device.Lab) {
	t.Helper()
	reg := rulebook.DefaultRegistry()
	lab := device.NewLab(reg)
	var devices []inventory.Device
	desired := &staticGen{name: "desired", text: make(map[string]string)}
	// Deterministic device order regardless of map iteration.
	for _, name := range sortedKeys(specs) {
		spec := specs[name]
		dev := inventory.Device{ID: name, Hostname: name, Vendor: spec.vendor}
		devices = append(devices, dev)
		desired.text[name] = spec.desired
		if _, err := reg.Vendor(spec.vendor); err != nil {
			continue // unknown vendor: inventory entry only, no simulator
		}
		if _, err := lab.Add(dev, spec.running); err != nil {
			t.Fatalf("lab add %s: %v", name, err)
		}
	}
	svc := NewService(inventory.Static(devices), reg, gen.NewRegistry(desired), lab, nil)
	return svc, lab
}

func sortedKeys(specs map[string]devSpec) []string {
	keys := make([]string, 0, len(specs))
	for k := range specs {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

func TestComputeDevices(t *testing.T) {
	svc, _ := testService(t, map[string]devSpec{
		"sw1": {vendor: "arista"},
		"sw2": {vendor: "huawei"},
	})
	devices, err := svc.ComputeDevices([]string{"sw*"}, "")
	if err != nil {
		t.Fatalf("ComputeDevices: %v", err)
	}
	if len(devices) != 2 {
		t.Errorf("got %d devices", len(devices))
	}
	_, err = svc.ComputeDevices([]string{"nosuch"}, "")
	var notFound *inventory.NoDevicesFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("err = %v, want NoDevicesFoundError", err)
	}
}

func TestGenerateConfig(t *testing.T) {
	svc, _ := testService(t, map[string]devSpec{
		"sw1": {vendor: "arista", desired: "hostname sw1\n"},
	})
	results, err := svc.GenerateConfig(context.Background(), nil, "", Options{})
	if err != nil {
		t.Fatalf("GenerateConfig: %v", err)
	}
	if results[0].Err != nil || results[0].Text != "hostname sw1\n" {
		t.Errorf("result = %+v", results[0])
	}
}

func TestComputeDiff(t *testing.T) {
	svc, _ := testService(t, map[string]devSpec{
		"sw1": {
			vendor:  "arista",
			running: "ntp server 10.0.0.1\n",
			desired: "ntp server 10.0.0.2\n",
		},
	})
	results, err := svc.ComputeDiff(context.Background(), nil, "", Options{})
	if err != nil {
		t.Fatalf("ComputeDiff: %v", err)
	}
	text := results[0].Text
	if results[0].Err != nil {
		t.Fatalf("device error: %v", results[0].Err)
	}
	if !strings.Contains(text, "- ntp server 10.0.0.1") || !strings.Contains(text, "+ ntp server 10.0.0.2") {
		t.Errorf("diff text:\n%s", text)
	}
}

func TestComputeDiffShowRules(t *testing.T) {
	svc, _ := testService(t, map[string]devSpec{
		"sw1": {
			vendor:  "arista",
			running: "username user01 role network-operator\n",
			desired: "username user01 role network-admin\n",
		},
	})
	results, err := svc.ComputeDiff(context.Background(), nil, "", Options{ShowRules: true})
	if err != nil {
		t.Fatalf("ComputeDiff: %v", err)
	}
	if !strings.Contains(results[0].Text, "[username-attr]") {
		t.Errorf("rule annotation missing:\n%s", results[0].Text)
	}
}

func TestComputePatch(t *testing.T) {
	svc, _ := testService(t, map[string]devSpec{
		"sw1": {
			vendor:  "arista",
			running: "",
			desired: "ntp server 10.0.0.1\n",
		},
	})
	results, err := svc.ComputePatch(context.Background(), nil, "", Options{})
	if err != nil {
		t.Fatalf("ComputePatch: %v", err)
	}
	want := "conf s\nntp server 10.0.0.1\ncommit\nwrite memory\n"
	if results[0].Text != want {
		t.Errorf("patch = %q, want %q", results[0].Text, want)
	}
}

func TestComputePatchEmptyDiff(t *testing.T) {
	svc, _ := testService(t, map[string]devSpec{
		"sw1": {vendor: "arista", running: "hostname sw1\n", desired: "hostname sw1\n"},
	})
	results, err := svc.ComputePatch(context.Background(), nil, "", Options{})
	if err != nil {
		t.Fatalf("ComputePatch: %v", err)
	}
	if results[0].Text != "" {
		t.Errorf("empty diff produced %q", results[0].Text)
	}
}

func TestConfigSourceEmpty(t *testing.T) {
	svc, _ := testService(t, map[string]devSpec{
		"sw1": {vendor: "arista", running: "ntp server 10.0.0.1\n", desired: "ntp server 10.0.0.1\n"},
	})
	// Against an empty baseline everything in the desired config shows
	// up as an addition, regardless of what the device holds.
	results, err := svc.ComputeDiff(context.Background(), nil, "", Options{Config: "empty"})
	if err != nil {
		t.Fatalf("ComputeDiff: %v", err)
	}
	if !strings.Contains(results[0].Text, "+ ntp server 10.0.0.1") {
		t.Errorf("diff text:\n%s", results[0].Text)
	}
}

func TestConfigSourceFile(t *testing.T) {
	svc, _ := testService(t, map[string]devSpec{
		"sw1": {vendor: "arista", desired: "ntp server 10.0.0.2\n"},
	})
	file := filepath.Join(t.TempDir(), "snapshot.cfg")
	if err := os.WriteFile(file, []byte("ntp server 10.0.0.1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	results, err := svc.ComputeDiff(context.Background(), nil, "", Options{Config: file})
	if err != nil {
		t.Fatalf("ComputeDiff: %v", err)
	}
	if !strings.Contains(results[0].Text, "- ntp server 10.0.0.1") {
		t.Errorf("diff text:\n%s", results[0].Text)
	}
}

func TestConfigSourceDir(t *testing.T) {
	svc, _ := testService(t, map[string]devSpec{
		"sw1": {vendor: "arista", desired: "ntp server 10.0.0.2\n"},
	})
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "sw1.cfg"), []byte("ntp server 10.0.0.1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	results, err := svc.ComputeDiff(context.Background(), nil, "", Options{Config: dir})
	if err != nil {
		t.Fatalf("ComputeDiff: %v", err)
	}
	if !strings.Contains(results[0].Text, "- ntp server 10.0.0.1") {
		t.Errorf("diff text:\n%s", results[0].Text)
	}
	// A device with no file in the directory fails in its own slot.
	svc2, _ := testService(t, map[string]devSpec{
		"ghost": {vendor: "arista", desired: "x y\n"},
	})
	results, err = svc2.ComputeDiff(context.Background(), nil, "", Options{Config: dir})
	if err != nil {
		t.Fatalf("ComputeDiff: %v", err)
	}
	if results[0].Err == nil {
		t.Error("missing per-device config file: expected slot error")
	}
}

func TestDeployEndToEnd(t *testing.T) {
	svc, lab := testService(t, map[string]devSpec{
		"sw1": {vendor: "arista", running: "", desired: "ntp server 10.0.0.1\n"},
		"sw2": {vendor: "arista", running: "ntp server 10.0.0.9\n", desired: "ntp server 10.0.0.9\n"},
	})
	rep, err := svc.Deploy(context.Background(), nil, "", Options{Parallel: 2, TolerateFails: true})
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if len(rep.Results) != 2 {
		t.Fatalf("got %d results", len(rep.Results))
	}
	for _, res := range rep.Results {
		if res.State != deploy.StateCommitted {
			t.Errorf("%s: %s (%v)", res.Device, res.State, res.Err)
		}
	}
	if lab.Sim("sw1").Tree().Find("ntp", "server", "10.0.0.1") == nil {
		t.Error("change did not reach sw1")
	}
	// sw2's diff was empty, so nothing was committed to it.
	if lab.Sim("sw2").Commits() != 0 {
		t.Errorf("sw2 commits = %d, want 0", lab.Sim("sw2").Commits())
	}
}

func TestDeployStageFailureSlots(t *testing.T) {
	svc, _ := testService(t, map[string]devSpec{
		"sw1": {vendor: "arista", running: "", desired: "ntp server 10.0.0.1\n"},
		"sw2": {vendor: "acme-router", desired: "x y\n"},
	})
	rep, err := svc.Deploy(context.Background(), nil, "", Options{TolerateFails: true})
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	byDevice := make(map[string]deploy.Result)
	for _, res := range rep.Results {
		byDevice[res.Device] = res
	}
	if byDevice["sw1"].State != deploy.StateCommitted {
		t.Errorf("sw1 = %+v", byDevice["sw1"])
	}
	sw2 := byDevice["sw2"]
	if sw2.State != deploy.StateFailed || sw2.Err == nil {
		t.Errorf("sw2 = %+v, want failed staging slot", sw2)
	}
	var unknown *rulebook.UnknownVendorError
	if !errors.As(sw2.Err, &unknown) {
		t.Errorf("sw2 err = %v, want UnknownVendorError", sw2.Err)
	}
	if got := rep.Outcome(); got != "partial" {
		t.Errorf("Outcome = %q", got)
	}
}

func TestDeployEmitsEvents(t *testing.T) {
	svc, _ := testService(t, map[string]devSpec{
		"sw1": {vendor: "arista", running: "", desired: "ntp server 10.0.0.1\n"},
	})
	if _, err := svc.Deploy(context.Background(), nil, "", Options{}); err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if len(svc.Events.Recent(0)) == 0 {
		t.Error("service event buffer saw no transitions")
	}
}

func TestOutcome(t *testing.T) {
	failed := func(v bool) bool { return v }
	if got := Outcome([]bool{false, false}, failed); got != "success" {
		t.Errorf("Outcome = %q", got)
	}
	if got := Outcome([]bool{true, true}, failed); got != "failure" {
		t.Errorf("Outcome = %q", got)
	}
	if got := Outcome([]bool{true, false}, failed); got != "partial" {
		t.Errorf("Outcome = %q", got)
	}
}
