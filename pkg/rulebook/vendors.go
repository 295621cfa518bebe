package rulebook

import (
	"regexp"

	"github.com/dkoval/netpatch/pkg/confdiff"
)

// DefaultRegistry returns the built-in vendor tables.
func DefaultRegistry() *Registry {
	return NewRegistry(Arista(), Huawei(), Cisco())
}

// deletableAristaIface matches interfaces that may be removed outright:
// aggregates, loopbacks, SVIs and subinterfaces. Physical ports are
// permanent and can only be reset to defaults.
var deletableAristaIface = regexp.MustCompile(
	`^((?:Port-Channel|Loopback|Vlan)\d+$)|((?:Ethernet|Port-Channel)[\d/]+\.\d+$)`)

// Arista builds the Arista EOS rule table.
func Arista() *Vendor {
	specific := []Rule{
		{
			Name:  "iface-remove",
			Match: Matcher{Path: "interface *", Kinds: []confdiff.Kind{confdiff.KindRemove}},
			Render: func(v *Vendor, op confdiff.Op, ctx *Context) []Line {
				name := op.Path[1]
				if deletableAristaIface.MatchString(name) {
					return []Line{{Text: "no interface " + name, Depth: op.Depth}}
				}
				return []Line{{Text: "default interface " + name, Depth: op.Depth}}
			},
		},
	}
	return buildVendor(Vendor{
		Name:        "arista",
		Reverse:     "no",
		EnterConfig: []string{"conf s"},
		Commit:      []string{"commit"},
		Persist:     []string{"write memory"},
	}, specific)
}

// Huawei builds the Huawei VRP rule table.
func Huawei() *Vendor {
	return buildVendor(Vendor{
		Name:        "huawei",
		Reverse:     "undo",
		EnterConfig: []string{"system-view"},
		Commit:      []string{"commit"},
		Persist:     []string{"save"},
		BlockExit:   "quit",
		Comment:     "#",
	}, nil)
}

// Cisco builds the Cisco IOS rule table. IOS has no separate commit
// phase: configuration applies as it is entered and write memory
// persists it.
func Cisco() *Vendor {
	return buildVendor(Vendor{
		Name:        "cisco",
		Reverse:     "no",
		EnterConfig: []string{"conf t"},
		Persist:     []string{"write memory"},
	}, nil)
}
