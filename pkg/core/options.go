package core

import (
	"time"

	"github.com/dkoval/netpatch/pkg/deploy"
	"github.com/dkoval/netpatch/pkg/gen"
	"github.com/dkoval/netpatch/pkg/patch"
)

// Options is the full option surface shared by the CLI and the API.
// Field zero values are the defaults: full generation, ACL changes
// included, one device at a time, commit and persist.
type Options struct {
	// Config selects the current-state source: "running" (fetch from
	// the device, the default), "empty" (empty baseline), or a path.
	// A path naming a directory is looked up per device as
	// <hostname>.cfg; a path naming a file is used for every device.
	Config string `json:"config,omitempty"`

	// Generator selection.
	AllowedGens  []string `json:"allowed_gens,omitempty"`
	ExcludedGens []string `json:"excluded_gens,omitempty"`
	ForceEnabled []string `json:"force_enabled,omitempty"`

	// Access-control handling.
	NoACL     bool   `json:"no_acl,omitempty"`
	ACLSafe   bool   `json:"acl_safe,omitempty"`
	FilterACL string `json:"filter_acl,omitempty"`

	// Path-level restriction.
	FilterIfaces   []string `json:"filter_ifaces,omitempty"`
	FilterPeers    []string `json:"filter_peers,omitempty"`
	FilterPolicies []string `json:"filter_policies,omitempty"`

	// Rendering.
	Indent      string `json:"indent,omitempty"`
	ShowRules   bool   `json:"show_rules,omitempty"`
	NoCollapse  bool   `json:"no_collapse,omitempty"`
	AddComments bool   `json:"add_comments,omitempty"`

	// Deployment.
	Parallel      int           `json:"parallel,omitempty"`
	TolerateFails bool          `json:"tolerate_fails,omitempty"`
	NoCheckDiff   bool          `json:"no_check_diff,omitempty"`
	DontCommit    bool          `json:"dont_commit,omitempty"`
	Rollback      bool          `json:"rollback,omitempty"`
	MaxDeploy     int           `json:"max_deploy,omitempty"`
	RunTimeout    time.Duration `json:"-"`
	DeviceTimeout time.Duration `json:"-"`
}

func (o Options) selection() gen.Selection {
	return gen.Selection{
		Allowed:      o.AllowedGens,
		Excluded:     o.ExcludedGens,
		ForceEnabled: o.ForceEnabled,
	}
}

func (o Options) patchOptions() patch.Options {
	return patch.Options{
		NoACL:          o.NoACL,
		ACLSafe:        o.ACLSafe,
		FilterACL:      o.FilterACL,
		FilterIfaces:   o.FilterIfaces,
		FilterPeers:    o.FilterPeers,
		FilterPolicies: o.FilterPolicies,
		AddComments:    o.AddComments,
		Indent:         o.Indent,
		DontCommit:     o.DontCommit,
	}
}

func (o Options) deployOptions() deploy.Options {
	return deploy.Options{
		Parallel:      o.Parallel,
		TolerateFails: o.TolerateFails,
		NoCheckDiff:   o.NoCheckDiff,
		Rollback:      o.Rollback,
		MaxDeploy:     o.MaxDeploy,
		RunTimeout:    o.RunTimeout,
		DeviceTimeout: o.DeviceTimeout,
	}
}
