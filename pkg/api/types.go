// Package api implements the HTTP REST API and Prometheus metrics
// endpoint of the netpatch daemon.
package api

import (
	"github.com/dkoval/netpatch/pkg/core"
	"github.com/dkoval/netpatch/pkg/deploy"
)

// Response is the standard JSON response envelope.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Request is the common body of the gen, diff, patch and deploy
// endpoints: a device query plus the generation options.
type Request struct {
	Query      []string     `json:"query"`
	HostsRange string       `json:"hosts_range,omitempty"`
	Options    core.Options `json:"options"`
}

// DeviceEntry is one inventory device in the devices listing.
type DeviceEntry struct {
	ID       string   `json:"id"`
	Hostname string   `json:"hostname"`
	FQDN     string   `json:"fqdn,omitempty"`
	Vendor   string   `json:"vendor"`
	Tags     []string `json:"tags,omitempty"`
}

// TextResult is one device's gen, diff or patch output.
type TextResult struct {
	Device string `json:"device"`
	Vendor string `json:"vendor"`
	Text   string `json:"text,omitempty"`
	Error  string `json:"error,omitempty"`
}

// TextResponse aggregates per-device text results with the overall
// outcome ("success", "partial", "failure").
type TextResponse struct {
	Outcome string       `json:"outcome"`
	Results []TextResult `json:"results"`
}

// DeployEntry is one device's deployment outcome.
type DeployEntry struct {
	Device     string `json:"device"`
	State      string `json:"state"`
	Commands   int    `json:"commands,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// DeployResponse aggregates a deployment run.
type DeployResponse struct {
	Outcome string         `json:"outcome"`
	Aborted bool           `json:"aborted,omitempty"`
	Counts  map[string]int `json:"counts"`
	Results []DeployEntry  `json:"results"`
}

func textResponse(results []core.Result) TextResponse {
	out := TextResponse{
		Outcome: core.Outcome(results, func(r core.Result) bool { return r.Err != nil }),
		Results: make([]TextResult, len(results)),
	}
	for i, r := range results {
		entry := TextResult{Device: r.Device.Name(), Vendor: r.Device.Vendor, Text: r.Text}
		if r.Err != nil {
			entry.Error = r.Err.Error()
			entry.Text = ""
		}
		out.Results[i] = entry
	}
	return out
}

func deployResponse(rep *deploy.Report) DeployResponse {
	out := DeployResponse{
		Outcome: rep.Outcome(),
		Aborted: rep.Aborted,
		Counts:  rep.Counts(),
		Results: make([]DeployEntry, len(rep.Results)),
	}
	for i, r := range rep.Results {
		entry := DeployEntry{
			Device:     r.Device,
			State:      r.State.String(),
			Commands:   r.Commands,
			DurationMS: r.Duration.Milliseconds(),
		}
		if r.Err != nil {
			entry.Error = r.Err.Error()
		}
		out.Results[i] = entry
	}
	return out
}
