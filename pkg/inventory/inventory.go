// Package inventory resolves device queries against an inventory
// source. The core never decides which devices to target on its own:
// it asks a Resolver and works with what comes back.
package inventory

import (
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Device is one network device known to the inventory.
type Device struct {
	ID       string   `yaml:"id"`
	Hostname string   `yaml:"hostname"`
	FQDN     string   `yaml:"fqdn,omitempty"`
	Vendor   string   `yaml:"vendor"`
	Address  string   `yaml:"address,omitempty"`
	Port     int      `yaml:"port,omitempty"`
	Tags     []string `yaml:"tags,omitempty"`
	// DisabledGens lists desired-state renderers switched off for this
	// device; force_enabled overrides it.
	DisabledGens []string `yaml:"disabled_gens,omitempty"`
}

// Name returns the identifier used in reports: hostname, falling back
// to ID.
func (d Device) Name() string {
	if d.Hostname != "" {
		return d.Hostname
	}
	return d.ID
}

// HasTag reports whether the device carries the tag.
func (d Device) HasTag(tag string) bool {
	for _, t := range d.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// NoDevicesFoundError reports a query that resolved to nothing. The
// whole run aborts before any device is touched.
type NoDevicesFoundError struct {
	Query []string
}

func (e *NoDevicesFoundError) Error() string {
	return fmt.Sprintf("no devices found for query %v", e.Query)
}

// Resolver turns a device query into a concrete, ordered device list.
type Resolver interface {
	Resolve(query []string, hostsRange string) ([]Device, error)
}

// File is a YAML file backed resolver. Query terms are matched as
// globs against hostname, FQDN, ID and tags; a device matching any
// term is selected. The file's device order is preserved, which makes
// deployment reports reproducible.
type File struct {
	Devices []Device
}

type inventoryDoc struct {
	Devices []Device `yaml:"devices"`
}

// Load reads a YAML inventory file.
func Load(filePath string) (*File, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read inventory: %w", err)
	}
	var doc inventoryDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse inventory: %w", err)
	}
	return &File{Devices: doc.Devices}, nil
}

// Resolve implements Resolver.
func (f *File) Resolve(query []string, hostsRange string) ([]Device, error) {
	var selected []Device
	for _, d := range f.Devices {
		if matches(d, query) {
			selected = append(selected, d)
		}
	}
	selected, err := applyRange(selected, hostsRange)
	if err != nil {
		return nil, err
	}
	if len(selected) == 0 {
		return nil, &NoDevicesFoundError{Query: query}
	}
	return selected, nil
}

func matches(d Device, query []string) bool {
	if len(query) == 0 {
		return true
	}
	for _, q := range query {
		for _, candidate := range append([]string{d.Hostname, d.FQDN, d.ID}, d.Tags...) {
			if candidate == "" {
				continue
			}
			if ok, err := path.Match(q, candidate); err == nil && ok {
				return true
			}
		}
	}
	return false
}

// applyRange slices the selection: "N" keeps the first N devices,
// "start:stop" keeps the half-open range (empty stop means to the end).
func applyRange(devices []Device, hostsRange string) ([]Device, error) {
	if hostsRange == "" {
		return devices, nil
	}
	if !strings.Contains(hostsRange, ":") {
		n, err := strconv.Atoi(hostsRange)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid hosts range %q", hostsRange)
		}
		if n > len(devices) {
			n = len(devices)
		}
		return devices[:n], nil
	}
	startStr, stopStr, _ := strings.Cut(hostsRange, ":")
	start := 0
	if startStr != "" {
		v, err := strconv.Atoi(startStr)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("invalid hosts range %q", hostsRange)
		}
		start = v
	}
	stop := len(devices)
	if stopStr != "" {
		v, err := strconv.Atoi(stopStr)
		if err != nil || v < start {
			return nil, fmt.Errorf("invalid hosts range %q", hostsRange)
		}
		stop = v
	}
	if start > len(devices) {
		start = len(devices)
	}
	if stop > len(devices) {
		stop = len(devices)
	}
	return devices[start:stop], nil
}

// Static is a fixed device list resolver, mainly for tests.
type Static []Device

// Resolve implements Resolver.
func (s Static) Resolve(query []string, hostsRange string) ([]Device, error) {
	f := &File{Devices: s}
	return f.Resolve(query, hostsRange)
}
