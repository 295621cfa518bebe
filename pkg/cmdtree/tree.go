// Package cmdtree defines the command tree of the interactive netpatch
// shell: one place describing every shell command, driving both tab
// completion and the "?" help listing.
package cmdtree

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// Source supplies the dynamic completion values the tree cannot know
// statically: names that live in the inventory and the registries.
type Source interface {
	DeviceNames() []string
	VendorNames() []string
	GeneratorNames() []string
}

// Node is one command word: its description, static sub-words, and an
// optional dynamic value source (device names after "diff", say).
type Node struct {
	Desc      string
	Children  map[string]*Node
	DynamicFn func(src Source) []string
}

// Candidate is a completion result for display.
type Candidate struct {
	Name string
	Desc string
}

func deviceNames(src Source) []string {
	if src == nil {
		return nil
	}
	return src.DeviceNames()
}

// ShellTree is the canonical command tree of the shell. Commands taking
// a device query complete device names from the inventory.
var ShellTree = map[string]*Node{
	"show": {Desc: "Show information", Children: map[string]*Node{
		"devices": {Desc: "List devices matching a query", DynamicFn: deviceNames},
		"vendors": {Desc: "List supported vendors", DynamicFn: func(src Source) []string {
			if src == nil {
				return nil
			}
			return src.VendorNames()
		}},
		"generators": {Desc: "List configuration generators", DynamicFn: func(src Source) []string {
			if src == nil {
				return nil
			}
			return src.GeneratorNames()
		}},
		"events":  {Desc: "Show recent deployment events [N]"},
		"options": {Desc: "Show current session options"},
	}},
	"gen":    {Desc: "Render desired configuration", DynamicFn: deviceNames},
	"diff":   {Desc: "Diff current against desired configuration", DynamicFn: deviceNames},
	"patch":  {Desc: "Generate the command patch", DynamicFn: deviceNames},
	"deploy": {Desc: "Apply patches to devices", DynamicFn: deviceNames},
	"set": {Desc: "Set a session option", Children: map[string]*Node{
		"config": {Desc: "Current-config source (running, empty, or a path)", Children: map[string]*Node{
			"running": {Desc: "Fetch from the live device"},
			"empty":   {Desc: "Diff against an empty configuration"},
		}},
		"parallel":       {Desc: "Concurrent devices during deploy"},
		"max-deploy":     {Desc: "Cap how many devices are touched"},
		"tolerate-fails": {Desc: "Keep going after a device fails"},
		"no-check-diff":  {Desc: "Skip the pre-apply drift check"},
		"rollback":       {Desc: "Roll back a device on failure"},
		"dont-commit":    {Desc: "Leave changes uncommitted"},
	}},
	"unset": {Desc: "Reset a session option to its default"},
	"help":  {Desc: "Show available commands"},
	"exit":  {Desc: "Leave the shell"},
	"quit":  {Desc: "Leave the shell"},
}

// Complete walks the tree along the completed words and returns the
// names that could follow, filtered by the partial word being typed.
func Complete(tree map[string]*Node, words []string, partial string, src Source) []string {
	current := tree
	var currentNode *Node
	dynamicConsumed := false
	for _, w := range words {
		dynamicConsumed = false
		node, ok := current[w]
		if !ok {
			// Not a static child: a dynamic value keeps us at the same
			// level so several values can follow one command.
			if currentNode != nil && currentNode.DynamicFn != nil {
				dynamicConsumed = true
				continue
			}
			return nil
		}
		currentNode = node
		if node.Children == nil {
			if node.DynamicFn != nil {
				return FilterPrefix(node.DynamicFn(src), partial)
			}
			return nil
		}
		current = node.Children
	}
	candidates := KeysOf(current)
	if !dynamicConsumed && currentNode != nil && currentNode.DynamicFn != nil {
		candidates = append(candidates, currentNode.DynamicFn(src)...)
	}
	return FilterPrefix(candidates, partial)
}

// CompleteWithDesc is Complete returning name+description pairs for the
// "?" listing.
func CompleteWithDesc(tree map[string]*Node, words []string, partial string, src Source) []Candidate {
	current := tree
	var currentNode *Node
	dynamicConsumed := false
	for _, w := range words {
		dynamicConsumed = false
		node, ok := current[w]
		if !ok {
			if currentNode != nil && currentNode.DynamicFn != nil {
				dynamicConsumed = true
				continue
			}
			return nil
		}
		currentNode = node
		if node.Children == nil {
			if node.DynamicFn != nil {
				var candidates []Candidate
				for _, name := range node.DynamicFn(src) {
					if strings.HasPrefix(name, partial) {
						candidates = append(candidates, Candidate{Name: name, Desc: "(inventory)"})
					}
				}
				return candidates
			}
			return nil
		}
		current = node.Children
	}

	var candidates []Candidate
	for name, node := range current {
		if strings.HasPrefix(name, partial) {
			candidates = append(candidates, Candidate{Name: name, Desc: node.Desc})
		}
	}
	if !dynamicConsumed && currentNode != nil && currentNode.DynamicFn != nil {
		for _, name := range currentNode.DynamicFn(src) {
			if strings.HasPrefix(name, partial) {
				candidates = append(candidates, Candidate{Name: name, Desc: "(inventory)"})
			}
		}
	}
	return candidates
}

// HelpCandidates lists a level's children as candidates.
func HelpCandidates(tree map[string]*Node) []Candidate {
	candidates := make([]Candidate, 0, len(tree))
	for name, node := range tree {
		candidates = append(candidates, Candidate{Name: name, Desc: node.Desc})
	}
	return candidates
}

// WriteHelp prints aligned completion candidates to w. The output is
// built as one string and written in a single call so readline's
// wrapped writer refreshes only once.
func WriteHelp(w io.Writer, candidates []Candidate) {
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Name < candidates[j].Name })
	maxWidth := 20
	for _, c := range candidates {
		if len(c.Name)+2 > maxWidth {
			maxWidth = len(c.Name) + 2
		}
	}
	var sb strings.Builder
	sb.WriteString("Possible completions:\n")
	for _, c := range candidates {
		if c.Desc != "" {
			fmt.Fprintf(&sb, "  %-*s %s\n", maxWidth, c.Name, c.Desc)
		} else {
			fmt.Fprintf(&sb, "  %s\n", c.Name)
		}
	}
	io.WriteString(w, sb.String())
}

// CommonPrefix returns the longest shared prefix among the given strings.
func CommonPrefix(items []string) string {
	if len(items) == 0 {
		return ""
	}
	prefix := items[0]
	for _, s := range items[1:] {
		for !strings.HasPrefix(s, prefix) {
			prefix = prefix[:len(prefix)-1]
			if prefix == "" {
				return ""
			}
		}
	}
	return prefix
}

// KeysOf returns an unsorted list of keys from a Node map.
func KeysOf(m map[string]*Node) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// FilterPrefix returns only items that start with the given prefix.
func FilterPrefix(items []string, prefix string) []string {
	if prefix == "" {
		return items
	}
	var result []string
	for _, item := range items {
		if strings.HasPrefix(item, prefix) {
			result = append(result, item)
		}
	}
	return result
}
