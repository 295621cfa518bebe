package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dkoval/netpatch/pkg/confparse"
	"github.com/dkoval/netpatch/pkg/inventory"
	"github.com/dkoval/netpatch/pkg/rulebook"
)

// Simulator is a model device: it holds a configuration tree and
// interprets applied command sequences against it, including negation
// and overwrite semantics. It backs the round-trip tests, the empty and
// file-based current-config sources, and dry-run deployments.
type Simulator struct {
	mu      sync.Mutex
	name    string
	vendor  *rulebook.Vendor
	running *confparse.Tree
	commits int

	// FailCommand, when set, makes Apply fail upon reaching the given
	// command text. FailFetch/FailCommit force the respective calls to
	// fail. Used to exercise partial-failure paths.
	FailCommand string
	FailFetch   bool
	FailCommit  bool
}

// NewSimulator creates a simulator preloaded with configText.
func NewSimulator(name string, vendor *rulebook.Vendor, configText string) (*Simulator, error) {
	tree, err := confparse.Parse(configText, vendor.Tokenizer)
	if err != nil {
		return nil, err
	}
	return &Simulator{name: name, vendor: vendor, running: tree}, nil
}

// Fetch implements Session.
func (s *Simulator) Fetch(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &TransportError{Device: s.name, Op: "fetch", Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailFetch {
		return "", &TransportError{Device: s.name, Op: "fetch", Err: errors.New("injected fetch failure")}
	}
	return s.running.Format("  "), nil
}

// Tree returns a copy of the simulator's current configuration tree.
func (s *Simulator) Tree() *confparse.Tree {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running.Clone()
}

// Commits returns how many times Commit has been called.
func (s *Simulator) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

// Apply implements Session. Commands mutate the running tree the way a
// device CLI would: positive lines merge and overwrite, reverse-prefixed
// lines negate a node or individual attributes, framing commands are
// recognized and skipped.
func (s *Simulator) Apply(ctx context.Context, commands []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	type level struct {
		indent int
		node   *confparse.Node
	}
	stack := []level{{indent: -1}}
	scope := func() *[]*confparse.Node {
		top := stack[len(stack)-1]
		if top.node == nil {
			return &s.running.Children
		}
		return &top.node.Children
	}

	for _, raw := range commands {
		if err := ctx.Err(); err != nil {
			return &TransportError{Device: s.name, Op: "apply", Err: err}
		}
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" || strings.HasPrefix(trimmed, s.vendor.Comment) {
			continue
		}
		if s.FailCommand != "" && trimmed == s.FailCommand {
			return &TransportError{Device: s.name, Op: "apply",
				Err: fmt.Errorf("command rejected: %q", trimmed)}
		}
		if s.isFraming(trimmed) {
			continue
		}
		if trimmed == s.vendor.BlockExit || trimmed == "exit" || trimmed == "quit" {
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
			continue
		}

		indent := indentOf(raw)
		for len(stack) > 1 && indent <= stack[len(stack)-1].indent {
			stack = stack[:len(stack)-1]
		}

		tokens, err := confparse.SplitTokens(trimmed)
		if err != nil || len(tokens) == 0 {
			return &TransportError{Device: s.name, Op: "apply",
				Err: fmt.Errorf("unparseable command %q", trimmed)}
		}

		switch tokens[0] {
		case s.vendor.Reverse:
			s.negate(scope(), tokens[1:])
		case "default":
			s.negate(scope(), tokens[1:])
		default:
			key, attrs, shape := s.vendor.Tokenizer.Decompose(tokens)
			node := &confparse.Node{Key: key, Attrs: attrs, Raw: trimmed}
			node = confparse.MergeChild(scope(), node, shape)
			stack = append(stack, level{indent: indent, node: node})
		}
	}
	return nil
}

// negate removes the node addressed by tokens, or only the named
// attributes when the tokens extend past a node's key
// ("no username user01 secret" clears just the secret).
func (s *Simulator) negate(scope *[]*confparse.Node, tokens []string) {
	if len(tokens) == 0 {
		return
	}
	// Longest node whose key is a prefix of the tokens wins.
	var target *confparse.Node
	var targetIdx, keyLen int
	for i, n := range *scope {
		if len(n.Key) <= len(tokens) && prefixEqual(n.Key, tokens) && len(n.Key) > keyLen {
			target, targetIdx, keyLen = n, i, len(n.Key)
		}
	}
	if target == nil {
		return // negating something absent is a no-op, as on devices
	}
	leftover := tokens[keyLen:]
	if len(leftover) == 0 || target.Opaque() {
		*scope = append((*scope)[:targetIdx], (*scope)[targetIdx+1:]...)
		return
	}
	for _, attr := range leftover {
		target.Attrs.Delete(attr)
	}
}

func (s *Simulator) isFraming(line string) bool {
	for _, group := range [][]string{s.vendor.EnterConfig, s.vendor.Commit, s.vendor.Persist} {
		for _, c := range group {
			if line == c {
				return true
			}
		}
	}
	return false
}

// Commit implements Session.
func (s *Simulator) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &TransportError{Device: s.name, Op: "commit", Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCommit {
		return &TransportError{Device: s.name, Op: "commit", Err: errors.New("injected commit failure")}
	}
	s.commits++
	return nil
}

// Close implements Session.
func (s *Simulator) Close() error { return nil }

func prefixEqual(prefix, tokens []string) bool {
	for i, p := range prefix {
		if tokens[i] != p {
			return false
		}
	}
	return true
}

func indentOf(line string) int {
	w := 0
	for _, ch := range line {
		switch ch {
		case ' ':
			w++
		case '\t':
			w += 8
		default:
			return w
		}
	}
	return w
}

// Lab is a Dialer over a set of simulators, keyed by device name. It
// stands in for a transport adapter in tests and dry runs.
type Lab struct {
	mu       sync.Mutex
	sims     map[string]*Simulator
	registry *rulebook.Registry
	// DialErr, when set for a device name, makes Dial fail for it.
	DialErr map[string]error
}

// NewLab creates an empty lab using the given vendor registry.
func NewLab(registry *rulebook.Registry) *Lab {
	return &Lab{
		sims:     make(map[string]*Simulator),
		registry: registry,
		DialErr:  make(map[string]error),
	}
}

// Add creates a simulator for the device preloaded with configText.
func (l *Lab) Add(dev inventory.Device, configText string) (*Simulator, error) {
	vendor, err := l.registry.Vendor(dev.Vendor)
	if err != nil {
		return nil, err
	}
	sim, err := NewSimulator(dev.Name(), vendor, configText)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.sims[dev.Name()] = sim
	l.mu.Unlock()
	return sim, nil
}

// Sim returns the simulator for a device name.
func (l *Lab) Sim(name string) *Simulator {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sims[name]
}

// Dial implements Dialer.
func (l *Lab) Dial(ctx context.Context, dev inventory.Device) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, &TransportError{Device: dev.Name(), Op: "dial", Err: err}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.DialErr[dev.Name()]; err != nil {
		return nil, &TransportError{Device: dev.Name(), Op: "dial", Err: err}
	}
	sim, ok := l.sims[dev.Name()]
	if !ok {
		return nil, &TransportError{Device: dev.Name(), Op: "dial",
			Err: fmt.Errorf("unknown device")}
	}
	return sim, nil
}
