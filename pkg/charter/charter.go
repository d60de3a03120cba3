// Package charter is the static registry of an application: node
// definitions, transitions, packs, tools, commands and executors, all
// addressable by name.
package charter

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/ports"
	"github.com/aretw0/canopy/pkg/registry"
)

// DefaultExecutor is the executor used by nodes that do not name one.
const DefaultExecutor = "default"

// ErrDuplicateNode is returned when a node ID is registered under a second name.
var ErrDuplicateNode = errors.New("node already registered under another name")

// Charter resolves references to definitions. It is safe for concurrent
// use once populated; registration is expected to happen at startup.
type Charter struct {
	name string

	mu    sync.RWMutex
	names map[string]string // node ID -> registered name

	nodes       *registry.Registry[*domain.Node]
	transitions *registry.Registry[*domain.Transition]
	packs       *registry.Registry[*domain.Pack]
	tools       *registry.Registry[*domain.Tool]
	commands    *registry.Registry[*domain.Command]
	executors   *registry.Registry[ports.Executor]
}

// New creates an empty charter.
func New(name string) *Charter {
	return &Charter{
		name:        name,
		names:       make(map[string]string),
		nodes:       registry.New[*domain.Node](),
		transitions: registry.New[*domain.Transition](),
		packs:       registry.New[*domain.Pack](),
		tools:       registry.New[*domain.Tool](),
		commands:    registry.New[*domain.Command](),
		executors:   registry.New[ports.Executor](),
	}
}

// Name returns the charter's name.
func (c *Charter) Name() string { return c.name }

// RegisterNode adds node under name. A node without an ID takes name as
// its ID. The ID is what serialization compares, so a node (or another
// node with the same ID) cannot be registered twice.
func (c *Charter) RegisterNode(name string, node *domain.Node) error {
	if node == nil {
		return fmt.Errorf("register node %q: nil node", name)
	}
	id := node.ID
	if id == "" {
		id = name
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if other, ok := c.names[id]; ok {
		return fmt.Errorf("node %q as %q (already %q): %w", id, name, other, ErrDuplicateNode)
	}
	if err := c.nodes.Register(name, node); err != nil {
		return fmt.Errorf("register node: %w", err)
	}
	node.ID = id
	c.names[id] = name
	return nil
}

// RegisterTransition adds a transition usable by name from inline nodes.
func (c *Charter) RegisterTransition(t *domain.Transition) error {
	if err := c.transitions.Register(t.Name, t); err != nil {
		return fmt.Errorf("register transition: %w", err)
	}
	return nil
}

// RegisterPack adds a pack.
func (c *Charter) RegisterPack(p *domain.Pack) error {
	if err := c.packs.Register(p.Name, p); err != nil {
		return fmt.Errorf("register pack: %w", err)
	}
	return nil
}

// RegisterTool adds a tool usable by name from inline nodes.
func (c *Charter) RegisterTool(t *domain.Tool) error {
	if err := c.tools.Register(t.Name, t); err != nil {
		return fmt.Errorf("register tool: %w", err)
	}
	return nil
}

// RegisterCommand adds a command usable by name from inline nodes.
func (c *Charter) RegisterCommand(cmd *domain.Command) error {
	if err := c.commands.Register(cmd.Name, cmd); err != nil {
		return fmt.Errorf("register command: %w", err)
	}
	return nil
}

// RegisterExecutor adds an executor. Use DefaultExecutor for the fallback.
func (c *Charter) RegisterExecutor(name string, e ports.Executor) error {
	if err := c.executors.Register(name, e); err != nil {
		return fmt.Errorf("register executor: %w", err)
	}
	return nil
}

// ResolveNode returns the node registered under ref.
func (c *Charter) ResolveNode(ref string) (*domain.Node, error) {
	if n, ok := c.nodes.Lookup(ref); ok {
		return n, nil
	}
	return nil, &domain.ResolutionError{Kind: domain.RefNode, Ref: ref}
}

// ResolveTransition returns the transition registered under ref.
func (c *Charter) ResolveTransition(ref string) (*domain.Transition, error) {
	if t, ok := c.transitions.Lookup(ref); ok {
		return t, nil
	}
	return nil, &domain.ResolutionError{Kind: domain.RefTransition, Ref: ref}
}

// ResolvePack returns the pack registered under ref.
func (c *Charter) ResolvePack(ref string) (*domain.Pack, error) {
	if p, ok := c.packs.Lookup(ref); ok {
		return p, nil
	}
	return nil, &domain.ResolutionError{Kind: domain.RefPack, Ref: ref}
}

// ResolveTool returns the tool registered under ref.
func (c *Charter) ResolveTool(ref string) (*domain.Tool, error) {
	if t, ok := c.tools.Lookup(ref); ok {
		return t, nil
	}
	return nil, &domain.ResolutionError{Kind: domain.RefTool, Ref: ref}
}

// ResolveExecutor returns the executor registered under ref.
func (c *Charter) ResolveExecutor(ref string) (ports.Executor, error) {
	if e, ok := c.executors.Lookup(ref); ok {
		return e, nil
	}
	return nil, &domain.ResolutionError{Kind: domain.RefExecutor, Ref: ref}
}

// ExecutorFor returns the executor that runs node.
func (c *Charter) ExecutorFor(node *domain.Node) (ports.Executor, error) {
	ref := node.Executor
	if ref == "" {
		ref = DefaultExecutor
	}
	return c.ResolveExecutor(ref)
}

// NameOf returns the name node was registered under. Lookup is by ID and
// then confirmed by identity, so an inline node that happens to reuse a
// registered ID is still treated as inline.
func (c *Charter) NameOf(node *domain.Node) (string, bool) {
	if node == nil || node.ID == "" {
		return "", false
	}
	c.mu.RLock()
	name, ok := c.names[node.ID]
	c.mu.RUnlock()
	if !ok {
		return "", false
	}
	registered, _ := c.nodes.Lookup(name)
	return name, registered == node
}

// Nodes returns registered node names in registration order.
func (c *Charter) Nodes() []string { return c.nodes.Names() }

// Packs returns registered pack names in registration order.
func (c *Charter) Packs() []string { return c.packs.Names() }

// Executors returns registered executor names in registration order.
func (c *Charter) Executors() []string { return c.executors.Names() }

// Reattach returns a copy of node whose stub tools, transitions and
// commands are replaced by the registered definitions of the same name.
// Stubs the charter does not know are kept as they are.
func (c *Charter) Reattach(node *domain.Node) *domain.Node {
	if node == nil {
		return nil
	}
	out := *node
	out.Tools = reattach(node.Tools, (*domain.Tool).Executable, c.tools.Lookup)
	out.Transitions = reattach(node.Transitions, (*domain.Transition).Executable, c.transitions.Lookup)
	out.Commands = reattach(node.Commands, (*domain.Command).Executable, c.commands.Lookup)
	return &out
}

func reattach[T any](in map[string]*T, executable func(*T) bool, lookup func(string) (*T, bool)) map[string]*T {
	if in == nil {
		return nil
	}
	out := make(map[string]*T, len(in))
	for name, def := range in {
		out[name] = def
		if executable(def) {
			continue
		}
		if registered, ok := lookup(name); ok {
			out[name] = registered
		}
	}
	return out
}

// CommandFor finds command name on node or on one of its packs. The
// returned pack name is empty when the command belongs to the node.
func (c *Charter) CommandFor(node *domain.Node, name string) (*domain.Command, string, error) {
	if cmd, ok := node.Commands[name]; ok {
		return cmd, "", nil
	}
	for _, packName := range node.Packs {
		p, err := c.ResolvePack(packName)
		if err != nil {
			return nil, "", err
		}
		if cmd, ok := p.Commands[name]; ok {
			return cmd, packName, nil
		}
	}
	return nil, "", &domain.ResolutionError{Kind: domain.RefCommand, Ref: name}
}

// ToolsFor returns the tools visible on node: its own plus its packs',
// sorted by name. Node tools shadow pack tools of the same name.
func (c *Charter) ToolsFor(node *domain.Node) ([]*domain.Tool, error) {
	seen := make(map[string]*domain.Tool)
	for _, packName := range node.Packs {
		p, err := c.ResolvePack(packName)
		if err != nil {
			return nil, err
		}
		for name, t := range p.Tools {
			seen[name] = t
		}
	}
	for name, t := range node.Tools {
		seen[name] = t
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*domain.Tool, len(names))
	for i, name := range names {
		out[i] = seen[name]
	}
	return out, nil
}

// InitialPackStates builds the pack states for a tree rooted at root: one
// entry per pack referenced anywhere in the tree, seeded with its initial
// state. Existing entries are kept.
func (c *Charter) InitialPackStates(root *domain.Instance, existing map[string]map[string]any) (map[string]map[string]any, error) {
	out := make(map[string]map[string]any, len(existing))
	for k, v := range existing {
		out[k] = domain.CloneState(v)
	}
	var err error
	domain.Walk(root, func(inst *domain.Instance, _ []int) {
		if err != nil || inst.Node == nil {
			return
		}
		for _, name := range inst.Node.Packs {
			if _, ok := out[name]; ok {
				continue
			}
			p, perr := c.ResolvePack(name)
			if perr != nil {
				err = perr
				return
			}
			out[name] = domain.CloneState(p.InitialState)
			if out[name] == nil {
				out[name] = map[string]any{}
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Validate checks that every pack and executor referenced by a registered
// node resolves.
func (c *Charter) Validate() error {
	var errs []error
	c.nodes.Each(func(name string, n *domain.Node) {
		for _, p := range n.Packs {
			if _, err := c.ResolvePack(p); err != nil {
				errs = append(errs, fmt.Errorf("node %q: %w", name, err))
			}
		}
		if _, err := c.ExecutorFor(n); err != nil {
			errs = append(errs, fmt.Errorf("node %q: %w", name, err))
		}
	})
	return errors.Join(errs...)
}

// Bind registers declarative definitions, re-attaching code registered on
// the charter to their stubs.
func (c *Charter) Bind(defs *ports.Definitions) error {
	if defs == nil {
		return nil
	}
	for _, p := range defs.Packs {
		bound := *p
		bound.Tools = reattach(p.Tools, (*domain.Tool).Executable, c.tools.Lookup)
		bound.Commands = reattach(p.Commands, (*domain.Command).Executable, c.commands.Lookup)
		if err := c.RegisterPack(&bound); err != nil {
			return err
		}
	}
	for _, n := range defs.Nodes {
		if err := c.RegisterNode(n.ID, c.Reattach(n)); err != nil {
			return err
		}
	}
	return nil
}
