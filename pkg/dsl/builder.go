package dsl

import (
	"errors"
	"fmt"

	"github.com/aretw0/canopy/pkg/charter"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/ports"
)

// Builder manages the charter construction.
type Builder struct {
	name      string
	nodes     []*NodeBuilder
	byID      map[string]*NodeBuilder
	packs     []*domain.Pack
	executors []namedExecutor
}

type namedExecutor struct {
	name string
	exec ports.Executor
}

// New creates a new charter builder.
func New(name string) *Builder {
	return &Builder{
		name: name,
		byID: make(map[string]*NodeBuilder),
	}
}

// Node returns the builder for the node id, creating it on first use.
func (b *Builder) Node(id string) *NodeBuilder {
	if nb, ok := b.byID[id]; ok {
		return nb
	}
	nb := &NodeBuilder{node: &domain.Node{ID: id}, builder: b}
	b.byID[id] = nb
	b.nodes = append(b.nodes, nb)
	return nb
}

// Pack adds a pack.
func (b *Builder) Pack(p *domain.Pack) *Builder {
	b.packs = append(b.packs, p)
	return b
}

// Executor registers an executor under name.
func (b *Builder) Executor(name string, e ports.Executor) *Builder {
	b.executors = append(b.executors, namedExecutor{name: name, exec: e})
	return b
}

// Build registers everything in a new charter and validates it.
func (b *Builder) Build() (*charter.Charter, error) {
	ch := charter.New(b.name)
	reg := newNamed(ch)

	for _, e := range b.executors {
		if err := ch.RegisterExecutor(e.name, e.exec); err != nil {
			return nil, err
		}
	}
	for _, p := range b.packs {
		if err := ch.RegisterPack(p); err != nil {
			return nil, err
		}
		for _, t := range p.Tools {
			reg.tool(t)
		}
		for _, c := range p.Commands {
			reg.command(c)
		}
	}
	for _, nb := range b.nodes {
		for _, t := range nb.node.Transitions {
			reg.transition(t)
		}
		for _, t := range nb.node.Tools {
			reg.tool(t)
		}
		for _, c := range nb.node.Commands {
			reg.command(c)
		}
		if err := ch.RegisterNode(nb.node.ID, nb.node); err != nil {
			reg.errs = append(reg.errs, err)
		}
	}

	if err := errors.Join(reg.errs...); err != nil {
		return nil, fmt.Errorf("build charter %q: %w", b.name, err)
	}
	if err := ch.Validate(); err != nil {
		return nil, fmt.Errorf("build charter %q: %w", b.name, err)
	}
	return ch, nil
}

// named registers shared definitions once. The same value may be attached
// to several nodes; two different values under one name are an error.
type named struct {
	ch          *charter.Charter
	transitions map[string]*domain.Transition
	tools       map[string]*domain.Tool
	commands    map[string]*domain.Command
	errs        []error
}

func newNamed(ch *charter.Charter) *named {
	return &named{
		ch:          ch,
		transitions: make(map[string]*domain.Transition),
		tools:       make(map[string]*domain.Tool),
		commands:    make(map[string]*domain.Command),
	}
}

func (n *named) transition(t *domain.Transition) {
	if prev, ok := n.transitions[t.Name]; ok {
		if prev != t {
			n.errs = append(n.errs, fmt.Errorf("transition %q defined twice", t.Name))
		}
		return
	}
	n.transitions[t.Name] = t
	if err := n.ch.RegisterTransition(t); err != nil {
		n.errs = append(n.errs, err)
	}
}

func (n *named) tool(t *domain.Tool) {
	if prev, ok := n.tools[t.Name]; ok {
		if prev != t {
			n.errs = append(n.errs, fmt.Errorf("tool %q defined twice", t.Name))
		}
		return
	}
	n.tools[t.Name] = t
	if err := n.ch.RegisterTool(t); err != nil {
		n.errs = append(n.errs, err)
	}
}

func (n *named) command(c *domain.Command) {
	if prev, ok := n.commands[c.Name]; ok {
		if prev != c {
			n.errs = append(n.errs, fmt.Errorf("command %q defined twice", c.Name))
		}
		return
	}
	n.commands[c.Name] = c
	if err := n.ch.RegisterCommand(c); err != nil {
		n.errs = append(n.errs, err)
	}
}
