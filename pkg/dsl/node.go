package dsl

import (
	"context"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/schema"
)

// NodeBuilder provides a fluent API for configuring a node.
type NodeBuilder struct {
	node    *domain.Node
	builder *Builder
}

// Description sets the node's description.
func (n *NodeBuilder) Description(text string) *NodeBuilder {
	n.node.Description = text
	return n
}

// Instructions sets the text handed to the node's executor.
func (n *NodeBuilder) Instructions(text string) *NodeBuilder {
	n.node.Instructions = text
	return n
}

// State sets the state schema and the initial state.
func (n *NodeBuilder) State(s schema.Schema, initial map[string]any) *NodeBuilder {
	n.node.StateSchema = s
	n.node.InitialState = initial
	return n
}

// Worker marks the node as a background role.
func (n *NodeBuilder) Worker() *NodeBuilder {
	n.node.Worker = true
	return n
}

// Executor names the executor that runs the node.
func (n *NodeBuilder) Executor(name string) *NodeBuilder {
	n.node.Executor = name
	return n
}

// Transition attaches transitions.
func (n *NodeBuilder) Transition(ts ...*domain.Transition) *NodeBuilder {
	if n.node.Transitions == nil {
		n.node.Transitions = make(map[string]*domain.Transition)
	}
	for _, t := range ts {
		n.node.Transitions[t.Name] = t
	}
	return n
}

// Go attaches a transition named name that moves the instance to target,
// keeping its state.
func (n *NodeBuilder) Go(name, target string) *NodeBuilder {
	return n.Transition(&domain.Transition{
		Name:        name,
		Description: "Go to " + target,
		Execute: func(_ context.Context, inst *domain.Instance, _ map[string]any) (domain.Effect, error) {
			return &domain.TransitionTo{Ref: target, State: domain.CloneState(inst.State)}, nil
		},
	})
}

// Tool attaches tools.
func (n *NodeBuilder) Tool(ts ...*domain.Tool) *NodeBuilder {
	if n.node.Tools == nil {
		n.node.Tools = make(map[string]*domain.Tool)
	}
	for _, t := range ts {
		n.node.Tools[t.Name] = t
	}
	return n
}

// Command attaches commands.
func (n *NodeBuilder) Command(cs ...*domain.Command) *NodeBuilder {
	if n.node.Commands == nil {
		n.node.Commands = make(map[string]*domain.Command)
	}
	for _, c := range cs {
		n.node.Commands[c.Name] = c
	}
	return n
}

// Packs attaches packs by name.
func (n *NodeBuilder) Packs(names ...string) *NodeBuilder {
	n.node.Packs = append(n.node.Packs, names...)
	return n
}

// Meta sets a metadata entry.
func (n *NodeBuilder) Meta(key, value string) *NodeBuilder {
	if n.node.Metadata == nil {
		n.node.Metadata = make(map[string]string)
	}
	n.node.Metadata[key] = value
	return n
}

// Node continues with another node of the same charter.
func (n *NodeBuilder) Node(id string) *NodeBuilder {
	return n.builder.Node(id)
}

// Done returns to the charter builder.
func (n *NodeBuilder) Done() *Builder {
	return n.builder
}

// Build returns the underlying node.
func (n *NodeBuilder) Build() *domain.Node {
	return n.node
}
