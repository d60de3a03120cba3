package domain

import (
	"github.com/aretw0/canopy/pkg/schema"
)

// Node is the immutable template for a role in the instance tree.
// Nodes are registered in a charter under a stable ID; instances refer to
// them by pointer and serialize them by that ID.
type Node struct {
	ID           string
	Description  string
	Instructions string
	StateSchema  schema.Schema
	InitialState map[string]any
	Tools        map[string]*Tool
	Transitions  map[string]*Transition
	Commands     map[string]*Command
	// Packs lists the names of the packs attached to this node.
	Packs []string
	// Worker marks background roles that may run next to the primary leaf.
	Worker bool
	// Executor names the backend (registered in the charter) that runs this node.
	Executor string
	Metadata map[string]string
}

// HasPack reports whether the named pack is attached to the node.
func (n *Node) HasPack(name string) bool {
	for _, p := range n.Packs {
		if p == name {
			return true
		}
	}
	return false
}

// Pack is a reusable bundle of state, tools and commands. Its state is
// stored once per tree, on the root instance, keyed by Name.
type Pack struct {
	Name         string
	Description  string
	StateSchema  schema.Schema
	InitialState map[string]any
	Tools        map[string]*Tool
	Commands     map[string]*Command
}
