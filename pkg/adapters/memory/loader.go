package memory

import (
	"context"
	"fmt"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/ports"
)

// Loader implements ports.DefinitionLoader over definitions held in memory.
type Loader struct {
	defs ports.Definitions
}

// NewLoader creates a loader serving the given nodes.
func NewLoader(nodes ...*domain.Node) (*Loader, error) {
	l := &Loader{}
	for _, n := range nodes {
		if err := l.AddNode(n); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// AddNode adds a node definition. Its ID is required.
func (l *Loader) AddNode(n *domain.Node) error {
	if n == nil || n.ID == "" {
		return fmt.Errorf("node missing ID")
	}
	for _, existing := range l.defs.Nodes {
		if existing.ID == n.ID {
			return fmt.Errorf("node %q defined twice", n.ID)
		}
	}
	l.defs.Nodes = append(l.defs.Nodes, n)
	return nil
}

// AddPack adds a pack definition.
func (l *Loader) AddPack(p *domain.Pack) error {
	if p == nil || p.Name == "" {
		return fmt.Errorf("pack missing name")
	}
	l.defs.Packs = append(l.defs.Packs, p)
	return nil
}

// Load returns the definitions. Node and pack values are shared.
func (l *Loader) Load(context.Context) (*ports.Definitions, error) {
	return &ports.Definitions{
		Nodes: append([]*domain.Node(nil), l.defs.Nodes...),
		Packs: append([]*domain.Pack(nil), l.defs.Packs...),
	}, nil
}
