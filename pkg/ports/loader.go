package ports

import (
	"context"

	"github.com/aretw0/canopy/pkg/domain"
)

// Definitions is a declarative set of nodes and packs. Tools, transitions
// and commands in it are name-only stubs until bound to a charter.
type Definitions struct {
	Nodes []*domain.Node
	Packs []*domain.Pack
}

// DefinitionLoader supplies definitions from an external source (YAML
// manifest, markdown repository, ...).
type DefinitionLoader interface {
	Load(ctx context.Context) (*Definitions, error)
}

// Watchable is implemented by loaders whose source can change while the
// process runs. The channel carries the ID of each changed definition.
type Watchable interface {
	Watch(ctx context.Context) (<-chan string, error)
}
