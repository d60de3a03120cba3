package loam

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/aretw0/loam"

	"github.com/aretw0/canopy/pkg/adapters/charterfile"
	"github.com/aretw0/canopy/pkg/adapters/scripted"
	"github.com/aretw0/canopy/pkg/ports"
)

// Loader implements ports.DefinitionLoader over a Loam repository of
// markdown documents, one per node or pack.
type Loader struct {
	Repo *loam.TypedRepository[NodeMetadata]
}

// New creates a new Loam adapter.
func New(repo *loam.TypedRepository[NodeMetadata]) *Loader {
	return &Loader{
		Repo: repo,
	}
}

// Open initializes a read-only strict repository at path and wraps it.
func Open(path string) (*Loader, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	repo, err := loam.Init(abs,
		loam.WithStrict(true),
		loam.WithReadOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize loam: %w", err)
	}
	return New(loam.NewTypedRepository[NodeMetadata](repo)), nil
}

type document struct {
	id   string
	meta NodeMetadata
	body string
}

func (l *Loader) documents(ctx context.Context) ([]document, error) {
	docs, err := l.Repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("loam list failed: %w", err)
	}

	seen := make(map[string]string)
	out := make([]document, 0, len(docs))
	for _, d := range docs {
		full, err := l.Repo.Get(ctx, d.ID)
		if err != nil {
			return nil, fmt.Errorf("loam get failed for %s: %w", d.ID, err)
		}
		rawID := full.Data.ID
		if rawID == "" {
			rawID = full.ID
		}
		id := trimExtension(rawID)
		if existing, ok := seen[id]; ok {
			return nil, fmt.Errorf("collision detected: ID '%s' is defined in both '%s' and '%s'", id, existing, d.ID)
		}
		seen[id] = d.ID
		out = append(out, document{id: id, meta: full.Data, body: full.Content})
	}
	return out, nil
}

// Load implements ports.DefinitionLoader.
func (l *Loader) Load(ctx context.Context) (*ports.Definitions, error) {
	docs, err := l.documents(ctx)
	if err != nil {
		return nil, err
	}

	defs := &ports.Definitions{}
	for _, d := range docs {
		switch d.meta.Kind {
		case "", KindNode:
			node, err := nodeSpec(d).Node()
			if err != nil {
				return nil, err
			}
			defs.Nodes = append(defs.Nodes, node)
		case KindPack:
			pack, err := charterfile.PackSpec{
				Name:        d.id,
				Description: d.meta.Description,
				State:       d.meta.State,
				Initial:     initial(d.meta.Initial),
				Tools:       d.meta.Tools,
				Commands:    d.meta.Commands,
			}.Pack()
			if err != nil {
				return nil, err
			}
			defs.Packs = append(defs.Packs, pack)
		default:
			return nil, fmt.Errorf("%s: unknown kind %q", d.id, d.meta.Kind)
		}
	}
	return defs, nil
}

// Scripts returns the scripted turns declared by node documents.
func (l *Loader) Scripts(ctx context.Context) (map[string][]scripted.Turn, error) {
	docs, err := l.documents(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]scripted.Turn)
	for _, d := range docs {
		if len(d.meta.Script) == 0 {
			continue
		}
		var turns []scripted.Turn
		if err := charterfile.Decode(d.meta.Script, &turns); err != nil {
			return nil, fmt.Errorf("%s: script: %w", d.id, err)
		}
		out[d.id] = turns
	}
	return out, nil
}

func nodeSpec(d document) charterfile.NodeSpec {
	return charterfile.NodeSpec{
		ID:           d.id,
		Description:  d.meta.Description,
		Instructions: d.body,
		Worker:       d.meta.Worker,
		Executor:     d.meta.Executor,
		Packs:        d.meta.Packs,
		State:        d.meta.State,
		Initial:      initial(d.meta.Initial),
		Tools:        d.meta.Tools,
		Transitions:  d.meta.Transitions,
		Commands:     d.meta.Commands,
		Metadata:     d.meta.Metadata,
	}
}

func initial(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return charterfile.Normalize(m).(map[string]any)
}

func trimExtension(id string) string {
	ext := filepath.Ext(id)
	if ext != "" {
		return filepath.ToSlash(strings.TrimSuffix(id, ext))
	}
	return filepath.ToSlash(id)
}

// Watch implements ports.Watchable.
func (l *Loader) Watch(ctx context.Context) (<-chan string, error) {
	events, err := l.Repo.Watch(ctx, "**/*.{md,json,yaml,yml}")
	if err != nil {
		return nil, fmt.Errorf("failed to start loam watcher: %w", err)
	}

	ch := make(chan string, 1)
	go func() {
		defer close(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				select {
				case ch <- trimExtension(evt.ID):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}
