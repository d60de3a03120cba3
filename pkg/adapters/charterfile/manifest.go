// Package charterfile reads a YAML charter manifest: the declarative half of
// a charter (nodes, packs, schemas and the names of the code they use).
//
// A manifest looks like:
//
//	name: support
//	packs:
//	  - name: notes
//	    state: {items: "[string]"}
//	    commands: [note]
//	nodes:
//	  - id: triage
//	    instructions: Route the customer.
//	    state: {topic: "string?"}
//	    transitions: [escalate]
//	    packs: [notes]
//	    script:
//	      - say: "Looking into {input}"
//
// Tools, transitions and commands are listed by name and bound to the code
// registered on the charter when the definitions are bound.
package charterfile

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/aretw0/canopy/pkg/adapters/scripted"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/ports"
	"github.com/aretw0/canopy/pkg/schema"
)

// Manifest is the decoded form of a charter file.
type Manifest struct {
	Name  string     `mapstructure:"name"`
	Nodes []NodeSpec `mapstructure:"nodes"`
	Packs []PackSpec `mapstructure:"packs"`
}

// NodeSpec describes one node.
type NodeSpec struct {
	ID           string         `mapstructure:"id"`
	Description  string         `mapstructure:"description"`
	Instructions string         `mapstructure:"instructions"`
	Worker       bool           `mapstructure:"worker"`
	Executor     string         `mapstructure:"executor"`
	Packs        []string       `mapstructure:"packs"`
	State        map[string]any `mapstructure:"state"`
	Initial      map[string]any `mapstructure:"initial"`
	Tools        []string       `mapstructure:"tools"`
	Transitions  []string       `mapstructure:"transitions"`
	Commands     []string       `mapstructure:"commands"`
	Metadata     map[string]any `mapstructure:"metadata"`
	// Script feeds the scripted executor when the node runs on it.
	Script []scripted.Turn `mapstructure:"script"`
}

// PackSpec describes one pack.
type PackSpec struct {
	Name        string         `mapstructure:"name"`
	Description string         `mapstructure:"description"`
	State       map[string]any `mapstructure:"state"`
	Initial     map[string]any `mapstructure:"initial"`
	Tools       []string       `mapstructure:"tools"`
	Commands    []string       `mapstructure:"commands"`
}

// Decode fills out from raw (a decoded YAML or frontmatter mapping),
// rejecting unknown keys.
func Decode(raw any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:  numbers,
		ErrorUnused: true,
		Result:      out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}

// numbers turns json.Number (strict loam repositories) into int64 or float64.
func numbers(_ reflect.Type, _ reflect.Type, data any) (any, error) {
	return Normalize(data), nil
}

// Normalize converts json.Number values inside v, at any depth, to int64
// or float64.
func Normalize(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, sub := range val {
			out[k] = Normalize(sub)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, sub := range val {
			out[i] = Normalize(sub)
		}
		return out
	default:
		return v
	}
}

// Definitions converts the manifest into loader definitions.
func (m *Manifest) Definitions() (*ports.Definitions, error) {
	defs := &ports.Definitions{}
	for _, p := range m.Packs {
		pack, err := p.Pack()
		if err != nil {
			return nil, err
		}
		defs.Packs = append(defs.Packs, pack)
	}
	seen := make(map[string]bool, len(m.Nodes))
	for _, n := range m.Nodes {
		if seen[n.ID] {
			return nil, fmt.Errorf("node %q is defined twice", n.ID)
		}
		seen[n.ID] = true
		node, err := n.Node()
		if err != nil {
			return nil, err
		}
		defs.Nodes = append(defs.Nodes, node)
	}
	return defs, nil
}

// Scripts returns the scripted turns of every node that has some.
func (m *Manifest) Scripts() map[string][]scripted.Turn {
	out := make(map[string][]scripted.Turn)
	for _, n := range m.Nodes {
		if len(n.Script) > 0 {
			out[n.ID] = n.Script
		}
	}
	return out
}

// Node builds the domain node. Named code stays as stubs.
func (n NodeSpec) Node() (*domain.Node, error) {
	if n.ID == "" {
		return nil, fmt.Errorf("node without id")
	}
	st, err := ParseSchema(n.State)
	if err != nil {
		return nil, fmt.Errorf("node %s: state: %w", n.ID, err)
	}
	node := &domain.Node{
		ID:           n.ID,
		Description:  n.Description,
		Instructions: strings.TrimSpace(n.Instructions),
		StateSchema:  st,
		InitialState: n.Initial,
		Packs:        n.Packs,
		Worker:       n.Worker,
		Executor:     n.Executor,
		Tools:        stubs(n.Tools, func(name string) *domain.Tool { return &domain.Tool{Name: name} }),
		Transitions:  stubs(n.Transitions, func(name string) *domain.Transition { return &domain.Transition{Name: name} }),
		Commands:     stubs(n.Commands, func(name string) *domain.Command { return &domain.Command{Name: name} }),
	}
	if n.Metadata != nil {
		node.Metadata = Flatten(n.Metadata)
	}
	if len(n.Initial) > 0 {
		if err := schema.Validate(st, n.Initial); err != nil {
			return nil, fmt.Errorf("node %s: initial state: %w", n.ID, err)
		}
	}
	return node, nil
}

// Pack builds the domain pack.
func (p PackSpec) Pack() (*domain.Pack, error) {
	if p.Name == "" {
		return nil, fmt.Errorf("pack without name")
	}
	st, err := ParseSchema(p.State)
	if err != nil {
		return nil, fmt.Errorf("pack %s: state: %w", p.Name, err)
	}
	return &domain.Pack{
		Name:         p.Name,
		Description:  p.Description,
		StateSchema:  st,
		InitialState: p.Initial,
		Tools:        stubs(p.Tools, func(name string) *domain.Tool { return &domain.Tool{Name: name} }),
		Commands:     stubs(p.Commands, func(name string) *domain.Command { return &domain.Command{Name: name} }),
	}, nil
}

func stubs[T any](names []string, mk func(string) *T) map[string]*T {
	if len(names) == 0 {
		return nil
	}
	out := make(map[string]*T, len(names))
	for _, name := range names {
		out[name] = mk(name)
	}
	return out
}

// ParseSchema accepts a mapping of field to type string. A one-element list
// is shorthand for a slice: {tags: [string]} means "[string]".
func ParseSchema(raw map[string]any) (schema.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	types := make(map[string]string, len(raw))
	for key, value := range raw {
		typeStr, err := formatType(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		types[key] = typeStr
	}
	return schema.ParseTypeMap(types)
}

func formatType(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []any:
		if len(v) != 1 {
			return "", fmt.Errorf("expected single element list for slice type")
		}
		inner, err := formatType(v[0])
		if err != nil {
			return "", err
		}
		return "[" + inner + "]", nil
	default:
		return "", fmt.Errorf("expected string or list, got %T", value)
	}
}

// Flatten turns nested metadata into dash-joined string keys:
// {x: {command: run}} becomes {"x-command": "run"}. Lists are joined with spaces.
func Flatten(src map[string]any) map[string]string {
	res := make(map[string]string)
	var visit func(prefix string, v any)
	visit = func(prefix string, v any) {
		switch val := v.(type) {
		case map[string]any:
			keys := make([]string, 0, len(val))
			for k := range val {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				full := k
				if prefix != "" {
					full = prefix + "-" + k
				}
				visit(full, val[k])
			}
		case []any:
			parts := make([]string, 0, len(val))
			for _, item := range val {
				parts = append(parts, fmt.Sprintf("%v", item))
			}
			res[prefix] = strings.Join(parts, " ")
		default:
			if prefix != "" {
				res[prefix] = fmt.Sprintf("%v", val)
			}
		}
	}
	visit("", Normalize(src))
	return res
}
