// Package scripted provides a deterministic executor that replays scripted
// turns. It backs tests and the demo CLI, where no model is available.
package scripted

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/ports"
)

// Turn is one scripted response. The zero Turn echoes nothing and ends the turn.
type Turn struct {
	// Say is the assistant text. "{input}" is replaced by the text of the
	// last input message and "{node}" by the node ID.
	Say    string `yaml:"say" json:"say" mapstructure:"say"`
	Reason string `yaml:"reason" json:"reason" mapstructure:"reason"`
	// State is a patch applied to the instance's state.
	State map[string]any `yaml:"state" json:"state" mapstructure:"state"`
	// Packs patches pack states on the root.
	Packs map[string]map[string]any `yaml:"packs" json:"packs" mapstructure:"packs"`

	Transition string  `yaml:"transition" json:"transition" mapstructure:"transition"`
	Spawn      []Child `yaml:"spawn" json:"spawn" mapstructure:"spawn"`
	// Cede retires the instance with this content. A non-nil empty string cedes too.
	Cede    any    `yaml:"cede" json:"cede" mapstructure:"cede"`
	Suspend string `yaml:"suspend" json:"suspend" mapstructure:"suspend"`

	// Effects are appended after the ones built from the fields above.
	Effects []domain.Effect `yaml:"-" json:"-" mapstructure:"-"`
}

// Child is a spawn request in a Turn.
type Child struct {
	Ref    string         `yaml:"ref" json:"ref" mapstructure:"ref"`
	ID     string         `yaml:"id" json:"id" mapstructure:"id"`
	State  map[string]any `yaml:"state" json:"state" mapstructure:"state"`
	Worker *bool          `yaml:"worker" json:"worker" mapstructure:"worker"`
}

// Executor replays turns per node. Each instance walks its node's script
// from the start; once the script runs out the last turn repeats. Nodes
// without a script echo their input.
//
// Safe for concurrent use.
type Executor struct {
	mu      sync.Mutex
	scripts map[string][]Turn
	pos     map[string]int
}

// New returns an executor with no scripts.
func New() *Executor {
	return &Executor{
		scripts: make(map[string][]Turn),
		pos:     make(map[string]int),
	}
}

// Script sets the turns for node, replacing any earlier script.
func (e *Executor) Script(node string, turns ...Turn) *Executor {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scripts[node] = turns
	return e
}

// Reset forgets every instance's position.
func (e *Executor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pos = make(map[string]int)
}

func (e *Executor) next(node, instanceID string) (Turn, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	turns, ok := e.scripts[node]
	if !ok || len(turns) == 0 {
		return Turn{}, false
	}
	i := e.pos[instanceID]
	if i >= len(turns) {
		i = len(turns) - 1
	}
	e.pos[instanceID] = i + 1
	return turns[i], true
}

// Run implements ports.Executor.
func (e *Executor) Run(ctx context.Context, req *ports.RunRequest) (*ports.RunResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	node := req.Instance.Node.ID
	input := lastText(req.Input)

	turn, ok := e.next(node, req.Instance.ID)
	if !ok {
		return echo(input), nil
	}
	return turn.result(node, input)
}

func (t Turn) result(node, input string) (*ports.RunResult, error) {
	res := &ports.RunResult{
		YieldReason: domain.YieldReason(t.Reason),
		StatePatch:  domain.CloneState(t.State),
		PackStates:  t.Packs,
	}
	if t.Say != "" {
		text := strings.NewReplacer("{input}", input, "{node}", node).Replace(t.Say)
		res.Messages = append(res.Messages, domain.NewTextMessage(domain.RoleAssistant, text))
	}

	if t.Transition != "" {
		res.Effects = append(res.Effects, &domain.TransitionTo{Ref: t.Transition})
	}
	if len(t.Spawn) > 0 {
		spawn := &domain.Spawn{}
		for _, c := range t.Spawn {
			if c.Ref == "" {
				return nil, fmt.Errorf("scripted spawn on %q needs a ref", node)
			}
			spawn.Children = append(spawn.Children, domain.SpawnSpec{
				Ref: c.Ref, ID: c.ID, State: domain.CloneState(c.State), Worker: c.Worker,
			})
		}
		res.Effects = append(res.Effects, spawn)
	}
	if t.Cede != nil {
		res.Effects = append(res.Effects, &domain.Cede{Content: t.Cede})
		if res.YieldReason == "" {
			res.YieldReason = domain.YieldCede
		}
	}
	if t.Suspend != "" {
		res.Effects = append(res.Effects, &domain.Suspend{Reason: t.Suspend})
		if res.YieldReason == "" {
			res.YieldReason = domain.YieldSuspend
		}
	}
	res.Effects = append(res.Effects, t.Effects...)
	return res, nil
}

func echo(input string) *ports.RunResult {
	res := &ports.RunResult{YieldReason: domain.YieldEndTurn}
	if input != "" {
		res.Messages = []domain.Message{domain.NewTextMessage(domain.RoleAssistant, "echo: "+input)}
	}
	return res
}

func lastText(msgs []domain.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if t := msgs[i].Text(); t != "" {
			return t
		}
	}
	return ""
}
