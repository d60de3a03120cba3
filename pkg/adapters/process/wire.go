package process

import (
	"fmt"

	"github.com/aretw0/canopy/pkg/codec"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/ports"
)

// Request is the JSON document written to the process's stdin.
type Request struct {
	Node         string                    `json:"node"`
	InstanceID   string                    `json:"instanceId"`
	State        map[string]any            `json:"state"`
	Ancestors    []string                  `json:"ancestors,omitempty"`
	Input        []codec.WireMessage       `json:"input"`
	History      []codec.WireMessage       `json:"history,omitempty"`
	Step         int                       `json:"step"`
	InstanceStep int                       `json:"instanceStep"`
	IsPrimary    bool                      `json:"isPrimary"`
	MaxTokens    int                       `json:"maxTokens,omitempty"`
	PackStates   map[string]map[string]any `json:"packStates,omitempty"`
}

// Result is the JSON document the process prints on stdout.
type Result struct {
	Messages    []codec.WireMessage       `json:"messages"`
	YieldReason string                    `json:"yieldReason"`
	StatePatch  map[string]any            `json:"statePatch,omitempty"`
	PackStates  map[string]map[string]any `json:"packStates,omitempty"`
	Effects     []Effect                  `json:"effects,omitempty"`
}

// Effect is the wire form of a domain effect. Nodes are always named by ref.
type Effect struct {
	Type      string         `json:"type"`
	Ref       string         `json:"ref,omitempty"`
	State     map[string]any `json:"state,omitempty"`
	Children  []Child        `json:"children,omitempty"`
	Content   any            `json:"content,omitempty"`
	SuspendID string         `json:"suspendId,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Child is one spawned instance.
type Child struct {
	Ref    string         `json:"ref"`
	ID     string         `json:"id,omitempty"`
	State  map[string]any `json:"state,omitempty"`
	Worker *bool          `json:"worker,omitempty"`
}

func newRequest(req *ports.RunRequest) *Request {
	out := &Request{
		Node:         req.Instance.Node.ID,
		InstanceID:   req.Instance.ID,
		State:        req.Instance.State,
		Input:        codec.EncodeMessages(req.Input),
		History:      codec.EncodeMessages(req.Options.History),
		Step:         req.Options.Step,
		InstanceStep: req.Options.InstanceStep,
		IsPrimary:    req.Options.IsPrimary,
		MaxTokens:    req.Options.MaxTokens,
		PackStates:   req.Options.PackStates,
	}
	for _, a := range req.Ancestors {
		out.Ancestors = append(out.Ancestors, a.Node.ID)
	}
	return out
}

func (r *Result) decode() (*ports.RunResult, error) {
	msgs, err := codec.DecodeMessages(r.Messages)
	if err != nil {
		return nil, err
	}
	out := &ports.RunResult{
		Messages:    msgs,
		YieldReason: domain.YieldReason(r.YieldReason),
		StatePatch:  r.StatePatch,
		PackStates:  r.PackStates,
	}
	for i, e := range r.Effects {
		eff, err := e.decode()
		if err != nil {
			return nil, fmt.Errorf("effect %d: %w", i, err)
		}
		out.Effects = append(out.Effects, eff)
	}
	return out, nil
}

func (e Effect) decode() (domain.Effect, error) {
	switch e.Type {
	case "transition":
		if e.Ref == "" {
			return nil, fmt.Errorf("transition needs a ref")
		}
		return &domain.TransitionTo{Ref: e.Ref, State: e.State}, nil
	case "spawn":
		spawn := &domain.Spawn{}
		for _, c := range e.Children {
			if c.Ref == "" {
				return nil, fmt.Errorf("spawned child needs a ref")
			}
			spawn.Children = append(spawn.Children, domain.SpawnSpec{Ref: c.Ref, ID: c.ID, State: c.State, Worker: c.Worker})
		}
		return spawn, nil
	case "cede":
		return &domain.Cede{Content: e.Content}, nil
	case "suspend":
		return &domain.Suspend{SuspendID: e.SuspendID, Reason: e.Reason, Metadata: e.Metadata}, nil
	default:
		return nil, fmt.Errorf("unknown effect type %q", e.Type)
	}
}
