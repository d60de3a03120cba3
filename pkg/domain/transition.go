package domain

import (
	"context"
	"fmt"

	"github.com/aretw0/canopy/pkg/schema"
)

// TransitionFunc computes the effect of a transition for the acting instance.
// It must not mutate inst.
type TransitionFunc func(ctx context.Context, inst *Instance, args map[string]any) (Effect, error)

// Transition is a named move available on a node.
type Transition struct {
	Name        string
	Description string
	Args        schema.Schema
	Execute     TransitionFunc
}

// Executable reports whether the transition still carries code.
func (t *Transition) Executable() bool {
	return t != nil && t.Execute != nil
}

// Invoke validates args against the declared schema and runs the transition.
func (t *Transition) Invoke(ctx context.Context, inst *Instance, args map[string]any) (Effect, error) {
	if !t.Executable() {
		return nil, fmt.Errorf("transition %q: %w", t.Name, ErrNotExecutable)
	}
	if err := schema.Validate(t.Args, args); err != nil {
		return nil, fmt.Errorf("transition %q: %w", t.Name, err)
	}
	return t.Execute(ctx, inst, args)
}

// CommandFunc handles a command invocation.
type CommandFunc func(ctx context.Context, cc CommandContext, input map[string]any) (Effect, error)

// Command is an operation invoked directly by the application, bypassing
// executor dispatch.
type Command struct {
	Name        string
	Description string
	Input       schema.Schema
	Handler     CommandFunc
}

// Executable reports whether the command still carries code.
func (c *Command) Executable() bool {
	return c != nil && c.Handler != nil
}

// CommandContext is what a command handler sees of its target instance.
// State changes made through it are staged and applied together with the
// returned effect.
type CommandContext interface {
	InstanceID() string
	State() map[string]any
	UpdateState(patch map[string]any) error
	PackState(pack string) map[string]any
	UpdatePackState(pack string, patch map[string]any) error
	InstanceMessages() []Message
	// Deliver queues msg on the target's inbox for its next dispatch.
	Deliver(msg Message)

	Cede(content any) Effect
	Spawn(children ...SpawnSpec) Effect
	Suspend(reason string, metadata map[string]any) Effect
	// Resume is only valid when the target is suspended.
	Resume(payload any) (Effect, error)
}
