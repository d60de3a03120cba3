package ports

import (
	"context"

	"github.com/aretw0/canopy/pkg/domain"
)

// Resolver resolves references against a charter.
type Resolver interface {
	ResolveNode(ref string) (*domain.Node, error)
	ResolveTransition(ref string) (*domain.Transition, error)
	ResolvePack(ref string) (*domain.Pack, error)
	ResolveTool(ref string) (*domain.Tool, error)
	NameOf(node *domain.Node) (string, bool)
}

// RunRequest is what an executor receives for one leaf.
//
// Instance and Ancestors are private copies: the executor may read them
// freely but changes are ignored. Everything it wants to change travels
// back in the RunResult.
type RunRequest struct {
	Charter   Resolver
	Instance  *domain.Instance
	Ancestors []*domain.Instance
	// Input is the drained batch plus the instance's inbox for the primary
	// leaf, and only the inbox for workers.
	Input   []domain.Message
	Options RunOptions
}

// RunOptions carries history and limits.
type RunOptions struct {
	// History excludes system messages.
	History []domain.Message
	// Step is the machine's step index; InstanceStep counts this instance's
	// own dispatches.
	Step         int
	InstanceStep int
	IsPrimary    bool
	MaxTokens    int
	// PackStates holds the state of every pack attached to the node.
	PackStates map[string]map[string]any
}

// RunResult is what an executor returns for one leaf.
type RunResult struct {
	Messages    []domain.Message
	YieldReason domain.YieldReason
	// StatePatch is shallow-merged into the instance's state.
	StatePatch map[string]any
	// Effects are applied in the order transition, spawn, state patch,
	// cede, suspend regardless of their order here.
	Effects []domain.Effect
	// PackStates patches are merged into the root's pack states.
	PackStates map[string]map[string]any
}

// Executor runs a leaf. Implementations must be safe for concurrent use:
// sibling leaves are dispatched in parallel.
type Executor interface {
	Run(ctx context.Context, req *RunRequest) (*RunResult, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, req *RunRequest) (*RunResult, error)

// Run implements Executor.
func (f ExecutorFunc) Run(ctx context.Context, req *RunRequest) (*RunResult, error) {
	return f(ctx, req)
}

// InvokeTransition runs the transition name on inst. Transitions declared
// on the node win over charter-level ones of the same name.
func InvokeTransition(ctx context.Context, r Resolver, inst *domain.Instance, name string, args map[string]any) (domain.Effect, error) {
	if inst.Node != nil {
		if t, ok := inst.Node.Transitions[name]; ok && t.Executable() {
			return t.Invoke(ctx, inst, args)
		}
	}
	t, err := r.ResolveTransition(name)
	if err != nil {
		return nil, err
	}
	return t.Invoke(ctx, inst, args)
}
