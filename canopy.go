package canopy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/canopy/internal/logging"
	"github.com/aretw0/canopy/internal/runtime"
	"github.com/aretw0/canopy/pkg/charter"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/ports"
)

// Machine is the live state of one conversation.
type Machine = runtime.Machine

// Step is one committed scheduling round.
type Step = domain.Step

// CommandResult is returned by RunCommand.
type CommandResult = runtime.CommandResult

// Engine is the high-level entry point of the library. It binds a charter
// to the scheduling runtime; machines created by it share its configuration.
type Engine struct {
	runtime     *runtime.Engine
	charter     *charter.Charter
	loader      ports.DefinitionLoader
	hooks       domain.LifecycleHooks
	logger      *slog.Logger
	runtimeOpts []runtime.Option
	Name        string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a structured logger for the engine and its machines.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithLifecycleHooks registers observability hooks. Repeated calls add
// hooks instead of replacing them.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = e.hooks.Merge(hooks)
	}
}

// WithLoader binds the loader's definitions into the charter at New.
func WithLoader(l ports.DefinitionLoader) Option {
	return func(e *Engine) {
		e.loader = l
	}
}

// WithMaxWorkerSteps caps how often a worker runs without ceding.
func WithMaxWorkerSteps(n int) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithMaxWorkerSteps(n))
	}
}

// WithMaxSteps caps the steps one Run or Send may emit.
func WithMaxSteps(n int) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithMaxSteps(n))
	}
}

// WithMaxTokens is forwarded to executors in RunOptions.
func WithMaxTokens(n int) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithMaxTokens(n))
	}
}

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithClock(now))
	}
}

// WithIDGenerator overrides how instance, message and suspend IDs are made.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithIDGenerator(gen))
	}
}

// New creates an engine around ch. With WithLoader, the loaded definitions
// are bound into ch first; the charter is then validated.
func New(ch *charter.Charter, opts ...Option) (*Engine, error) {
	if ch == nil {
		return nil, fmt.Errorf("canopy: charter is required")
	}
	eng := &Engine{charter: ch, Name: ch.Name()}
	for _, opt := range opts {
		opt(eng)
	}

	if eng.loader != nil {
		defs, err := eng.loader.Load(context.Background())
		if err != nil {
			return nil, fmt.Errorf("load definitions: %w", err)
		}
		if err := ch.Bind(defs); err != nil {
			return nil, fmt.Errorf("bind definitions: %w", err)
		}
	}
	if err := ch.Validate(); err != nil {
		return nil, fmt.Errorf("invalid charter %q: %w", ch.Name(), err)
	}

	if eng.logger == nil {
		eng.logger = logging.NewNop()
	}
	if eng.Name != "" {
		eng.logger = eng.logger.With("charter", eng.Name)
	}

	runtimeOpts := []runtime.Option{
		runtime.WithLogger(eng.logger),
		runtime.WithLifecycleHooks(eng.hooks),
	}
	eng.runtime = runtime.NewEngine(append(runtimeOpts, eng.runtimeOpts...)...)
	return eng, nil
}

// Charter returns the engine's charter.
func (e *Engine) Charter() *charter.Charter { return e.charter }

// Start creates a machine whose root is a fresh instance of the named node.
func (e *Engine) Start(node string, state map[string]any, opts ...domain.InstanceOption) (*Machine, error) {
	n, err := e.charter.ResolveNode(node)
	if err != nil {
		return nil, err
	}
	root, err := domain.CreateInstance(n, state, opts...)
	if err != nil {
		return nil, err
	}
	return e.NewMachine(root)
}

// NewMachine creates a machine around an existing tree.
func (e *Engine) NewMachine(root *domain.Instance) (*Machine, error) {
	return runtime.NewMachine(e.charter, root)
}

// Restore rebuilds a machine from persisted steps.
func (e *Engine) Restore(last *Step, history []domain.Message) (*Machine, error) {
	return runtime.Restore(e.charter, last, history)
}

// Enqueue adds input to a machine's queue.
func (e *Engine) Enqueue(m *Machine, msgs ...domain.Message) {
	m.Enqueue(msgs...)
}

// Step runs a single scheduling round.
func (e *Engine) Step(ctx context.Context, m *Machine) (*Step, error) {
	return e.runtime.Step(ctx, m)
}

// Run steps m until it is idle, passing each step to yield.
func (e *Engine) Run(ctx context.Context, m *Machine, yield func(*Step) error) error {
	return e.runtime.Run(ctx, m, yield)
}

// Serve keeps stepping m as input arrives until ctx is done.
func (e *Engine) Serve(ctx context.Context, m *Machine, yield func(*Step) error) error {
	return e.runtime.Serve(ctx, m, yield)
}

// Send enqueues msgs and runs m until idle, returning the steps emitted.
// Steps committed before a failure are returned along with the error.
func (e *Engine) Send(ctx context.Context, m *Machine, msgs ...domain.Message) ([]*Step, error) {
	m.Enqueue(msgs...)
	var steps []*Step
	err := e.runtime.Run(ctx, m, func(s *Step) error {
		steps = append(steps, s)
		return nil
	})
	return steps, err
}

// RunCommand invokes a command on an instance, bypassing executors.
func (e *Engine) RunCommand(ctx context.Context, m *Machine, name string, input map[string]any, instanceID string) (*CommandResult, error) {
	return e.runtime.RunCommand(ctx, m, name, input, instanceID)
}

// Resume lifts a suspension. The suspend ID must match exactly.
func (e *Engine) Resume(ctx context.Context, m *Machine, instanceID, suspendID string, payload any) (*Step, error) {
	return e.runtime.Resume(ctx, m, domain.ResumeItem{InstanceID: instanceID, SuspendID: suspendID, Payload: payload})
}

// Watch returns a channel that signals when the loader's source changes.
func (e *Engine) Watch(ctx context.Context) (<-chan string, error) {
	if w, ok := e.loader.(ports.Watchable); ok {
		return w.Watch(ctx)
	}
	return nil, fmt.Errorf("current loader does not support watching")
}
