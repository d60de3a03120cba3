package runtime

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aretw0/canopy/internal/logging"
	"github.com/aretw0/canopy/pkg/domain"
)

const (
	// DefaultMaxWorkerSteps caps how many times one worker is dispatched
	// before it is suspended with reason step_limit.
	DefaultMaxWorkerSteps = 25
	// DefaultMaxSteps caps the steps a single Run may emit.
	DefaultMaxSteps = 64
)

// Engine drives machines. It holds configuration only; all conversation
// state lives on the Machine, so one Engine can serve many machines.
type Engine struct {
	logger         *slog.Logger
	hooks          domain.LifecycleHooks
	maxWorkerSteps int
	maxSteps       int
	maxTokens      int
	now            func() time.Time
	newID          func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithLifecycleHooks registers observability callbacks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = e.hooks.Merge(hooks)
	}
}

// WithMaxWorkerSteps sets the per-worker dispatch ceiling. Zero or less
// disables it.
func WithMaxWorkerSteps(n int) Option {
	return func(e *Engine) { e.maxWorkerSteps = n }
}

// WithMaxSteps sets how many steps one Run may emit.
func WithMaxSteps(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

// WithMaxTokens is passed through to executors.
func WithMaxTokens(n int) Option {
	return func(e *Engine) { e.maxTokens = n }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator overrides how instance, message and suspend IDs are made.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) {
		if gen != nil {
			e.newID = gen
		}
	}
}

// NewEngine creates an engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		logger:         logging.NewNop(),
		maxWorkerSteps: DefaultMaxWorkerSteps,
		maxSteps:       DefaultMaxSteps,
		now:            func() time.Time { return time.Now().UTC() },
		newID:          uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}
