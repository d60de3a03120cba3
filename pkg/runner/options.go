package runner

import (
	"log/slog"

	"github.com/aretw0/canopy/pkg/session"
)

// Option configures a Runner.
type Option func(*Runner)

// WithHandler sets the IO handler. Defaults to a TextHandler on stdio.
func WithHandler(h IOHandler) Option {
	return func(r *Runner) { r.Handler = h }
}

// WithFactory sets how a new session starts.
func WithFactory(f session.Factory) Option {
	return func(r *Runner) { r.Factory = f }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.Logger = logger }
}

// WithReplay prints the session's stored steps before the first prompt.
func WithReplay(replay bool) Option {
	return func(r *Runner) { r.Replay = replay }
}
