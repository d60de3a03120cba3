package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aretw0/canopy/internal/logging"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/session"
)

// IOHandler abstracts the interaction mode (text or JSON).
type IOHandler interface {
	// Input blocks for the next turn. io.EOF or ErrQuit end the session.
	Input(ctx context.Context) (Input, error)
	Output(ctx context.Context, steps []*domain.Step) error
	SystemOutput(ctx context.Context, msg string) error
}

// Runner handles the interactive loop of one session.
type Runner struct {
	Sessions  *session.Manager
	SessionID string
	Factory   session.Factory
	Handler   IOHandler
	Logger    *slog.Logger
	Replay    bool
}

// New creates a runner for sessionID.
func New(mgr *session.Manager, sessionID string, opts ...Option) *Runner {
	r := &Runner{Sessions: mgr, SessionID: sessionID}
	for _, opt := range opts {
		opt(r)
	}
	if r.Handler == nil {
		r.Handler = NewTextHandler(nil, nil)
	}
	if r.Logger == nil {
		r.Logger = logging.NewNop()
	}
	return r
}

// Run loops until the input ends, the user quits or a fatal error occurs.
// Non-fatal errors are reported through the handler and the loop goes on.
func (r *Runner) Run(ctx context.Context) error {
	if _, err := r.Sessions.Open(ctx, r.SessionID, r.Factory); err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	if r.Replay {
		steps, err := r.Sessions.Steps(ctx, r.SessionID)
		if err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
			return err
		}
		if err := r.Handler.Output(ctx, steps); err != nil {
			return fmt.Errorf("output error: %w", err)
		}
	}

	signals := NewSignalManager(ctx)
	defer signals.Stop()

	for {
		in, err := r.Handler.Input(signals.Context())
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, ErrQuit):
			return nil
		case signals.Interrupted():
			r.Logger.Debug("interrupted at prompt", "session_id", r.SessionID)
			return nil
		case err != nil:
			return fmt.Errorf("input error: %w", err)
		}

		steps, err := r.turn(signals.Context(), in)
		if oerr := r.Handler.Output(ctx, steps); oerr != nil {
			return fmt.Errorf("output error: %w", oerr)
		}
		if err == nil {
			continue
		}

		if signals.Interrupted() {
			signals.Reset()
			if serr := r.Handler.SystemOutput(ctx, "turn interrupted"); serr != nil {
				return serr
			}
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if domain.IsFatal(err) {
			return err
		}
		r.Logger.Debug("turn failed", "session_id", r.SessionID, "err", err)
		if serr := r.Handler.SystemOutput(ctx, err.Error()); serr != nil {
			return serr
		}
	}
}

func (r *Runner) turn(ctx context.Context, in Input) ([]*domain.Step, error) {
	switch in.Kind {
	case InputCommand:
		res, err := r.Sessions.Command(ctx, r.SessionID, in.Command, in.Args, in.InstanceID)
		if err != nil {
			return nil, err
		}
		if res.Value != nil {
			if err := r.Handler.SystemOutput(ctx, fmt.Sprintf("%s: %v", in.Command, res.Value)); err != nil {
				return nil, err
			}
		}
		return []*domain.Step{res.Step}, nil
	case InputResume:
		step, err := r.Sessions.Resume(ctx, r.SessionID, in.InstanceID, in.SuspendID, in.Payload)
		if err != nil {
			return nil, err
		}
		return []*domain.Step{step}, nil
	default:
		if in.Text == "" {
			return nil, nil
		}
		return r.Sessions.Send(ctx, r.SessionID, domain.NewTextMessage(domain.RoleUser, in.Text))
	}
}
