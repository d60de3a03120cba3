package ports

import (
	"context"

	"github.com/aretw0/canopy/pkg/codec"
)

// StepStore persists the steps of a session in arrival order.
type StepStore interface {
	// Append adds steps to the end of the session's log, creating it if needed.
	Append(ctx context.Context, sessionID string, steps ...*codec.WireStep) error

	// Load returns every step of the session, oldest first.
	// Returns domain.ErrSessionNotFound if the session does not exist.
	Load(ctx context.Context, sessionID string) ([]*codec.WireStep, error)

	// Delete removes the session.
	Delete(ctx context.Context, sessionID string) error

	// List returns the IDs of all stored sessions.
	List(ctx context.Context) ([]string, error)
}
