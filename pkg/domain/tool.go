package domain

import (
	"context"
	"errors"

	"github.com/aretw0/canopy/pkg/schema"
)

// ErrNotExecutable is returned when a tool, transition or command body was
// lost in serialization and never re-attached.
var ErrNotExecutable = errors.New("definition has no executable body")

// ToolFunc executes a tool call.
type ToolFunc func(ctx context.Context, args map[string]any) (any, error)

// Tool is a capability an executor may offer to its backend.
// Handler is never serialized; a Tool without one is a name-only stub.
type Tool struct {
	Name        string
	Description string
	Parameters  schema.Schema
	Handler     ToolFunc
}

// Executable reports whether the tool still carries code.
func (t *Tool) Executable() bool {
	return t != nil && t.Handler != nil
}

// Call runs the tool.
func (t *Tool) Call(ctx context.Context, args map[string]any) (any, error) {
	if !t.Executable() {
		return nil, ErrNotExecutable
	}
	return t.Handler(ctx, args)
}
