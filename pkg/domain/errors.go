package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSessionNotFound is returned when a session ID cannot be found in the store.
var ErrSessionNotFound = errors.New("session not found")

// ErrNoTarget is returned when a command has no explicit target and the tree
// has no single active primary leaf.
var ErrNoTarget = errors.New("no command target")

// ErrAbandoned is returned when a machine's generation moved while a step
// was in flight; the step's results were discarded.
var ErrAbandoned = errors.New("machine generation changed, step abandoned")

// ErrMachineBusy is returned when a second scheduler tries to drive a
// machine that is already running.
var ErrMachineBusy = errors.New("machine is already running")

// ErrStepLimit is returned when Run reaches its per-call step ceiling.
var ErrStepLimit = errors.New("step limit reached")

// InvariantViolationError reports more than one active primary leaf.
type InvariantViolationError struct {
	PrimaryLeaves []string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violation: %d active primary leaves (%s)",
		len(e.PrimaryLeaves), strings.Join(e.PrimaryLeaves, ", "))
}

// RefKind names the registry a reference was looked up in.
type RefKind string

const (
	RefNode       RefKind = "node"
	RefTransition RefKind = "transition"
	RefPack       RefKind = "pack"
	RefTool       RefKind = "tool"
	RefCommand    RefKind = "command"
	RefExecutor   RefKind = "executor"
)

// ResolutionError reports a reference that is not registered.
type ResolutionError struct {
	Kind RefKind
	Ref  string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("unresolved %s reference %q", e.Kind, e.Ref)
}

// InvalidInputError reports command input rejected by its schema.
type InvalidInputError struct {
	Command string
	Field   string
	Err     error
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("command %q: invalid input field %q: %v", e.Command, e.Field, e.Err)
}

func (e *InvalidInputError) Unwrap() error { return e.Err }

// StateValidationError reports a state or pack-state patch rejected by its schema.
type StateValidationError struct {
	InstanceID string
	Pack       string
	Err        error
}

func (e *StateValidationError) Error() string {
	if e.Pack != "" {
		return fmt.Sprintf("pack %q state: %v", e.Pack, e.Err)
	}
	return fmt.Sprintf("instance %s state: %v", e.InstanceID, e.Err)
}

func (e *StateValidationError) Unwrap() error { return e.Err }

// SuspendMismatchError reports a resume that does not match the target.
type SuspendMismatchError struct {
	InstanceID string
	Want       string
	Got        string
}

func (e *SuspendMismatchError) Error() string {
	if e.Want == "" {
		return fmt.Sprintf("instance %s is not suspended (resume id %q)", e.InstanceID, e.Got)
	}
	return fmt.Sprintf("instance %s: suspend id mismatch: want %q, got %q", e.InstanceID, e.Want, e.Got)
}

// DispatchError reports an executor failure. The step it belonged to was
// not committed.
type DispatchError struct {
	InstanceID string
	NodeID     string
	Err        error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch to instance %s (node %s) failed: %v", e.InstanceID, e.NodeID, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// EffectError reports an effect that cannot be applied to the tree.
type EffectError struct {
	InstanceID string
	Effect     string
	Reason     string
}

func (e *EffectError) Error() string {
	return fmt.Sprintf("cannot apply %s from instance %s: %s", e.Effect, e.InstanceID, e.Reason)
}

// IsFatal reports whether err must abort the caller's loop rather than be
// retried with different input.
func IsFatal(err error) bool {
	var iv *InvariantViolationError
	var re *ResolutionError
	if errors.As(err, &iv) {
		return true
	}
	// An unknown command name is a caller mistake, not a broken tree.
	return errors.As(err, &re) && re.Kind != RefCommand
}
